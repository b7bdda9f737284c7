package sched

import "github.com/valibali/cluu/defs"

/// KernelSchedCtx is the capability-style interface a policy uses to query
/// and mutate kernel state. A policy never sees a *proc.Thread or
/// *proc.Process directly — every policy implementation is therefore
/// testable in isolation against a mock context. Grounded on
/// original_source/kernel/src/scheduler/traits.rs.
type KernelSchedCtx interface {
	// Queries.
	ThreadRunnable(tid defs.ThreadId) bool
	ThreadExists(tid defs.ThreadId) bool
	CurrentThread(cpu CpuId) (defs.ThreadId, bool)
	ThreadPriority(tid defs.ThreadId) Priority
	ThreadClass(tid defs.ThreadId) SchedClass
	ThreadProcess(tid defs.ThreadId) defs.ProcessId
	IsCriticalProcess(pid defs.ProcessId) bool
	IsKernelProcess(pid defs.ProcessId) bool
	CurrentMode() Mode
	TickCount() uint64
	CpuCount() int
	AllThreads() []defs.ThreadId

	// Modifications.
	MakeRunnable(tid defs.ThreadId)
	RequestReschedule(cpu CpuId)
	SetThreadClass(tid defs.ThreadId, class SchedClass)
	SetThreadPriority(tid defs.ThreadId, p Priority)
	Log(msg string)
}

/// Policy is a swappable scheduling algorithm. Grounded on
/// scheduler/traits.rs's Scheduler trait (named Policy here to avoid
/// colliding with the SchedulerCore mechanism type in the same package).
type Policy interface {
	OnEvent(ctx KernelSchedCtx, ev SchedEvent)
	PickNext(ctx KernelSchedCtx, cpu CpuId) DispatchDecision
	OnSwitched(ctx KernelSchedCtx, cpu CpuId, prev, next defs.ThreadId, hadPrev, hadNext bool)
	Name() string
}
