package sched

import (
	"sync"
	"sync/atomic"

	"github.com/valibali/cluu/archhooks"
	"github.com/valibali/cluu/defs"
	"github.com/valibali/cluu/proc"
)

/// PerCpuState is the mechanism's per-CPU bookkeeping.
type PerCpuState struct {
	CpuId             CpuId
	CurrentThread     defs.ThreadId
	HasCurrent        bool
	NeedResched       bool
	TimesliceRemaining TimeSliceTicks
	TotalTicks        uint64
	ContextSwitches   uint64
}

/// Core is the scheduler mechanism: stable and policy-independent. Every
/// external operation builds a SchedEvent and forwards it to the policy;
/// Core itself never decides which thread runs next, only accounts for
/// when a decision is needed. Grounded on
/// original_source/kernel/src/scheduler/sched_core.rs.
type Core struct {
	mu     sync.Mutex
	Policy Policy
	perCpu []PerCpuState
	mode   Mode
	boot   BootState
	ticks  uint64

	// Env, if set, brackets every critical section with
	// DisableInterrupts/RestoreInterrupts and the PreemptionDisabled flag
	// per ยง5's lock discipline. Nil in package-level unit tests;
	// boot.Init wires the real environment in.
	Env archhooks.Env
}

/// NewCore builds a mechanism with ncpu logical CPUs (1 for this kernel)
/// running the given policy, in Boot mode with criticalCount processes
/// expected to signal readiness before the Boot->Normal transition.
func NewCore(policy Policy, ncpu int, criticalCount int) *Core {
	pc := make([]PerCpuState, ncpu)
	for i := range pc {
		pc[i] = PerCpuState{CpuId: CpuId(i)}
	}
	return &Core{Policy: policy, perCpu: pc, mode: ModeBoot, boot: BootState{CriticalCount: criticalCount}}
}

func (c *Core) cpu(id CpuId) *PerCpuState {
	return &c.perCpu[int(id)]
}

/// lock disables interrupts (if Env is set) before taking mu and raises the
/// PREEMPTION_DISABLED flag, returning the prior interrupt state for unlock
/// to restore.
func (c *Core) lock() bool {
	var prev bool
	if c.Env != nil {
		prev = c.Env.DisableInterrupts()
	}
	c.mu.Lock()
	atomic.StoreInt32(&preemptionDisabled, 1)
	return prev
}

func (c *Core) unlock(prev bool) {
	atomic.StoreInt32(&preemptionDisabled, 0)
	c.mu.Unlock()
	if c.Env != nil {
		c.Env.RestoreInterrupts(prev)
	}
}

func (c *Core) forward(ctx KernelSchedCtx, ev SchedEvent) {
	c.Policy.OnEvent(ctx, ev)
	if ev.ShouldRescheduleImmediately() {
		c.cpu(ev.Cpu).NeedResched = true
	}
}

/// ThreadCreated notifies the mechanism a new thread has been made ready.
func (c *Core) ThreadCreated(ctx KernelSchedCtx, tid defs.ThreadId, prio Priority, cpu CpuId) {
	prev := c.lock()
	defer c.unlock(prev)
	c.forward(ctx, SchedEvent{Kind: EventThreadCreated, Thread: tid, Priority: prio, Cpu: cpu})
}

/// ThreadWoke notifies the mechanism a blocked thread became ready.
func (c *Core) ThreadWoke(ctx KernelSchedCtx, tid defs.ThreadId, reason BlockReason, cpu CpuId) {
	prev := c.lock()
	defer c.unlock(prev)
	c.forward(ctx, SchedEvent{Kind: EventThreadWoke, Thread: tid, Reason: reason, Cpu: cpu})
}

/// ThreadYielded notifies the mechanism a thread voluntarily gave up the CPU.
func (c *Core) ThreadYielded(ctx KernelSchedCtx, tid defs.ThreadId, cpu CpuId) {
	prev := c.lock()
	defer c.unlock(prev)
	c.forward(ctx, SchedEvent{Kind: EventThreadYielded, Thread: tid, Cpu: cpu})
}

/// ThreadBlocked notifies the mechanism a thread blocked.
func (c *Core) ThreadBlocked(ctx KernelSchedCtx, tid defs.ThreadId, reason BlockReason, cpu CpuId) {
	prev := c.lock()
	defer c.unlock(prev)
	c.forward(ctx, SchedEvent{Kind: EventThreadBlocked, Thread: tid, Reason: reason, Cpu: cpu})
}

/// ThreadExited notifies the mechanism a thread terminated.
func (c *Core) ThreadExited(ctx KernelSchedCtx, tid defs.ThreadId, exitCode int, cpu CpuId) {
	prev := c.lock()
	defer c.unlock(prev)
	c.forward(ctx, SchedEvent{Kind: EventThreadExited, Thread: tid, ExitCode: exitCode, Cpu: cpu})
}

/// ThreadPriorityChanged notifies the mechanism a thread's priority changed.
func (c *Core) ThreadPriorityChanged(ctx KernelSchedCtx, tid defs.ThreadId, oldP, newP Priority, cpu CpuId) {
	prev := c.lock()
	defer c.unlock(prev)
	c.forward(ctx, SchedEvent{Kind: EventPriorityChanged, Thread: tid, Priority: newP, OldPrio: oldP, Cpu: cpu})
}

/// ProcessReady is the critical-process readiness signal used during Boot
/// mode. It increments the boot ready count and, once it reaches the
/// registered critical count, flips the mode to Normal and fires
/// ModeChanged. When ctx is a *KernelCtx and pid names a registered
/// process, only that process's first signal (proc.Process.SignalReady)
/// is counted; repeat signals are ignored.
func (c *Core) ProcessReady(ctx KernelSchedCtx, pid defs.ProcessId, cpu CpuId) {
	prev := c.lock()
	defer c.unlock(prev)
	if kc, ok := ctx.(*KernelCtx); ok && kc.Mgr != nil {
		first := true
		kc.Mgr.WithProcess(pid, func(p *proc.Process) { first = p.SignalReady() })
		if !first {
			return
		}
	}
	c.forward(ctx, SchedEvent{Kind: EventProcessReady, Process: pid, Cpu: cpu})
	if c.mode == ModeBoot && c.boot.Advance() {
		old := c.mode
		c.mode = ModeNormal
		c.forward(ctx, SchedEvent{Kind: EventModeChanged, OldMode: old, NewMode: ModeNormal, Cpu: cpu})
	}
}

/// Mode returns the current scheduler mode.
func (c *Core) Mode() Mode {
	prev := c.lock()
	defer c.unlock(prev)
	return c.mode
}

/// OnTick is called from the timer ISR. It decrements the current CPU's
/// remaining timeslice and fires a Tick event; it returns whether a
/// reschedule is now needed (timeslice exhausted or need_resched already
/// set by some other event).
func (c *Core) OnTick(ctx KernelSchedCtx, cpu CpuId) bool {
	prev := c.lock()
	defer c.unlock(prev)
	c.ticks++
	st := c.cpu(cpu)
	st.TotalTicks++
	if st.TimesliceRemaining > 0 {
		st.TimesliceRemaining--
	}
	c.Policy.OnEvent(ctx, SchedEvent{Kind: EventTick, Cpu: cpu})
	if st.TimesliceRemaining == 0 {
		st.NeedResched = true
	}
	return st.NeedResched
}

/// TickCount returns the total number of ticks observed across all CPUs.
func (c *Core) TickCount() uint64 {
	prev := c.lock()
	defer c.unlock(prev)
	return c.ticks
}

/// Reschedule asks the policy for the next thread, updates accounting, and
/// returns the thread the caller should context-switch to (hasNext=false
/// means idle the CPU). on_switched fires only when the thread actually
/// changed, and context_switches increments only then.
func (c *Core) Reschedule(ctx KernelSchedCtx, cpu CpuId) (next defs.ThreadId, hasNext bool) {
	prev := c.lock()
	defer c.unlock(prev)
	st := c.cpu(cpu)
	st.NeedResched = false

	decision := c.Policy.PickNext(ctx, cpu)

	prevThread, hadPrev := st.CurrentThread, st.HasCurrent
	changed := hadPrev != decision.HasNext || (hadPrev && prevThread != decision.Next)

	st.CurrentThread = decision.Next
	st.HasCurrent = decision.HasNext
	if decision.HasNext {
		st.TimesliceRemaining = decision.Timeslice
	} else {
		st.TimesliceRemaining = 0
	}

	if changed {
		st.ContextSwitches++
		c.Policy.OnSwitched(ctx, cpu, prevThread, decision.Next, hadPrev, decision.HasNext)
	}

	return decision.Next, decision.HasNext
}

/// CurrentThread returns the thread currently assigned to cpu, if any.
func (c *Core) CurrentThread(cpu CpuId) (defs.ThreadId, bool) {
	prev := c.lock()
	defer c.unlock(prev)
	st := c.cpu(cpu)
	return st.CurrentThread, st.HasCurrent
}

/// ShouldReschedule reports whether cpu's NeedResched flag is set.
func (c *Core) ShouldReschedule(cpu CpuId) bool {
	prev := c.lock()
	defer c.unlock(prev)
	return c.cpu(cpu).NeedResched
}

/// Stats returns a snapshot of a CPU's per-CPU accounting.
func (c *Core) Stats(cpu CpuId) PerCpuState {
	prev := c.lock()
	defer c.unlock(prev)
	return *c.cpu(cpu)
}
