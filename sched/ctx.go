package sched

import (
	"github.com/valibali/cluu/defs"
	"github.com/valibali/cluu/proc"
)

/// KernelCtx is the concrete KernelSchedCtx backing the real kernel,
/// wiring the policy-facing capability interface to proc.Manager and this
/// package's own Core for mode/tick queries. Mirrors the role
/// original_source's KernelSchedCtx implementation plays: the one piece
/// that is allowed to touch Thread/Process structures on the policy's
/// behalf.
type KernelCtx struct {
	Mgr    *proc.Manager
	Core   *Core
	Logger func(string)
}

var _ KernelSchedCtx = (*KernelCtx)(nil)

func (k *KernelCtx) ThreadRunnable(tid defs.ThreadId) bool {
	t := k.Mgr.Thread(tid)
	return t != nil && t.Runnable()
}

func (k *KernelCtx) ThreadExists(tid defs.ThreadId) bool {
	return k.Mgr.Thread(tid) != nil
}

func (k *KernelCtx) CurrentThread(cpu CpuId) (defs.ThreadId, bool) {
	return k.Core.CurrentThread(cpu)
}

func (k *KernelCtx) ThreadPriority(tid defs.ThreadId) Priority {
	pid := k.ThreadProcess(tid)
	p := k.Mgr.Process(pid)
	if p == nil {
		return PriorityNormal
	}
	switch p.Class {
	case proc.ClassRealTime:
		return PriorityRealtimeBase
	case proc.ClassCritical:
		return PriorityCritical
	case proc.ClassSystem:
		return PrioritySystem
	default:
		return PriorityNormal
	}
}

func (k *KernelCtx) ThreadClass(tid defs.ThreadId) SchedClass {
	pid := k.ThreadProcess(tid)
	p := k.Mgr.Process(pid)
	if p == nil {
		return ClassNormal
	}
	switch p.Class {
	case proc.ClassRealTime:
		return sc(p.Class)
	default:
		return ClassNormal
	}
}

// sc disambiguates proc.ProcessClass and sched.SchedClass, which share
// identifier names but are distinct types from distinct packages.
func sc(pc proc.ProcessClass) SchedClass {
	if pc == proc.ClassRealTime {
		return ClassRealTime
	}
	return ClassNormal
}

func (k *KernelCtx) ThreadProcess(tid defs.ThreadId) defs.ProcessId {
	t := k.Mgr.Thread(tid)
	if t == nil {
		return defs.KernelPid
	}
	return t.ProcessId
}

func (k *KernelCtx) IsCriticalProcess(pid defs.ProcessId) bool {
	p := k.Mgr.Process(pid)
	return p != nil && p.Class == proc.ClassCritical
}

func (k *KernelCtx) IsKernelProcess(pid defs.ProcessId) bool {
	return pid == defs.KernelPid
}

// CurrentMode reads Core's mode field directly: policies call it from
// PickNext/OnEvent while Core's lock is already held.
func (k *KernelCtx) CurrentMode() Mode {
	return k.Core.mode
}

func (k *KernelCtx) TickCount() uint64 {
	return k.Core.TickCount()
}

func (k *KernelCtx) CpuCount() int {
	return len(k.Core.perCpu)
}

func (k *KernelCtx) AllThreads() []defs.ThreadId {
	return k.Mgr.AllThreadIds()
}

func (k *KernelCtx) MakeRunnable(tid defs.ThreadId) {
	k.Mgr.WithThread(tid, func(t *proc.Thread) {
		t.State = proc.Ready
	})
}

func (k *KernelCtx) RequestReschedule(cpu CpuId) {
	prev := k.Core.lock()
	k.Core.cpu(cpu).NeedResched = true
	k.Core.unlock(prev)
}

func (k *KernelCtx) SetThreadClass(tid defs.ThreadId, class SchedClass) {
	// Thread-level class overrides are not tracked separately from the
	// owning process's class in this implementation; policies that need
	// per-thread classes can layer their own map keyed by ThreadId.
}

func (k *KernelCtx) SetThreadPriority(tid defs.ThreadId, p Priority) {
	// See SetThreadClass: priority here is derived from the process class.
	// A policy wanting per-thread overrides should keep its own table.
}

func (k *KernelCtx) Log(msg string) {
	if k.Logger != nil {
		k.Logger(msg)
	}
}
