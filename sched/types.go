// Package sched implements the scheduler: a policy-independent mechanism
// (SchedulerCore) plus a pluggable Policy, the default being round-robin.
// Grounded throughout on original_source/kernel/src/scheduler/{sched_core,
// types,traits,events,policies/round_robin}.rs. The mechanism/policy split
// is the centerpiece of this design (ยง4.6) and is kept as two separate Go
// interfaces/types exactly as the original separates them, so that a
// policy can be tested against a mock KernelSchedCtx with no Thread or
// Process structures in scope at all.
package sched

import "github.com/valibali/cluu/defs"

/// CpuId identifies a logical CPU. CLUU is single-core today; the type
/// exists so SMP can be added without touching the mechanism/policy
/// interfaces.
type CpuId uint32

/// BSP is the bootstrap processor, the only CPU this kernel currently runs.
const BSP CpuId = 0

/// Priority is a thread priority; higher values run first under policies
/// that honor priority.
type Priority int32

const (
	PriorityMin          Priority = 0
	PriorityNormal       Priority = 100
	PrioritySystem       Priority = 500
	PriorityCritical     Priority = 1000
	PriorityRealtimeBase Priority = 2000
)

/// TimeSliceTicks is a dispatch quantum measured in timer ticks (10 ms
/// each at the reference 100 Hz rate).
type TimeSliceTicks uint32

const (
	TimeSliceDefault TimeSliceTicks = 10
	TimeSliceShort   TimeSliceTicks = 2
	TimeSliceLong    TimeSliceTicks = 50
)

/// DispatchDecision is what a policy's pick_next returns: the thread to
/// run next (none means idle the CPU), for how long, and an optional CPU
/// affinity hint reserved for future SMP use.
type DispatchDecision struct {
	Next     defs.ThreadId
	HasNext  bool
	Timeslice TimeSliceTicks
	CpuHint  CpuId
	HasHint  bool
}

/// RunThread builds a decision to dispatch tid for the given timeslice.
func RunThread(tid defs.ThreadId, ts TimeSliceTicks) DispatchDecision {
	return DispatchDecision{Next: tid, HasNext: true, Timeslice: ts}
}

/// Idle builds a decision to park the CPU (no runnable thread found).
func Idle() DispatchDecision {
	return DispatchDecision{Timeslice: TimeSliceDefault}
}

/// BlockReason records why a thread blocked, informational for policies
/// that want to implement wakeup-strategy or priority adjustments.
type BlockReason struct {
	Kind    BlockKind
	Channel uint32
	UntilMs uint64
	PortId  defs.PortId
	LockId  uint64
	Child   defs.ProcessId
}

/// BlockKind enumerates the reasons a thread can block.
type BlockKind int

const (
	BlockWaitingForIo BlockKind = iota
	BlockSleeping
	BlockWaitingForIpc
	BlockWaitingForLock
	BlockWaitingForChild
	BlockOther
)

/// SchedClass groups threads for scheduling algorithms that want to treat
/// categories differently.
type SchedClass int

const (
	ClassInteractive SchedClass = iota
	ClassBatch
	ClassRealTime
	ClassIdle
	ClassNormal
)
