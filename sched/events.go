package sched

import "github.com/valibali/cluu/defs"

/// EventKind tags a SchedEvent's variant.
type EventKind int

const (
	EventThreadCreated EventKind = iota
	EventThreadWoke
	EventThreadYielded
	EventThreadBlocked
	EventThreadExited
	EventPriorityChanged
	EventProcessReady
	EventModeChanged
	EventTick
)

/// SchedEvent is the single message type SchedulerCore forwards to a
/// policy's OnEvent. Every external mechanism operation builds exactly one
/// of these. Grounded on original_source/kernel/src/scheduler/events.rs.
type SchedEvent struct {
	Kind EventKind

	Thread   defs.ThreadId
	Priority Priority
	OldPrio  Priority
	Reason   BlockReason
	ExitCode int
	Process  defs.ProcessId
	OldMode  Mode
	NewMode  Mode
	Cpu      CpuId
}

/// ShouldRescheduleImmediately reports whether this event, on its own,
/// demands an immediate reschedule rather than waiting for the next tick.
/// Grounded on events.rs's should_reschedule_immediately: ThreadCreated,
/// ThreadWoke, ThreadYielded, and PriorityChanged all set need_resched;
/// Tick is handled separately by the mechanism's timeslice accounting.
func (e SchedEvent) ShouldRescheduleImmediately() bool {
	switch e.Kind {
	case EventThreadCreated, EventThreadWoke, EventThreadYielded, EventPriorityChanged:
		return true
	default:
		return false
	}
}
