package sched

import "sync/atomic"

// preemptionDisabled is the ยง5 PREEMPTION_DISABLED global flag: set while a
// scheduler-internal lock is held, so the timer ISR (an external
// collaborator per the handover contract) can check it before attempting to
// reschedule mid-mutation.
var preemptionDisabled int32

/// PreemptionDisabled reports whether a scheduler-internal lock is
/// currently held.
func PreemptionDisabled() bool {
	return atomic.LoadInt32(&preemptionDisabled) != 0
}
