package sched

import "github.com/valibali/cluu/defs"

/// RoundRobin is the default policy: a FIFO of ready thread IDs. Grounded
/// on original_source/kernel/src/scheduler/policies/round_robin.rs, with
/// one deliberate correction (see DESIGN.md): the original's pick_next
/// loop re-appends every thread it examines, even ones that turn out to be
/// Blocked or Sleeping, which would leak dead entries into the ready queue
/// forever. ยง4.6.3 and testable property 8 are explicit that only
/// runnable threads are re-queued, so this implementation drops
/// non-runnable threads instead of re-appending them; they re-enter the
/// queue only through a future ThreadWoke event.
type RoundRobin struct {
	ready []defs.ThreadId
}

/// NewRoundRobin builds an empty round-robin policy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (r *RoundRobin) contains(tid defs.ThreadId) bool {
	for _, id := range r.ready {
		if id == tid {
			return true
		}
	}
	return false
}

func (r *RoundRobin) appendIfAbsent(tid defs.ThreadId) {
	if !r.contains(tid) {
		r.ready = append(r.ready, tid)
	}
}

func (r *RoundRobin) remove(tid defs.ThreadId) {
	out := r.ready[:0]
	for _, id := range r.ready {
		if id != tid {
			out = append(out, id)
		}
	}
	r.ready = out
}

/// OnEvent updates the ready FIFO in response to a scheduler event.
func (r *RoundRobin) OnEvent(ctx KernelSchedCtx, ev SchedEvent) {
	switch ev.Kind {
	case EventThreadCreated, EventThreadWoke, EventThreadYielded:
		r.appendIfAbsent(ev.Thread)
	case EventThreadBlocked, EventThreadExited:
		r.remove(ev.Thread)
	}
}

func (r *RoundRobin) eligible(ctx KernelSchedCtx, tid defs.ThreadId) bool {
	if !ctx.ThreadRunnable(tid) {
		return false
	}
	if ctx.CurrentMode() != ModeBoot {
		return true
	}
	pid := ctx.ThreadProcess(tid)
	return ctx.IsKernelProcess(pid) || ctx.IsCriticalProcess(pid)
}

/// PickNext pops from the front of the ready FIFO; if the thread is
/// runnable and (in Boot mode) eligible, it is dispatched with the default
/// timeslice and re-appended at the back. Any thread found not runnable is
/// dropped rather than re-queued (the corrected behavior — see the type
/// doc comment). If no eligible thread is found after one full pass, the
/// CPU idles.
func (r *RoundRobin) PickNext(ctx KernelSchedCtx, cpu CpuId) DispatchDecision {
	attempts := len(r.ready)
	for i := 0; i < attempts; i++ {
		if len(r.ready) == 0 {
			break
		}
		tid := r.ready[0]
		r.ready = r.ready[1:]

		if !ctx.ThreadExists(tid) {
			continue
		}
		if !ctx.ThreadRunnable(tid) {
			continue
		}
		if !r.eligible(ctx, tid) {
			// Still runnable and still wants to run once mode allows it;
			// keep it in the queue for later, at the back, but don't
			// dispatch it now.
			r.ready = append(r.ready, tid)
			continue
		}
		r.ready = append(r.ready, tid)
		return RunThread(tid, TimeSliceDefault)
	}
	return Idle()
}

/// OnSwitched is an accounting hook; round-robin needs no extra state here.
func (r *RoundRobin) OnSwitched(ctx KernelSchedCtx, cpu CpuId, prev, next defs.ThreadId, hadPrev, hadNext bool) {
}

/// Name identifies this policy.
func (r *RoundRobin) Name() string {
	return "round-robin"
}

var _ Policy = (*RoundRobin)(nil)
