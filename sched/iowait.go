// Sleep, block, and wake primitives, grounded on ยง4.6.5 and
// original_source/kernel/src/scheduler/io_wait.rs.
package sched

import (
	"github.com/valibali/cluu/defs"
	"github.com/valibali/cluu/proc"
)

/// Sleeper tracks sleeping threads so a per-tick pass can wake them once
/// their deadline passes, the way the original's sleep queue does.
type Sleeper struct {
	mgr *proc.Manager
}

/// NewSleeper builds a sleeper bound to the thread table in mgr.
func NewSleeper(mgr *proc.Manager) *Sleeper {
	return &Sleeper{mgr: mgr}
}

/// Sleep marks tid Blocked with a wake deadline of nowMs+durationMs. The
/// caller is expected to yield immediately afterward.
func (s *Sleeper) Sleep(core *Core, ctx KernelSchedCtx, tid defs.ThreadId, nowMs, durationMs uint64) {
	until := nowMs + durationMs
	s.mgr.WithThread(tid, func(t *proc.Thread) {
		t.SleepUntilMs = until
		t.State = proc.Blocked
	})
	core.ThreadBlocked(ctx, tid, BlockReason{Kind: BlockSleeping, UntilMs: until}, BSP)
}

/// WakeExpired scans every thread for ones whose sleep deadline has passed
/// and wakes them. Intended to run once per tick (or once per reschedule)
/// ahead of PickNext.
func (s *Sleeper) WakeExpired(core *Core, ctx KernelSchedCtx, nowMs uint64) {
	for _, id := range s.mgr.AllThreadIds() {
		var wake bool
		s.mgr.WithThread(id, func(t *proc.Thread) {
			if t.State == proc.Blocked && t.SleepUntilMs != 0 && t.SleepUntilMs <= nowMs {
				t.SleepUntilMs = 0
				t.State = proc.Ready
				wake = true
			}
		})
		if wake {
			core.ThreadWoke(ctx, id, BlockReason{Kind: BlockSleeping}, BSP)
		}
	}
}

/// Block marks tid Blocked for the given reason and removes it from ready
/// structures (via the ThreadBlocked event). The caller typically yields
/// immediately.
func Block(core *Core, ctx KernelSchedCtx, mgr *proc.Manager, tid defs.ThreadId, reason BlockReason) {
	mgr.WithThread(tid, func(t *proc.Thread) {
		t.State = proc.Blocked
	})
	core.ThreadBlocked(ctx, tid, reason, BSP)
}

/// Wake marks a Blocked thread Ready and emits ThreadWoke.
func Wake(core *Core, ctx KernelSchedCtx, mgr *proc.Manager, tid defs.ThreadId, reason BlockReason) {
	mgr.WithThread(tid, func(t *proc.Thread) {
		if t.State == proc.Blocked {
			t.State = proc.Ready
		}
	})
	core.ThreadWoke(ctx, tid, reason, BSP)
}
