// Boot-mode readiness fan-in, built on golang.org/x/sync/errgroup rather
// than a hand-rolled sync.WaitGroup plus error channel: spawning N
// critical processes and waiting for all of their first process_ready
// signals is exactly the errgroup.Group "run N tasks, wait for all" shape.
package sched

import (
	"golang.org/x/sync/errgroup"

	"github.com/valibali/cluu/defs"
)

/// BootWaitGroup runs start for every pid concurrently and, once start
/// succeeds for a given pid, signals ProcessReady for it. It returns once
/// every pid has either signaled ready or failed; the first error from
/// start (if any) is returned after all goroutines have finished.
func BootWaitGroup(core *Core, sctx KernelSchedCtx, pids []defs.ProcessId, start func(defs.ProcessId) error) error {
	var g errgroup.Group
	for _, pid := range pids {
		pid := pid
		g.Go(func() error {
			if err := start(pid); err != nil {
				return err
			}
			core.ProcessReady(sctx, pid, BSP)
			return nil
		})
	}
	return g.Wait()
}
