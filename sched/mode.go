package sched

/// Mode is the scheduler's global dispatch mode. In Boot mode only kernel
/// and Critical-class threads are eligible; Normal mode makes every thread
/// eligible. RoundRobin, the only policy in this package, dispatches
/// eligible threads in FIFO order without regard to process class.
/// Grounded on ยง4.6.4.
type Mode int

const (
	ModeBoot Mode = iota
	ModeNormal
)

func (m Mode) String() string {
	if m == ModeBoot {
		return "Boot"
	}
	return "Normal"
}

/// BootState tracks the Boot->Normal transition: once every registered
/// Critical process has signaled readiness, the mode flips.
type BootState struct {
	CriticalCount int
	ReadyCount    int
}

/// Advance records one readiness signal, returning whether this signal
/// completes the transition (ready_count == critical_count).
func (b *BootState) Advance() (completesTransition bool) {
	b.ReadyCount++
	return b.ReadyCount == b.CriticalCount && b.CriticalCount > 0
}
