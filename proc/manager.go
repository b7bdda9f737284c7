package proc

import (
	"sync"

	"github.com/valibali/cluu/defs"
)

/// maxId bounds the thread/process ID spaces before wraparound, per the
/// "monotonically increasing with wraparound, seeking unused slots" rule.
const maxId = 1 << 32

/// Manager owns the master thread and process tables, per ยง9 ("The
/// scheduler owns the master Thread/Process tables"). It is the single
/// source of truth sched.KernelSchedCtx implementations query and mutate;
/// policies never see a *Thread or *Process directly (ยง4.6.2).
type Manager struct {
	mu        sync.Mutex
	threads   map[defs.ThreadId]*Thread
	processes map[defs.ProcessId]*Process
	threadIds *defs.IdAllocator
	procIds   *defs.IdAllocator
}

/// NewManager builds an empty manager. ProcessId(0) (the kernel process)
/// and ThreadId(0) are reserved and never allocated by AllocThreadId /
/// AllocProcessId.
func NewManager() *Manager {
	m := &Manager{
		threads:   make(map[defs.ThreadId]*Thread),
		processes: make(map[defs.ProcessId]*Process),
	}
	m.threadIds = defs.NewIdAllocator(maxId, func(id uint64) bool {
		_, ok := m.threads[defs.ThreadId(id)]
		return ok
	})
	m.procIds = defs.NewIdAllocator(maxId, func(id uint64) bool {
		_, ok := m.processes[defs.ProcessId(id)]
		return ok
	})
	return m
}

func (m *Manager) lock()   { m.mu.Lock() }
func (m *Manager) unlock() { m.mu.Unlock() }

/// AllocThreadId reserves a fresh thread ID, or 0 if the space is exhausted.
func (m *Manager) AllocThreadId() defs.ThreadId {
	m.lock()
	defer m.unlock()
	return defs.ThreadId(m.threadIds.Alloc())
}

/// AllocProcessId reserves a fresh process ID, or 0 if the space is
/// exhausted.
func (m *Manager) AllocProcessId() defs.ProcessId {
	m.lock()
	defer m.unlock()
	return defs.ProcessId(m.procIds.Alloc())
}

/// AddThread registers a thread in the master table.
func (m *Manager) AddThread(t *Thread) {
	m.lock()
	defer m.unlock()
	m.threads[t.Id] = t
}

/// AddProcess registers a process in the master table.
func (m *Manager) AddProcess(p *Process) {
	m.lock()
	defer m.unlock()
	m.processes[p.Id] = p
}

/// Thread returns the thread for id, or nil if unknown.
func (m *Manager) Thread(id defs.ThreadId) *Thread {
	m.lock()
	defer m.unlock()
	return m.threads[id]
}

/// Process returns the process for id, or nil if unknown.
func (m *Manager) Process(id defs.ProcessId) *Process {
	m.lock()
	defer m.unlock()
	return m.processes[id]
}

/// RemoveThread deletes a thread from the master table (called once its
/// stack has been reclaimed after exit).
func (m *Manager) RemoveThread(id defs.ThreadId) {
	m.lock()
	defer m.unlock()
	delete(m.threads, id)
}

/// RemoveProcess deletes a process from the master table (called once a
/// zombie has been reaped).
func (m *Manager) RemoveProcess(id defs.ProcessId) {
	m.lock()
	defer m.unlock()
	delete(m.processes, id)
}

/// AllThreadIds returns a snapshot of every currently registered thread ID.
/// Used by policies/contexts that must enumerate all threads.
func (m *Manager) AllThreadIds() []defs.ThreadId {
	m.lock()
	defer m.unlock()
	out := make([]defs.ThreadId, 0, len(m.threads))
	for id := range m.threads {
		out = append(out, id)
	}
	return out
}

/// WithThread runs fn with the thread for id locked against concurrent
/// manager mutation, returning false if id is unknown.
func (m *Manager) WithThread(id defs.ThreadId, fn func(*Thread)) bool {
	m.lock()
	defer m.unlock()
	t, ok := m.threads[id]
	if !ok {
		return false
	}
	fn(t)
	return true
}

/// WithProcess runs fn with the process for id locked against concurrent
/// manager mutation, returning false if id is unknown.
func (m *Manager) WithProcess(id defs.ProcessId, fn func(*Process)) bool {
	m.lock()
	defer m.unlock()
	p, ok := m.processes[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}
