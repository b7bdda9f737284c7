package proc

import (
	"github.com/valibali/cluu/aspace"
	"github.com/valibali/cluu/defs"
)

/// ProcessState is one of the two states a process may be in.
type ProcessState int

const (
	ProcRunning ProcessState = iota
	ProcZombie
)

/// ProcessClass groups processes for the Normal-mode priority ordering
/// (RealTime > Critical > System > User) and for boot-mode eligibility
/// (only Critical and the kernel process are eligible during Boot mode).
type ProcessClass int

const (
	ClassUser ProcessClass = iota
	ClassSystem
	ClassCritical
	ClassRealTime
)

/// InitState guards a Critical process's readiness signal against being
/// counted twice if process_ready is called more than once. Grounded on
/// the original's ProcessInitState, referenced approvingly by ยง9.
type InitState int

const (
	NotReady InitState = iota
	ReadySignaled
)

/// Process is a container for an address space and the set of threads
/// belonging to it. No file-descriptor table is modeled.
type Process struct {
	Id       defs.ProcessId
	ParentId defs.ProcessId
	HasParent bool
	Name     string
	State    ProcessState
	Class    ProcessClass

	/// Threads is the ordered set of thread IDs belonging to this process
	/// (a back-edge; Process never owns a Thread pointer, only its ID).
	Threads []defs.ThreadId

	ExitCode    int
	AddressSpace *aspace.AddressSpace

	Init InitState
}

/// NewProcess builds a process bound to the given address space. Used for
/// both kernel and user processes.
func NewProcess(id defs.ProcessId, name string, as *aspace.AddressSpace, class ProcessClass) *Process {
	return &Process{
		Id:           id,
		Name:         name,
		State:        ProcRunning,
		Class:        class,
		AddressSpace: as,
	}
}

/// SetParent records the parent-child relationship, used for waitpid.
func (p *Process) SetParent(parent defs.ProcessId) {
	p.ParentId = parent
	p.HasParent = true
}

/// AddThread records a thread as belonging to this process.
func (p *Process) AddThread(tid defs.ThreadId) {
	p.Threads = append(p.Threads, tid)
}

/// RemoveThread drops a thread from this process's set. If no threads
/// remain, the process transitions to Zombie.
func (p *Process) RemoveThread(tid defs.ThreadId) {
	out := p.Threads[:0]
	for _, id := range p.Threads {
		if id != tid {
			out = append(out, id)
		}
	}
	p.Threads = out
	if len(p.Threads) == 0 {
		p.State = ProcZombie
	}
}

/// Exit marks the process Zombie with the given exit code. It does not
/// remove or reclaim the process's threads.
func (p *Process) Exit(code int) {
	p.State = ProcZombie
	p.ExitCode = code
}

/// IsZombie reports whether the process has exited.
func (p *Process) IsZombie() bool {
	return p.State == ProcZombie
}

/// HasThreads reports whether the process has any live threads.
func (p *Process) HasThreads() bool {
	return len(p.Threads) > 0
}

/// SignalReady marks a Critical process as having signaled readiness,
/// reporting whether this was the first signal (guards against the
/// double-signal hazard ยง9 flags).
func (p *Process) SignalReady() (first bool) {
	if p.Init == ReadySignaled {
		return false
	}
	p.Init = ReadySignaled
	return true
}
