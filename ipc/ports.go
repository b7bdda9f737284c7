package ipc

import (
	"sync"

	"github.com/valibali/cluu/archhooks"
	"github.com/valibali/cluu/defs"
)

/// DefaultCapacity is a port's default bounded-queue size.
const DefaultCapacity = 32

const maxPortId = 1 << 32

/// Port is an IPC mailbox: a single owning receiver, a bounded FIFO
/// message queue, and an ordered wait queue of blocked receivers. Only the
/// owner may receive; anyone who knows the ID may send.
type Port struct {
	Id       defs.PortId
	Owner    defs.ThreadId
	queue    []Message
	capacity int

	// waitQueue holds the thread IDs of receivers currently blocked in
	// port_recv, in the order they started waiting (front = longest
	// waiting). Waking pops from the front, giving FIFO fairness — see
	// DESIGN.md for why this departs from the original's LIFO pop.
	waitQueue []defs.ThreadId
}

/// Registry is the process-wide port registry: a PortId -> Port map plus a
/// secondary name -> PortId map for well-known service names (ยง4.7).
/// WakeFunc is called (outside the registry lock) to actually make a
/// blocked receiver thread runnable again; the ipc package does not import
/// sched to avoid a dependency cycle (ยง9's lock order is scheduler before
/// IPC registry, i.e. ipc must not depend on sched).
type Registry struct {
	mu    sync.Mutex
	ports map[defs.PortId]*Port
	names map[string]defs.PortId
	ids   *defs.IdAllocator

	// Env, if set, brackets every critical section with
	// DisableInterrupts/RestoreInterrupts per ยง5's coarse-spinlock
	// discipline (this registry also backs the port-name registry, since
	// names shares mu). Nil in package-level unit tests; boot.Init wires
	// the real environment in.
	Env archhooks.Env

	WakeFunc func(defs.ThreadId)
}

/// NewRegistry builds an empty port registry.
func NewRegistry() *Registry {
	r := &Registry{
		ports: make(map[defs.PortId]*Port),
		names: make(map[string]defs.PortId),
	}
	r.ids = defs.NewIdAllocator(maxPortId, func(id uint64) bool {
		_, ok := r.ports[defs.PortId(id)]
		return ok
	})
	return r
}

/// lock disables interrupts (if Env is set) before taking mu, returning the
/// prior interrupt state for unlock to restore.
func (r *Registry) lock() bool {
	var prev bool
	if r.Env != nil {
		prev = r.Env.DisableInterrupts()
	}
	r.mu.Lock()
	return prev
}

func (r *Registry) unlock(prev bool) {
	r.mu.Unlock()
	if r.Env != nil {
		r.Env.RestoreInterrupts(prev)
	}
}

func (r *Registry) wake(tid defs.ThreadId) {
	if r.WakeFunc != nil {
		r.WakeFunc(tid)
	}
}

/// Create allocates a new port owned by owner. Rejects ThreadId(0) (idle)
/// as a creator, per the contract.
func (r *Registry) Create(owner defs.ThreadId, capacity int) (defs.PortId, defs.Err_t) {
	if owner == defs.NoThread {
		return defs.NoPort, defs.EINVAL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	prev := r.lock()
	defer r.unlock(prev)
	id := r.ids.Alloc()
	if id == 0 {
		return defs.NoPort, defs.ENOMEM
	}
	pid := defs.PortId(id)
	r.ports[pid] = &Port{Id: pid, Owner: owner, capacity: capacity}
	return pid, 0
}

/// Destroy removes a port. Only the owner may destroy it. Every blocked
/// receiver is woken (outside the lock) so it observes ENOENT on its
/// next attempt.
func (r *Registry) Destroy(id defs.PortId, caller defs.ThreadId) defs.Err_t {
	prev := r.lock()
	p, ok := r.ports[id]
	if !ok {
		r.unlock(prev)
		return defs.ENOENT
	}
	if p.Owner != caller {
		r.unlock(prev)
		return defs.EPERM
	}
	delete(r.ports, id)
	for name, pid := range r.names {
		if pid == id {
			delete(r.names, name)
		}
	}
	waiters := p.waitQueue
	r.unlock(prev)

	for _, w := range waiters {
		r.wake(w)
	}
	return 0
}

/// Send appends msg to the port's queue (error if unknown port or the
/// queue is at capacity), then wakes exactly one waiter (the one that has
/// been waiting longest) outside the lock. Send never blocks.
func (r *Registry) Send(id defs.PortId, msg Message) defs.Err_t {
	prev := r.lock()
	p, ok := r.ports[id]
	if !ok {
		r.unlock(prev)
		return defs.ENOENT
	}
	if len(p.queue) >= p.capacity {
		r.unlock(prev)
		return defs.EAGAIN
	}
	p.queue = append(p.queue, msg)

	var waiter defs.ThreadId
	hasWaiter := false
	if len(p.waitQueue) > 0 {
		waiter = p.waitQueue[0]
		p.waitQueue = p.waitQueue[1:]
		hasWaiter = true
	}
	r.unlock(prev)

	if hasWaiter {
		r.wake(waiter)
	}
	return 0
}

/// TryRecv is the non-blocking receive variant: returns the head message
/// if present, without touching the wait queue either way.
func (r *Registry) TryRecv(id defs.PortId, caller defs.ThreadId) (Message, bool, defs.Err_t) {
	prev := r.lock()
	defer r.unlock(prev)
	p, ok := r.ports[id]
	if !ok {
		return Message{}, false, defs.ENOENT
	}
	if p.Owner != caller {
		return Message{}, false, defs.EPERM
	}
	if len(p.queue) == 0 {
		return Message{}, false, 0
	}
	m := p.queue[0]
	p.queue = p.queue[1:]
	return m, true, 0
}

/// BeginRecv is the blocking-receive entry point's non-blocking probe: if
/// the queue is non-empty, it returns the head message immediately (ready
/// = true). Otherwise it registers caller on the port's wait queue and
/// returns ready = false; the caller is expected to block and yield, then
/// retry by calling BeginRecv again on wake (the port may have been
/// destroyed in the meantime, which TryRecv/BeginRecv both report as
/// ENOENT).
func (r *Registry) BeginRecv(id defs.PortId, caller defs.ThreadId) (msg Message, ready bool, err defs.Err_t) {
	prev := r.lock()
	defer r.unlock(prev)
	p, ok := r.ports[id]
	if !ok {
		return Message{}, false, defs.ENOENT
	}
	if p.Owner != caller {
		return Message{}, false, defs.EPERM
	}
	if len(p.queue) > 0 {
		m := p.queue[0]
		p.queue = p.queue[1:]
		return m, true, 0
	}
	for _, w := range p.waitQueue {
		if w == caller {
			return Message{}, false, 0
		}
	}
	p.waitQueue = append(p.waitQueue, caller)
	return Message{}, false, 0
}

/// RegisterName binds name to a port, failing if the name is already
/// registered (ยง4.7's name registry).
func (r *Registry) RegisterName(name string, id defs.PortId) defs.Err_t {
	prev := r.lock()
	defer r.unlock(prev)
	if _, ok := r.ports[id]; !ok {
		return defs.ENOENT
	}
	if _, ok := r.names[name]; ok {
		return defs.EINVAL
	}
	r.names[name] = id
	return 0
}

/// LookupName resolves a well-known port name.
func (r *Registry) LookupName(name string) (defs.PortId, bool) {
	prev := r.lock()
	defer r.unlock(prev)
	id, ok := r.names[name]
	return id, ok
}
