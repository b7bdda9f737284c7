// Package proc implements the Thread and Process control-block types:
// threads with owned kernel stacks and saved interrupt contexts, processes
// that own an address space and reference their threads by ID. Grounded on original_source/kernel/src/scheduler/thread.rs and
// process.rs; the "reference by ID, never by owned pointer" ownership
// discipline follows ยง9's ownership-graph notes directly.
package proc

import (
	"github.com/valibali/cluu/defs"
)

/// ThreadState is one of the four states a thread may be in.
type ThreadState int

const (
	Ready ThreadState = iota
	Running
	Blocked
	Terminated
)

func (s ThreadState) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Terminated:
		return "Terminated"
	}
	return "Unknown"
}

/// StackBytes is the size of a thread's owned kernel stack.
const StackBytes = 64 * 1024

/// InterruptContext is the saved CPU register/iret-frame state for a
/// suspended thread: 15 general-purpose registers plus the hardware iret
/// frame (RIP, CS, RFLAGS, RSP, SS), per ยง4.6.6. Suspension is exactly
/// "save this struct and mark Blocked"; resumption is "restore it on the
/// next dispatch" — CLUU has no coroutines, so this struct (plus the
/// thread's owned stack) is the entire suspended-computation
/// representation.
type InterruptContext struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RBP, RDI, RSI, RDX, RCX, RBX, RAX    uint64

	RIP, CS, RFLAGS, RSP, SS uint64
}

const (
	kernelCS = 0x08
	kernelSS = 0x10
	rflagsIF = 1 << 9
	userCS   = 0x1B
	userSS   = 0x23
)

/// Thread is a kernel thread: an owned stack, saved interrupt context, and
/// a reference (by ID) to the process it belongs to.
type Thread struct {
	Id        defs.ThreadId
	Name      string
	State     ThreadState
	Stack     []byte
	Ctx       InterruptContext
	CPUTimeMs uint64
	LastSched uint64

	/// SleepUntilMs is non-zero while this thread is sleeping; it is
	/// compared against the uptime counter to decide when to wake it.
	SleepUntilMs uint64

	ProcessId defs.ProcessId
	ExitCode  int
}

/// NewThread allocates a 64 KiB kernel stack, writes the thread-exit
/// trampoline address at its top (so that a thread returning from its
/// entry function lands in controlled exit code, grounded on the
/// stack-setup description in ยง4.5), and builds an interrupt context such
/// that the first dispatch "returns" into entry with interrupts enabled,
/// kernel segments, and RSP at stack top minus 8.
func NewThread(id defs.ThreadId, name string, entry uintptr, pid defs.ProcessId, exitTrampoline uintptr) *Thread {
	stack := make([]byte, StackBytes)
	top := uintptr(len(stack))

	// The trampoline address occupies the last 8 bytes of the stack; RSP
	// starts pointing at it so that a `ret` out of entry lands there.
	trampolineSlot := top - 8
	writeLE64(stack, trampolineSlot, uint64(exitTrampoline))

	return &Thread{
		Id:        id,
		Name:      name,
		State:     Ready,
		Stack:     stack,
		ProcessId: pid,
		Ctx: InterruptContext{
			RIP:    uint64(entry),
			CS:     kernelCS,
			RFLAGS: rflagsIF,
			RSP:    uint64(trampolineSlot),
			SS:     kernelSS,
		},
	}
}

func writeLE64(b []byte, off uintptr, v uint64) {
	for i := 0; i < 8; i++ {
		b[int(off)+i] = byte(v >> (8 * i))
	}
}

/// Runnable reports whether this thread is eligible for dispatch.
func (t *Thread) Runnable() bool {
	return t.State == Ready
}
