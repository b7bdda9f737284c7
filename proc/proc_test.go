package proc

import (
	"testing"

	"github.com/valibali/cluu/defs"
)

func TestNewThreadWritesExitTrampoline(t *testing.T) {
	const entry = uintptr(0x0040_0000)
	const trampoline = uintptr(0xFFFF_FFFF_8010_0000)
	th := NewThread(1, "init", entry, 1, trampoline)

	if th.State != Ready {
		t.Fatalf("expected a fresh thread to start Ready, got %s", th.State)
	}
	if th.Ctx.RIP != uint64(entry) {
		t.Fatalf("expected RIP set to entry %#x, got %#x", entry, th.Ctx.RIP)
	}
	if th.Ctx.RFLAGS&rflagsIF == 0 {
		t.Fatal("expected interrupts enabled in the initial RFLAGS")
	}

	top := uintptr(len(th.Stack))
	slot := top - 8
	var got uint64
	for i := 0; i < 8; i++ {
		got |= uint64(th.Stack[int(slot)+i]) << (8 * i)
	}
	if got != uint64(trampoline) {
		t.Fatalf("expected trampoline address %#x written at stack top, got %#x", trampoline, got)
	}
	if th.Ctx.RSP != uint64(slot) {
		t.Fatalf("expected RSP to start at the trampoline slot, got %#x want %#x", th.Ctx.RSP, slot)
	}
}

func TestThreadRunnable(t *testing.T) {
	th := NewThread(1, "t", 0, 1, 0)
	if !th.Runnable() {
		t.Fatal("expected a Ready thread to be runnable")
	}
	th.State = Blocked
	if th.Runnable() {
		t.Fatal("expected a Blocked thread to not be runnable")
	}
}

func TestProcessAddRemoveThreadTransitionsZombie(t *testing.T) {
	p := NewProcess(1, "initproc", nil, ClassUser)
	p.AddThread(10)
	p.AddThread(11)
	if !p.HasThreads() {
		t.Fatal("expected process to report having threads")
	}

	p.RemoveThread(10)
	if !p.HasThreads() {
		t.Fatal("expected process to still have a thread")
	}
	if p.IsZombie() {
		t.Fatal("expected process to not be a zombie with a thread left")
	}

	p.RemoveThread(11)
	if !p.IsZombie() {
		t.Fatal("expected process to become a zombie once its last thread is removed")
	}
}

func TestProcessSignalReadyOnlyOnce(t *testing.T) {
	p := NewProcess(1, "svc", nil, ClassCritical)
	if first := p.SignalReady(); !first {
		t.Fatal("expected the first SignalReady call to report first=true")
	}
	if first := p.SignalReady(); first {
		t.Fatal("expected a second SignalReady call to report first=false (double-signal guard)")
	}
}

func TestManagerAllocIdsAreDistinct(t *testing.T) {
	m := NewManager()
	a := m.AllocThreadId()
	b := m.AllocThreadId()
	if a == b {
		t.Fatalf("expected distinct thread IDs, got %d twice", a)
	}
	if a == 0 || b == 0 {
		t.Fatal("expected nonzero thread IDs from a fresh allocator")
	}
}

func TestManagerAddAndLookup(t *testing.T) {
	m := NewManager()
	th := NewThread(5, "worker", 0, 1, 0)
	m.AddThread(th)

	if got := m.Thread(5); got != th {
		t.Fatalf("expected Thread(5) to return the registered thread, got %v", got)
	}
	if got := m.Thread(6); got != nil {
		t.Fatalf("expected Thread(6) to be nil for an unregistered id, got %v", got)
	}

	m.RemoveThread(5)
	if got := m.Thread(5); got != nil {
		t.Fatal("expected thread to be gone after RemoveThread")
	}
}

func TestManagerWithThreadMutatesUnderLock(t *testing.T) {
	m := NewManager()
	th := NewThread(1, "t", 0, 1, 0)
	m.AddThread(th)

	ok := m.WithThread(1, func(t *Thread) {
		t.State = Blocked
	})
	if !ok {
		t.Fatal("expected WithThread to find the registered thread")
	}
	if th.State != Blocked {
		t.Fatal("expected WithThread's callback mutation to be visible")
	}

	if ok := m.WithThread(defs.ThreadId(999), func(t *Thread) {}); ok {
		t.Fatal("expected WithThread to report false for an unknown id")
	}
}

func TestManagerAllThreadIds(t *testing.T) {
	m := NewManager()
	m.AddThread(NewThread(1, "a", 0, 1, 0))
	m.AddThread(NewThread(2, "b", 0, 1, 0))

	ids := m.AllThreadIds()
	if len(ids) != 2 {
		t.Fatalf("expected 2 thread ids, got %d", len(ids))
	}
}
