package ipc

import (
	"testing"

	"github.com/valibali/cluu/archhooks/simhooks"
	"github.com/valibali/cluu/defs"
)

func TestMessageSetGetU64Roundtrip(t *testing.T) {
	var m Message
	if err := m.SetU64(0, 0xdeadbeefcafef00d); err != 0 {
		t.Fatalf("SetU64 failed: %v", err)
	}
	v, err := m.GetU64(0)
	if err != 0 || v != 0xdeadbeefcafef00d {
		t.Fatalf("expected round trip value, got %#x err=%v", v, err)
	}
}

func TestMessageBoundsRejectOutOfRange(t *testing.T) {
	var m Message
	if err := m.SetU64(MessageSize-4, 1); err == 0 {
		t.Fatal("expected SetU64 near the end of the buffer to fail bounds checking")
	}
	if _, err := m.GetU32(-1); err == 0 {
		t.Fatal("expected GetU32 with a negative offset to fail")
	}
}

func TestCreateRejectsIdleThread(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create(defs.NoThread, 0); err == 0 {
		t.Fatal("expected Create to reject ThreadId(0) as owner")
	}
}

func TestEnvBracketsCriticalSectionAndRestoresInterrupts(t *testing.T) {
	r := NewRegistry()
	env := simhooks.New(4096)
	r.Env = env

	pid, err := r.Create(1, 0)
	if err != 0 {
		t.Fatalf("Create failed: %v", err)
	}
	if !env.InterruptsEnabled() {
		t.Fatal("expected interrupts restored once Create returns")
	}

	if _, _, err := r.TryRecv(pid, 1); err != 0 {
		t.Fatalf("TryRecv failed: %v", err)
	}
	if !env.InterruptsEnabled() {
		t.Fatal("expected interrupts restored once TryRecv returns")
	}
}

func TestSendTryRecvRoundtrip(t *testing.T) {
	r := NewRegistry()
	pid, err := r.Create(1, 0)
	if err != 0 {
		t.Fatalf("Create failed: %v", err)
	}

	var msg Message
	msg.SetU64(0, 42)
	if err := r.Send(pid, msg); err != 0 {
		t.Fatalf("Send failed: %v", err)
	}

	got, ok, err := r.TryRecv(pid, 1)
	if err != 0 || !ok {
		t.Fatalf("expected TryRecv to return the sent message, ok=%v err=%v", ok, err)
	}
	if v, _ := got.GetU64(0); v != 42 {
		t.Fatalf("expected payload 42, got %d", v)
	}
}

func TestTryRecvRejectsNonOwner(t *testing.T) {
	r := NewRegistry()
	pid, _ := r.Create(1, 0)
	if _, _, err := r.TryRecv(pid, 2); err != defs.EPERM {
		t.Fatalf("expected EPERM for a non-owner receiver, got %v", err)
	}
}

func TestSendRejectsFullQueue(t *testing.T) {
	r := NewRegistry()
	pid, _ := r.Create(1, 1)
	var msg Message
	if err := r.Send(pid, msg); err != 0 {
		t.Fatalf("first send failed: %v", err)
	}
	if err := r.Send(pid, msg); err != defs.EAGAIN {
		t.Fatalf("expected EAGAIN once the queue is at capacity, got %v", err)
	}
}

func TestBeginRecvFIFOWakeOrder(t *testing.T) {
	r := NewRegistry()
	pid, _ := r.Create(1, 4)

	var woken []defs.ThreadId
	r.WakeFunc = func(tid defs.ThreadId) { woken = append(woken, tid) }

	// Threads 10 then 20 both block waiting, in that order. Only the port
	// owner may receive, so ownership moves from 10 to 20 between probes.
	r.ports[pid].Owner = 10
	if _, ready, _ := r.BeginRecv(pid, 10); ready {
		t.Fatal("expected thread 10 to block (empty queue)")
	}
	r.ports[pid].Owner = 20
	if _, ready, _ := r.BeginRecv(pid, 20); ready {
		t.Fatal("expected thread 20 to block (empty queue)")
	}

	var msg Message
	r.Send(pid, msg)
	r.Send(pid, msg)

	if len(woken) != 2 {
		t.Fatalf("expected two wake calls, got %d", len(woken))
	}
	if woken[0] != 10 || woken[1] != 20 {
		t.Fatalf("expected FIFO wake order [10 20], got %v", woken)
	}
}

func TestBeginRecvReturnsImmediatelyWhenQueueNonEmpty(t *testing.T) {
	r := NewRegistry()
	pid, _ := r.Create(1, 4)
	var msg Message
	msg.SetU32(0, 7)
	r.Send(pid, msg)

	got, ready, err := r.BeginRecv(pid, 1)
	if err != 0 || !ready {
		t.Fatalf("expected BeginRecv to return ready=true with a queued message, ready=%v err=%v", ready, err)
	}
	if v, _ := got.GetU32(0); v != 7 {
		t.Fatalf("expected payload 7, got %d", v)
	}
}

func TestDestroyWakesWaitersAndRemovesPort(t *testing.T) {
	r := NewRegistry()
	pid, _ := r.Create(2, 4)
	var woken []defs.ThreadId
	r.WakeFunc = func(tid defs.ThreadId) { woken = append(woken, tid) }

	r.BeginRecv(pid, 2)
	if err := r.Destroy(pid, 2); err != 0 {
		t.Fatalf("Destroy failed: %v", err)
	}
	if len(woken) != 1 || woken[0] != 2 {
		t.Fatalf("expected the blocked receiver to be woken on destroy, got %v", woken)
	}
	if _, _, err := r.TryRecv(pid, 1); err != defs.ENOENT {
		t.Fatalf("expected ENOENT after destroy, got %v", err)
	}
}

func TestDestroyRejectsNonOwner(t *testing.T) {
	r := NewRegistry()
	pid, _ := r.Create(1, 4)
	if err := r.Destroy(pid, 2); err != defs.EPERM {
		t.Fatalf("expected EPERM for a non-owner destroy, got %v", err)
	}
}

func TestRegisterAndLookupName(t *testing.T) {
	r := NewRegistry()
	pid, _ := r.Create(1, 4)
	if err := r.RegisterName("svc.init", pid); err != 0 {
		t.Fatalf("RegisterName failed: %v", err)
	}
	got, ok := r.LookupName("svc.init")
	if !ok || got != pid {
		t.Fatalf("expected LookupName to resolve the registered name, got %d ok=%v", got, ok)
	}
	if err := r.RegisterName("svc.init", pid); err == 0 {
		t.Fatal("expected a second RegisterName with the same name to fail")
	}
}
