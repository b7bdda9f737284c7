package simhooks

import "testing"

func TestReadWritePhys64Roundtrip(t *testing.T) {
	e := New(4096)
	e.WritePhys64(0x100, 0x0102030405060708)
	if got := e.ReadPhys64(0x100); got != 0x0102030405060708 {
		t.Fatalf("expected round trip, got %#x", got)
	}
}

func TestZeroPhysPageClearsAFullPage(t *testing.T) {
	e := New(8192)
	e.WritePhysBytes(0, []byte{1, 2, 3, 4})
	e.ZeroPhysPage(0)
	if e.ReadPhys64(0) != 0 {
		t.Fatal("expected ZeroPhysPage to clear the page")
	}
}

func TestOutOfRangeAccessPanics(t *testing.T) {
	e := New(16)
	defer func() {
		if recover() == nil {
			t.Fatal("expected an out-of-range access to panic")
		}
	}()
	e.ReadPhys64(4096)
}

func TestWriteCR3CountsAsFullFlush(t *testing.T) {
	e := New(4096)
	e.WriteCR3(0x1000)
	if e.ReadCR3() != 0x1000 {
		t.Fatal("expected ReadCR3 to reflect the written value")
	}
	if e.TLBAllFlushes != 1 {
		t.Fatalf("expected WriteCR3 to count as one full TLB flush, got %d", e.TLBAllFlushes)
	}
}

func TestFlushTLBPageIncrementsCounter(t *testing.T) {
	e := New(4096)
	e.FlushTLBPage(0x2000)
	e.FlushTLBPage(0x3000)
	if e.TLBPageFlushes != 2 {
		t.Fatalf("expected 2 page flushes, got %d", e.TLBPageFlushes)
	}
}

func TestDisableRestoreInterrupts(t *testing.T) {
	e := New(4096)
	prev := e.DisableInterrupts()
	if !prev {
		t.Fatal("expected interrupts to start enabled")
	}
	e.RestoreInterrupts(prev)
}

func TestHaltPanics(t *testing.T) {
	e := New(4096)
	defer func() {
		if recover() == nil {
			t.Fatal("expected Halt to panic")
		}
		if e.HaltCount != 1 {
			t.Fatalf("expected HaltCount == 1, got %d", e.HaltCount)
		}
	}()
	e.Halt()
}
