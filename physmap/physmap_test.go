package physmap

import "testing"

func TestPhysToVirtAndBack(t *testing.T) {
	m := New()
	m.Init(1024 * 1024 * 1024)

	v := m.PhysToVirt(0x1000)
	if exp := Base + 0x1000; v != exp {
		t.Fatalf("expected virt %#x, got %#x", exp, v)
	}

	p, ok := m.VirtToPhys(v)
	if !ok || p != 0x1000 {
		t.Fatalf("expected round trip back to 0x1000, got %#x ok=%v", p, ok)
	}
}

func TestPhysToVirtPanicsOutOfRange(t *testing.T) {
	m := New()
	m.Init(1024)

	defer func() {
		if recover() == nil {
			t.Fatal("expected PhysToVirt to panic for an out-of-range address")
		}
	}()
	m.PhysToVirt(2048)
}

func TestVirtToPhysRejectsBelowBaseAndAboveMax(t *testing.T) {
	m := New()
	m.Init(4096)

	if _, ok := m.VirtToPhys(0); ok {
		t.Fatal("expected an address below Base to be rejected")
	}
	if _, ok := m.VirtToPhys(Base + 8192); ok {
		t.Fatal("expected an address beyond max_phys to be rejected")
	}
}

func TestActivateTracksState(t *testing.T) {
	m := New()
	if m.IsActive() {
		t.Fatal("expected a fresh physmap to be inactive")
	}
	m.Activate()
	if !m.IsActive() {
		t.Fatal("expected Activate to mark the physmap active")
	}
}
