// Package physmap is the kernel's direct map of all physical RAM: every
// physical address p < max_phys is simultaneously addressable at
// PHYSMAP_BASE + p. Grounded on
// original_source/kernel/src/memory/physmap.rs; the accessor-pair naming
// (PhysToVirt/VirtToPhys) and single-singleton-with-init idiom follow
// biscuit's biscuit/src/mem/mem.go (Dmap/Dmap_v2p).
package physmap

import "sync"

/// Base is the fixed virtual base of the physmap, per the committed
/// constant in the external-interfaces contract.
const Base uintptr = 0xFFFF_8000_0000_0000

/// Map is the physmap singleton's state.
type Map struct {
	mu       sync.Mutex
	maxPhys  uintptr
	active   bool
	inited   bool
}

/// New returns an uninitialized physmap; call Init then Activate.
func New() *Map {
	return &Map{}
}

/// Init records max_phys. The actual virtual mapping is installed by
/// paging during kernel PML4 construction (ยง4.3); this call only makes the
/// bound known so PhysToVirt can range-check.
func (m *Map) Init(maxPhys uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxPhys = maxPhys
	m.inited = true
}

/// Activate flags the physmap as safe to use. Called once the new PML4
/// mapping it, it was installed by paging, is the active root.
func (m *Map) Activate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = true
}

/// IsActive reports whether Activate has run.
func (m *Map) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

/// MaxPhys returns the recorded physical memory bound.
func (m *Map) MaxPhys() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxPhys
}

/// PhysToVirt returns the physmap virtual address for a physical address.
/// Panics if p >= max_phys, matching the contract's stated panic behavior
/// for an invariant violation rather than returning a sentinel.
func (m *Map) PhysToVirt(p uintptr) uintptr {
	m.mu.Lock()
	max := m.maxPhys
	m.mu.Unlock()
	if p >= max {
		panic("physmap: phys_to_virt out of range")
	}
	return Base + p
}

/// VirtToPhys is the inverse of PhysToVirt; ok is false if v is outside the
/// physmap's mapped range.
func (m *Map) VirtToPhys(v uintptr) (phys uintptr, ok bool) {
	m.mu.Lock()
	max := m.maxPhys
	m.mu.Unlock()
	if v < Base {
		return 0, false
	}
	p := v - Base
	if p >= max {
		return 0, false
	}
	return p, true
}
