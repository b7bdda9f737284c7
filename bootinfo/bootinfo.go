// Package bootinfo describes the bootloader-supplied structure consumed by
// boot.Init: a memory map, the initrd location, and framebuffer geometry.
// None of this is produced by the kernel core itself — it is handed in by
// the (out-of-scope) architectural boot handoff — but the core must parse
// it, so the shape lives here.
package bootinfo

/// EntryType classifies a memory-map entry. FREE is the only type the core
/// inspects; everything else is treated as reserved.
type EntryType uint8

const (
	TypeFree     EntryType = 1
	TypeReserved EntryType = 0
)

/// MemMapEntry packs {phys, size, type} the way the reference bootloader
/// does: the low 4 bits of the raw size field carry the type, the
/// remaining bits carry the region length rounded down to 16 bytes. The
/// core must tolerate this packing rather than assume a clean struct.
type MemMapEntry struct {
	Phys    uintptr
	RawSize uint64
}

/// Type extracts the entry type from the packed RawSize field.
func (m MemMapEntry) Type() EntryType {
	return EntryType(m.RawSize & 0xF)
}

/// Size extracts the region size (rounded down to 16 bytes) from the packed
/// RawSize field.
func (m MemMapEntry) Size() uint64 {
	return m.RawSize &^ 0xF
}

/// End returns the exclusive end physical address of the region.
func (m MemMapEntry) End() uintptr {
	return m.Phys + uintptr(m.Size())
}

/// PackSize builds a RawSize field from a region size and type, mirroring
/// how the reference bootloader packs its memory map. Exposed for tests
/// that need to construct synthetic memory maps.
func PackSize(size uint64, t EntryType) uint64 {
	return (size &^ 0xF) | uint64(t&0xF)
}

/// Framebuffer describes the boot framebuffer geometry, consumed only by
/// the (out-of-scope) console driver; the core maps it into the kernel
/// address space during handover but never draws into it.
type Framebuffer struct {
	Phys     uintptr
	Scanline uint32
	Width    uint32
	Height   uint32
}

/// Info is the parsed form of the bootloader structure.
type Info struct {
	MemMap      []MemMapEntry
	KernelPhys  uintptr
	KernelSize  uintptr
	InitrdPhys  uintptr
	InitrdSize  uintptr
	BootPhys    uintptr
	BootSize    uintptr
	Framebuffer Framebuffer
}

/// MaxPhys returns the exclusive upper bound of physical memory described
/// by the memory map (the end of the highest entry, free or not).
func (in Info) MaxPhys() uintptr {
	var max uintptr
	for _, e := range in.MemMap {
		if e.End() > max {
			max = e.End()
		}
	}
	return max
}
