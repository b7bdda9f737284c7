// Package paging builds, walks, and modifies 4-level x86-64 page tables.
// Every operation takes an explicit PML4 physical address and never
// assumes the active root, per the contract. Table entries are accessed
// through archhooks.Env rather than direct pointer dereference, since
// "access via physmap" on real hardware means "compute phys_to_virt(p) and
// dereference" and our test environment has no real memory-mapped
// hardware to dereference into; the env interface supplies the same
// guarantee read_phys64/write_phys64 would.
//
// Grounded on original_source/kernel/src/memory/paging.rs for the overall
// shape of the operations. Intermediate page-table frames come straight
// from the frame allocator; this package keeps no list of them.
package paging

import (
	"github.com/valibali/cluu/archhooks"
	"github.com/valibali/cluu/defs"
	"github.com/valibali/cluu/pfa"
)

/// Flags are the PTE flag bits this kernel cares about.
type Flags uint64

const (
	Present   Flags = 1 << 0
	Writable  Flags = 1 << 1
	User      Flags = 1 << 2
	NoExecute Flags = 1 << 63

	addrMask uint64 = 0x000F_FFFF_FFFF_F000
)

const entriesPerTable = 512

func indices(v uintptr) (pml4, pdpt, pd, pt uint64) {
	u := uint64(v)
	return (u >> 39) & 0x1FF, (u >> 30) & 0x1FF, (u >> 21) & 0x1FF, (u >> 12) & 0x1FF
}

func entryAddr(table uintptr, idx uint64) uintptr {
	return table + uintptr(idx*8)
}

func packEntry(phys uintptr, f Flags) uint64 {
	return (uint64(phys) & addrMask) | uint64(f&^NoExecute) | uint64(f&NoExecute)
}

func entryPhys(raw uint64) uintptr {
	return uintptr(raw & addrMask)
}

func entryPresent(raw uint64) bool {
	return raw&uint64(Present) != 0
}

/// Pager ties page-table operations to a physical memory environment and
/// the frame allocator intermediate tables are carved from.
type Pager struct {
	Env   archhooks.Env
	Alloc *pfa.Allocator
}

/// New builds a Pager over the given environment and frame allocator.
func New(env archhooks.Env, alloc *pfa.Allocator) *Pager {
	return &Pager{Env: env, Alloc: alloc}
}

/// AllocPML4 allocates and zeroes one frame to serve as a fresh PML4 root.
func (p *Pager) AllocPML4() (root uintptr, err defs.Err_t) {
	f, ok := p.Alloc.AllocFrame()
	if !ok {
		return 0, defs.ENOMEM
	}
	p.Env.ZeroPhysPage(f)
	return f, 0
}

// walkOrCreate walks from root down to the table that should contain the
// leaf entry for vaddr, allocating and zeroing any missing intermediate
// table. It returns the physical address of that last-level table.
func (p *Pager) walkOrCreate(root, vaddr uintptr) (uintptr, defs.Err_t) {
	pml4i, pdpti, pdi, _ := indices(vaddr)
	table := root
	for _, idx := range []uint64{pml4i, pdpti, pdi} {
		raw := p.Env.ReadPhys64(entryAddr(table, idx))
		if !entryPresent(raw) {
			next, ok := p.Alloc.AllocFrame()
			if !ok {
				return 0, defs.ENOMEM
			}
			p.Env.ZeroPhysPage(next)
			p.Env.WritePhys64(entryAddr(table, idx), packEntry(next, Present|Writable|User))
			table = next
		} else {
			table = entryPhys(raw)
		}
	}
	return table, 0
}

// walk descends without creating; ok is false the first time it hits a
// not-present intermediate entry.
func (p *Pager) walk(root, vaddr uintptr) (table uintptr, ok bool) {
	pml4i, pdpti, pdi, _ := indices(vaddr)
	table = root
	for _, idx := range []uint64{pml4i, pdpti, pdi} {
		raw := p.Env.ReadPhys64(entryAddr(table, idx))
		if !entryPresent(raw) {
			return 0, false
		}
		table = entryPhys(raw)
	}
	return table, true
}

/// Map4K walks/creates intermediate tables via the environment and installs
/// a leaf 4 KiB entry. Fails with ENOMEM on intermediate-allocation
/// failure, or EINVAL if a mapping already exists at vaddr.
func (p *Pager) Map4K(root, vaddr, paddr uintptr, flags Flags) defs.Err_t {
	table, err := p.walkOrCreate(root, vaddr)
	if err != 0 {
		return err
	}
	_, _, _, pti := indices(vaddr)
	raw := p.Env.ReadPhys64(entryAddr(table, pti))
	if entryPresent(raw) {
		return defs.EINVAL
	}
	p.Env.WritePhys64(entryAddr(table, pti), packEntry(paddr, flags|Present))
	return 0
}

/// MapRange4KPhys iterates Map4K over size/4096 pages starting at vbase/pbase.
func (p *Pager) MapRange4KPhys(root, vbase, pbase uintptr, size uint64, flags Flags) defs.Err_t {
	pages := size / 4096
	for i := uint64(0); i < pages; i++ {
		off := uintptr(i * 4096)
		if err := p.Map4K(root, vbase+off, pbase+off, flags); err != 0 {
			return err
		}
	}
	return 0
}

/// BatchEntry is one (vaddr, paddr, flags) triple for MapPagesBatchInTable.
type BatchEntry struct {
	Vaddr, Paddr uintptr
	Flags        Flags
}

/// MapPagesBatchInTable installs a batch of leaf mappings into root. The
/// kernelRoot parameter names the preferred root for fetching intermediate
/// tables (per the contract, using the kernel root for intermediate
/// fetches is preferred over switching to the target root) — in this
/// model intermediate tables are always reached via root itself, since our
/// env gives every package uniform physical access regardless of the
/// active CR3, so kernelRoot is accepted for interface fidelity but only
/// used as a fallback when walking root fails entirely (a user root whose
/// PML4 has not yet had its kernel half copied in).
func (p *Pager) MapPagesBatchInTable(root uintptr, entries []BatchEntry, kernelRoot uintptr) defs.Err_t {
	for _, e := range entries {
		if err := p.Map4K(root, e.Vaddr, e.Paddr, e.Flags); err != 0 {
			if err == defs.ENOMEM && kernelRoot != 0 && kernelRoot != root {
				if err2 := p.Map4K(kernelRoot, e.Vaddr, e.Paddr, e.Flags); err2 == 0 {
					continue
				}
			}
			return err
		}
	}
	return 0
}

/// Unmap4K removes the leaf entry for vaddr, flushes the TLB for that
/// page, and returns the physical frame that was mapped there (the caller
/// decides whether to free it).
func (p *Pager) Unmap4K(root, vaddr uintptr) (prevPhys uintptr, ok bool) {
	table, found := p.walk(root, vaddr)
	if !found {
		return 0, false
	}
	_, _, _, pti := indices(vaddr)
	raw := p.Env.ReadPhys64(entryAddr(table, pti))
	if !entryPresent(raw) {
		return 0, false
	}
	p.Env.WritePhys64(entryAddr(table, pti), 0)
	p.Env.FlushTLBPage(vaddr)
	return entryPhys(raw), true
}

/// Translate performs a read-only walk, returning the mapped physical
/// address and flags, or ok=false if vaddr is unmapped.
func (p *Pager) Translate(root, vaddr uintptr) (phys uintptr, flags Flags, ok bool) {
	table, found := p.walk(root, vaddr)
	if !found {
		return 0, 0, false
	}
	_, _, _, pti := indices(vaddr)
	raw := p.Env.ReadPhys64(entryAddr(table, pti))
	if !entryPresent(raw) {
		return 0, 0, false
	}
	pageOff := uintptr(vaddr) & 0xFFF
	return entryPhys(raw) + pageOff, Flags(raw &^ addrMask), true
}

/// CopyKernelHalf copies the upper-half PML4 entries (the 256 highest,
/// indices 256..511) from src to dst, sharing the kernel's intermediate
/// page-table frames across all user address spaces. Idempotent: running
/// it twice in a row produces the same dst entries.
func (p *Pager) CopyKernelHalf(srcRoot, dstRoot uintptr) {
	for i := uint64(256); i < entriesPerTable; i++ {
		raw := p.Env.ReadPhys64(entryAddr(srcRoot, i))
		p.Env.WritePhys64(entryAddr(dstRoot, i), raw)
	}
}

/// SwitchCR3 installs a new active PML4, invalidating the TLB as a side
/// effect.
func (p *Pager) SwitchCR3(root uintptr) {
	p.Env.WriteCR3(root)
}

/// DetectKernelPhysicalBase walks the identity root looking up the known
/// kernel virtual base, returning its physical address. Used once during
/// handover, before the new kernel PML4 exists, while the bootloader's own
/// (identity-style) mapping is still active.
func (p *Pager) DetectKernelPhysicalBase(identityRoot, kernelVirtBase uintptr) (uintptr, bool) {
	phys, _, ok := p.Translate(identityRoot, kernelVirtBase)
	if !ok {
		return 0, false
	}
	return phys &^ 0xFFF, true
}
