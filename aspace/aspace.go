// Package aspace implements per-process address spaces: a PML4 root whose
// upper half is bit-identical to the kernel template and whose lower half
// holds the process's own text/data/heap/stack regions.
//
// Grounded on original_source/kernel/src/memory/address_space.rs for the
// fixed user layout constants and on biscuit's biscuit/src/vm/as.go for the
// locking-discipline and region-bookkeeping idiom (Vm_t tracks its own
// regions so teardown can walk them instead of guessing).
package aspace

import (
	"sync"

	"github.com/valibali/cluu/bootinfo"
	"github.com/valibali/cluu/defs"
	"github.com/valibali/cluu/paging"
	"github.com/valibali/cluu/pfa"
)

// Fixed user address-space layout, per the committed contract.
const (
	NullRegionEnd uintptr = 0x0040_0000

	TextStart uintptr = 0x0040_0000
	TextSize  uint64  = 2 * 1024 * 1024

	DataStart uintptr = 0x0060_0000
	DataSize  uint64  = 2 * 1024 * 1024

	HeapStart uintptr = 0x0080_0000
	HeapMax   uintptr = 0x4000_0000

	StackSize   uint64  = 16 * 1024 * 1024
	StackTop    uintptr = 0x8000_0000
	StackBottom uintptr = StackTop - uintptr(StackSize)
)

/// KernelHeapBase is the fixed kernel-half constant from ยง6: 1 MiB initial
/// size, growable.
const KernelHeapBase uintptr = 0xFFFF_FFFF_C000_0000

/// Region is one tracked mapping within an address space: a contiguous run
/// of virtual pages backed by the listed physical frames. Owned marks
/// whether Destroy should free those frames (true for the space's own
/// anonymous text/data/heap/stack pages, false for pages borrowed from a
/// shared-memory region — shmem owns those and frees them through its own
/// refcount).
type Region struct {
	Start  uintptr
	Frames []uintptr
	Owned  bool
}

/// HeapRegion additionally tracks the current program break, which may sit
/// anywhere in [HeapStart, HeapMax] and only grows/shrinks through SetBrk.
type HeapRegion struct {
	Region
	CurrentBrk uintptr
}

/// AddressSpace is a process's page-table root plus the regions it owns.
type AddressSpace struct {
	mu       sync.Mutex
	pager    *paging.Pager
	alloc    *pfa.Allocator
	Root     uintptr
	IsKernel bool

	Text  Region
	Data  Region
	Heap  HeapRegion
	Stack Region

	destroyed bool
}

/// NewKernelTemplate builds the initial kernel-only PML4 described by the
/// ยง4.3 handover sequence: kernel text/data at their known virtual base,
/// the bootloader info structure, the framebuffer, and the full physmap.
/// The caller is responsible for verifying each mapping resolves before
/// switching CR3 (paging.Translate against the returned root).
func NewKernelTemplate(
	pager *paging.Pager,
	alloc *pfa.Allocator,
	info bootinfo.Info,
	kernelVirtBase uintptr,
	physmapBase uintptr,
	physmapMax uintptr,
) (*AddressSpace, defs.Err_t) {
	root, err := pager.AllocPML4()
	if err != 0 {
		return nil, err
	}

	if e := pager.MapRange4KPhys(root, kernelVirtBase, info.KernelPhys, uint64(info.KernelSize), paging.Present|paging.Writable); e != 0 {
		return nil, e
	}
	if info.BootSize > 0 {
		if e := pager.MapRange4KPhys(root, KernelHeapBase-uintptr(info.BootSize), info.BootPhys, uint64(info.BootSize), paging.Present|paging.Writable|paging.NoExecute); e != 0 {
			return nil, e
		}
	}
	if info.Framebuffer.Phys != 0 {
		fbSize := uint64(info.Framebuffer.Scanline) * uint64(info.Framebuffer.Height)
		if e := pager.MapRange4KPhys(root, KernelHeapBase-uintptr(fbSize)-uintptr(info.BootSize), info.Framebuffer.Phys, fbSize, paging.Present|paging.Writable|paging.NoExecute); e != 0 {
			return nil, e
		}
	}
	if e := pager.MapRange4KPhys(root, physmapBase, 0, uint64(physmapMax), paging.Present|paging.Writable|paging.NoExecute); e != 0 {
		return nil, e
	}

	return &AddressSpace{pager: pager, alloc: alloc, Root: root, IsKernel: true}, 0
}

/// NewUser allocates a fresh PML4 and copies the kernel half from
/// kernelRoot. User regions begin empty.
func NewUser(pager *paging.Pager, alloc *pfa.Allocator, kernelRoot uintptr) (*AddressSpace, defs.Err_t) {
	root, err := pager.AllocPML4()
	if err != 0 {
		return nil, err
	}
	pager.CopyKernelHalf(kernelRoot, root)
	return &AddressSpace{pager: pager, alloc: alloc, Root: root}, 0
}

/// NewKernelProcessSpace returns an AddressSpace that simply reuses the
/// kernel template's root: kernel processes have no user-accessible pages
/// of their own.
func NewKernelProcessSpace(kernelTemplate *AddressSpace) *AddressSpace {
	return &AddressSpace{pager: kernelTemplate.pager, alloc: kernelTemplate.alloc, Root: kernelTemplate.Root, IsKernel: true}
}

/// SwitchTo installs this address space's PML4 as the active root.
func (a *AddressSpace) SwitchTo() {
	a.pager.SwitchCR3(a.Root)
}

/// IsUserAccessible reports whether vaddr falls within the fixed text, data
/// or stack range of the user layout, or within the heap below its current
/// break. It does not check whether the page is actually mapped.
func (a *AddressSpace) IsUserAccessible(vaddr uintptr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if vaddr >= TextStart && vaddr < TextStart+uintptr(TextSize) {
		return true
	}
	if vaddr >= DataStart && vaddr < DataStart+uintptr(DataSize) {
		return true
	}
	if vaddr >= HeapStart && vaddr < a.Heap.CurrentBrk {
		return true
	}
	if vaddr >= StackBottom && vaddr < StackTop {
		return true
	}
	return false
}

// mapAnon allocates one frame per page in [start, start+size) and maps it,
// recording the resulting Region as Owned.
func (a *AddressSpace) mapAnon(start uintptr, size uint64, flags paging.Flags) (Region, defs.Err_t) {
	pages := size / 4096
	frames := make([]uintptr, 0, pages)
	for i := uint64(0); i < pages; i++ {
		f, ok := a.alloc.AllocFrame()
		if !ok {
			for _, ff := range frames {
				a.alloc.FreeFrame(ff)
			}
			return Region{}, defs.ENOMEM
		}
		a.pager.Env.ZeroPhysPage(f)
		v := start + uintptr(i*4096)
		if err := a.pager.Map4K(a.Root, v, f, flags); err != 0 {
			a.alloc.FreeFrame(f)
			for _, ff := range frames {
				a.alloc.FreeFrame(ff)
			}
			return Region{}, err
		}
		frames = append(frames, f)
	}
	return Region{Start: start, Frames: frames, Owned: true}, 0
}

/// MapText allocates and maps the fixed text region, copying in the given
/// image bytes.
func (a *AddressSpace) MapText(image []byte) defs.Err_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, err := a.mapAnon(TextStart, TextSize, paging.Present|paging.User)
	if err != 0 {
		return err
	}
	for i, f := range r.Frames {
		n := 4096
		off := i * 4096
		if off >= len(image) {
			break
		}
		if off+n > len(image) {
			n = len(image) - off
		}
		a.pager.Env.WritePhysBytes(f, image[off:off+n])
	}
	a.Text = r
	return 0
}

/// MapData allocates and maps the fixed data/BSS region.
func (a *AddressSpace) MapData() defs.Err_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, err := a.mapAnon(DataStart, DataSize, paging.Present|paging.Writable|paging.User|paging.NoExecute)
	if err != 0 {
		return err
	}
	a.Data = r
	return 0
}

/// MapStack allocates and maps the fixed stack region.
func (a *AddressSpace) MapStack() defs.Err_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, err := a.mapAnon(StackBottom, StackSize, paging.Present|paging.Writable|paging.User|paging.NoExecute)
	if err != 0 {
		return err
	}
	a.Stack = r
	return 0
}

/// InitHeap sets up an empty heap region at HeapStart with CurrentBrk ==
/// HeapStart (no frames allocated yet — growth is lazy, on fault). For user
/// address spaces only; the kernel space uses InitKernelHeap instead, since
/// the two heaps start at different bases (HeapStart vs KernelHeapBase).
func (a *AddressSpace) InitHeap() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Heap = HeapRegion{Region: Region{Start: HeapStart, Owned: true}, CurrentBrk: HeapStart}
}

/// InitKernelHeap sets up an empty heap region at KernelHeapBase, per ยง6's
/// external-interfaces contract ("kernel heap base 0xFFFF_FFFF_C000_0000").
/// Call this on the kernel address space instead of InitHeap.
func (a *AddressSpace) InitKernelHeap() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Heap = HeapRegion{Region: Region{Start: KernelHeapBase, Owned: true}, CurrentBrk: KernelHeapBase}
}

/// SetBrk grows or shrinks the heap break. Returns the new break, or an
/// error if addr is outside [HeapStart, HeapMax]. Frames are not allocated
/// here: growth is lazy, satisfied on the first access fault.
func (a *AddressSpace) SetBrk(addr uintptr) (uintptr, defs.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if addr == 0 {
		return a.Heap.CurrentBrk, 0
	}
	if addr < HeapStart || addr > HeapMax {
		return a.Heap.CurrentBrk, defs.EINVAL
	}
	if addr < a.Heap.CurrentBrk {
		// Shrinking: free any frames whose page is now beyond the break.
		keep := make([]uintptr, 0, len(a.Heap.Frames))
		for i, f := range a.Heap.Frames {
			pageStart := HeapStart + uintptr(i)*4096
			if pageStart < addr {
				keep = append(keep, f)
				continue
			}
			if _, ok := a.pager.Unmap4K(a.Root, pageStart); ok {
				a.alloc.FreeFrame(f)
			}
		}
		a.Heap.Frames = keep
	}
	a.Heap.CurrentBrk = addr
	return addr, 0
}

/// HandleHeapFault lazily allocates and maps the page containing vaddr if
/// it falls within [HeapStart, CurrentBrk) and is not yet mapped.
func (a *AddressSpace) HandleHeapFault(vaddr uintptr) defs.Err_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	if vaddr < HeapStart || vaddr >= a.Heap.CurrentBrk {
		return defs.EFAULT
	}
	page := vaddr &^ 0xFFF
	if _, _, ok := a.pager.Translate(a.Root, page); ok {
		return 0
	}
	f, ok := a.alloc.AllocFrame()
	if !ok {
		return defs.ENOMEM
	}
	a.pager.Env.ZeroPhysPage(f)
	if err := a.pager.Map4K(a.Root, page, f, paging.Present|paging.Writable|paging.User|paging.NoExecute); err != 0 {
		a.alloc.FreeFrame(f)
		return err
	}
	idx := int((page - HeapStart) / 4096)
	for len(a.Heap.Frames) <= idx {
		a.Heap.Frames = append(a.Heap.Frames, 0)
	}
	a.Heap.Frames[idx] = f
	return 0
}

// unmapRegion removes every mapped page in r and, if r.Owned, frees the
// backing frames.
func (a *AddressSpace) unmapRegion(r Region) {
	for i, f := range r.Frames {
		if f == 0 {
			continue
		}
		v := r.Start + uintptr(i)*4096
		if _, ok := a.pager.Unmap4K(a.Root, v); ok && r.Owned {
			a.alloc.FreeFrame(f)
		}
	}
}

/// Destroy walks and frees every user frame this address space owns (text,
/// data, heap, stack), then frees the PML4 frame itself. Resolves the
/// "does teardown walk and free user pages" open question in favor of a
/// full walk, since the PFA is a finite bitmap (see DESIGN.md). Shared
/// memory mappings are not touched here — callers must unmap those through
/// the shmem package first, since aspace does not own those frames.
func (a *AddressSpace) Destroy() {
	a.mu.Lock()
	if a.destroyed || a.IsKernel {
		a.mu.Unlock()
		return
	}
	a.unmapRegion(a.Text)
	a.unmapRegion(a.Data)
	a.unmapRegion(a.Heap.Region)
	a.unmapRegion(a.Stack)
	root := a.Root
	a.destroyed = true
	a.mu.Unlock()

	a.alloc.FreeFrame(root)
}
