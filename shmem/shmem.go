// Package shmem implements named shared-memory regions mappable into
// multiple address spaces, with refcounting and an owned bit
// distinguishing allocated frames from wrapped physical ranges. Grounded
// on original_source/kernel/src/shmem/mod.rs.
package shmem

import (
	"sync"

	"github.com/valibali/cluu/aspace"
	"github.com/valibali/cluu/defs"
	"github.com/valibali/cluu/paging"
	"github.com/valibali/cluu/pfa"
	"github.com/valibali/cluu/util"
)

/// Perms is a bitmask of region permissions.
type Perms uint8

const (
	PermRead  Perms = 0x1
	PermWrite Perms = 0x2
)

/// Subset reports whether p is a subset of allowed (p &^ allowed == 0).
func (p Perms) Subset(allowed Perms) bool {
	return p&^allowed == 0
}

/// MaxRegionBytes caps shmem_create, per the original's own concrete limit
/// (not stated in the core contract, not excluded by a Non-goal — see
/// SPEC_FULL.md's supplemented-features list).
const MaxRegionBytes = 16 * 1024 * 1024

/// Region is one named shared-memory region: a set of 4 KiB frames, the
/// permissions granted to mappers, and a refcount gating reclamation.
type Region struct {
	Id       defs.ShmemId
	Size     uint64
	Frames   []uintptr
	Owner    defs.ProcessId
	Perms    Perms
	RefCount int
	MarkedForDeletion bool
	/// Owned distinguishes frames this region allocated (freed on
	/// destroy) from an externally provided physical range (e.g. the
	/// initrd) that must not be freed.
	Owned bool
}

/// mapping records one (process, virtual base) installation of a region,
/// so Unmap can zap exactly the page-table entries Map installed —
/// resolving the ยง9 open question about shmem_unmap not symmetrically
/// undoing map_page_in_table (see DESIGN.md).
type mapping struct {
	region defs.ShmemId
	pid    defs.ProcessId
	vbase  uintptr
	pages  int
}

const maxShmemId = 1 << 32

/// shmemVirtBase and shmemSlotStride determine the deterministic virtual
/// slot a region is mapped at when the caller does not supply a hint:
/// base + id*stride, per the original's address arithmetic.
const (
	shmemVirtBase   uintptr = 0x4_0000_0000
	shmemSlotStride uintptr = 0x1000_0000
)

/// Registry is the process-wide shared-memory region registry.
type Registry struct {
	mu       sync.Mutex
	regions  map[defs.ShmemId]*Region
	mappings []mapping
	ids      *defs.IdAllocator
	alloc    *pfa.Allocator
	pager    *paging.Pager
}

/// NewRegistry builds an empty registry backed by the given frame
/// allocator and pager.
func NewRegistry(alloc *pfa.Allocator, pager *paging.Pager) *Registry {
	r := &Registry{
		regions: make(map[defs.ShmemId]*Region),
		alloc:   alloc,
		pager:   pager,
	}
	r.ids = defs.NewIdAllocator(maxShmemId, func(id uint64) bool {
		_, ok := r.regions[defs.ShmemId(id)]
		return ok
	})
	return r
}

/// lock disables interrupts (via the pager's Env, if set) before taking mu,
/// returning the prior interrupt state for unlock to restore, per ยง5's
/// coarse-spinlock discipline.
func (r *Registry) lock() bool {
	var prev bool
	if r.pager.Env != nil {
		prev = r.pager.Env.DisableInterrupts()
	}
	r.mu.Lock()
	return prev
}

func (r *Registry) unlock(prev bool) {
	r.mu.Unlock()
	if r.pager.Env != nil {
		r.pager.Env.RestoreInterrupts(prev)
	}
}

/// Create allocates ceil(size/4096) frames and registers a new region,
/// rolling back any frames it already allocated if a later allocation
/// fails partway through.
func (r *Registry) Create(size uint64, owner defs.ProcessId, perms Perms) (defs.ShmemId, defs.Err_t) {
	if size == 0 || size > MaxRegionBytes {
		return defs.NoShmem, defs.EINVAL
	}
	pageSize := uint64(4096)
	pages := util.DivRoundup(size, pageSize)

	frames := make([]uintptr, 0, pages)
	for i := uint64(0); i < pages; i++ {
		f, ok := r.alloc.AllocFrame()
		if !ok {
			for _, ff := range frames {
				r.alloc.FreeFrame(ff)
			}
			return defs.NoShmem, defs.ENOMEM
		}
		r.pager.Env.ZeroPhysPage(f)
		frames = append(frames, f)
	}

	prev := r.lock()
	defer r.unlock(prev)
	id := r.ids.Alloc()
	if id == 0 {
		r.unlock(prev)
		for _, ff := range frames {
			r.alloc.FreeFrame(ff)
		}
		prev = r.lock()
		return defs.NoShmem, defs.ENOMEM
	}
	sid := defs.ShmemId(id)
	r.regions[sid] = &Region{Id: sid, Size: pages * pageSize, Frames: frames, Owner: owner, Perms: perms, Owned: true}
	return sid, 0
}

/// CreateFromPhys wraps an existing page-aligned physical range (e.g. the
/// initrd) without allocating. The owned bit is false, so the frames are
/// never freed when the region is destroyed.
func (r *Registry) CreateFromPhys(phys uintptr, size uint64, owner defs.ProcessId, perms Perms) (defs.ShmemId, defs.Err_t) {
	if phys%4096 != 0 {
		return defs.NoShmem, defs.EINVAL
	}
	pageSize := uint64(4096)
	pages := util.DivRoundup(size, pageSize)
	frames := make([]uintptr, pages)
	for i := range frames {
		frames[i] = phys + uintptr(i)*4096
	}

	prev := r.lock()
	defer r.unlock(prev)
	id := r.ids.Alloc()
	if id == 0 {
		return defs.NoShmem, defs.ENOMEM
	}
	sid := defs.ShmemId(id)
	r.regions[sid] = &Region{Id: sid, Size: pages * pageSize, Frames: frames, Owner: owner, Perms: perms, Owned: false}
	return sid, 0
}

func pteFlags(perms Perms) paging.Flags {
	f := paging.Present | paging.User
	if perms&PermWrite != 0 {
		f |= paging.Writable
	}
	if perms&PermRead == 0 {
		// No readable-only-deny primitive on x86-64 short of NX-for-data
		// tricks; read access cannot be revoked independently, matching
		// the original's own limitation.
	}
	return f
}

/// Map installs id's frames into target's address space, requiring
/// perms to be a subset of the region's own permissions. hintAddr, if
/// non-zero and >= the reserved shmem range base, is used as the virtual
/// base; otherwise a deterministic per-region slot is chosen
/// (shmemVirtBase + id*shmemSlotStride). Per the original's own documented
/// lock-ordering fix, the kernel CR3 is fetched before shmem's lock is
/// taken; Map itself takes no process-level lock (ยง9: scheduler/process
/// lock before shmem).
func (r *Registry) Map(id defs.ShmemId, target *aspace.AddressSpace, pid defs.ProcessId, hintAddr uintptr, perms Perms) (vaddr uintptr, err defs.Err_t) {
	kernelCR3 := r.pager.Env.ReadCR3()

	prev := r.lock()
	region, ok := r.regions[id]
	if !ok {
		r.unlock(prev)
		return 0, defs.ENOENT
	}
	if !perms.Subset(region.Perms) {
		r.unlock(prev)
		return 0, defs.EACCES
	}

	base := hintAddr
	if base < shmemVirtBase {
		base = shmemVirtBase + uintptr(id)*shmemSlotStride
	}

	region.RefCount++
	frames := append([]uintptr(nil), region.Frames...)
	r.unlock(prev)

	flags := pteFlags(perms)
	entries := make([]paging.BatchEntry, len(frames))
	for i, f := range frames {
		entries[i] = paging.BatchEntry{Vaddr: base + uintptr(i)*4096, Paddr: f, Flags: flags}
	}
	if e := r.pager.MapPagesBatchInTable(target.Root, entries, kernelCR3); e != 0 {
		// Roll back whatever the batch managed to install before failing.
		for _, ent := range entries {
			r.pager.Unmap4K(target.Root, ent.Vaddr)
		}
		prev = r.lock()
		region.RefCount--
		r.unlock(prev)
		return 0, e
	}

	prev = r.lock()
	r.mappings = append(r.mappings, mapping{region: id, pid: pid, vbase: base, pages: len(frames)})
	r.unlock(prev)

	return base, 0
}

/// Unmap removes the page-table entries a prior Map installed for (id,
/// pid) and decrements the region's refcount, flushing the TLB for every
/// unmapped page. This is the symmetric unmap primitive ยง9 calls for:
/// the original deduces the shmem ID from address arithmetic and never
/// actually zaps the PTEs it installed; here every Map call is recorded
/// so Unmap can walk the exact set of virtual pages and remove them.
func (r *Registry) Unmap(id defs.ShmemId, target *aspace.AddressSpace, pid defs.ProcessId) defs.Err_t {
	prev := r.lock()
	idx := -1
	for i, m := range r.mappings {
		if m.region == id && m.pid == pid {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.unlock(prev)
		return defs.ENOENT
	}
	m := r.mappings[idx]
	r.mappings = append(r.mappings[:idx], r.mappings[idx+1:]...)

	region, ok := r.regions[id]
	r.unlock(prev)
	if !ok {
		return defs.ENOENT
	}

	for i := 0; i < m.pages; i++ {
		r.pager.Unmap4K(target.Root, m.vbase+uintptr(i)*4096)
	}

	prev = r.lock()
	region.RefCount--
	shouldFree := region.RefCount == 0 && region.MarkedForDeletion
	if shouldFree {
		delete(r.regions, id)
	}
	r.unlock(prev)

	if shouldFree {
		r.freeRegionFrames(region)
	}
	return 0
}

/// Destroy marks a region for deletion. Actual reclamation happens once
/// RefCount reaches zero (immediately, if it already is).
func (r *Registry) Destroy(id defs.ShmemId, caller defs.ProcessId) defs.Err_t {
	prev := r.lock()
	region, ok := r.regions[id]
	if !ok {
		r.unlock(prev)
		return defs.ENOENT
	}
	if region.Owner != caller {
		r.unlock(prev)
		return defs.EPERM
	}
	region.MarkedForDeletion = true
	shouldFree := region.RefCount == 0
	if shouldFree {
		delete(r.regions, id)
	}
	r.unlock(prev)

	if shouldFree {
		r.freeRegionFrames(region)
	}
	return 0
}

func (r *Registry) freeRegionFrames(region *Region) {
	if !region.Owned {
		return
	}
	for _, f := range region.Frames {
		r.alloc.FreeFrame(f)
	}
}
