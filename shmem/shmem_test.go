package shmem

import (
	"testing"

	"github.com/valibali/cluu/archhooks/simhooks"
	"github.com/valibali/cluu/aspace"
	"github.com/valibali/cluu/bootinfo"
	"github.com/valibali/cluu/defs"
	"github.com/valibali/cluu/paging"
	"github.com/valibali/cluu/pfa"
)

func newTestRegistry(t *testing.T) (*Registry, *paging.Pager, *pfa.Allocator) {
	t.Helper()
	env := simhooks.New(32 * 1024 * 1024)
	alloc := pfa.New()
	mm := []bootinfo.MemMapEntry{{Phys: 0, RawSize: bootinfo.PackSize(32*1024*1024, bootinfo.TypeFree)}}
	alloc.Init(mm, 0, 0, 0, 0)
	pager := paging.New(env, alloc)
	return NewRegistry(alloc, pager), pager, alloc
}

func newTestSpace(t *testing.T, pager *paging.Pager, alloc *pfa.Allocator) *aspace.AddressSpace {
	t.Helper()
	kernelRoot, err := pager.AllocPML4()
	if err != 0 {
		t.Fatalf("AllocPML4 failed: %v", err)
	}
	as, err := aspace.NewUser(pager, alloc, kernelRoot)
	if err != 0 {
		t.Fatalf("NewUser failed: %v", err)
	}
	return as
}

func TestCreateRejectsOversizeAndZero(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if _, err := r.Create(0, 1, PermRead); err == 0 {
		t.Fatal("expected Create to reject a zero-size region")
	}
	if _, err := r.Create(MaxRegionBytes+1, 1, PermRead); err == 0 {
		t.Fatal("expected Create to reject a region above MaxRegionBytes")
	}
}

func TestMapInstallsPagesWithRequestedPerms(t *testing.T) {
	r, pager, alloc := newTestRegistry(t)
	as := newTestSpace(t, pager, alloc)

	id, err := r.Create(8192, 1, PermRead|PermWrite)
	if err != 0 {
		t.Fatalf("Create failed: %v", err)
	}

	vaddr, err := r.Map(id, as, 1, 0, PermRead|PermWrite)
	if err != 0 {
		t.Fatalf("Map failed: %v", err)
	}

	phys, flags, ok := pager.Translate(as.Root, vaddr)
	if !ok {
		t.Fatal("expected the mapped region to resolve in the target address space")
	}
	if flags&paging.Writable == 0 {
		t.Fatal("expected PermWrite to translate to the Writable PTE flag")
	}
	_ = phys
}

func TestMapUsesBatchedMappingAndRestoresInterrupts(t *testing.T) {
	r, pager, alloc := newTestRegistry(t)
	as := newTestSpace(t, pager, alloc)
	env := pager.Env.(*simhooks.Env)

	id, err := r.Create(3 * 4096, 1, PermRead|PermWrite)
	if err != 0 {
		t.Fatalf("Create failed: %v", err)
	}
	if !env.InterruptsEnabled() {
		t.Fatal("expected interrupts restored once Create returns")
	}

	vaddr, err := r.Map(id, as, 1, 0, PermRead|PermWrite)
	if err != 0 {
		t.Fatalf("Map failed: %v", err)
	}
	if !env.InterruptsEnabled() {
		t.Fatal("expected interrupts restored once Map returns")
	}

	for i := 0; i < 3; i++ {
		_, _, ok := pager.Translate(as.Root, vaddr+uintptr(i)*4096)
		if !ok {
			t.Fatalf("expected page %d of the batched mapping to resolve", i)
		}
	}
}

func TestMapRejectsPermsNotSubsetOfRegion(t *testing.T) {
	r, pager, alloc := newTestRegistry(t)
	as := newTestSpace(t, pager, alloc)

	id, _ := r.Create(4096, 1, PermRead)
	if _, err := r.Map(id, as, 1, 0, PermRead|PermWrite); err != defs.EACCES {
		t.Fatalf("expected EACCES requesting write access to a read-only region, got %v", err)
	}
}

func TestUnmapZapsExactlyTheInstalledPages(t *testing.T) {
	r, pager, alloc := newTestRegistry(t)
	as := newTestSpace(t, pager, alloc)

	id, _ := r.Create(2*4096, 1, PermRead|PermWrite)
	vaddr, err := r.Map(id, as, 1, 0, PermRead|PermWrite)
	if err != 0 {
		t.Fatalf("Map failed: %v", err)
	}

	if err := r.Unmap(id, as, 1); err != 0 {
		t.Fatalf("Unmap failed: %v", err)
	}

	if _, _, ok := pager.Translate(as.Root, vaddr); ok {
		t.Fatal("expected Unmap to remove the page-table entries Map installed")
	}
	if _, _, ok := pager.Translate(as.Root, vaddr+4096); ok {
		t.Fatal("expected Unmap to remove the second page as well")
	}
}

func TestUnmapUnknownMappingFails(t *testing.T) {
	r, pager, alloc := newTestRegistry(t)
	as := newTestSpace(t, pager, alloc)
	id, _ := r.Create(4096, 1, PermRead)

	if err := r.Unmap(id, as, 99); err != defs.ENOENT {
		t.Fatalf("expected ENOENT unmapping a (region, pid) pair that was never mapped, got %v", err)
	}
}

func TestDestroyDefersReclamationUntilRefCountZero(t *testing.T) {
	r, pager, alloc := newTestRegistry(t)
	as1 := newTestSpace(t, pager, alloc)
	as2 := newTestSpace(t, pager, alloc)

	id, _ := r.Create(4096, 1, PermRead)
	r.Map(id, as1, 1, 0, PermRead)
	r.Map(id, as2, 2, 0, PermRead)

	if err := r.Destroy(id, 1); err != 0 {
		t.Fatalf("Destroy failed: %v", err)
	}
	// The region must still be reachable via Unmap since refcount > 0.
	if err := r.Unmap(id, as1, 1); err != 0 {
		t.Fatalf("expected Unmap to still work while another mapper holds a reference: %v", err)
	}
	if err := r.Unmap(id, as2, 2); err != 0 {
		t.Fatalf("expected the final Unmap to succeed and trigger reclamation: %v", err)
	}

	// Now fully unmapped and destroyed: a further Map must fail with ENOENT.
	if _, err := r.Map(id, as1, 1, 0, PermRead); err != defs.ENOENT {
		t.Fatalf("expected ENOENT mapping an already-reclaimed region, got %v", err)
	}
}

func TestDestroyRejectsNonOwner(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	id, _ := r.Create(4096, 1, PermRead)
	if err := r.Destroy(id, 2); err != defs.EPERM {
		t.Fatalf("expected EPERM for a non-owner destroy, got %v", err)
	}
}
