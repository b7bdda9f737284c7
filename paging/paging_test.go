package paging

import (
	"testing"

	"github.com/valibali/cluu/archhooks/simhooks"
	"github.com/valibali/cluu/bootinfo"
	"github.com/valibali/cluu/defs"
	"github.com/valibali/cluu/pfa"
)

// newTestPager builds a Pager over a simulated 16 MiB physical address
// space, with an allocator that treats all of it as free apart from the
// low 1 MiB, which pfa.Init always reserves.
func newTestPager(t *testing.T) (*Pager, *simhooks.Env) {
	t.Helper()
	env := simhooks.New(16 * 1024 * 1024)
	alloc := pfa.New()
	mm := []bootinfo.MemMapEntry{{Phys: 0, RawSize: bootinfo.PackSize(16*1024*1024, bootinfo.TypeFree)}}
	alloc.Init(mm, 0, 0, 0, 0)
	return New(env, alloc), env
}

func TestMap4KThenTranslate(t *testing.T) {
	p, _ := newTestPager(t)
	root, err := p.AllocPML4()
	if err != 0 {
		t.Fatalf("AllocPML4 failed: %v", err)
	}
	frame, ok := p.Alloc.AllocFrame()
	if !ok {
		t.Fatal("expected a frame to allocate")
	}

	const vaddr = uintptr(0x0040_0000)
	if err := p.Map4K(root, vaddr, frame, Present|Writable|User); err != 0 {
		t.Fatalf("Map4K failed: %v", err)
	}

	phys, flags, ok := p.Translate(root, vaddr)
	if !ok {
		t.Fatal("expected Translate to resolve the mapped page")
	}
	if phys != frame {
		t.Fatalf("expected translate to resolve to frame %#x, got %#x", frame, phys)
	}
	if flags&Writable == 0 || flags&User == 0 {
		t.Fatalf("expected Writable|User flags preserved, got %#x", flags)
	}
}

func TestMap4KRejectsDoubleMap(t *testing.T) {
	p, _ := newTestPager(t)
	root, _ := p.AllocPML4()
	f1, _ := p.Alloc.AllocFrame()
	f2, _ := p.Alloc.AllocFrame()

	const vaddr = uintptr(0x0060_0000)
	if err := p.Map4K(root, vaddr, f1, Present|Writable); err != 0 {
		t.Fatalf("first Map4K failed: %v", err)
	}
	if err := p.Map4K(root, vaddr, f2, Present|Writable); err != defs.EINVAL {
		t.Fatalf("expected EINVAL remapping an already-mapped page, got %v", err)
	}
}

func TestTranslateUnmappedFails(t *testing.T) {
	p, _ := newTestPager(t)
	root, _ := p.AllocPML4()

	if _, _, ok := p.Translate(root, 0x1234_0000); ok {
		t.Fatal("expected Translate to fail for an address with no mapping")
	}
}

func TestUnmap4KRemovesMappingAndFlushesTLB(t *testing.T) {
	p, env := newTestPager(t)
	root, _ := p.AllocPML4()
	frame, _ := p.Alloc.AllocFrame()

	const vaddr = uintptr(0x0080_0000)
	if err := p.Map4K(root, vaddr, frame, Present|Writable); err != 0 {
		t.Fatalf("Map4K failed: %v", err)
	}

	prev, ok := p.Unmap4K(root, vaddr)
	if !ok || prev != frame {
		t.Fatalf("expected Unmap4K to report previous frame %#x, got %#x ok=%v", frame, prev, ok)
	}
	if env.TLBPageFlushes != 1 {
		t.Fatalf("expected exactly one TLB page flush, got %d", env.TLBPageFlushes)
	}
	if _, _, ok := p.Translate(root, vaddr); ok {
		t.Fatal("expected the page to be unmapped after Unmap4K")
	}
}

func TestUnmap4KUnmappedIsNoop(t *testing.T) {
	p, _ := newTestPager(t)
	root, _ := p.AllocPML4()

	if _, ok := p.Unmap4K(root, 0x2000_0000); ok {
		t.Fatal("expected Unmap4K on an unmapped address to report ok=false")
	}
}

func TestMapRange4KPhysCoversEveryPage(t *testing.T) {
	p, _ := newTestPager(t)
	root, _ := p.AllocPML4()

	const vbase = uintptr(0x0040_0000)
	const pbase = uintptr(0x0010_0000)
	const size = uint64(4 * 4096)
	if err := p.MapRange4KPhys(root, vbase, pbase, size, Present|Writable); err != 0 {
		t.Fatalf("MapRange4KPhys failed: %v", err)
	}

	for i := uintptr(0); i < 4; i++ {
		phys, _, ok := p.Translate(root, vbase+i*4096)
		if !ok || phys != pbase+i*4096 {
			t.Fatalf("page %d: expected phys %#x, got %#x ok=%v", i, pbase+i*4096, phys, ok)
		}
	}
}

func TestCopyKernelHalfSharesUpperEntries(t *testing.T) {
	p, env := newTestPager(t)
	kroot, _ := p.AllocPML4()
	uroot, _ := p.AllocPML4()

	// Install a kernel-half entry directly (index 256, the first upper-half
	// slot) and confirm CopyKernelHalf propagates it.
	frame, _ := p.Alloc.AllocFrame()
	env.WritePhys64(entryAddr(kroot, 256), packEntry(frame, Present|Writable))

	p.CopyKernelHalf(kroot, uroot)

	got := env.ReadPhys64(entryAddr(uroot, 256))
	want := env.ReadPhys64(entryAddr(kroot, 256))
	if got != want {
		t.Fatalf("expected upper-half entry copied, kernel=%#x user=%#x", want, got)
	}

	// Lower half must be untouched.
	if env.ReadPhys64(entryAddr(uroot, 0)) != 0 {
		t.Fatal("expected lower-half entries to remain untouched by CopyKernelHalf")
	}
}

func TestCopyKernelHalfIdempotent(t *testing.T) {
	p, env := newTestPager(t)
	kroot, _ := p.AllocPML4()
	uroot, _ := p.AllocPML4()
	frame, _ := p.Alloc.AllocFrame()
	env.WritePhys64(entryAddr(kroot, 300), packEntry(frame, Present|Writable))

	p.CopyKernelHalf(kroot, uroot)
	first := env.ReadPhys64(entryAddr(uroot, 300))
	p.CopyKernelHalf(kroot, uroot)
	second := env.ReadPhys64(entryAddr(uroot, 300))

	if first != second {
		t.Fatalf("expected CopyKernelHalf to be idempotent, got %#x then %#x", first, second)
	}
}

func TestSwitchCR3WritesRoot(t *testing.T) {
	p, env := newTestPager(t)
	root, _ := p.AllocPML4()
	p.SwitchCR3(root)
	if env.ReadCR3() != root {
		t.Fatalf("expected CR3 to be %#x, got %#x", root, env.ReadCR3())
	}
}
