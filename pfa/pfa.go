// Package pfa implements the physical frame allocator: a dynamically sized
// bitmap over all usable RAM, one bit per 4 KiB frame (0 = free, 1 = used).
//
// Grounded on original_source/kernel/src/memory/phys.rs: a small fixed-size
// bootstrap bitmap covering the first 128 MiB is used before any dynamic
// allocation is possible; once the total frame count is known from the
// memory map, a dynamically sized bitmap is carved out of the bootstrap
// allocator's own contiguous-run search and the allocator migrates to it.
// The coarse single-mutex-over-all-state idiom follows biscuit's
// biscuit/src/mem/mem.go (one *sync.Mutex guarding Physmem_t).
package pfa

import (
	"sync"

	"github.com/valibali/cluu/archhooks"
	"github.com/valibali/cluu/bootinfo"
	"github.com/valibali/cluu/util"
)

const (
	/// FrameSize is the size of one physical frame.
	FrameSize = 4096

	/// bootstrapBytes is the physical range (128 MiB) the fixed bootstrap
	/// bitmap can describe before the dynamic bitmap takes over.
	bootstrapBytes  = 128 * 1024 * 1024
	bootstrapFrames = bootstrapBytes / FrameSize
	bootstrapWords  = bootstrapFrames / 64 // 32768 / 64 = 512
)

/// Allocator is the process-wide PFA singleton's state. Use Init to build
/// one during boot; all operations are safe for concurrent use.
type Allocator struct {
	mu sync.Mutex

	// Env, if set, brackets every critical section with
	// DisableInterrupts/RestoreInterrupts per ยง5's coarse-spinlock
	// discipline. It is nil in package-level unit tests that exercise the
	// bitmap logic directly; boot.Init wires the real environment in.
	Env archhooks.Env

	bootstrap  [bootstrapWords]uint64
	dynamic    []uint64
	usingBoot  bool
	rebased    bool
	totalBytes uint64

	totalFrames uint64
	usedFrames  uint64
}

/// New builds an uninitialized allocator; call Init before use.
func New() *Allocator {
	return &Allocator{}
}

/// lock disables interrupts (if Env is set) before taking mu, returning the
/// prior interrupt state for unlock to restore.
func (a *Allocator) lock() bool {
	var prev bool
	if a.Env != nil {
		prev = a.Env.DisableInterrupts()
	}
	a.mu.Lock()
	return prev
}

func (a *Allocator) unlock(prev bool) {
	a.mu.Unlock()
	if a.Env != nil {
		a.Env.RestoreInterrupts(prev)
	}
}

func wordBit(frameNo uint64) (word uint64, bit uint) {
	return frameNo / 64, uint(frameNo % 64)
}

func (a *Allocator) words() []uint64 {
	if a.usingBoot {
		return a.bootstrap[:]
	}
	return a.dynamic
}

func (a *Allocator) setUsed(frameNo uint64) {
	w, b := wordBit(frameNo)
	words := a.words()
	if w >= uint64(len(words)) {
		return
	}
	mask := uint64(1) << b
	if words[w]&mask == 0 {
		words[w] |= mask
		a.usedFrames++
	}
}

func (a *Allocator) setFree(frameNo uint64) {
	w, b := wordBit(frameNo)
	words := a.words()
	if w >= uint64(len(words)) {
		return
	}
	mask := uint64(1) << b
	if words[w]&mask != 0 {
		words[w] &^= mask
		a.usedFrames--
	}
}

func (a *Allocator) isUsed(frameNo uint64) bool {
	w, b := wordBit(frameNo)
	words := a.words()
	if w >= uint64(len(words)) {
		return true
	}
	return words[w]&(uint64(1)<<b) != 0
}

/// Init consumes a bootloader memory map and reserves every non-FREE
/// region plus the low 1 MiB, the kernel range, and the BOOTBOOT-struct
/// range. It always starts on the bootstrap bitmap; GrowDynamic must be
/// called once the total frame count exceeds what the bootstrap bitmap can
/// describe (see NeedsDynamicBitmap).
func (a *Allocator) Init(mm []bootinfo.MemMapEntry, kernelPhys, kernelSize, bootPhys, bootSize uintptr) {
	prev := a.lock()
	defer a.unlock(prev)

	a.usingBoot = true
	a.totalFrames = 0
	a.usedFrames = 0

	var maxEnd uint64
	for _, e := range mm {
		end := uint64(e.Phys) + e.Size()
		if end > maxEnd {
			maxEnd = end
		}
	}
	a.totalBytes = maxEnd
	a.totalFrames = util.DivRoundup(maxEnd, uint64(FrameSize))

	// Reserve every non-FREE region and everything the bootstrap bitmap
	// cannot describe (marked used so alloc never hands it out before the
	// dynamic bitmap exists).
	for _, e := range mm {
		if e.Type() != bootinfo.TypeFree {
			a.reserveRangeLocked(uintptr(e.Phys), e.Size())
		}
	}
	a.reserveRangeLocked(0, 1024*1024)
	a.reserveRangeLocked(kernelPhys, uint64(kernelSize))
	a.reserveRangeLocked(bootPhys, uint64(bootSize))
}

func (a *Allocator) reserveRangeLocked(start uintptr, size uint64) {
	first := uint64(start) / FrameSize
	last := util.DivRoundup(uint64(start)+size, uint64(FrameSize))
	for f := first; f < last; f++ {
		a.setUsed(f)
	}
}

/// ReserveRange marks all frames intersecting [start, start+size) as used.
func (a *Allocator) ReserveRange(start uintptr, size uint64) {
	prev := a.lock()
	defer a.unlock(prev)
	a.reserveRangeLocked(start, size)
}

/// NeedsDynamicBitmap reports whether the bootstrap bitmap cannot describe
/// all of physical memory and a dynamic bitmap must be carved out.
func (a *Allocator) NeedsDynamicBitmap() bool {
	prev := a.lock()
	defer a.unlock(prev)
	return a.usingBoot && a.totalFrames > bootstrapFrames
}

/// GrowDynamic allocates (from the bootstrap bitmap itself, via
/// allocContiguousLocked) a contiguous run of frames to back a bitmap sized
/// for all of physical memory, copies the bootstrap bitmap's bits into it,
/// reserves the bitmap's own frames, and switches the allocator over. It
/// returns the physical address of the new bitmap storage so the caller can
/// track it (e.g. to later mark it reserved in an address space), or false
/// if no contiguous run was available.
func (a *Allocator) GrowDynamic() (phys uintptr, ok bool) {
	prev := a.lock()
	defer a.unlock(prev)

	if !a.usingBoot {
		return 0, true
	}
	words := util.DivRoundup(a.totalFrames, 64)
	bitmapBytes := words * 8
	framesNeeded := util.DivRoundup(bitmapBytes, uint64(FrameSize))

	start, ok := a.allocContiguousLocked(framesNeeded)
	if !ok {
		return 0, false
	}

	dyn := make([]uint64, words)
	copy(dyn, a.bootstrap[:])
	a.dynamic = dyn
	a.usingBoot = false

	a.reserveRangeLocked(start, framesNeeded*FrameSize)
	return start, true
}

/// RebaseIntoPhysmap marks the allocator as having migrated its bookkeeping
/// to be accessed via the physmap rather than an identity address. In this
/// Go model the bitmap already lives in ordinary (GC-managed) kernel memory
/// rather than behind a raw pointer, so there is no pointer to actually
/// rewrite; this call exists so the boot sequence can assert the step ran,
/// matching the handover contract in ยง4.3.
func (a *Allocator) RebaseIntoPhysmap() {
	prev := a.lock()
	defer a.unlock(prev)
	a.rebased = true
}

/// Rebased reports whether RebaseIntoPhysmap has run.
func (a *Allocator) Rebased() bool {
	prev := a.lock()
	defer a.unlock(prev)
	return a.rebased
}

func (a *Allocator) allocContiguousLocked(n uint64) (uintptr, bool) {
	if n == 0 {
		return 0, false
	}
	words := a.words()
	var run uint64
	var runStart uint64
	for f := uint64(0); f < a.totalFrames; f++ {
		w, b := wordBit(f)
		if w >= uint64(len(words)) {
			break
		}
		used := words[w]&(uint64(1)<<b) != 0
		if used {
			run = 0
			continue
		}
		if run == 0 {
			runStart = f
		}
		run++
		if run == n {
			for i := uint64(0); i < n; i++ {
				a.setUsed(runStart + i)
			}
			return uintptr(runStart * FrameSize), true
		}
	}
	return 0, false
}

/// AllocFrame returns a free frame's physical address via first-fit scan,
/// marking it used, or ok=false on exhaustion.
func (a *Allocator) AllocFrame() (phys uintptr, ok bool) {
	prev := a.lock()
	defer a.unlock(prev)
	words := a.words()
	for w := range words {
		if words[w] == ^uint64(0) {
			continue
		}
		for b := uint(0); b < 64; b++ {
			frameNo := uint64(w)*64 + uint64(b)
			if frameNo >= a.totalFrames {
				break
			}
			if words[w]&(uint64(1)<<b) == 0 {
				words[w] |= uint64(1) << b
				a.usedFrames++
				return uintptr(frameNo * FrameSize), true
			}
		}
	}
	return 0, false
}

/// AllocContiguous performs a first-fit scan for a run of n free frames,
/// marking all of them used atomically, or ok=false if no such run exists.
func (a *Allocator) AllocContiguous(n uint64) (phys uintptr, ok bool) {
	prev := a.lock()
	defer a.unlock(prev)
	return a.allocContiguousLocked(n)
}

/// FreeFrame marks a frame free. Freeing a frame that is already free
/// panics ("pfa: double free").
func (a *Allocator) FreeFrame(phys uintptr) {
	prev := a.lock()
	defer a.unlock(prev)
	frameNo := uint64(phys) / FrameSize
	if !a.isUsed(frameNo) {
		panic("pfa: double free")
	}
	a.setFree(frameNo)
}

/// Stats returns (used, total) frame counts.
func (a *Allocator) Stats() (used, total uint64) {
	prev := a.lock()
	defer a.unlock(prev)
	return a.usedFrames, a.totalFrames
}
