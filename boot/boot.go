// Package boot orchestrates the ยง2/ยง4.3 control flow: PFA -> Physmap ->
// Paging (build kernel PML4) -> switch active root -> heap -> Scheduler ->
// IPC -> first user processes. This is the one place every core component
// is wired together; everything above it (syscall dispatch, the shell, the
// ELF loader) is an out-of-scope collaborator that calls into the pieces
// assembled here.
package boot

import (
	"github.com/valibali/cluu/archhooks"
	"github.com/valibali/cluu/aspace"
	"github.com/valibali/cluu/bootinfo"
	"github.com/valibali/cluu/defs"
	"github.com/valibali/cluu/diag"
	"github.com/valibali/cluu/ipc"
	"github.com/valibali/cluu/paging"
	"github.com/valibali/cluu/pfa"
	"github.com/valibali/cluu/physmap"
	"github.com/valibali/cluu/proc"
	"github.com/valibali/cluu/sched"
	"github.com/valibali/cluu/shmem"
)

/// KernelVirtBase is where kernel text/data is mapped in every address
/// space, near the top of the canonical range per ยง6.
const KernelVirtBase uintptr = 0xFFFF_FFFF_8000_0000

/// Kernel holds every core singleton, wired together by Init.
type Kernel struct {
	Env     archhooks.Env
	PFA     *pfa.Allocator
	Physmap *physmap.Map
	Pager   *paging.Pager

	KernelSpace *aspace.AddressSpace
	Procs       *proc.Manager
	Sched       *sched.Core
	SchedCtx    *sched.KernelCtx
	Sleeper     *sched.Sleeper
	IPC         *ipc.Registry
	Shmem       *shmem.Registry
	Log         *diag.Logger
}

/// Init runs the full boot handover sequence described in ยง4.3:
//  1. (identity-mapping walk to discover physical bases is the caller's
//     job — it supplies info already resolved, since that walk requires a
//     bootloader-specific identity root this package does not model)
//  2. Initialize the PFA from the memory map (bootstrap bitmap).
//  3. Initialize physmap (records max_phys).
//  4. Build the new kernel PML4 and verify it maps the handover essentials.
//  5. Switch active root to the new PML4.
//  6. Activate physmap; rebase the PFA bitmap pointer into it.
//  7. Initialize the kernel heap region (InitKernelHeap on the kernel
//     space); no heap pages are mapped at this step.
//
// criticalProcessCount seeds the scheduler's Boot mode ready-count target.
func Init(env archhooks.Env, info bootinfo.Info, criticalProcessCount int, logOut *diag.Logger) (*Kernel, error) {
	archhooks.Current = env

	k := &Kernel{Env: env, Log: logOut}

	// Step 2: PFA.
	k.PFA = pfa.New()
	k.PFA.Env = env
	k.PFA.Init(info.MemMap, info.KernelPhys, info.KernelSize, info.BootPhys, info.BootSize)
	if k.PFA.NeedsDynamicBitmap() {
		if _, ok := k.PFA.GrowDynamic(); !ok {
			return nil, errString("boot: no contiguous run available for dynamic PFA bitmap")
		}
	}

	// Step 3: physmap.
	k.Physmap = physmap.New()
	maxPhys := info.MaxPhys()
	k.Physmap.Init(maxPhys)

	// Step 4: kernel PML4.
	k.Pager = paging.New(env, k.PFA)
	kspace, err := aspace.NewKernelTemplate(k.Pager, k.PFA, info, KernelVirtBase, physmap.Base, maxPhys)
	if err != 0 {
		return nil, errString("boot: failed to build kernel address space")
	}
	k.KernelSpace = kspace

	// Verification: the handover essentials (kernel text, physmap) must
	// resolve before switching, or a switch would triple-fault on real
	// hardware.
	if _, _, ok := k.Pager.Translate(kspace.Root, KernelVirtBase); !ok {
		return nil, errString("boot: kernel text does not resolve in new PML4")
	}
	if _, _, ok := k.Pager.Translate(kspace.Root, physmap.Base); !ok {
		return nil, errString("boot: physmap does not resolve in new PML4")
	}

	// Step 5: switch root.
	kspace.SwitchTo()

	// Step 6: activate physmap, rebase PFA bitmap.
	k.Physmap.Activate()
	k.PFA.RebaseIntoPhysmap()

	// Step 7: kernel heap.
	kspace.InitKernelHeap()

	// Scheduler, IPC, shmem.
	k.Procs = proc.NewManager()
	policy := sched.NewRoundRobin()
	k.Sched = sched.NewCore(policy, 1, criticalProcessCount)
	k.Sched.Env = env
	k.SchedCtx = &sched.KernelCtx{Mgr: k.Procs, Core: k.Sched, Logger: func(s string) {
		if k.Log != nil {
			k.Log.Logf("%s", s)
		}
	}}
	k.Sleeper = sched.NewSleeper(k.Procs)

	k.IPC = ipc.NewRegistry()
	k.IPC.Env = env
	k.IPC.WakeFunc = func(tid defs.ThreadId) {
		sched.Wake(k.Sched, k.SchedCtx, k.Procs, tid, sched.BlockReason{Kind: sched.BlockWaitingForIpc})
	}

	k.Shmem = shmem.NewRegistry(k.PFA, k.Pager)

	return k, nil
}

type errString string

func (e errString) Error() string { return string(e) }
