// Package simhooks is a software simulation of archhooks.Env: a flat byte
// slice standing in for physical RAM, a fake CR3 register, and counters
// instead of real TLB/interrupt state. It is what every test in this module
// runs against, since the kernel core has no real CPU available to it here.
package simhooks

import (
	"encoding/binary"
	"fmt"

	"github.com/valibali/cluu/archhooks"
)

/// Env is a software stand-in for archhooks.Env.
type Env struct {
	mem []byte
	cr3 uintptr

	TLBPageFlushes int
	TLBAllFlushes  int
	interruptsOn   bool
	HaltCount      int
	haltMsg        string
}

var _ archhooks.Env = (*Env)(nil)

/// New builds a simulated environment with size bytes of physical memory.
func New(size uintptr) *Env {
	return &Env{mem: make([]byte, size), interruptsOn: true}
}

func (e *Env) check(p uintptr, n int) {
	if int(p)+n > len(e.mem) {
		panic(fmt.Sprintf("simhooks: access [%#x,%#x) out of range (size %#x)", p, int(p)+n, len(e.mem)))
	}
}

func (e *Env) ReadPhys64(p uintptr) uint64 {
	e.check(p, 8)
	return binary.LittleEndian.Uint64(e.mem[p : p+8])
}

func (e *Env) WritePhys64(p uintptr, v uint64) {
	e.check(p, 8)
	binary.LittleEndian.PutUint64(e.mem[p:p+8], v)
}

func (e *Env) ReadPhysBytes(p uintptr, n int) []byte {
	e.check(p, n)
	out := make([]byte, n)
	copy(out, e.mem[p:int(p)+n])
	return out
}

func (e *Env) WritePhysBytes(p uintptr, b []byte) {
	e.check(p, len(b))
	copy(e.mem[p:int(p)+len(b)], b)
}

func (e *Env) ZeroPhysPage(p uintptr) {
	e.check(p, 4096)
	clear(e.mem[p : int(p)+4096])
}

func (e *Env) ReadCR3() uintptr {
	return e.cr3
}

func (e *Env) WriteCR3(root uintptr) {
	e.cr3 = root
	e.TLBAllFlushes++
}

func (e *Env) FlushTLBPage(vaddr uintptr) {
	e.TLBPageFlushes++
}

func (e *Env) FlushTLBAll() {
	e.TLBAllFlushes++
}

func (e *Env) DisableInterrupts() bool {
	prev := e.interruptsOn
	e.interruptsOn = false
	return prev
}

func (e *Env) RestoreInterrupts(prev bool) {
	e.interruptsOn = prev
}

func (e *Env) Halt() {
	e.HaltCount++
	panic("simhooks: CPU halted: " + e.haltMsg)
}

/// SetHaltMessage lets a test pre-arm the message Halt's panic will carry.
func (e *Env) SetHaltMessage(msg string) {
	e.haltMsg = msg
}

/// Size returns the simulated physical memory size in bytes.
func (e *Env) Size() uintptr {
	return uintptr(len(e.mem))
}

/// InterruptsEnabled reports the current simulated interrupt-enable state,
/// for tests asserting that a lock/unlock pair correctly brackets a
/// critical section.
func (e *Env) InterruptsEnabled() bool {
	return e.interruptsOn
}
