package diag

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

/// Disassemble decodes as many 64-bit instructions as it can from code,
/// labeling each with its address starting at base. Used by Fatalf to dump
/// the instruction stream around a faulting RIP for the debug-port panic
/// report (ยง7: "halt with a description written to the debug port").
func Disassemble(code []byte, base uintptr) []string {
	var out []string
	off := 0
	for off < len(code) {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 {
			out = append(out, fmt.Sprintf("%#x: <bad instruction>", base+uintptr(off)))
			off++
			continue
		}
		out = append(out, fmt.Sprintf("%#x: %s", base+uintptr(off), x86asm.GNUSyntax(inst, uint64(base)+uint64(off), nil)))
		off += inst.Len
	}
	return out
}
