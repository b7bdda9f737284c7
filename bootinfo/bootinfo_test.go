package bootinfo

import "testing"

func TestPackSizeRoundsDownAndPreservesType(t *testing.T) {
	raw := PackSize(4103, TypeFree) // 4103 is not 16-byte aligned
	e := MemMapEntry{Phys: 0x1000, RawSize: raw}
	if e.Type() != TypeFree {
		t.Fatalf("expected type TypeFree, got %v", e.Type())
	}
	if e.Size() != 4096 {
		t.Fatalf("expected size rounded down to 4096, got %d", e.Size())
	}
}

func TestEndIsPhysPlusSize(t *testing.T) {
	e := MemMapEntry{Phys: 0x2000, RawSize: PackSize(4096, TypeReserved)}
	if e.End() != 0x3000 {
		t.Fatalf("expected End() == 0x3000, got %#x", e.End())
	}
}

func TestMaxPhysIsHighestEntryEnd(t *testing.T) {
	info := Info{MemMap: []MemMapEntry{
		{Phys: 0, RawSize: PackSize(0x1000, TypeFree)},
		{Phys: 0x10000, RawSize: PackSize(0x2000, TypeReserved)},
	}}
	if info.MaxPhys() != 0x12000 {
		t.Fatalf("expected MaxPhys() == 0x12000, got %#x", info.MaxPhys())
	}
}
