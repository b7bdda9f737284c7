// Package ipc implements fixed-size, port-based message passing: a global
// port registry with bounded FIFO queues and blocking receive. Grounded on
// original_source/kernel/src/scheduler/ipc.rs; the registry-behind-one-
// mutex idiom follows biscuit's biscuit/src/tinfo/tinfo.go.
package ipc

import (
	"encoding/binary"

	"github.com/valibali/cluu/defs"
)

/// MessageSize is the fixed size of every IPC message payload.
const MessageSize = 256

/// MessageAlign is the required alignment for Message storage.
const MessageAlign = 64

/// Message is a fixed 256-byte opaque payload with bounds-checked
/// little-endian integer accessors at byte offsets. Its Go alignment is 8
/// bytes; nothing in this package aligns Message storage to MessageAlign.
type Message struct {
	_    [0]uint64 // forces 8-byte alignment
	Data [MessageSize]byte
}

// align64 records MessageAlign as a constant only; Go does not let a type
// request 64-byte struct alignment directly, and no code here uses it.
const align64 = MessageAlign

func (m *Message) bounds(off, n int) defs.Err_t {
	if off < 0 || n < 0 || off+n > MessageSize {
		return defs.EINVAL
	}
	return 0
}

/// SetU64 writes a little-endian uint64 at the given byte offset.
func (m *Message) SetU64(off int, v uint64) defs.Err_t {
	if err := m.bounds(off, 8); err != 0 {
		return err
	}
	binary.LittleEndian.PutUint64(m.Data[off:off+8], v)
	return 0
}

/// GetU64 reads a little-endian uint64 at the given byte offset.
func (m *Message) GetU64(off int) (uint64, defs.Err_t) {
	if err := m.bounds(off, 8); err != 0 {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.Data[off : off+8]), 0
}

/// SetU32 writes a little-endian uint32 at the given byte offset.
func (m *Message) SetU32(off int, v uint32) defs.Err_t {
	if err := m.bounds(off, 4); err != 0 {
		return err
	}
	binary.LittleEndian.PutUint32(m.Data[off:off+4], v)
	return 0
}

/// GetU32 reads a little-endian uint32 at the given byte offset.
func (m *Message) GetU32(off int) (uint32, defs.Err_t) {
	if err := m.bounds(off, 4); err != 0 {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.Data[off : off+4]), 0
}
