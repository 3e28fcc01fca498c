package dwarf

import (
	"encoding/binary"
	"fmt"

	bin "github.com/coral-mesh/binscope/pkg/binary"
)

// DecodeError locates a decode failure inside a debug section.
type DecodeError struct {
	Section string
	Offset  int
	Msg     string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s at 0x%x: %s", e.Section, e.Offset, e.Msg)
}

// Unwrap makes every DecodeError match binary.ErrDebugDecode.
func (e *DecodeError) Unwrap() error {
	return bin.ErrDebugDecode
}

// reader is a bounds-checked cursor over a section. The first failure sticks: later reads
// return zero values and err keeps the original cause.
type reader struct {
	name  string
	order binary.ByteOrder
	data  []byte
	off   int
	err   error
}

func newReader(name string, order binary.ByteOrder, data []byte, off int) *reader {
	r := &reader{name: name, order: order, data: data, off: off}
	if off < 0 || off > len(data) {
		r.fail("offset 0x%x outside section of size 0x%x", off, len(data))
	}
	return r
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = &DecodeError{Section: r.name, Offset: r.off, Msg: fmt.Sprintf(format, args...)}
	}
	r.off = len(r.data)
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) atEnd() bool {
	return r.err != nil || r.off >= len(r.data)
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.remaining() {
		r.fail("truncated: need %d bytes, have %d", n, r.remaining())
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) skip(n int) {
	r.next(n)
}

func (r *reader) seek(off int) {
	if r.err != nil {
		return
	}
	if off < 0 || off > len(r.data) {
		r.fail("seek to 0x%x outside section of size 0x%x", off, len(r.data))
		return
	}
	r.off = off
}

func (r *reader) u8() uint8 {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return r.order.Uint16(b)
}

func (r *reader) u24() uint32 {
	b := r.next(3)
	if b == nil {
		return 0
	}
	if r.order == binary.BigEndian {
		return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}
	return uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0])
}

func (r *reader) u32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return r.order.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return r.order.Uint64(b)
}

// uintN reads an unsigned value of the given byte size.
func (r *reader) uintN(size int) uint64 {
	switch size {
	case 1:
		return uint64(r.u8())
	case 2:
		return uint64(r.u16())
	case 3:
		return uint64(r.u24())
	case 4:
		return uint64(r.u32())
	case 8:
		return r.u64()
	}
	r.fail("unsupported integer size %d", size)
	return 0
}

// offset reads a section offset: 8 bytes in 64-bit DWARF, 4 otherwise.
func (r *reader) offset(is64 bool) uint64 {
	if is64 {
		return r.u64()
	}
	return uint64(r.u32())
}

// uleb reads an unsigned LEB128 value, failing on truncation or 64-bit overflow.
func (r *reader) uleb() uint64 {
	var v uint64
	var shift uint
	for {
		if r.err != nil {
			return 0
		}
		if r.off >= len(r.data) {
			r.fail("truncated LEB128")
			return 0
		}
		b := r.data[r.off]
		r.off++
		switch {
		case shift >= 64:
			if b&0x7f != 0 {
				r.fail("LEB128 overflows 64 bits")
				return 0
			}
		case shift == 63 && b&0x7e != 0:
			r.fail("LEB128 overflows 64 bits")
			return 0
		default:
			v |= uint64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			return v
		}
	}
}

// sleb reads a signed LEB128 value.
func (r *reader) sleb() int64 {
	var v int64
	var shift uint
	var b byte
	for {
		if r.err != nil {
			return 0
		}
		if r.off >= len(r.data) {
			r.fail("truncated LEB128")
			return 0
		}
		b = r.data[r.off]
		r.off++
		if shift < 64 {
			v |= int64(b&0x7f) << shift
		} else if b&0x7f != 0 && b&0x7f != 0x7f {
			r.fail("LEB128 overflows 64 bits")
			return 0
		}
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		v |= -1 << shift
	}
	return v
}

// cstring reads a NUL-terminated string.
func (r *reader) cstring() string {
	if r.err != nil {
		return ""
	}
	for i := r.off; i < len(r.data); i++ {
		if r.data[i] == 0 {
			s := string(r.data[r.off:i])
			r.off = i + 1
			return s
		}
	}
	r.fail("unterminated string")
	return ""
}

// initialLength reads a unit length, returning the length and whether the unit uses 64-bit
// DWARF. Reserved values 0xfffffff0..0xfffffffe are rejected.
func (r *reader) initialLength() (uint64, bool) {
	l := r.u32()
	switch {
	case l == 0xffffffff:
		return r.u64(), true
	case l >= 0xfffffff0:
		r.fail("reserved initial length 0x%x", l)
		return 0, false
	}
	return uint64(l), false
}

// sub returns a reader limited to the next n bytes and advances past them.
func (r *reader) sub(name string, n uint64) *reader {
	if n > uint64(r.remaining()) {
		r.fail("%s length 0x%x exceeds remaining 0x%x", name, n, r.remaining())
		return &reader{name: name, order: r.order, err: r.err}
	}
	start := r.off
	r.off += int(n)
	return &reader{name: r.name, order: r.order, data: r.data[:start+int(n)], off: start}
}

// stringAt reads a NUL-terminated string at off in a string section.
func stringAt(name string, data []byte, off uint64) (string, error) {
	if off >= uint64(len(data)) {
		return "", &DecodeError{Section: name, Offset: int(min(off, uint64(len(data)))), Msg: fmt.Sprintf("string offset 0x%x out of range", off)}
	}
	r := newReader(name, binary.LittleEndian, data, int(off))
	s := r.cstring()
	return s, r.err
}
