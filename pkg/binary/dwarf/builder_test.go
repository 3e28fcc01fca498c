package dwarf

import "encoding/binary"

// buf assembles little-endian DWARF bytes for tests.
type buf struct {
	b []byte
}

func (b *buf) u8(v uint8) *buf   { b.b = append(b.b, v); return b }
func (b *buf) u16(v uint16) *buf { b.b = binary.LittleEndian.AppendUint16(b.b, v); return b }
func (b *buf) u32(v uint32) *buf { b.b = binary.LittleEndian.AppendUint32(b.b, v); return b }
func (b *buf) u64(v uint64) *buf { b.b = binary.LittleEndian.AppendUint64(b.b, v); return b }
func (b *buf) raw(p ...byte) *buf {
	b.b = append(b.b, p...)
	return b
}
func (b *buf) str(s string) *buf { b.b = append(append(b.b, s...), 0); return b }

func (b *buf) uleb(v uint64) *buf {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b.b = append(b.b, c)
		if v == 0 {
			return b
		}
	}
}

func (b *buf) sleb(v int64) *buf {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		b.b = append(b.b, c)
		if done {
			return b
		}
	}
}

func (b *buf) len() int { return len(b.b) }

// strtab is a string section builder that hands out offsets.
type strtab struct {
	buf
}

func newStrtab() *strtab {
	s := &strtab{}
	s.u8(0)
	return s
}

func (s *strtab) add(v string) uint32 {
	off := uint32(s.len())
	s.str(v)
	return off
}

type abbrevSpec struct {
	code     uint64
	tag      Tag
	children bool
	fields   []abbrevField
}

func buildAbbrevs(specs ...abbrevSpec) []byte {
	var b buf
	for _, s := range specs {
		b.uleb(s.code).uleb(uint64(s.tag))
		if s.children {
			b.u8(1)
		} else {
			b.u8(0)
		}
		for _, f := range s.fields {
			b.uleb(uint64(f.attr)).uleb(uint64(f.form))
			if f.form == FormImplicitConst {
				b.sleb(f.implicit)
			}
		}
		b.uleb(0).uleb(0)
	}
	b.uleb(0)
	return b.b
}

// unit32 prefixes body with a 32-bit initial length.
func unit32(body []byte) []byte {
	var b buf
	b.u32(uint32(len(body)))
	return append(b.b, body...)
}
