package elftest

import (
	"bytes"
	"encoding/binary"
)

// Unit describes a DWARF 4 unit root whose attributes are all inline. Empty fields are
// omitted from the entry.
type Unit struct {
	// Tag defaults to DW_TAG_compile_unit.
	Tag        uint16
	Name       string
	Producer   string
	CompDir    string
	Language   uint16
	DwoName    string
	GNUDwoName string
	// StmtList is written when HasStmtList is set.
	StmtList    uint32
	HasStmtList bool
	// Subprograms become DW_TAG_subprogram children with name, low_pc and high_pc (length).
	Subprograms []Subprogram
}

// Subprogram is a child function entry of a Unit.
type Subprogram struct {
	Name   string
	LowPC  uint64
	Length uint64
}

const (
	tagCompileUnit = 0x11
	tagSubprogram  = 0x2e

	atName       = 0x03
	atStmtList   = 0x10
	atLowPC      = 0x11
	atHighPC     = 0x12
	atLanguage   = 0x13
	atCompDir    = 0x1b
	atProducer   = 0x25
	atDwoName    = 0x76
	atGNUDwoName = 0x2130

	formAddr      = 0x01
	formData2     = 0x05
	formData8     = 0x07
	formString    = 0x08
	formSecOffset = 0x17
)

type attrSpec struct {
	attr, form uint64
	write      func(*bytes.Buffer)
}

// DebugInfo encodes units as DWARF 4 .debug_info and .debug_abbrev contents for 64-bit
// little-endian targets. Each unit gets its own abbreviation codes in one shared table.
func DebugInfo(units ...Unit) (info, abbrev []byte) {
	var ab, in bytes.Buffer
	code := uint64(0)
	subCode := uint64(0)

	for _, u := range units {
		tag := uint64(u.Tag)
		if tag == 0 {
			tag = tagCompileUnit
		}
		var attrs []attrSpec
		str := func(a uint64, s string) {
			if s != "" {
				attrs = append(attrs, attrSpec{a, formString, func(b *bytes.Buffer) { cstr(b, s) }})
			}
		}
		str(atName, u.Name)
		str(atProducer, u.Producer)
		str(atCompDir, u.CompDir)
		if u.Language != 0 {
			lang := u.Language
			attrs = append(attrs, attrSpec{atLanguage, formData2, func(b *bytes.Buffer) {
				_ = binary.Write(b, binary.LittleEndian, lang)
			}})
		}
		str(atDwoName, u.DwoName)
		str(atGNUDwoName, u.GNUDwoName)
		if u.HasStmtList {
			off := u.StmtList
			attrs = append(attrs, attrSpec{atStmtList, formSecOffset, func(b *bytes.Buffer) {
				_ = binary.Write(b, binary.LittleEndian, off)
			}})
		}

		code++
		rootCode := code
		uleb(&ab, rootCode)
		uleb(&ab, tag)
		if len(u.Subprograms) > 0 {
			ab.WriteByte(1)
		} else {
			ab.WriteByte(0)
		}
		for _, a := range attrs {
			uleb(&ab, a.attr)
			uleb(&ab, a.form)
		}
		ab.Write([]byte{0, 0})

		if len(u.Subprograms) > 0 && subCode == 0 {
			code++
			subCode = code
			uleb(&ab, subCode)
			uleb(&ab, tagSubprogram)
			ab.WriteByte(0)
			for _, af := range [][2]uint64{{atName, formString}, {atLowPC, formAddr}, {atHighPC, formData8}} {
				uleb(&ab, af[0])
				uleb(&ab, af[1])
			}
			ab.Write([]byte{0, 0})
		}

		var body bytes.Buffer
		_ = binary.Write(&body, binary.LittleEndian, uint16(4))
		_ = binary.Write(&body, binary.LittleEndian, uint32(0))
		body.WriteByte(8)
		uleb(&body, rootCode)
		for _, a := range attrs {
			a.write(&body)
		}
		if len(u.Subprograms) > 0 {
			for _, sp := range u.Subprograms {
				uleb(&body, subCode)
				cstr(&body, sp.Name)
				_ = binary.Write(&body, binary.LittleEndian, sp.LowPC)
				_ = binary.Write(&body, binary.LittleEndian, sp.Length)
			}
			body.WriteByte(0)
		}
		_ = binary.Write(&in, binary.LittleEndian, uint32(body.Len()))
		in.Write(body.Bytes())
	}
	ab.WriteByte(0)
	return in.Bytes(), ab.Bytes()
}

// LineStep advances the line state machine and emits a row.
type LineStep struct {
	AddrDelta uint64
	LineDelta int64
}

// LineProgram encodes a DWARF 4 line program with a single file and one sequence starting
// at addr. The sequence ends at the last row plus end.
func LineProgram(file, dir string, addr uint64, steps []LineStep, end uint64) []byte {
	var hdr bytes.Buffer
	hdr.Write([]byte{1, 1, 1, 0xfb, 14, 13})
	hdr.Write([]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1})
	if dir != "" {
		cstr(&hdr, dir)
	}
	hdr.WriteByte(0)
	cstr(&hdr, file)
	if dir != "" {
		uleb(&hdr, 1)
	} else {
		uleb(&hdr, 0)
	}
	uleb(&hdr, 0)
	uleb(&hdr, 0)
	hdr.WriteByte(0)

	var prog bytes.Buffer
	prog.Write([]byte{0, 9, 2})
	_ = binary.Write(&prog, binary.LittleEndian, addr)
	for _, s := range steps {
		if s.AddrDelta != 0 {
			prog.WriteByte(2)
			uleb(&prog, s.AddrDelta)
		}
		if s.LineDelta != 0 {
			prog.WriteByte(3)
			sleb(&prog, s.LineDelta)
		}
		prog.WriteByte(1)
	}
	if end != 0 {
		prog.WriteByte(2)
		uleb(&prog, end)
	}
	prog.Write([]byte{0, 1, 1})

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, uint32(2+4+hdr.Len()+prog.Len()))
	_ = binary.Write(&out, binary.LittleEndian, uint16(4))
	_ = binary.Write(&out, binary.LittleEndian, uint32(hdr.Len()))
	out.Write(hdr.Bytes())
	out.Write(prog.Bytes())
	return out.Bytes()
}

func cstr(b *bytes.Buffer, s string) {
	b.WriteString(s)
	b.WriteByte(0)
}

func uleb(b *bytes.Buffer, v uint64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b.WriteByte(c)
		if v == 0 {
			return
		}
	}
}

func sleb(b *bytes.Buffer, v int64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		b.WriteByte(c)
		if done {
			return
		}
	}
}
