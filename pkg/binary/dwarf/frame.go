package dwarf

import (
	"encoding/binary"
	"math"
	"sort"
	"strings"
)

// FrameInput carries what .eh_frame pointer encodings need from the container. An address
// of math.MaxUint64 means the section was not found.
type FrameInput struct {
	ByteOrder      binary.ByteOrder
	AddressSize    uint8
	EHFrameAddress uint64
	TextAddress    uint64
	DataAddress    uint64
}

// NotFound marks a FrameInput address as unknown.
const NotFound = math.MaxUint64

// Pointer encodings (DW_EH_PE_*).
const (
	ehPtrAbs     = 0x00
	ehPtrULEB    = 0x01
	ehPtrUData2  = 0x02
	ehPtrUData4  = 0x03
	ehPtrUData8  = 0x04
	ehPtrSigned  = 0x08
	ehPtrSLEB    = 0x09
	ehPtrSData2  = 0x0a
	ehPtrSData4  = 0x0b
	ehPtrSData8  = 0x0c
	ehPtrPCRel   = 0x10
	ehPtrTextRel = 0x20
	ehPtrDataRel = 0x30
	ehPtrFuncRel = 0x40
	ehPtrAligned = 0x50
	ehPtrIndir   = 0x80
	ehPtrOmit    = 0xff

	ehPtrFormatMask = 0x0f
	ehPtrAppMask    = 0x70
)

// CIE is a common information entry.
type CIE struct {
	Offset                uint64
	Version               uint8
	Augmentation          string
	AddressSize           uint8
	SegmentSelectorSize   uint8
	CodeAlignment         uint64
	DataAlignment         int64
	ReturnAddressRegister uint64

	FDEEncoding         uint8
	LSDAEncoding        uint8
	PersonalityEncoding uint8
	Personality         uint64
	SignalFrame         bool

	InitialInstructions []byte
	FDEs                []*FDE
}

// FDE is a frame description entry.
type FDE struct {
	Offset          uint64
	CIE             *CIE `json:"-"`
	InitialLocation uint64
	AddressRange    uint64
	LSDA            uint64
	Instructions    []byte
}

// Contains reports whether pc falls inside the described range.
func (f *FDE) Contains(pc uint64) bool {
	return pc >= f.InitialLocation && pc-f.InitialLocation < f.AddressRange
}

// FrameTable is the result of parsing one CFI section. Errs holds one entry per dropped
// CIE or FDE.
type FrameTable struct {
	CIEs []*CIE
	Errs []error
}

// FDEs returns every FDE ordered by initial location.
func (t *FrameTable) FDEs() []*FDE {
	var out []*FDE
	for _, c := range t.CIEs {
		out = append(out, c.FDEs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].InitialLocation < out[j].InitialLocation })
	return out
}

type frameParser struct {
	name string
	eh   bool
	in   FrameInput
	data []byte
	cies map[uint64]*CIE
	errs []error
}

// ParseDebugFrame parses a .debug_frame section.
func ParseDebugFrame(data []byte, in FrameInput) *FrameTable {
	return parseFrames(".debug_frame", false, data, in)
}

// ParseEHFrame parses an .eh_frame section. Parsing stops at a zero-length terminator.
func ParseEHFrame(data []byte, in FrameInput) *FrameTable {
	return parseFrames(".eh_frame", true, data, in)
}

func parseFrames(name string, eh bool, data []byte, in FrameInput) *FrameTable {
	if in.ByteOrder == nil {
		in.ByteOrder = binary.LittleEndian
	}
	if in.AddressSize == 0 {
		in.AddressSize = 8
	}
	p := &frameParser{name: name, eh: eh, in: in, data: data, cies: make(map[uint64]*CIE)}
	r := newReader(name, in.ByteOrder, data, 0)
	for !r.atEnd() {
		start := uint64(r.off)
		length, is64 := r.initialLength()
		if r.err != nil {
			p.errs = append(p.errs, r.err)
			break
		}
		if length == 0 {
			if eh {
				break
			}
			continue
		}
		er := r.sub(name, length)
		if r.err != nil {
			p.errs = append(p.errs, r.err)
			break
		}
		p.entry(er, start, is64)
	}

	t := &FrameTable{Errs: p.errs}
	for _, c := range p.cies {
		t.CIEs = append(t.CIEs, c)
	}
	sort.Slice(t.CIEs, func(i, j int) bool { return t.CIEs[i].Offset < t.CIEs[j].Offset })
	return t
}

func (p *frameParser) isCIEID(id uint64, is64 bool) bool {
	if p.eh {
		return id == 0
	}
	if is64 {
		return id == math.MaxUint64
	}
	return id == math.MaxUint32
}

// entry parses one CIE or FDE whose body is er.
func (p *frameParser) entry(er *reader, start uint64, is64 bool) {
	idPos := uint64(er.off)
	var id uint64
	if p.eh {
		id = uint64(er.u32())
	} else {
		id = er.offset(is64)
	}
	if er.err != nil {
		p.errs = append(p.errs, er.err)
		return
	}
	if p.isCIEID(id, is64) {
		if _, ok := p.cies[start]; ok {
			return
		}
		c, err := p.cie(er, start)
		if err != nil {
			p.errs = append(p.errs, err)
			return
		}
		p.cies[start] = c
		return
	}

	cieOff := id
	if p.eh {
		if id > idPos {
			er.fail("CIE pointer 0x%x before section start", id)
			p.errs = append(p.errs, er.err)
			return
		}
		cieOff = idPos - id
	}
	c, err := p.cieAt(cieOff)
	if err != nil {
		p.errs = append(p.errs, err)
		return
	}
	f, err := p.fde(er, start, c)
	if err != nil {
		p.errs = append(p.errs, err)
		return
	}
	c.FDEs = append(c.FDEs, f)
}

// cieAt returns the CIE at off, parsing it on demand when an FDE precedes it.
func (p *frameParser) cieAt(off uint64) (*CIE, error) {
	if c, ok := p.cies[off]; ok {
		return c, nil
	}
	if off >= uint64(len(p.data)) {
		return nil, &DecodeError{Section: p.name, Offset: len(p.data), Msg: "CIE pointer out of range"}
	}
	r := newReader(p.name, p.in.ByteOrder, p.data, int(off))
	length, is64 := r.initialLength()
	er := r.sub(p.name, length)
	if r.err != nil {
		return nil, r.err
	}
	var id uint64
	if p.eh {
		id = uint64(er.u32())
	} else {
		id = er.offset(is64)
	}
	if er.err != nil {
		return nil, er.err
	}
	if !p.isCIEID(id, is64) {
		er.fail("expected CIE at 0x%x", off)
		return nil, er.err
	}
	c, err := p.cie(er, off)
	if err != nil {
		return nil, err
	}
	p.cies[off] = c
	return c, nil
}

func (p *frameParser) cie(r *reader, off uint64) (*CIE, error) {
	c := &CIE{
		Offset:              off,
		AddressSize:         p.in.AddressSize,
		FDEEncoding:         ehPtrAbs,
		LSDAEncoding:        ehPtrOmit,
		PersonalityEncoding: ehPtrOmit,
	}
	c.Version = r.u8()
	c.Augmentation = r.cstring()
	if r.err != nil {
		return nil, r.err
	}
	if strings.Contains(c.Augmentation, "eh") {
		// Old GCC "eh" augmentation: one pointer-sized word of exception table data.
		r.skip(int(c.AddressSize))
	}
	if !p.eh && c.Version >= 4 {
		c.AddressSize = r.u8()
		c.SegmentSelectorSize = r.u8()
	}
	c.CodeAlignment = r.uleb()
	c.DataAlignment = r.sleb()
	if c.Version == 1 {
		c.ReturnAddressRegister = uint64(r.u8())
	} else {
		c.ReturnAddressRegister = r.uleb()
	}

	instStart := -1
	for i := 0; i < len(c.Augmentation) && r.err == nil; i++ {
		switch c.Augmentation[i] {
		case 'z':
			n := r.uleb()
			if n > uint64(r.remaining()) {
				r.fail("augmentation length 0x%x exceeds entry", n)
				break
			}
			instStart = r.off + int(n)
		case 'L':
			c.LSDAEncoding = r.u8()
		case 'R':
			c.FDEEncoding = r.u8()
		case 'P':
			c.PersonalityEncoding = r.u8()
			c.Personality = p.pointer(r, c.PersonalityEncoding)
		case 'S':
			c.SignalFrame = true
		case 'e', 'h':
		default:
			// Unknown augmentation: the rest of the data is only skippable with 'z'.
			if instStart < 0 {
				r.fail("unknown augmentation %q", c.Augmentation)
			}
			i = len(c.Augmentation)
		}
	}
	if instStart >= 0 {
		r.seek(instStart)
	}
	c.InitialInstructions = r.next(r.remaining())
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

func (p *frameParser) fde(r *reader, off uint64, c *CIE) (*FDE, error) {
	f := &FDE{Offset: off, CIE: c}
	if p.eh || strings.HasPrefix(c.Augmentation, "z") {
		f.InitialLocation = p.pointer(r, c.FDEEncoding)
		f.AddressRange = p.pointer(r, c.FDEEncoding&ehPtrFormatMask)
	} else {
		f.InitialLocation = r.uintN(int(c.AddressSize))
		f.AddressRange = r.uintN(int(c.AddressSize))
	}
	if strings.HasPrefix(c.Augmentation, "z") {
		n := r.uleb()
		if n > uint64(r.remaining()) {
			r.fail("augmentation length 0x%x exceeds entry", n)
			return nil, r.err
		}
		end := r.off + int(n)
		if c.LSDAEncoding != ehPtrOmit && n > 0 {
			f.LSDA = p.pointer(r, c.LSDAEncoding)
		}
		r.seek(end)
	}
	f.Instructions = r.next(r.remaining())
	if r.err != nil {
		return nil, r.err
	}
	return f, nil
}

// pointer reads a DW_EH_PE encoded pointer. Indirect pointers are returned without
// dereferencing, since the target memory is not available.
func (p *frameParser) pointer(r *reader, enc uint8) uint64 {
	if enc == ehPtrOmit {
		return 0
	}
	size := int(p.in.AddressSize)
	var base uint64
	signExtend := false
	switch enc & ehPtrAppMask {
	case ehPtrPCRel:
		signExtend = true
		base = uint64(r.off)
		if p.in.EHFrameAddress != NotFound {
			base += p.in.EHFrameAddress
		}
	case ehPtrTextRel:
		signExtend = true
		if p.in.TextAddress != NotFound {
			base = p.in.TextAddress
		}
	case ehPtrDataRel:
		signExtend = true
		if p.in.DataAddress != NotFound {
			base = p.in.DataAddress
		}
	case ehPtrFuncRel:
		signExtend = true
	case ehPtrAligned:
		if rem := r.off % size; rem != 0 {
			r.skip(size - rem)
		}
	}

	var v uint64
	switch enc & ehPtrFormatMask {
	case ehPtrAbs, ehPtrSigned:
		v = r.uintN(size)
	case ehPtrULEB:
		v = r.uleb()
	case ehPtrUData2:
		v = uint64(r.u16())
	case ehPtrUData4:
		v = uint64(r.u32())
	case ehPtrUData8, ehPtrSData8:
		v = r.u64()
	case ehPtrSLEB:
		v = uint64(r.sleb())
	case ehPtrSData2:
		v = uint64(int64(int16(r.u16())))
	case ehPtrSData4:
		v = uint64(int64(int32(r.u32())))
	default:
		r.fail("unsupported pointer encoding 0x%x", enc)
		return 0
	}
	if signExtend && size < 8 {
		sign := uint64(1) << (size*8 - 1)
		if v&sign != 0 {
			v |= ^(sign - 1)
		}
	}
	return base + v
}
