package dwarf

import (
	"encoding/binary"

	"github.com/rs/zerolog"
)

// Sections holds the raw debug sections a decoder reads from. Missing sections are nil.
type Sections struct {
	Order binary.ByteOrder

	Info       []byte
	Abbrev     []byte
	Str        []byte
	StrOffsets []byte
	LineStr    []byte
	Addr       []byte
	Line       []byte
}

// byteOrder returns Order, little-endian when unset.
func (s *Sections) byteOrder() binary.ByteOrder {
	if s.Order == nil {
		return binary.LittleEndian
	}
	return s.Order
}

// AddressNormalizer maps a raw address to its normalized form.
type AddressNormalizer func(uint64) uint64

// Identity returns addr unchanged.
func Identity(addr uint64) uint64 { return addr }

// Unit is a decoded compilation (or type, partial, skeleton) unit.
type Unit struct {
	Offset       uint64
	Length       uint64
	Version      uint16
	UnitType     UnitType
	AddressSize  uint8
	Is64         bool
	AbbrevOffset uint64
	// DwoID is set for skeleton and split units.
	DwoID    uint64
	HasDwoID bool
	// TypeSignature is set for type units.
	TypeSignature uint64

	Root *Entry
	// Err records why decoding this unit stopped early. Root may hold a partial tree.
	Err error
}

// Language returns DW_AT_language of the unit root, or LangUnknown.
func (u *Unit) Language() Lang {
	if u.Root == nil {
		return LangUnknown
	}
	v, ok := u.Root.Uint(AttrLanguage)
	if !ok {
		return LangUnknown
	}
	return Lang(v)
}

// Name returns DW_AT_name of the unit root.
func (u *Unit) Name() string {
	if u.Root == nil {
		return ""
	}
	return u.Root.Name()
}

// Producer returns DW_AT_producer of the unit root.
func (u *Unit) Producer() string {
	if u.Root == nil {
		return ""
	}
	return u.Root.StringAttr(AttrProducer)
}

// CompDir returns DW_AT_comp_dir of the unit root.
func (u *Unit) CompDir() string {
	if u.Root == nil {
		return ""
	}
	return u.Root.StringAttr(AttrCompDir)
}

// DwoName returns the split-DWARF companion name named by the unit root, if any.
func (u *Unit) DwoName() (string, bool) {
	if u.Root == nil {
		return "", false
	}
	for _, a := range []Attr{AttrDwoName, AttrGNUDwoName} {
		if s := u.Root.StringAttr(a); s != "" {
			return s, true
		}
	}
	return "", false
}

// StmtList returns the .debug_line offset of the unit's line program.
func (u *Unit) StmtList() (uint64, bool) {
	if u.Root == nil {
		return 0, false
	}
	return u.Root.Uint(AttrStmtList)
}

// pendingIndex is an indexed string or address whose base attribute may follow it.
type pendingIndex struct {
	entry *Entry
	attr  Attr
	index uint64
	str   bool
}

type decoder struct {
	sec       *Sections
	normalize AddressNormalizer
	logger    zerolog.Logger
	abbrevs   map[uint64]abbrevTable
	byOffset  map[uint64]*Entry
}

// DecodeUnits decodes every unit in sec.Info. A malformed unit is returned with Err set and
// decoding moves on to the next unit; iteration stops only when a unit length runs past the
// section end. References are then resolved across all units, Address values normalized
// and DW_AT_specification attributes merged into their declarations.
func DecodeUnits(sec *Sections, normalize AddressNormalizer, logger zerolog.Logger) []*Unit {
	if sec == nil || len(sec.Info) == 0 {
		return nil
	}
	if normalize == nil {
		normalize = Identity
	}
	if sec.Order == nil {
		sec.Order = binary.LittleEndian
	}
	d := &decoder{
		sec:       sec,
		normalize: normalize,
		logger:    logger,
		abbrevs:   make(map[uint64]abbrevTable),
		byOffset:  make(map[uint64]*Entry),
	}

	var units []*Unit
	r := newReader(".debug_info", sec.Order, sec.Info, 0)
	for !r.atEnd() {
		u, ok := d.unit(r)
		if u != nil {
			units = append(units, u)
			if u.Err != nil {
				d.logger.Debug().Err(u.Err).Uint64("offset", u.Offset).Msg("Compilation unit decoded with errors")
			}
		}
		if !ok {
			break
		}
	}
	d.link(units)
	return units
}

// unit decodes one unit at r's position. ok is false when the next unit cannot be located.
func (d *decoder) unit(r *reader) (*Unit, bool) {
	start := r.off
	u := &Unit{Offset: uint64(start)}
	length, is64 := r.initialLength()
	if r.err != nil {
		u.Err = r.err
		return u, false
	}
	u.Length = length
	u.Is64 = is64
	if length == 0 {
		// Padding between units.
		return nil, true
	}
	ur := r.sub(".debug_info", length)
	if r.err != nil {
		u.Err = r.err
		return u, false
	}

	u.Version = ur.u16()
	switch {
	case u.Version == 5:
		u.UnitType = UnitType(ur.u8())
		u.AddressSize = ur.u8()
		u.AbbrevOffset = ur.offset(is64)
		switch u.UnitType {
		case UnitTypeSkeleton, UnitTypeSplitCompile:
			u.DwoID = ur.u64()
			u.HasDwoID = true
		case UnitTypeType, UnitTypeSplitType:
			u.TypeSignature = ur.u64()
			ur.offset(is64)
		}
	case u.Version >= 2 && u.Version <= 4:
		u.UnitType = UnitTypeCompile
		u.AbbrevOffset = ur.offset(is64)
		u.AddressSize = ur.u8()
	default:
		ur.fail("unsupported DWARF version %d", u.Version)
	}
	if ur.err != nil {
		u.Err = ur.err
		return u, true
	}

	abbrevs, err := d.abbrevTable(u.AbbrevOffset)
	if err != nil {
		u.Err = err
		return u, true
	}

	var (
		parents []*Entry
		pending []pendingIndex
	)
	for !ur.atEnd() {
		off := uint64(ur.off)
		code := ur.uleb()
		if code == 0 {
			if len(parents) > 0 {
				parents = parents[:len(parents)-1]
			}
			continue
		}
		a, ok := abbrevs[code]
		if !ok {
			ur.fail("unknown abbreviation code %d", code)
			break
		}
		e := &Entry{Offset: off, Tag: a.tag, Attributes: make(map[Attr]Value, len(a.fields))}
		for _, f := range a.fields {
			v, idx := d.value(ur, u, f.form, f.implicit)
			if ur.err != nil {
				break
			}
			if idx != nil {
				idx.entry, idx.attr = e, f.attr
				pending = append(pending, *idx)
			}
			e.Attributes[f.attr] = v
		}
		if ur.err != nil {
			break
		}
		d.byOffset[off] = e
		if len(parents) > 0 {
			p := parents[len(parents)-1]
			e.Parent = p
			p.Children = append(p.Children, e)
		} else if u.Root == nil {
			u.Root = e
		} else {
			ur.fail("second top-level entry at 0x%x", off)
			break
		}
		if a.children {
			parents = append(parents, e)
		}
	}
	if ur.err != nil {
		u.Err = ur.err
	}
	if err := d.resolveIndexes(u, pending); err != nil && u.Err == nil {
		u.Err = err
	}
	return u, true
}

func (d *decoder) abbrevTable(off uint64) (abbrevTable, error) {
	if t, ok := d.abbrevs[off]; ok {
		return t, nil
	}
	t, err := parseAbbrevs(d.sec.Order, d.sec.Abbrev, off)
	if err != nil {
		return nil, err
	}
	d.abbrevs[off] = t
	return t, nil
}

// value reads one attribute value. Indexed strings and addresses return a pendingIndex to
// be resolved once the unit's base attributes are known.
func (d *decoder) value(r *reader, u *Unit, form Form, implicit int64) (Value, *pendingIndex) {
	v := Value{Form: form}
	switch form {
	case FormAddr:
		v.Kind = KindAddress
		v.Uint = r.uintN(int(u.AddressSize))
	case FormBlock1:
		v.Kind = KindBlock
		v.Bytes = r.next(int(r.u8()))
	case FormBlock2:
		v.Kind = KindBlock
		v.Bytes = r.next(int(r.u16()))
	case FormBlock4:
		v.Kind = KindBlock
		v.Bytes = r.next(int(r.u32()))
	case FormBlock:
		v.Kind = KindBlock
		v.Bytes = r.next(lebLen(r))
	case FormExprloc:
		v.Kind = KindExprLoc
		v.Bytes = r.next(lebLen(r))
	case FormData1:
		v.Kind = KindConstant
		v.Uint = uint64(r.u8())
	case FormData2:
		v.Kind = KindConstant
		v.Uint = uint64(r.u16())
	case FormData4:
		v.Kind = KindConstant
		v.Uint = uint64(r.u32())
	case FormData8:
		v.Kind = KindConstant
		v.Uint = r.u64()
	case FormData16:
		v.Kind = KindBlock
		v.Bytes = r.next(16)
	case FormSdata:
		v.Kind = KindSigned
		v.Int = r.sleb()
	case FormUdata:
		v.Kind = KindConstant
		v.Uint = r.uleb()
	case FormImplicitConst:
		v.Kind = KindSigned
		v.Int = implicit
	case FormString:
		v.Kind = KindString
		v.Str = r.cstring()
	case FormStrp, FormLineStrp:
		v.Kind = KindString
		off := r.offset(u.Is64)
		data, name := d.sec.Str, ".debug_str"
		if form == FormLineStrp {
			data, name = d.sec.LineStr, ".debug_line_str"
		}
		if r.err == nil {
			s, err := stringAt(name, data, off)
			if err != nil {
				r.fail("%v", err)
			}
			v.Str = s
		}
	case FormStrpSup, FormGNUStrpAlt:
		// Strings in a supplementary file are kept as offsets.
		v.Kind = KindSecOffset
		v.Uint = r.offset(u.Is64)
	case FormStrx, FormGNUStrIndex:
		v.Kind = KindString
		return v, &pendingIndex{index: r.uleb(), str: true}
	case FormStrx1, FormStrx2, FormStrx3, FormStrx4:
		v.Kind = KindString
		return v, &pendingIndex{index: r.uintN(int(form-FormStrx1) + 1), str: true}
	case FormAddrx, FormGNUAddrIndex:
		v.Kind = KindConstant
		return v, &pendingIndex{index: r.uleb()}
	case FormAddrx1, FormAddrx2, FormAddrx3, FormAddrx4:
		v.Kind = KindConstant
		return v, &pendingIndex{index: r.uintN(int(form-FormAddrx1) + 1)}
	case FormFlag:
		v.Kind = KindFlag
		if r.u8() != 0 {
			v.Uint = 1
		}
	case FormFlagPresent:
		v.Kind = KindFlag
		v.Uint = 1
	case FormRef1:
		v.Kind = KindReference
		v.Uint = u.Offset + uint64(r.u8())
	case FormRef2:
		v.Kind = KindReference
		v.Uint = u.Offset + uint64(r.u16())
	case FormRef4:
		v.Kind = KindReference
		v.Uint = u.Offset + uint64(r.u32())
	case FormRef8:
		v.Kind = KindReference
		v.Uint = u.Offset + r.u64()
	case FormRefUdata:
		v.Kind = KindReference
		v.Uint = u.Offset + r.uleb()
	case FormRefAddr:
		v.Kind = KindReference
		if u.Version <= 2 {
			v.Uint = r.uintN(int(u.AddressSize))
		} else {
			v.Uint = r.offset(u.Is64)
		}
	case FormRefSig8:
		// Type signatures point into type units that are not indexed.
		v.Kind = KindConstant
		v.Uint = r.u64()
	case FormRefSup4:
		v.Kind = KindSecOffset
		v.Uint = uint64(r.u32())
	case FormRefSup8:
		v.Kind = KindSecOffset
		v.Uint = r.u64()
	case FormGNURefAlt:
		v.Kind = KindSecOffset
		v.Uint = r.offset(u.Is64)
	case FormSecOffset:
		v.Kind = KindSecOffset
		v.Uint = r.offset(u.Is64)
	case FormLoclistx, FormRnglistx:
		v.Kind = KindConstant
		v.Uint = r.uleb()
	case FormIndirect:
		actual := Form(r.uleb())
		if actual == FormIndirect || actual == FormImplicitConst {
			r.fail("invalid indirect form 0x%x", uint32(actual))
			return v, nil
		}
		return d.value(r, u, actual, 0)
	default:
		r.fail("unknown form 0x%x", uint32(form))
	}
	return v, nil
}

func lebLen(r *reader) int {
	n := r.uleb()
	if n > uint64(r.remaining()) {
		r.fail("block length 0x%x exceeds remaining 0x%x", n, r.remaining())
		return 0
	}
	return int(n)
}

// resolveIndexes fills strx and addrx values using the root's base attributes. Without
// DW_AT_str_offsets_base the base is the size of the .debug_str_offsets header, which is
// what split units rely on.
func (d *decoder) resolveIndexes(u *Unit, pending []pendingIndex) error {
	if len(pending) == 0 {
		return nil
	}
	entrySize := uint64(4)
	strBase := uint64(0)
	if u.Is64 {
		entrySize = 8
	}
	if u.Version >= 5 {
		strBase = 8
		if u.Is64 {
			strBase = 16
		}
	}
	var addrBase uint64
	hasAddrBase := false
	if u.Root != nil {
		if b, ok := u.Root.Uint(AttrStrOffsetsBase); ok {
			strBase = b
		}
		for _, a := range []Attr{AttrAddrBase, AttrGNUAddrBase} {
			if b, ok := u.Root.Uint(a); ok {
				addrBase, hasAddrBase = b, true
				break
			}
		}
	}

	var firstErr error
	for _, p := range pending {
		v := p.entry.Attributes[p.attr]
		if p.str {
			s, err := d.indexedString(strBase+p.index*entrySize, entrySize, u.Is64)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				v.Kind = KindConstant
				v.Uint = p.index
			}
			v.Str = s
		} else if hasAddrBase && len(d.sec.Addr) > 0 {
			off := addrBase + p.index*uint64(u.AddressSize)
			r := newReader(".debug_addr", d.sec.Order, d.sec.Addr, 0)
			if off > uint64(len(d.sec.Addr)) {
				r.fail("address index %d out of range", p.index)
			} else {
				r.seek(int(off))
			}
			addr := r.uintN(int(u.AddressSize))
			if r.err != nil {
				if firstErr == nil {
					firstErr = r.err
				}
				v.Uint = p.index
			} else {
				v.Kind = KindAddress
				v.Uint = addr
			}
		} else {
			v.Uint = p.index
		}
		p.entry.Attributes[p.attr] = v
	}
	return firstErr
}

func (d *decoder) indexedString(off, entrySize uint64, is64 bool) (string, error) {
	if off+entrySize > uint64(len(d.sec.StrOffsets)) || off+entrySize < off {
		return "", &DecodeError{Section: ".debug_str_offsets", Offset: len(d.sec.StrOffsets), Msg: "string index out of range"}
	}
	r := newReader(".debug_str_offsets", d.sec.Order, d.sec.StrOffsets, int(off))
	strOff := r.offset(is64)
	if r.err != nil {
		return "", r.err
	}
	return stringAt(".debug_str", d.sec.Str, strOff)
}

// link resolves references, normalizes addresses and merges specifications.
func (d *decoder) link(units []*Unit) {
	for _, u := range units {
		if u.Root == nil {
			continue
		}
		u.Root.Walk(func(e *Entry) bool {
			for k, v := range e.Attributes {
				switch v.Kind {
				case KindReference:
					if target, ok := d.byOffset[v.Uint]; ok {
						v.Ref = target
						e.Attributes[k] = v
					}
				case KindAddress:
					v.Uint = d.normalize(v.Uint)
					e.Attributes[k] = v
				}
			}
			return true
		})
	}
	for _, u := range units {
		if u.Root == nil {
			continue
		}
		u.Root.Walk(func(e *Entry) bool {
			spec, ok := e.Attributes[AttrSpecification]
			if !ok || spec.Ref == nil || spec.Ref == e {
				return true
			}
			for k, v := range e.Attributes {
				if k != AttrSpecification {
					spec.Ref.Attributes[k] = v
				}
			}
			return true
		})
	}
}
