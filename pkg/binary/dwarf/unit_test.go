package dwarf

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bin "github.com/coral-mesh/binscope/pkg/binary"
)

type node struct {
	Tag      Tag
	Name     string
	Children []node
}

func project(e *Entry) node {
	n := node{Tag: e.Tag, Name: e.Name()}
	for _, c := range e.Children {
		n.Children = append(n.Children, project(c))
	}
	return n
}

func v4Sections(t *testing.T) (*Sections, uint32) {
	t.Helper()
	str := newStrtab()
	producer := str.add("GNU C17 11.2.0 -O2")

	abbrev := buildAbbrevs(
		abbrevSpec{code: 1, tag: TagCompileUnit, children: true, fields: []abbrevField{
			{attr: AttrName, form: FormString},
			{attr: AttrProducer, form: FormStrp},
			{attr: AttrLanguage, form: FormData1},
			{attr: AttrStmtList, form: FormSecOffset},
			{attr: AttrLowpc, form: FormAddr},
		}},
		abbrevSpec{code: 2, tag: TagSubprogram, fields: []abbrevField{
			{attr: AttrName, form: FormString},
			{attr: AttrDeclaration, form: FormFlagPresent},
		}},
		abbrevSpec{code: 3, tag: TagSubprogram, fields: []abbrevField{
			{attr: AttrSpecification, form: FormRef4},
			{attr: AttrLowpc, form: FormAddr},
			{attr: AttrInline, form: FormImplicitConst, implicit: -3},
		}},
	)

	var body buf
	body.u16(4).u32(0).u8(8)
	body.uleb(1).str("a.c").u32(producer).u8(uint8(LangC99)).u32(0).u64(0x1000)
	declRel := uint32(4 + body.len())
	body.uleb(2).str("f")
	body.uleb(3).u32(declRel).u64(0x1010)
	body.uleb(0)

	return &Sections{
		Order:  binary.LittleEndian,
		Info:   unit32(body.b),
		Abbrev: abbrev,
		Str:    str.b,
	}, declRel
}

func TestDecodeUnits_Version4(t *testing.T) {
	sec, declRel := v4Sections(t)
	units := DecodeUnits(sec, func(a uint64) uint64 { return a + 0x100 }, zerolog.Nop())
	require.Len(t, units, 1)

	u := units[0]
	require.NoError(t, u.Err)
	assert.Equal(t, uint16(4), u.Version)
	assert.Equal(t, UnitTypeCompile, u.UnitType)
	assert.Equal(t, uint8(8), u.AddressSize)
	assert.False(t, u.Is64)
	assert.Equal(t, LangC99, u.Language())
	assert.Equal(t, "GNU C17 11.2.0 -O2", u.Producer())
	assert.Equal(t, "a.c", u.Name())

	want := node{Tag: TagCompileUnit, Name: "a.c", Children: []node{
		{Tag: TagSubprogram, Name: "f"},
		// The definition keeps only its own attributes; its name lives on the declaration.
		{Tag: TagSubprogram},
	}}
	if diff := cmp.Diff(want, project(u.Root)); diff != "" {
		t.Errorf("DIE tree mismatch (-want +got):\n%s", diff)
	}

	low, ok := u.Root.Uint(AttrLowpc)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1100), low)

	decl, def := u.Root.Children[0], u.Root.Children[1]
	assert.Equal(t, uint64(declRel), decl.Offset)
	spec, ok := def.Attr(AttrSpecification)
	require.True(t, ok)
	assert.Same(t, decl, spec.Ref)
	assert.Same(t, u.Root, decl.Parent)

	// The definition's attributes are merged into the declaration.
	declLow, ok := decl.Uint(AttrLowpc)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1110), declLow)
	assert.True(t, decl.Flag(AttrDeclaration))
	_, hasSpec := decl.Attr(AttrSpecification)
	assert.False(t, hasSpec)
	assert.Empty(t, def.Name())

	inline, ok := def.Attr(AttrInline)
	require.True(t, ok)
	assert.Equal(t, KindSigned, inline.Kind)
	assert.Equal(t, int64(-3), inline.Int)
}

func TestDecodeUnits_Version5Skeleton(t *testing.T) {
	str := newStrtab()
	producerOff := str.add("clang version 15.0.0")
	dwoOff := str.add("a.dwo")

	var strOffsets buf
	strOffsets.u32(4 + 8).u16(5).u16(0).u32(producerOff).u32(dwoOff)

	var addr buf
	addr.u32(4 + 8).u16(5).u8(8).u8(0).u64(0x2000)

	abbrev := buildAbbrevs(abbrevSpec{code: 1, tag: TagSkeletonUnit, fields: []abbrevField{
		{attr: AttrProducer, form: FormStrx1},
		{attr: AttrDwoName, form: FormStrx1},
		{attr: AttrStrOffsetsBase, form: FormSecOffset},
		{attr: AttrAddrBase, form: FormSecOffset},
		{attr: AttrLowpc, form: FormAddrx},
	}})

	var body buf
	body.u16(5).u8(uint8(UnitTypeSkeleton)).u8(8).u32(0).u64(0xdeadbeef)
	body.uleb(1).u8(0).u8(1).u32(8).u32(8).uleb(0)

	sec := &Sections{
		Order:      binary.LittleEndian,
		Info:       unit32(body.b),
		Abbrev:     abbrev,
		Str:        str.b,
		StrOffsets: strOffsets.b,
		Addr:       addr.b,
	}
	units := DecodeUnits(sec, nil, zerolog.Nop())
	require.Len(t, units, 1)

	u := units[0]
	require.NoError(t, u.Err)
	assert.Equal(t, uint16(5), u.Version)
	assert.Equal(t, UnitTypeSkeleton, u.UnitType)
	assert.True(t, u.HasDwoID)
	assert.Equal(t, uint64(0xdeadbeef), u.DwoID)
	assert.Equal(t, "clang version 15.0.0", u.Producer())

	name, ok := u.DwoName()
	require.True(t, ok)
	assert.Equal(t, "a.dwo", name)

	low, ok := u.Root.Attr(AttrLowpc)
	require.True(t, ok)
	assert.Equal(t, KindAddress, low.Kind)
	assert.Equal(t, uint64(0x2000), low.Uint)
}

func TestDecodeUnits_SplitUnitDefaultStrOffsetsBase(t *testing.T) {
	str := newStrtab()
	nameOff := str.add("a.c")

	var strOffsets buf
	strOffsets.u32(4 + 4).u16(5).u16(0).u32(nameOff)

	abbrev := buildAbbrevs(abbrevSpec{code: 1, tag: TagCompileUnit, fields: []abbrevField{
		{attr: AttrName, form: FormStrx},
		{attr: AttrLowpc, form: FormAddrx1},
	}})

	var body buf
	body.u16(5).u8(uint8(UnitTypeSplitCompile)).u8(8).u32(0).u64(1)
	body.uleb(1).uleb(0).u8(3)

	units := DecodeUnits(&Sections{
		Info:       unit32(body.b),
		Abbrev:     abbrev,
		Str:        str.b,
		StrOffsets: strOffsets.b,
	}, nil, zerolog.Nop())
	require.Len(t, units, 1)
	require.NoError(t, units[0].Err)
	assert.Equal(t, "a.c", units[0].Name())

	// Without .debug_addr the index is kept raw.
	low, ok := units[0].Root.Attr(AttrLowpc)
	require.True(t, ok)
	assert.Equal(t, KindConstant, low.Kind)
	assert.Equal(t, uint64(3), low.Uint)
}

func TestDecodeUnits_ErrorIsolation(t *testing.T) {
	abbrev := buildAbbrevs(abbrevSpec{code: 1, tag: TagCompileUnit, fields: []abbrevField{
		{attr: AttrName, form: FormString},
	}})

	var bad buf
	bad.u16(4).u32(0).u8(8).uleb(9)
	var good buf
	good.u16(4).u32(0).u8(8).uleb(1).str("ok.c")

	info := append(unit32(bad.b), unit32(good.b)...)
	units := DecodeUnits(&Sections{Info: info, Abbrev: abbrev}, nil, zerolog.Nop())
	require.Len(t, units, 2)

	require.Error(t, units[0].Err)
	assert.True(t, errors.Is(units[0].Err, bin.ErrDebugDecode))
	var de *DecodeError
	require.ErrorAs(t, units[0].Err, &de)
	assert.Equal(t, ".debug_info", de.Section)

	require.NoError(t, units[1].Err)
	assert.Equal(t, "ok.c", units[1].Name())
}

func TestDecodeUnits_BadVersionContinues(t *testing.T) {
	abbrev := buildAbbrevs(abbrevSpec{code: 1, tag: TagCompileUnit, fields: []abbrevField{
		{attr: AttrName, form: FormString},
	}})
	var v9 buf
	v9.u16(9).u32(0).u8(8)
	var good buf
	good.u16(2).u32(0).u8(4).uleb(1).str("x.c")

	units := DecodeUnits(&Sections{Info: append(unit32(v9.b), unit32(good.b)...), Abbrev: abbrev}, nil, zerolog.Nop())
	require.Len(t, units, 2)
	assert.ErrorIs(t, units[0].Err, bin.ErrDebugDecode)
	require.NoError(t, units[1].Err)
	assert.Equal(t, uint16(2), units[1].Version)
	assert.Equal(t, uint8(4), units[1].AddressSize)
}

func TestDecodeUnits_LengthPastEndStops(t *testing.T) {
	var info buf
	info.u32(0x100).u16(4)

	units := DecodeUnits(&Sections{Info: info.b}, nil, zerolog.Nop())
	require.Len(t, units, 1)
	assert.ErrorIs(t, units[0].Err, bin.ErrDebugDecode)
	assert.Nil(t, units[0].Root)
}

func TestDecodeUnits_Dwarf64(t *testing.T) {
	abbrev := buildAbbrevs(abbrevSpec{code: 1, tag: TagCompileUnit, fields: []abbrevField{
		{attr: AttrName, form: FormString},
		{attr: AttrStmtList, form: FormSecOffset},
	}})
	var body buf
	body.u16(4).u64(0).u8(8).uleb(1).str("big.c").u64(0x40)

	var info buf
	info.u32(0xffffffff).u64(uint64(body.len())).raw(body.b...)

	units := DecodeUnits(&Sections{Info: info.b, Abbrev: abbrev}, nil, zerolog.Nop())
	require.Len(t, units, 1)
	require.NoError(t, units[0].Err)
	assert.True(t, units[0].Is64)
	off, ok := units[0].StmtList()
	require.True(t, ok)
	assert.Equal(t, uint64(0x40), off)
}

func TestLangString(t *testing.T) {
	assert.Equal(t, "C++11", LangCPlusPlus11.String())
	assert.Equal(t, "Rust", LangRust.String())
	assert.Equal(t, "Lang(0x9999)", Lang(0x9999).String())
	assert.True(t, IsCFamily(LangC11))
	assert.True(t, IsCFamily(LangCPlusPlus14))
	assert.False(t, IsCFamily(LangRust))
	assert.False(t, IsCFamily(LangUnknown))
}
