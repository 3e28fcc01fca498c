package dwarf

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stdOpcodeLengths = []byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1}

func lineProgram(version uint16, preHeader, hdr, prog []byte) []byte {
	var b buf
	b.u32(uint32(2 + len(preHeader) + 4 + len(hdr) + len(prog)))
	b.u16(version).raw(preHeader...)
	b.u32(uint32(len(hdr))).raw(hdr...).raw(prog...)
	return b.b
}

func TestDecodeLineProgram_Version4(t *testing.T) {
	var hdr buf
	hdr.u8(1).u8(1).u8(1).u8(0xfb).u8(14).u8(13).raw(stdOpcodeLengths...)
	hdr.str("inc").u8(0)
	hdr.str("a.c").uleb(0).uleb(0).uleb(0)
	hdr.str("b.h").uleb(1).uleb(0).uleb(120)
	hdr.u8(0)

	var prog buf
	prog.u8(0).uleb(9).u8(lneSetAddress).u64(0x1000)
	prog.u8(19) // address +0, line +1
	prog.u8(lnsAdvancePC).uleb(4)
	prog.u8(lnsSetFile).uleb(2)
	prog.u8(lnsAdvanceLine).sleb(3)
	prog.u8(lnsSetColumn).uleb(7)
	prog.u8(lnsCopy)
	prog.u8(lnsConstAddPC)
	prog.u8(lnsFixedAdvancePC).u16(3)
	prog.u8(lnsNegateStmt)
	prog.u8(0).uleb(1).u8(lneEndSequence)

	sec := &Sections{Line: lineProgram(4, nil, hdr.b, prog.b)}
	p, err := DecodeLineProgram(sec, 0, nil, func(a uint64) uint64 { return a - 0x1000 })
	require.NoError(t, err)
	assert.Equal(t, uint16(4), p.Version)
	assert.Equal(t, []string{"", "inc"}, p.Dirs)

	require.Len(t, p.Files, 2)
	assert.Equal(t, "a.c", p.Files[0].Path)
	assert.Equal(t, "inc/b.h", p.Files[1].Path)
	assert.Equal(t, uint64(120), p.Files[1].Size)

	want := []LineRow{
		{Address: 0x0, File: 0, Line: 2, IsStmt: true},
		{Address: 0x4, File: 1, Line: 5, Column: 7, IsStmt: true},
		{Address: 0x18, File: 1, Line: 5, Column: 7, IsStmt: false, EndSequence: true},
	}
	assert.Equal(t, want, p.Rows)
	assert.Equal(t, "b.h", p.FileOf(p.Rows[1]).Name)
}

func TestDecodeLineProgram_Version5(t *testing.T) {
	lineStr := newStrtab()
	srcOff := lineStr.add("/src")
	incOff := lineStr.add("inc")

	md5 := make([]byte, 16)
	md5[0] = 0xaa

	var hdr buf
	hdr.u8(1).u8(1).u8(1).u8(0xfb).u8(14).u8(13).raw(stdOpcodeLengths...)
	hdr.u8(1).uleb(lnctPath).uleb(uint64(FormLineStrp))
	hdr.uleb(2).u32(srcOff).u32(incOff)
	hdr.u8(3).uleb(lnctPath).uleb(uint64(FormString)).
		uleb(lnctDirectoryIndex).uleb(uint64(FormUdata)).
		uleb(lnctMD5).uleb(uint64(FormData16))
	hdr.uleb(2)
	hdr.str("a.c").uleb(0).raw(md5...)
	hdr.str("b.h").uleb(1).raw(md5...)

	var prog buf
	prog.u8(0).uleb(9).u8(lneSetAddress).u64(0x2000)
	prog.u8(lnsCopy)
	prog.u8(lnsSetFile).uleb(0)
	prog.u8(19)
	prog.u8(0).uleb(2).u8(lneSetDiscriminator).uleb(4)
	prog.u8(33) // address +1, line +1
	prog.u8(0).uleb(1).u8(lneEndSequence)

	sec := &Sections{
		Line:    lineProgram(5, []byte{8, 0}, hdr.b, prog.b),
		LineStr: lineStr.b,
	}
	p, err := DecodeLineProgram(sec, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), p.AddressSize)
	require.Len(t, p.Files, 2)
	assert.Equal(t, "/src/a.c", p.Files[0].Path)
	assert.Equal(t, "/src", p.Files[0].Dir)
	assert.Equal(t, "inc/b.h", p.Files[1].Path)
	assert.Equal(t, md5, p.Files[1].MD5)

	require.Len(t, p.Rows, 4)
	assert.Equal(t, "b.h", p.FileOf(p.Rows[0]).Name)
	assert.Equal(t, uint64(1), p.Rows[0].Line)
	assert.Equal(t, "a.c", p.FileOf(p.Rows[1]).Name)
	assert.Equal(t, uint64(2), p.Rows[1].Line)
	assert.Equal(t, uint64(0x2001), p.Rows[2].Address)
	assert.Equal(t, uint64(4), p.Rows[2].Discriminator)
	assert.Equal(t, uint64(0), p.Rows[3].Discriminator)
	assert.True(t, p.Rows[3].EndSequence)
}

func TestDecodeLineProgram_Errors(t *testing.T) {
	_, err := DecodeLineProgram(&Sections{Line: []byte{1, 2}}, 8, nil, nil)
	assert.Error(t, err)

	bad := lineProgram(1, nil, []byte{1, 1, 1, 0xfb, 14, 13}, nil)
	_, err = DecodeLineProgram(&Sections{Line: bad}, 0, nil, nil)
	assert.Error(t, err)

	noRange := lineProgram(3, nil, []byte{1, 1, 0xfb, 0, 13}, nil)
	_, err = DecodeLineProgram(&Sections{Line: noRange}, 0, nil, nil)
	assert.Error(t, err)
}

func TestLinePrograms_SharedOffsetDecodedOnce(t *testing.T) {
	var hdr buf
	hdr.u8(1).u8(1).u8(1).u8(0xfb).u8(14).u8(13).raw(stdOpcodeLengths...)
	hdr.u8(0).u8(0)
	var prog buf
	prog.u8(0).uleb(1).u8(lneEndSequence)

	root := func() *Entry {
		return &Entry{Tag: TagCompileUnit, Attributes: map[Attr]Value{
			AttrStmtList: {Kind: KindSecOffset, Uint: 0},
			AttrName:     {Kind: KindString, Str: "m.c"},
			AttrCompDir:  {Kind: KindString, Str: "/w"},
		}}
	}
	units := []*Unit{{AddressSize: 8, Root: root()}, {AddressSize: 8, Root: root()}, {}}

	progs := LinePrograms(&Sections{Line: lineProgram(4, nil, hdr.b, prog.b)}, units, nil, zerolog.Nop())
	require.Len(t, progs, 1)
	require.Len(t, progs[0].Files, 1)
	assert.Equal(t, "/w/m.c", progs[0].Files[0].Path)
	require.Len(t, progs[0].Rows, 1)
	assert.Equal(t, 0, progs[0].Rows[0].File)
}
