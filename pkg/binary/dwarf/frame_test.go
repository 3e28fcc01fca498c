package dwarf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bin "github.com/coral-mesh/binscope/pkg/binary"
)

func TestParseEHFrame(t *testing.T) {
	const ehAddr = 0x5000
	var sec buf

	var cie buf
	cie.u32(0).u8(1).str("zR").uleb(1).sleb(-8).u8(16).uleb(1).u8(0x1b).raw(0x0c, 0x07, 0x08)
	sec.u32(uint32(cie.len())).raw(cie.b...)

	fdeStart := sec.len()
	idPos := fdeStart + 4
	locPos := idPos + 4
	var fde buf
	fde.u32(uint32(idPos))
	fde.u32(uint32(int32(0x1000 - (ehAddr + locPos))))
	fde.u32(0x40)
	fde.uleb(0)
	fde.raw(0x41, 0x0e, 0x10)
	sec.u32(uint32(fde.len())).raw(fde.b...)
	sec.u32(0)
	// Bytes after the terminator are ignored.
	sec.raw(0xff, 0xff)

	tab := ParseEHFrame(sec.b, FrameInput{
		ByteOrder:      binary.LittleEndian,
		AddressSize:    8,
		EHFrameAddress: ehAddr,
		TextAddress:    NotFound,
		DataAddress:    NotFound,
	})
	require.Empty(t, tab.Errs)
	require.Len(t, tab.CIEs, 1)

	c := tab.CIEs[0]
	assert.Equal(t, "zR", c.Augmentation)
	assert.Equal(t, uint64(1), c.CodeAlignment)
	assert.Equal(t, int64(-8), c.DataAlignment)
	assert.Equal(t, uint64(16), c.ReturnAddressRegister)
	assert.Equal(t, uint8(0x1b), c.FDEEncoding)
	assert.Equal(t, []byte{0x0c, 0x07, 0x08}, c.InitialInstructions)

	require.Len(t, c.FDEs, 1)
	f := c.FDEs[0]
	assert.Equal(t, uint64(fdeStart), f.Offset)
	assert.Equal(t, uint64(0x1000), f.InitialLocation)
	assert.Equal(t, uint64(0x40), f.AddressRange)
	assert.Equal(t, []byte{0x41, 0x0e, 0x10}, f.Instructions)
	assert.True(t, f.Contains(0x103f))
	assert.False(t, f.Contains(0x1040))
	assert.Same(t, c, f.CIE)
}

func TestParseEHFrame_Augmentations(t *testing.T) {
	var sec buf
	var cie buf
	// zPLR: personality udata4 absolute, LSDA udata4, FDE udata4.
	cie.u32(0).u8(1).str("zPLRS").uleb(4).sleb(-4).u8(8)
	cie.uleb(1 + 4 + 1 + 1).u8(0x03).u32(0xabc).u8(0x03).u8(0x03)
	sec.u32(uint32(cie.len())).raw(cie.b...)

	idPos := sec.len() + 4
	var fde buf
	fde.u32(uint32(idPos)).u32(0x8000).u32(0x10).uleb(4).u32(0x9000)
	sec.u32(uint32(fde.len())).raw(fde.b...)

	tab := ParseEHFrame(sec.b, FrameInput{AddressSize: 4, EHFrameAddress: NotFound, TextAddress: NotFound, DataAddress: NotFound})
	require.Empty(t, tab.Errs)
	require.Len(t, tab.CIEs, 1)
	c := tab.CIEs[0]
	assert.Equal(t, uint64(0xabc), c.Personality)
	assert.True(t, c.SignalFrame)
	assert.Equal(t, uint8(0x03), c.LSDAEncoding)
	require.Len(t, c.FDEs, 1)
	assert.Equal(t, uint64(0x8000), c.FDEs[0].InitialLocation)
	assert.Equal(t, uint64(0x9000), c.FDEs[0].LSDA)
}

func TestParseDebugFrame_FDEBeforeCIE(t *testing.T) {
	var fde buf
	fde.u32(0) // patched below
	fde.u64(0x3000).u64(0x20).raw(0x41)
	var sec buf
	sec.u32(uint32(fde.len())).raw(fde.b...)

	cieOff := sec.len()
	var cie buf
	cie.u32(0xffffffff).u8(3).str("").uleb(1).sleb(-8).uleb(16).raw(0x0c, 0x07, 0x08)
	sec.u32(uint32(cie.len())).raw(cie.b...)
	binary.LittleEndian.PutUint32(sec.b[4:], uint32(cieOff))

	tab := ParseDebugFrame(sec.b, FrameInput{AddressSize: 8})
	require.Empty(t, tab.Errs)
	require.Len(t, tab.CIEs, 1)
	assert.Equal(t, uint64(cieOff), tab.CIEs[0].Offset)

	fdes := tab.FDEs()
	require.Len(t, fdes, 1)
	assert.True(t, fdes[0].Contains(0x3010))
	assert.Equal(t, []byte{0x41}, fdes[0].Instructions)
}

func TestParseDebugFrame_Version4AddressSize(t *testing.T) {
	var sec buf
	var cie buf
	cie.u32(0xffffffff).u8(4).str("").u8(4).u8(0).uleb(1).sleb(-4).uleb(8)
	sec.u32(uint32(cie.len())).raw(cie.b...)
	var fde buf
	fde.u32(0).u32(0x400).u32(0x8)
	sec.u32(uint32(fde.len())).raw(fde.b...)

	tab := ParseDebugFrame(sec.b, FrameInput{AddressSize: 8})
	require.Empty(t, tab.Errs)
	require.Len(t, tab.CIEs, 1)
	assert.Equal(t, uint8(4), tab.CIEs[0].AddressSize)
	require.Len(t, tab.CIEs[0].FDEs, 1)
	assert.Equal(t, uint64(0x400), tab.CIEs[0].FDEs[0].InitialLocation)
}

func TestParseEHFrame_BadEntryIsolated(t *testing.T) {
	var sec buf
	var cie buf
	cie.u32(0).u8(1).str("zR").uleb(1).sleb(-8).u8(16).uleb(1).u8(0x03)
	sec.u32(uint32(cie.len())).raw(cie.b...)

	// An FDE whose CIE pointer lands in the middle of the first entry.
	idPos := sec.len() + 4
	var bad buf
	bad.u32(uint32(idPos - 2)).u32(0x1).u32(0x1).uleb(0)
	sec.u32(uint32(bad.len())).raw(bad.b...)

	idPos = sec.len() + 4
	var good buf
	good.u32(uint32(idPos)).u32(0x2000).u32(0x10).uleb(0)
	sec.u32(uint32(good.len())).raw(good.b...)

	tab := ParseEHFrame(sec.b, FrameInput{AddressSize: 8, EHFrameAddress: NotFound, TextAddress: NotFound, DataAddress: NotFound})
	require.Len(t, tab.Errs, 1)
	assert.ErrorIs(t, tab.Errs[0], bin.ErrDebugDecode)
	require.Len(t, tab.FDEs(), 1)
	assert.Equal(t, uint64(0x2000), tab.FDEs()[0].InitialLocation)
}

func TestPointerEncodings(t *testing.T) {
	tests := []struct {
		name string
		enc  uint8
		data []byte
		in   FrameInput
		want uint64
	}{
		{"udata2", ehPtrUData2, []byte{0x34, 0x12}, FrameInput{AddressSize: 8}, 0x1234},
		{"sdata2 negative", ehPtrSData2, []byte{0xfe, 0xff}, FrameInput{AddressSize: 8}, ^uint64(1)},
		{"uleb", ehPtrULEB, []byte{0xe5, 0x8e, 0x26}, FrameInput{AddressSize: 8}, 624485},
		{"sleb", ehPtrSLEB, []byte{0x7f}, FrameInput{AddressSize: 8}, ^uint64(0)},
		{"textrel", ehPtrTextRel | ehPtrUData4, []byte{0x10, 0, 0, 0}, FrameInput{AddressSize: 8, TextAddress: 0x400000}, 0x400010},
		{"datarel", ehPtrDataRel | ehPtrSData4, []byte{0xf0, 0xff, 0xff, 0xff}, FrameInput{AddressSize: 8, DataAddress: 0x600000}, 0x5ffff0},
		{"textrel missing", ehPtrTextRel | ehPtrUData4, []byte{0x10, 0, 0, 0}, FrameInput{AddressSize: 8, TextAddress: NotFound}, 0x10},
		{"pcrel 32-bit sign extended", ehPtrPCRel | ehPtrAbs, []byte{0xff, 0xff, 0xff, 0xff}, FrameInput{AddressSize: 4, EHFrameAddress: 0x100}, 0xff},
		{"omit", ehPtrOmit, nil, FrameInput{AddressSize: 8}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			in.ByteOrder = binary.LittleEndian
			p := &frameParser{in: in}
			r := newReader("test", binary.LittleEndian, tt.data, 0)
			got := p.pointer(r, tt.enc)
			require.NoError(t, r.err)
			assert.Equal(t, tt.want, got)
		})
	}
}
