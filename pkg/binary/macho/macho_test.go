package macho

import (
	"debug/macho"
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/binscope/internal/testutil"
	"github.com/coral-mesh/binscope/internal/testutil/elftest"
	"github.com/coral-mesh/binscope/internal/testutil/machotest"
	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/compiler"
	"github.com/coral-mesh/binscope/pkg/binary/dwarf"
)

var testUUID = uuid.MustParse("0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0")

func image(withDWARF bool) *machotest.File {
	f := &machotest.File{
		Cpu:  macho.CpuAmd64,
		Type: macho.TypeExec,
		Segments: []machotest.Segment{
			{Name: "__TEXT", Addr: 0x100000000, Prot: 5, Sections: []machotest.Section{
				{Name: "__text", Addr: 0x100001000, Data: make([]byte, 0x40), Flags: sectionPureInstruction | sectionSomeInstruction},
			}},
			{Name: "__DATA", Addr: 0x100002000, Prot: 3, Sections: []machotest.Section{
				{Name: "__data", Addr: 0x100002000, Data: make([]byte, 8)},
				{Name: "__bss", Addr: 0x100002008, Size: 0x10, Flags: sectionZerofill, Zerofill: true},
			}},
		},
		UUID:   testUUID,
		Build:  machotest.BuildVersion{Platform: 1, MinOS: 0x000b0000, SDK: 0x000e0200},
		Dylibs: []string{"/usr/lib/libSystem.B.dylib"},
	}
	if withDWARF {
		info, abbrev := elftest.DebugInfo(elftest.Unit{
			Name:        "main.c",
			Producer:    "GNU C17 12.1.0",
			Language:    uint16(dwarf.LangC99),
			HasStmtList: true,
			Subprograms: []elftest.Subprogram{{Name: "main", LowPC: 0x100001000, Length: 0x20}},
		})
		line := elftest.LineProgram("main.c", "", 0x100001000, []elftest.LineStep{{LineDelta: 4}}, 0x20)
		f.Segments = append(f.Segments, machotest.Segment{Name: "__DWARF", Addr: 0x100003000, Sections: []machotest.Section{
			{Name: "__debug_info", Addr: 0x100003000, Data: info},
			{Name: "__debug_abbrev", Addr: 0x100003400, Data: abbrev},
			{Name: "__debug_line", Addr: 0x100003800, Data: line},
		}})
	}
	return f
}

func load(t *testing.T, data []byte) (*File, error) {
	t.Helper()
	path := machotest.WriteFile(t, t.TempDir(), "bin", data)
	f, err := Open(path, Options{Logger: testutil.NewTestLogger(t)})
	t.Cleanup(func() { _ = f.Close() })
	return f, err
}

func TestMagics(t *testing.T) {
	order, ok := IsFatMagic([]byte{0xca, 0xfe, 0xba, 0xbe})
	assert.True(t, ok)
	assert.Equal(t, binary.BigEndian, order)
	order, ok = IsFatMagic([]byte{0xbe, 0xba, 0xfe, 0xca})
	assert.True(t, ok)
	assert.Equal(t, binary.LittleEndian, order)
	_, ok = IsFatMagic([]byte{0xca, 0xfe, 0xba, 0xbf})
	assert.True(t, ok)

	assert.True(t, IsThinMagic([]byte{0xcf, 0xfa, 0xed, 0xfe}))
	assert.True(t, IsThinMagic([]byte{0xfe, 0xed, 0xfa, 0xce}))
	assert.False(t, IsThinMagic([]byte{0x7f, 'E', 'L', 'F'}))
	assert.False(t, IsThinMagic([]byte{0xcf}))
}

func TestThin_SectionModel(t *testing.T) {
	f, err := load(t, image(false).Bytes())
	require.NoError(t, err)
	require.True(t, f.Valid())
	assert.False(t, f.IsFat())
	require.Len(t, f.Slices(), 1)

	s := f.Slices()[0]
	assert.Equal(t, "x86_64", s.CPU())
	assert.True(t, s.Is64Bit())
	assert.True(t, f.Is64Bit())

	var names []string
	for _, sec := range f.Sections() {
		names = append(names, sec.Name)
	}
	assert.Equal(t, []string{"__text", "__data", "__bss"}, names)

	text, ok := s.SectionByName("__text")
	require.True(t, ok)
	assert.Equal(t, bin.Allocatable|bin.Executable|bin.HasBits, text.Flags)
	assert.Equal(t, "S_REGULAR", text.Type)

	bss, _ := s.SectionByName("__bss")
	assert.False(t, bss.HasBits())
	assert.True(t, bss.Flags&bin.Writable != 0)
	assert.Equal(t, "S_ZEROFILL", bss.Type)

	require.Len(t, s.Segments(), 2)
	assert.Equal(t, "__TEXT", s.Segments()[0].Name)
	assert.Equal(t, bin.PermRead|bin.PermExecute, s.Segments()[0].Permissions)
	assert.Equal(t, bin.PermRead|bin.PermWrite, s.Segments()[1].Permissions)

	data, err := s.ReadSection("__bss")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestThin_Normalize(t *testing.T) {
	f, err := load(t, image(false).Bytes())
	require.NoError(t, err)
	s := f.Slices()[0]

	assert.Equal(t, uint64(0x1010), s.NormalizeAddress(0x100001010))
	assert.Equal(t, uint64(0x1010), f.NormalizeAddress(0x100001010))

	dataSec, _ := s.SectionByName("__data")
	assert.Equal(t, dataSec.FileOffset+4, s.NormalizeAddress(0x100002004), "normalized through the __DATA segment")

	n, ok := s.TryNormalize(0x200000000)
	assert.False(t, ok)
	assert.Equal(t, uint64(0x200000000), n)
	assert.Equal(t, uint64(0x200000000), f.NormalizeAddress(0x200000000))

	text, _ := s.SectionByName("__text")
	assert.Equal(t, text.FileOffset+0x100000000, s.GetSectionAddress("__text"))
	assert.Equal(t, uint64(bin.AddressNotFound), s.GetSectionAddress("__eh_frame"))
}

func TestThin_LoadCommands(t *testing.T) {
	f, err := load(t, image(false).Bytes())
	require.NoError(t, err)
	s := f.Slices()[0]

	id, ok := s.UUID()
	require.True(t, ok)
	assert.Equal(t, testUUID, id)

	bv, ok := s.BuildVersion()
	require.True(t, ok)
	assert.Equal(t, BuildVersion{Platform: PlatformMacOS, MinOS: "11.0.0", SDK: "14.2.0"}, bv)
	assert.Equal(t, "macOS", bv.Platform.String())

	assert.Equal(t, []Dylib{{
		Kind:                 DylibLoad,
		Name:                 "/usr/lib/libSystem.B.dylib",
		CurrentVersion:       "1.0.0",
		CompatibilityVersion: "1.0.0",
	}}, s.Dylibs())
	assert.Empty(t, s.Dylinker())
}

func TestThin_DWARF(t *testing.T) {
	f, err := load(t, image(true).Bytes())
	require.NoError(t, err)
	s := f.Slices()[0]

	info, ok := s.SectionByName("__debug_info")
	require.True(t, ok)
	assert.False(t, info.Allocatable())

	assert.Equal(t, bin.DebugIncluded, f.DebugFileType())
	assert.True(t, f.DebugFileLoaded())
	assert.Equal(t, 4, f.DwarfVersion())
	assert.Equal(t, dwarf.LangC99, f.Language())

	units := f.CompilationUnits()
	require.Len(t, units, 1)
	require.Len(t, units[0].Root.Children, 1)
	low, _ := units[0].Root.Children[0].Attr(dwarf.AttrLowpc)
	assert.Equal(t, uint64(0x1000), low.Uint)

	progs := f.LinePrograms()
	require.Len(t, progs, 1)
	require.NotEmpty(t, progs[0].Rows)
	assert.Equal(t, uint64(0x1000), progs[0].Rows[0].Address)
	assert.Equal(t, uint64(5), progs[0].Rows[0].Line)
	assert.Equal(t, []string{"main.c"}, s.SourceFiles())

	compilers := f.Compilers()
	require.Len(t, compilers, 1)
	assert.Equal(t, compiler.GCC, compilers[0].Vendor)
	assert.Equal(t, "12.1.0", compilers[0].Version.String())
}

func TestThin_NoDWARF(t *testing.T) {
	f, err := load(t, image(false).Bytes())
	require.NoError(t, err)

	assert.Equal(t, bin.NoDebug, f.DebugFileType())
	assert.False(t, f.DebugFileLoaded())
	assert.Equal(t, dwarf.LangUnknown, f.Language())
	assert.Zero(t, f.DwarfVersion())
	assert.Empty(t, f.CommonInformationEntries())

	compilers := f.Compilers()
	require.Len(t, compilers, 1)
	assert.Equal(t, compiler.Unknown, compilers[0].Vendor)
}

func TestFat(t *testing.T) {
	arm := image(false)
	arm.Cpu = macho.CpuArm64
	data := machotest.Fat(
		machotest.Arch{Cpu: macho.CpuAmd64, Data: image(true).Bytes()},
		machotest.Arch{Cpu: macho.CpuArm64, Data: arm.Bytes()},
	)
	f, err := load(t, data)
	require.NoError(t, err)
	assert.True(t, f.IsFat())
	require.Len(t, f.Slices(), 2)

	assert.Equal(t, "x86_64", f.Slices()[0].CPU())
	assert.Equal(t, "arm64", f.Slices()[1].CPU())
	assert.Equal(t, 1, f.Slices()[1].Index())

	assert.Len(t, f.CompilationUnits(), 1)
	assert.Equal(t, dwarf.LangC99, f.Language())
	assert.Equal(t, bin.DebugIncluded, f.DebugFileType())
	assert.Equal(t, bin.NoDebug, f.Slices()[1].DebugFileType())
	assert.Len(t, f.Compilers(), 2)
	assert.Len(t, f.Sections(), 6+3)
}

func TestFat_RejectsJavaClass(t *testing.T) {
	class := []byte{0xca, 0xfe, 0xba, 0xbe, 0x00, 0x00, 0x00, 0x34, 0x00, 0x1d}
	f, err := load(t, class)
	require.Error(t, err)
	assert.ErrorIs(t, err, bin.ErrFormatNotRecognized)
	assert.False(t, f.Valid())
}

func TestOpen_Invalid(t *testing.T) {
	f, err := load(t, []byte{0xcf, 0xfa, 0xed, 0xfe, 1, 2, 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, bin.ErrContainerParse)
	assert.False(t, f.Valid())
	assert.Equal(t, err, f.LoadError())
	assert.Empty(t, f.CompilationUnits())
	assert.Equal(t, bin.Unknown, f.DebugFileType())

	truncated := machotest.Fat(machotest.Arch{Cpu: macho.CpuAmd64, Data: image(false).Bytes()})
	_, err = load(t, truncated[:len(truncated)-16])
	assert.ErrorIs(t, err, bin.ErrContainerParse)
}

func TestComprehensive(t *testing.T) {
	path := machotest.WriteFile(t, t.TempDir(), "bin", image(true).Bytes())
	f, err := Open(path, Options{Comprehensive: true})
	require.NoError(t, err)
	defer f.Close()

	s := f.Slices()[0]
	assert.True(t, s.lazy.units.Computed())
	assert.True(t, s.lazy.lines.Computed())
	assert.True(t, s.lazy.compilers.Computed())
}
