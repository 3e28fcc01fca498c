package pe

import (
	dpe "debug/pe"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/binscope/internal/testutil"
	"github.com/coral-mesh/binscope/internal/testutil/petest"
	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/compiler"
	"github.com/coral-mesh/binscope/pkg/binary/dwarf"
)

const (
	imageBase = 0x140000000

	rdataRVA     = 0x2000
	rsdsOff      = 32
	importsOff   = 128
	kernelOff    = 200
	vcruntimeOff = 216
	clrOff       = 256
)

var diskGUID = [16]byte{
	0x33, 0x22, 0x11, 0x00, 0x55, 0x44, 0x77, 0x66,
	0x88, 0x89, 0x8a, 0x8b, 0x8c, 0x8d, 0x8e, 0x8f,
}

type imageOpts struct {
	codeView bool
	imports  bool
	managed  bool
}

func image(o imageOpts) []byte {
	rdata := make([]byte, 512)
	f := &petest.File{
		Machine:   dpe.IMAGE_FILE_MACHINE_AMD64,
		ImageBase: imageBase,
		Subsystem: dpe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
		Linker:    [2]uint8{14, 29},
		Sections: []petest.Section{
			{Name: ".text", VirtualAddress: 0x1000, Data: make([]byte, 0x40), Characteristics: 0x60000020},
			{Name: ".rdata", VirtualAddress: rdataRVA, Data: rdata, Characteristics: 0x40000040},
			{Name: ".data", VirtualAddress: 0x3000, Data: make([]byte, 16), Characteristics: 0xc0000040},
			{Name: ".bss", VirtualAddress: 0x4000, VirtualSize: 0x100, Characteristics: 0xc0000080},
		},
		Dirs: map[int]petest.Dir{},
	}
	rdataFileOff := f.Offsets()[1]

	if o.codeView {
		cv := petest.CodeView(diskGUID, 42, `C:\build\out\app.pdb`)
		copy(rdata, petest.DebugEntry(2, uint32(len(cv)), rdataRVA+rsdsOff, rdataFileOff+rsdsOff))
		copy(rdata[rsdsOff:], cv)
		f.Dirs[petest.DirDebug] = petest.Dir{RVA: rdataRVA, Size: 28}
	}
	if o.imports {
		desc := petest.ImportDescriptors(rdataRVA+kernelOff, rdataRVA+vcruntimeOff)
		copy(rdata[importsOff:], desc)
		copy(rdata[kernelOff:], "KERNEL32.dll\x00")
		copy(rdata[vcruntimeOff:], "VCRUNTIME140_APP.dll\x00")
		f.Dirs[petest.DirImport] = petest.Dir{RVA: rdataRVA + importsOff, Size: uint32(len(desc))}
	}
	if o.managed {
		copy(rdata[clrOff:], petest.CLRHeader(2, 5, 1))
		f.Dirs[petest.DirCLR] = petest.Dir{RVA: rdataRVA + clrOff, Size: 72}
	}
	return f.Bytes()
}

func load(t *testing.T, dir string, data []byte, opts Options) *File {
	t.Helper()
	opts.Logger = testutil.NewTestLogger(t)
	path := petest.WriteFile(t, dir, "app.exe", data)
	f, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestFile_SectionModel(t *testing.T) {
	f := load(t, t.TempDir(), image(imageOpts{}), Options{})
	require.True(t, f.Valid())

	secs := f.Sections()
	require.Len(t, secs, 4)
	names := make([]string, len(secs))
	for i, s := range secs {
		names[i] = s.Name
		assert.True(t, s.Allocatable(), s.Name)
	}
	assert.Equal(t, []string{".text", ".rdata", ".data", ".bss"}, names)

	text, ok := f.SectionByName(".text")
	require.True(t, ok)
	assert.Equal(t, uint64(imageBase+0x1000), text.Address)
	assert.Equal(t, "AX-B", text.Flags.String())
	assert.Equal(t, "code", text.Type)

	data, _ := f.SectionByName(".data")
	assert.Equal(t, "A-WB", data.Flags.String())

	bss, _ := f.SectionByName(".bss")
	assert.False(t, bss.HasBits())
	assert.Equal(t, uint64(0x100), bss.Size)

	raw, err := f.ReadSection(".bss")
	require.NoError(t, err)
	assert.Nil(t, raw)
	raw, err = f.ReadSection(".text")
	require.NoError(t, err)
	assert.Len(t, raw, 0x40)
}

func TestFile_Headers(t *testing.T) {
	f := load(t, t.TempDir(), image(imageOpts{}), Options{})

	assert.True(t, f.Is64Bit())
	assert.Equal(t, "x64", f.Machine().String())
	assert.Equal(t, "windows-cui", f.Subsystem().String())
	major, minor := f.LinkerVersion()
	assert.Equal(t, uint8(14), major)
	assert.Equal(t, uint8(29), minor)
	assert.Equal(t, uint64(imageBase), f.ImageBase())
	assert.Equal(t, bin.FormatPE, f.Format())
}

func TestFile_NormalizeAddress(t *testing.T) {
	tests := []struct {
		name       string
		loadOffset uint64
		addr       uint64
		want       uint64
	}{
		{"text", 0, imageBase + 0x1010, 0x1010},
		{"bss without raw data", 0, imageBase + 0x4080, 0x4080},
		{"outside every section", 0, 0x1234, 0x1234},
		{"load offset", 0x10000, imageBase + 0x1010, 0x11010},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := load(t, t.TempDir(), image(imageOpts{}), Options{LoadOffset: tt.loadOffset})
			assert.Equal(t, tt.want, f.NormalizeAddress(tt.addr))
		})
	}

	f := load(t, t.TempDir(), image(imageOpts{}), Options{})
	assert.Equal(t, uint64(0x3000), f.GetSectionAddress(".data"))
	assert.Equal(t, uint64(bin.AddressNotFound), f.GetSectionAddress(".reloc"))
}

func TestFile_CodeView(t *testing.T) {
	f := load(t, t.TempDir(), image(imageOpts{codeView: true}), Options{})

	cv, ok := f.CodeView()
	require.True(t, ok)
	assert.Equal(t, `C:\build\out\app.pdb`, cv.PDBPath)
	assert.Equal(t, "app.pdb", cv.PDBName())
	assert.Equal(t, uuid.MustParse("00112233-4455-6677-8889-8a8b8c8d8e8f"), cv.GUID)
	assert.Equal(t, uint32(42), cv.Age)
	assert.Equal(t, "00112233445566778889"+"8A8B8C8D8E8F"+"2A", cv.SymbolKey())

	assert.Equal(t, bin.DebugIncluded, f.DebugFileType())
	assert.False(t, f.DebugFileLoaded(), "no provider configured")
}

func TestFile_NoDebug(t *testing.T) {
	f := load(t, t.TempDir(), image(imageOpts{}), Options{})

	_, ok := f.CodeView()
	assert.False(t, ok)
	assert.Equal(t, bin.NoDebug, f.DebugFileType())
	assert.False(t, f.DebugFileLoaded())
	assert.Empty(t, f.CompilationUnits())
	assert.Empty(t, f.LinePrograms())
	assert.Equal(t, dwarf.LangUnknown, f.Language())
	assert.Equal(t, 0, f.DwarfVersion())

	comps := f.Compilers()
	require.Len(t, comps, 1)
	assert.Equal(t, compiler.Unknown, comps[0].Vendor)
}

func TestFile_LocatePDB(t *testing.T) {
	windows := []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00 rest of the superblock")

	t.Run("next to the binary", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "app.pdb"), windows, 0o644))
		f := load(t, dir, image(imageOpts{codeView: true}), Options{Provider: &SearchProvider{}})

		assert.True(t, f.DebugFileLoaded())
		assert.Equal(t, PdbWindows, f.PdbFileType())
		p, ok := f.PDB()
		require.True(t, ok)
		assert.Equal(t, filepath.Join(dir, "app.pdb"), p.Path)
	})

	t.Run("search path", func(t *testing.T) {
		symbols := testutil.WriteTree(t, map[string][]byte{"nested/app.pdb": []byte("BSJB\x01\x00\x01\x00")})
		f := load(t, t.TempDir(), image(imageOpts{codeView: true}), Options{
			Provider: &SearchProvider{SearchPaths: []string{symbols}},
		})
		assert.True(t, f.DebugFileLoaded())
		assert.Equal(t, PdbPortable, f.PdbFileType())
	})

	t.Run("missing", func(t *testing.T) {
		f := load(t, t.TempDir(), image(imageOpts{codeView: true}), Options{Provider: &SearchProvider{}})
		assert.False(t, f.DebugFileLoaded())
		assert.Equal(t, PdbUnknown, f.PdbFileType())
		assert.Equal(t, bin.DebugIncluded, f.DebugFileType())
	})
}

func TestSearchProvider_NotFound(t *testing.T) {
	p := &SearchProvider{}
	_, err := p.LocatePDB(CodeViewInfo{PDBPath: `D:\x\missing.pdb`}, filepath.Join(t.TempDir(), "a.exe"))
	assert.ErrorIs(t, err, bin.ErrArtifactNotFound)

	_, err = p.LocatePDB(CodeViewInfo{}, "a.exe")
	assert.ErrorIs(t, err, bin.ErrArtifactNotFound)
}

func TestDetectPdbFileType(t *testing.T) {
	dir := testutil.WriteTree(t, map[string][]byte{
		"junk.pdb":  []byte("not a pdb at all"),
		"short.pdb": []byte("BS"),
	})
	assert.Equal(t, PdbUnknown, DetectPdbFileType(filepath.Join(dir, "junk.pdb"), nil))
	assert.Equal(t, PdbUnknown, DetectPdbFileType(filepath.Join(dir, "short.pdb"), nil))
	assert.Equal(t, PdbUnknown, DetectPdbFileType(filepath.Join(dir, "absent.pdb"), nil))
}

func TestFile_Imports(t *testing.T) {
	f := load(t, t.TempDir(), image(imageOpts{imports: true}), Options{})

	assert.Equal(t, []string{"KERNEL32.dll", "VCRUNTIME140_APP.dll"}, f.ImportedLibraries())
	assert.False(t, f.IsManaged())
	assert.False(t, f.IsDotNetNative())
	assert.True(t, f.IsNativeUniversalWindowsPlatform())
}

func TestFile_Managed(t *testing.T) {
	f := load(t, t.TempDir(), image(imageOpts{managed: true, imports: true}), Options{})

	require.True(t, f.IsManaged())
	h, ok := f.CLRHeader()
	require.True(t, ok)
	assert.Equal(t, uint32(72), h.Cb)
	assert.Equal(t, uint16(2), h.MajorRuntimeVersion)
	assert.Equal(t, uint16(5), h.MinorRuntimeVersion)
	assert.True(t, h.ILOnly())
	assert.False(t, f.IsNativeUniversalWindowsPlatform(), "managed images are never native UWP")
}

func TestOpen_Invalid(t *testing.T) {
	dir := t.TempDir()

	bad := make([]byte, 128)
	copy(bad, "MZ")
	binary.LittleEndian.PutUint32(bad[0x3c:], 0x40)
	path := petest.WriteFile(t, dir, "bad.exe", bad)

	f, err := Open(path, Options{Logger: testutil.NewTestLogger(t)})
	require.Error(t, err)
	assert.ErrorIs(t, err, bin.ErrContainerParse)
	assert.False(t, f.Valid())
	assert.Equal(t, err, f.LoadError())
	assert.Empty(t, f.ImportedLibraries())
	_, ok := f.CodeView()
	assert.False(t, ok)

	_, err = Open(filepath.Join(dir, "absent.exe"), Options{})
	assert.ErrorIs(t, err, bin.ErrContainerParse)
}

func TestFile_Comprehensive(t *testing.T) {
	f := load(t, t.TempDir(), image(imageOpts{codeView: true, imports: true}), Options{Comprehensive: true})
	assert.True(t, f.codeView.Computed())
	assert.True(t, f.imports.Computed())
	assert.True(t, f.pdb.Computed())
}
