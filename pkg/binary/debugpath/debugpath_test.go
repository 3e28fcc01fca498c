package debugpath

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/dwarf"
)

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func debuglinkPayload(name string, crc uint32) []byte {
	b := append([]byte(name), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return binary.LittleEndian.AppendUint32(b, crc)
}

func dwoUnit(name string) *dwarf.Unit {
	return &dwarf.Unit{Version: 4, Root: &dwarf.Entry{
		Tag: dwarf.TagCompileUnit,
		Attributes: map[dwarf.Attr]dwarf.Value{
			dwarf.AttrGNUDwoName: {Kind: dwarf.KindString, Str: name},
		},
	}}
}

func section(name string, bits bool) bin.Section {
	s := bin.Section{Name: name, Size: 16}
	if bits {
		s.Flags |= bin.HasBits
	} else {
		s.Size = 0
	}
	return s
}

type fakeOpener struct {
	calls []string
	units int
	err   error
}

func (f *fakeOpener) open(path string, depth int) (*Companion, error) {
	f.calls = append(f.calls, path)
	if f.err != nil {
		return nil, f.err
	}
	c := &Companion{}
	for i := 0; i < f.units; i++ {
		c.Units = append(c.Units, &dwarf.Unit{Version: 4})
	}
	return c, nil
}

func TestParseDebuglink(t *testing.T) {
	link, ok := ParseDebuglink(debuglinkPayload("app.debug", 0xdeadbeef), binary.LittleEndian)
	require.True(t, ok)
	assert.Equal(t, "app.debug", link.Name)
	assert.True(t, link.HasCRC)
	assert.Equal(t, uint32(0xdeadbeef), link.CRC)

	link, ok = ParseDebuglink([]byte("abc\x00"), binary.LittleEndian)
	require.True(t, ok)
	assert.Equal(t, "abc", link.Name)
	assert.False(t, link.HasCRC)

	_, ok = ParseDebuglink([]byte{0, 0, 0, 0}, binary.LittleEndian)
	assert.False(t, ok)
}

func TestFileCRC(t *testing.T) {
	p := writeFile(t, filepath.Join(t.TempDir(), "f"), []byte("hello"))
	got, err := FileCRC(p, nil)
	require.NoError(t, err)
	assert.Equal(t, crc32.ChecksumIEEE([]byte("hello")), got)
}

func TestFind_SearchOrder(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	own := t.TempDir()
	writeFile(t, filepath.Join(second, "x", "a.dwo"), []byte("2"))
	writeFile(t, filepath.Join(first, "deep", "er", "a.dwo"), []byte("1"))
	writeFile(t, filepath.Join(own, "a.dwo"), []byte("own"))

	p, ok := Find("a.dwo", []string{filepath.Join(first, "missing"), first, second}, own)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(first, "deep", "er", "a.dwo"), p)

	p, ok = Find("obj/a.dwo", nil, own)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(own, "a.dwo"), p)

	_, ok = Find("b.dwo", []string{first, second}, own)
	assert.False(t, ok)
}

func TestBuildIndex(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFile(t, filepath.Join(first, "a", "lib.debug"), nil)
	writeFile(t, filepath.Join(second, "lib.debug"), nil)
	writeFile(t, filepath.Join(second, "only.dwo"), nil)

	idx, err := BuildIndex(context.Background(), []string{first, second, filepath.Join(first, "nope")})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())

	p, ok := idx.Lookup("lib.debug")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(first, "a", "lib.debug"), p)

	p, ok = idx.Lookup("only.dwo")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(second, "only.dwo"), p)

	_, ok = idx.Lookup("absent")
	assert.False(t, ok)

	var nilIdx *Index
	_, ok = nilIdx.Lookup("lib.debug")
	assert.False(t, ok)
}

func TestBuildIndex_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "f"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BuildIndex(ctx, []string{dir})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve_DwoOnlyFile(t *testing.T) {
	r := &Resolver{Logger: zerolog.Nop()}
	res := r.Resolve(Input{
		Path:     "/x/a.dwo",
		Sections: bin.NewSectionTable([]bin.Section{section(SectionDebugInfoDwo, true)}, 0, 0),
	})
	assert.Equal(t, bin.DebugOnlyFileDwo, res.Type)
	assert.False(t, res.Loaded)
}

func TestResolve_DwoTakesPrecedenceOverDebuglink(t *testing.T) {
	dir := t.TempDir()
	bin0 := writeFile(t, filepath.Join(dir, "prog"), []byte("elf"))
	dwo := writeFile(t, filepath.Join(dir, "search", "prog.dwo"), []byte("dwo"))
	writeFile(t, filepath.Join(dir, "search", "prog.debug"), []byte("dbg"))

	op := &fakeOpener{units: 1}
	r := &Resolver{SearchPaths: []string{filepath.Join(dir, "search")}, Open: op.open, MaxDepth: 2, Logger: zerolog.Nop()}
	res := r.Resolve(Input{
		Path:     bin0,
		Order:    binary.LittleEndian,
		Sections: bin.NewSectionTable([]bin.Section{section(SectionDebuglink, true)}, 0, 0),
		ReadSection: func(string) ([]byte, error) {
			return debuglinkPayload("prog.debug", 0), nil
		},
		Units: []*dwarf.Unit{dwoUnit("prog.dwo")},
	})
	assert.Equal(t, bin.FromDwo, res.Type)
	assert.Equal(t, "prog.dwo", res.Candidate)
	assert.Equal(t, dwo, res.Path)
	assert.True(t, res.Loaded)
	require.NotNil(t, res.Companion)
	assert.Len(t, res.Companion.Units, 1)
	assert.Equal(t, []string{dwo}, op.calls)
}

func TestResolve_DebuglinkToSelf(t *testing.T) {
	dir := t.TempDir()
	self := writeFile(t, filepath.Join(dir, "prog"), []byte("elf"))

	op := &fakeOpener{units: 1}
	r := &Resolver{Open: op.open, MaxDepth: 2, Logger: zerolog.Nop()}
	res := r.Resolve(Input{
		Path:  self,
		Order: binary.LittleEndian,
		Sections: bin.NewSectionTable([]bin.Section{
			section(SectionDebuglink, true),
			section(SectionDebugInfo, true),
		}, 0, 0),
		ReadSection: func(string) ([]byte, error) { return debuglinkPayload("prog", 0), nil },
	})
	assert.Equal(t, bin.FromDebuglinkSelf, res.Type)
	assert.Equal(t, "FromDebuglinkPointingToItself", res.Type.String())
	assert.True(t, res.Loaded)
	assert.Empty(t, op.calls)
}

func TestResolve_MissingCompanion(t *testing.T) {
	dir := t.TempDir()
	self := writeFile(t, filepath.Join(dir, "prog"), []byte("elf"))

	op := &fakeOpener{units: 1}
	r := &Resolver{SearchPaths: []string{filepath.Join(dir, "nowhere")}, Open: op.open, MaxDepth: 2, Logger: zerolog.Nop()}
	res := r.Resolve(Input{
		Path:     self,
		Sections: bin.NewSectionTable(nil, 0, 0),
		Units:    []*dwarf.Unit{dwoUnit("gone.dwo")},
	})
	assert.Equal(t, bin.FromDwo, res.Type)
	assert.False(t, res.Loaded)
	assert.Empty(t, res.Path)
	assert.Empty(t, op.calls)
}

func TestResolve_CompanionWithoutUnits(t *testing.T) {
	dir := t.TempDir()
	self := writeFile(t, filepath.Join(dir, "prog"), []byte("elf"))
	writeFile(t, filepath.Join(dir, "prog.debug"), []byte("dbg"))

	for _, op := range []*fakeOpener{{units: 0}, {err: errors.New("boom")}} {
		r := &Resolver{Open: op.open, MaxDepth: 2, Logger: zerolog.Nop()}
		res := r.Resolve(Input{
			Path:        self,
			Order:       binary.LittleEndian,
			Sections:    bin.NewSectionTable([]bin.Section{section(SectionDebuglink, true)}, 0, 0),
			ReadSection: func(string) ([]byte, error) { return debuglinkPayload("prog.debug", 1), nil },
		})
		assert.Equal(t, bin.FromDebuglink, res.Type)
		assert.False(t, res.Loaded)
		assert.Len(t, op.calls, 1)
	}
}

func TestResolve_DepthLimit(t *testing.T) {
	dir := t.TempDir()
	self := writeFile(t, filepath.Join(dir, "prog"), []byte("elf"))
	writeFile(t, filepath.Join(dir, "prog.dwo"), []byte("dwo"))

	op := &fakeOpener{units: 1}
	r := &Resolver{Open: op.open, MaxDepth: 1, Logger: zerolog.Nop()}
	res := r.Resolve(Input{
		Path:     self,
		Sections: bin.NewSectionTable(nil, 0, 0),
		Units:    []*dwarf.Unit{dwoUnit("prog.dwo")},
		Depth:    1,
	})
	assert.Equal(t, bin.FromDwo, res.Type)
	assert.False(t, res.Loaded)
	assert.Empty(t, op.calls)
}

func TestResolve_UsesIndex(t *testing.T) {
	dir := t.TempDir()
	self := writeFile(t, filepath.Join(dir, "bin", "prog"), []byte("elf"))
	dwo := writeFile(t, filepath.Join(dir, "syms", "prog.dwo"), []byte("dwo"))

	idx, err := BuildIndex(context.Background(), []string{filepath.Join(dir, "syms")})
	require.NoError(t, err)

	op := &fakeOpener{units: 2}
	r := &Resolver{Index: idx, Open: op.open, MaxDepth: 2, Logger: zerolog.Nop()}
	res := r.Resolve(Input{Path: self, Sections: bin.NewSectionTable(nil, 0, 0), Units: []*dwarf.Unit{dwoUnit("prog.dwo")}})
	assert.Equal(t, dwo, res.Path)
	assert.True(t, res.Loaded)
}

func TestResolve_Fingerprint(t *testing.T) {
	core := func(bits bool) []bin.Section {
		return []bin.Section{
			section(SectionInterp, bits),
			section(SectionDynsym, bits),
			section(SectionInit, bits),
			section(SectionData, bits),
		}
	}
	tests := []struct {
		name     string
		sections []bin.Section
		want     bin.DebugFileType
		loaded   bool
	}{
		{"debuglink target", append(core(false), section(SectionDebugInfo, true)), bin.DebugOnlyFileDebuglink, false},
		{"stripped debug file", core(false), bin.DebugOnlyFileStripped, false},
		{"stripped debug file with empty info", append(core(false), section(SectionDebugInfo, false)), bin.DebugOnlyFileStripped, false},
		{"debug included", append(core(true), section(SectionDebugInfo, true)), bin.DebugIncluded, true},
		{"no debug", core(true), bin.NoDebug, false},
		{"partial layout", []bin.Section{section(SectionData, true)}, bin.NoDebug, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Resolver{Logger: zerolog.Nop()}
			res := r.Resolve(Input{Path: "/p", Sections: bin.NewSectionTable(tt.sections, 0, 0)})
			assert.Equal(t, tt.want, res.Type)
			assert.Equal(t, tt.loaded, res.Loaded)
		})
	}
}
