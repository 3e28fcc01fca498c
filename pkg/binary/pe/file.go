// Package pe loads Portable Executable images into the section model. PE carries no DWARF;
// its debug data lives in a PDB named by the CodeView debug directory.
package pe

import (
	dpe "debug/pe"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/binscope/internal/errors"
	"github.com/coral-mesh/binscope/internal/logging"
	"github.com/coral-mesh/binscope/internal/mmap"
	"github.com/coral-mesh/binscope/internal/safe"
	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/compiler"
	"github.com/coral-mesh/binscope/pkg/binary/dwarf"
)

// Options configures a load.
type Options struct {
	Logger        zerolog.Logger
	LoadOffset    uint64
	Comprehensive bool
	FileOptions   *safe.FileOptions
	UseMmap       bool
	// Provider locates the PDB named by the CodeView record. Nil disables PDB lookup.
	Provider DebugInfoProvider
}

// File is a loaded PE image.
type File struct {
	path   string
	opts   Options
	logger zerolog.Logger
	data   *mmap.Reader
	pf     *dpe.File
	err    error

	imageBase uint64
	dirs      []dpe.DataDirectory
	table     *bin.SectionTable

	codeView *bin.Lazy[codeViewResult]
	imports  *bin.Lazy[[]string]
	clr      *bin.Lazy[clrResult]
	pdb      *bin.Lazy[pdbResult]
}

// Open maps path and loads it.
func Open(path string, opts Options) (*File, error) {
	r, err := mmap.Open(path, opts.FileOptions, opts.UseMmap)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", bin.ErrContainerParse, path, err)
		return &File{path: path, opts: opts, logger: opts.Logger, err: err}, err
	}
	return NewFile(r, path, opts)
}

// NewFile loads a PE image from r. The File takes ownership of r.
func NewFile(r *mmap.Reader, path string, opts Options) (*File, error) {
	f := &File{
		path:   path,
		opts:   opts,
		logger: logging.Component(opts.Logger, "pe-loader").With().Str("path", path).Logger(),
		data:   r,
	}
	if err := f.parse(); err != nil {
		f.err = err
		f.logger.Debug().Err(err).Msg("Failed to parse PE container")
		return f, err
	}
	f.initLazy()
	if opts.Comprehensive {
		f.LoadAll()
	}
	return f, nil
}

func (f *File) parse() (err error) {
	defer errors.Recover(&err, bin.ErrContainerParse)

	pf, err := dpe.NewFile(f.data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", bin.ErrContainerParse, f.path, err)
	}
	f.pf = pf

	switch oh := pf.OptionalHeader.(type) {
	case *dpe.OptionalHeader64:
		f.imageBase = oh.ImageBase
		f.dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	case *dpe.OptionalHeader32:
		f.imageBase = uint64(oh.ImageBase)
		f.dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	default:
		return fmt.Errorf("%w: %s: no optional header", bin.ErrContainerParse, f.path)
	}

	sections := make([]bin.Section, 0, len(pf.Sections))
	for i, s := range pf.Sections {
		size := uint64(s.VirtualSize)
		if size == 0 {
			size = uint64(s.Size)
		}
		sections = append(sections, bin.Section{
			Name:       s.Name,
			Index:      i,
			FileOffset: uint64(s.Offset),
			Size:       size,
			Address:    f.imageBase + uint64(s.VirtualAddress),
			Flags:      sectionFlags(s),
			Type:       sectionType(s.Characteristics),
		})
	}
	// Every section is mapped relative to ImageBase, so it plays the role of the ELF
	// code-segment offset.
	f.table = bin.NewSectionTable(sections, f.imageBase, f.opts.LoadOffset)
	return nil
}

func sectionFlags(s *dpe.Section) bin.SectionFlags {
	fl := bin.Allocatable
	c := s.Characteristics
	if c&(dpe.IMAGE_SCN_MEM_EXECUTE|dpe.IMAGE_SCN_CNT_CODE) != 0 {
		fl |= bin.Executable
	}
	if c&dpe.IMAGE_SCN_MEM_WRITE != 0 {
		fl |= bin.Writable
	}
	if s.Size > 0 && c&dpe.IMAGE_SCN_CNT_UNINITIALIZED_DATA == 0 {
		fl |= bin.HasBits
	}
	return fl
}

func sectionType(c uint32) string {
	switch {
	case c&dpe.IMAGE_SCN_CNT_CODE != 0:
		return "code"
	case c&dpe.IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0:
		return "uninitialized"
	case c&dpe.IMAGE_SCN_CNT_INITIALIZED_DATA != 0:
		return "initialized"
	}
	return "other"
}

// Close releases the mapping.
func (f *File) Close() error {
	if f.data == nil {
		return nil
	}
	return f.data.Close()
}

// Path returns the path the file was loaded from.
func (f *File) Path() string { return f.path }

// Format returns bin.FormatPE.
func (f *File) Format() bin.Format { return bin.FormatPE }

// Valid reports whether the container parsed.
func (f *File) Valid() bool { return f.err == nil && f.pf != nil }

// LoadError returns the container parse error, if any.
func (f *File) LoadError() error { return f.err }

// Is64Bit reports whether the image has a PE32+ optional header.
func (f *File) Is64Bit() bool {
	if !f.Valid() {
		return false
	}
	_, ok := f.pf.OptionalHeader.(*dpe.OptionalHeader64)
	return ok
}

// Machine returns the COFF machine type.
func (f *File) Machine() Machine {
	if !f.Valid() {
		return 0
	}
	return Machine(f.pf.Machine)
}

// Subsystem returns the optional header subsystem.
func (f *File) Subsystem() Subsystem {
	switch oh := f.optionalHeader().(type) {
	case *dpe.OptionalHeader64:
		return Subsystem(oh.Subsystem)
	case *dpe.OptionalHeader32:
		return Subsystem(oh.Subsystem)
	}
	return 0
}

// LinkerVersion returns the major and minor linker version.
func (f *File) LinkerVersion() (major, minor uint8) {
	switch oh := f.optionalHeader().(type) {
	case *dpe.OptionalHeader64:
		return oh.MajorLinkerVersion, oh.MinorLinkerVersion
	case *dpe.OptionalHeader32:
		return oh.MajorLinkerVersion, oh.MinorLinkerVersion
	}
	return 0, 0
}

func (f *File) optionalHeader() any {
	if !f.Valid() {
		return nil
	}
	return f.pf.OptionalHeader
}

// ImageBase returns the preferred load address.
func (f *File) ImageBase() uint64 { return f.imageBase }

// SectionTable returns the section model.
func (f *File) SectionTable() *bin.SectionTable { return f.table }

// Sections returns the sections in header order.
func (f *File) Sections() []bin.Section { return f.table.Sections() }

// SectionByName returns the first section called name.
func (f *File) SectionByName(name string) (bin.Section, bool) { return f.table.ByName(name) }

// NormalizeAddress maps an address inside a section to its RVA plus the load offset.
// Other addresses are returned unchanged.
func (f *File) NormalizeAddress(addr uint64) uint64 { return f.table.Normalize(addr) }

// GetSectionAddress returns the normalized address (RVA plus load offset) of the named
// section or bin.AddressNotFound.
func (f *File) GetSectionAddress(name string) uint64 {
	s, ok := f.table.ByName(name)
	if !ok {
		return bin.AddressNotFound
	}
	return s.Address - f.imageBase + f.opts.LoadOffset
}

// ReadSection returns the raw contents of the named section, nil when it is missing or
// has no raw data.
func (f *File) ReadSection(name string) ([]byte, error) {
	if !f.Valid() {
		return nil, f.err
	}
	s, ok := f.table.ByName(name)
	if !ok || !s.HasBits() {
		return nil, nil
	}
	data, err := f.pf.Sections[s.Index].Data()
	if err != nil {
		return nil, fmt.Errorf("read section %s: %w", s.Name, err)
	}
	return data, nil
}

// directory returns the data directory at index i when it is present.
func (f *File) directory(i int) (dpe.DataDirectory, bool) {
	if i >= len(f.dirs) {
		return dpe.DataDirectory{}, false
	}
	d := f.dirs[i]
	return d, d.VirtualAddress != 0 && d.Size != 0
}

// rvaOffset maps an RVA to a file offset through the section containing it.
func (f *File) rvaOffset(rva uint32) (int64, bool) {
	for _, s := range f.pf.Sections {
		if rva < s.VirtualAddress {
			continue
		}
		delta := rva - s.VirtualAddress
		if delta < s.Size && delta < max(s.VirtualSize, s.Size) {
			return int64(s.Offset) + int64(delta), true
		}
	}
	return 0, false
}

// readAt returns n bytes at file offset off, or fewer when the file ends first.
func (f *File) readAt(off int64, n int) ([]byte, error) {
	if off < 0 || off >= int64(f.data.Len()) {
		return nil, fmt.Errorf("offset 0x%x outside file", off)
	}
	if rest := int64(f.data.Len()) - off; int64(n) > rest {
		n = int(rest)
	}
	buf := make([]byte, n)
	if _, err := f.data.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// cstringAt reads a NUL-terminated string at an RVA.
func (f *File) cstringAt(rva uint32) (string, bool) {
	off, ok := f.rvaOffset(rva)
	if !ok {
		return "", false
	}
	buf, err := f.readAt(off, 512)
	if err != nil {
		return "", false
	}
	for i, c := range buf {
		if c == 0 {
			return string(buf[:i]), true
		}
	}
	return "", false
}

// CompilationUnits returns nil: PE images carry no DWARF.
func (f *File) CompilationUnits() []*dwarf.Unit { return nil }

// LinePrograms returns nil.
func (f *File) LinePrograms() []*dwarf.LineProgram { return nil }

// CommonInformationEntries returns nil.
func (f *File) CommonInformationEntries() []*dwarf.CIE { return nil }

// Language is always unknown for PE.
func (f *File) Language() dwarf.Lang { return dwarf.LangUnknown }

// DwarfVersion is always 0 for PE.
func (f *File) DwarfVersion() int { return 0 }

// Compilers reports a single Unknown compiler; PE toolchain fingerprints live in the PDB.
func (f *File) Compilers() []compiler.Info {
	return []compiler.Info{compiler.Fingerprint("", compiler.ELFRules)}
}

// LoadAll computes every lazy cell and logs what could not be decoded.
func (f *File) LoadAll() {
	if !f.Valid() {
		return
	}
	if _, ok := f.CodeView(); !ok {
		f.logger.Debug().Msg("No CodeView debug record")
	}
	f.ImportedLibraries()
	f.CLRHeader()
	if p := f.pdb.Get(); p.err != nil {
		f.logger.Debug().Err(p.err).Msg("PDB not located")
	}
}
