// Package elf loads ELF binaries into the format-agnostic section model and exposes their
// DWARF, CFI and split-debug companions.
package elf

import (
	delf "debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/binscope/internal/errors"
	"github.com/coral-mesh/binscope/internal/logging"
	"github.com/coral-mesh/binscope/internal/mmap"
	"github.com/coral-mesh/binscope/internal/safe"
	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/compiler"
	"github.com/coral-mesh/binscope/pkg/binary/debugpath"
	"github.com/coral-mesh/binscope/pkg/binary/dwarf"
)

// Options configures a load.
type Options struct {
	Logger zerolog.Logger
	// Resolver locates DWO and debuglink companions. Nil only classifies the file.
	Resolver *debugpath.Resolver
	// LoadOffset is the runtime load bias applied to allocatable sections.
	LoadOffset uint64
	// Comprehensive decodes every lazy cell at load time.
	Comprehensive bool
	// Depth is the companion recursion depth; the primary binary is 0.
	Depth       int
	FileOptions *safe.FileOptions
	UseMmap     bool
}

// File is a loaded ELF binary. Debug accessors decode on first use and are safe for
// concurrent callers.
type File struct {
	path   string
	opts   Options
	logger zerolog.Logger
	data   *mmap.Reader
	ef     *delf.File
	err    error

	// namesErr is set when section names could not be resolved; only name lookups fail.
	namesErr error

	table    *bin.SectionTable
	segments []bin.Segment

	dwarfSections *bin.Lazy[*dwarf.Sections]
	ownUnits      *bin.Lazy[[]*dwarf.Unit]
	debug         *bin.Lazy[debugpath.Result]
	units         *bin.Lazy[[]*dwarf.Unit]
	lines         *bin.Lazy[[]*dwarf.LineProgram]
	frames        *bin.Lazy[frameTables]
	compilers     *bin.Lazy[[]compiler.Info]
	symbols       *bin.Lazy[symbolTables]
	btf           *bin.Lazy[btfResult]
}

// Open maps path and loads it. On failure the returned File is invalid and carries the
// same error as LoadError.
func Open(path string, opts Options) (*File, error) {
	r, err := mmap.Open(path, opts.FileOptions, opts.UseMmap)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", bin.ErrContainerParse, path, err)
		return &File{path: path, opts: opts, logger: opts.Logger, err: err}, err
	}
	return NewFile(r, path, opts)
}

// NewFile loads an ELF image from r. The File takes ownership of r.
func NewFile(r *mmap.Reader, path string, opts Options) (*File, error) {
	f := &File{
		path:   path,
		opts:   opts,
		logger: logging.Component(opts.Logger, "elf-loader").With().Str("path", path).Logger(),
		data:   r,
	}
	if err := f.parse(); err != nil {
		f.err = err
		f.logger.Debug().Err(err).Msg("Failed to parse ELF container")
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

	ef, err := delf.NewFile(f.data)
	if err != nil && isSectionNameError(err) {
		f.namesErr = fmt.Errorf("%w: %s: section names: %v", bin.ErrContainerParse, f.path, err)
		f.logger.Warn().Err(err).Msg("Section names unavailable, loading headers without them")
		var r io.ReaderAt
		if r, err = withoutSectionNames(f.data); err == nil {
			ef, err = delf.NewFile(r)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", bin.ErrContainerParse, f.path, err)
	}
	f.ef = ef

	var codeSegmentOffset uint64
	for _, p := range ef.Progs {
		if p.Type == delf.PT_PHDR {
			codeSegmentOffset = p.Vaddr - p.Off
			break
		}
	}

	sections := make([]bin.Section, 0, len(ef.Sections))
	for i, s := range ef.Sections {
		if s.Type == delf.SHT_NULL {
			continue
		}
		sections = append(sections, bin.Section{
			Name:       s.Name,
			Index:      i,
			FileOffset: s.Offset,
			Size:       s.Size,
			Address:    s.Addr,
			Flags:      sectionFlags(s),
			Type:       s.Type.String(),
		})
	}
	f.table = bin.NewSectionTable(sections, codeSegmentOffset, f.opts.LoadOffset)

	for _, p := range ef.Progs {
		f.segments = append(f.segments, bin.Segment{
			Type:        p.Type.String(),
			Address:     p.Vaddr,
			FileOffset:  p.Off,
			Size:        p.Memsz,
			FileSize:    p.Filesz,
			Permissions: permissions(p.Flags),
		})
	}
	return nil
}

func sectionFlags(s *delf.Section) bin.SectionFlags {
	var fl bin.SectionFlags
	if s.Flags&delf.SHF_ALLOC != 0 {
		fl |= bin.Allocatable
	}
	if s.Flags&delf.SHF_EXECINSTR != 0 {
		fl |= bin.Executable
	}
	if s.Flags&delf.SHF_WRITE != 0 {
		fl |= bin.Writable
	}
	if s.Type != delf.SHT_NOBITS {
		fl |= bin.HasBits
	}
	return fl
}

func permissions(pf delf.ProgFlag) bin.Permissions {
	var p bin.Permissions
	if pf&delf.PF_R != 0 {
		p |= bin.PermRead
	}
	if pf&delf.PF_W != 0 {
		p |= bin.PermWrite
	}
	if pf&delf.PF_X != 0 {
		p |= bin.PermExecute
	}
	return p
}

// Close releases the mapping. Accessors whose cells were not computed yet return empty
// results afterwards.
func (f *File) Close() error {
	if f.data == nil {
		return nil
	}
	return f.data.Close()
}

// Path returns the path the file was loaded from.
func (f *File) Path() string { return f.path }

// Format returns bin.FormatELF.
func (f *File) Format() bin.Format { return bin.FormatELF }

// Valid reports whether the container parsed.
func (f *File) Valid() bool { return f.err == nil && f.ef != nil }

// LoadError returns the container parse error, if any.
func (f *File) LoadError() error { return f.err }

// SectionNamesError returns the error that left every section unnamed, or nil. Such a file
// is still valid; lookups by name find nothing and ReadSection returns this error.
func (f *File) SectionNamesError() error { return f.namesErr }

// Is64Bit reports whether the file is ELFCLASS64.
func (f *File) Is64Bit() bool {
	return f.Valid() && f.ef.Class == delf.ELFCLASS64
}

// Machine returns the target architecture.
func (f *File) Machine() delf.Machine {
	if !f.Valid() {
		return delf.EM_NONE
	}
	return f.ef.Machine
}

// ByteOrder returns the file's byte order, little-endian for invalid files.
func (f *File) ByteOrder() binary.ByteOrder {
	if !f.Valid() {
		return binary.LittleEndian
	}
	return f.ef.ByteOrder
}

func (f *File) addressSize() uint8 {
	if f.Is64Bit() {
		return 8
	}
	return 4
}

// SectionTable returns the section model.
func (f *File) SectionTable() *bin.SectionTable { return f.table }

// Sections returns the sections, allocatable ones ordered by load address.
func (f *File) Sections() []bin.Section { return f.table.Sections() }

// SectionByName returns the first section called name.
func (f *File) SectionByName(name string) (bin.Section, bool) { return f.table.ByName(name) }

// Segments returns the program headers.
func (f *File) Segments() []bin.Segment { return f.segments }

// SegmentFlags returns the flags of the first program header of type t.
func (f *File) SegmentFlags(t delf.ProgType) (delf.ProgFlag, bool) {
	if !f.Valid() {
		return 0, false
	}
	for _, p := range f.ef.Progs {
		if p.Type == t {
			return p.Flags, true
		}
	}
	return 0, false
}

// NormalizeAddress maps a virtual address to a module-relative file address.
func (f *File) NormalizeAddress(addr uint64) uint64 { return f.table.Normalize(addr) }

// GetSectionAddress returns the normalized address of the named section or
// bin.AddressNotFound.
func (f *File) GetSectionAddress(name string) uint64 { return f.table.SectionAddress(name) }

// EHFrameAddress returns the normalized address of .eh_frame.
func (f *File) EHFrameAddress() uint64 { return f.table.SectionAddress(".eh_frame") }

// TextAddress returns the normalized address of .text.
func (f *File) TextAddress() uint64 { return f.table.SectionAddress(".text") }

// DataAddress returns the normalized address of .data.
func (f *File) DataAddress() uint64 { return f.table.SectionAddress(".data") }

// ReadSection returns the contents of the named section, falling back to name+".dwo".
// Missing and NOBITS sections yield nil, and a missing section of a file without section
// names yields SectionNamesError. The returned slice is a copy.
func (f *File) ReadSection(name string) ([]byte, error) {
	if !f.Valid() {
		return nil, f.err
	}
	s, ok := f.table.ByNameOrDwo(name)
	if !ok {
		return nil, f.namesErr
	}
	if !s.HasBits() {
		return nil, nil
	}
	data, err := f.ef.Sections[s.Index].Data()
	if err != nil {
		return nil, fmt.Errorf("read section %s: %w", s.Name, err)
	}
	return data, nil
}

// LoadAll computes every lazy cell and logs decode errors.
func (f *File) LoadAll() {
	if !f.Valid() {
		return
	}
	for _, u := range f.CompilationUnits() {
		if u.Err != nil {
			f.logger.Warn().Err(u.Err).Uint64("offset", u.Offset).Msg("Compilation unit decoded with errors")
		}
	}
	for _, p := range f.LinePrograms() {
		if p.Err != nil {
			f.logger.Warn().Err(p.Err).Uint64("offset", p.Offset).Msg("Line program decoded with errors")
		}
	}
	ft := f.frames.Get()
	for _, t := range []*dwarf.FrameTable{ft.debug, ft.eh} {
		if t == nil {
			continue
		}
		for _, err := range t.Errs {
			f.logger.Warn().Err(err).Msg("Frame entry dropped")
		}
	}
	f.Compilers()
	f.PublicSymbols()
	f.BTF()
}
