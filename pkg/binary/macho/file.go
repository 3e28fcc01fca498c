// Package macho loads thin and fat Mach-O binaries. A fat file expands into one Slice per
// architecture; each slice decodes its debug data lazily and independently.
package macho

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lunixbochs/struc"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/binscope/internal/errors"
	"github.com/coral-mesh/binscope/internal/logging"
	"github.com/coral-mesh/binscope/internal/mmap"
	"github.com/coral-mesh/binscope/internal/safe"
	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/compiler"
	"github.com/coral-mesh/binscope/pkg/binary/dwarf"
)

// MaxFatArches bounds the architecture count of a fat header. Java class files share the
// 0xcafebabe magic and carry their version where the count would be, which is always larger.
const MaxFatArches = 30

const (
	magicFat    = 0xcafebabe
	magicFat64  = 0xcafebabf
	magic32     = 0xfeedface
	magic64     = 0xfeedfacf
	magic32Swap = 0xcefaedfe
	magic64Swap = 0xcffaedfe
)

// IsFatMagic reports whether head starts with a fat magic in either byte order, and
// returns the order the header is written in.
func IsFatMagic(head []byte) (binary.ByteOrder, bool) {
	if len(head) < 4 {
		return nil, false
	}
	switch binary.BigEndian.Uint32(head) {
	case magicFat, magicFat64:
		return binary.BigEndian, true
	}
	switch binary.LittleEndian.Uint32(head) {
	case magicFat, magicFat64:
		return binary.LittleEndian, true
	}
	return nil, false
}

// IsThinMagic reports whether head starts with a 32- or 64-bit Mach-O magic.
func IsThinMagic(head []byte) bool {
	if len(head) < 4 {
		return false
	}
	switch binary.BigEndian.Uint32(head) {
	case magic32, magic64, magic32Swap, magic64Swap:
		return true
	}
	return false
}

// Options configures a load.
type Options struct {
	Logger        zerolog.Logger
	LoadOffset    uint64
	Comprehensive bool
	FileOptions   *safe.FileOptions
	UseMmap       bool
}

// File is a loaded Mach-O file: one slice for thin files, one per architecture for fat
// files. Top-level accessors aggregate over the slices in order.
type File struct {
	path   string
	logger zerolog.Logger
	data   *mmap.Reader
	fat    bool
	slices []*Slice
	err    error
}

type fatHeader struct {
	Magic uint32
	NArch uint32
}

type fatArch struct {
	Cpu    uint32
	SubCpu uint32
	Offset uint32
	Size   uint32
	Align  uint32
}

type fatArch64 struct {
	Cpu      uint32
	SubCpu   uint32
	Offset   uint64
	Size     uint64
	Align    uint32
	Reserved uint32
}

// Open maps path and loads it.
func Open(path string, opts Options) (*File, error) {
	r, err := mmap.Open(path, opts.FileOptions, opts.UseMmap)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", bin.ErrContainerParse, path, err)
		return &File{path: path, logger: opts.Logger, err: err}, err
	}
	return NewFile(r, path, opts)
}

// NewFile loads a Mach-O image from r. The File takes ownership of r.
func NewFile(r *mmap.Reader, path string, opts Options) (*File, error) {
	f := &File{
		path:   path,
		logger: logging.Component(opts.Logger, "macho-loader").With().Str("path", path).Logger(),
		data:   r,
	}
	if err := f.parse(opts); err != nil {
		f.err = err
		f.slices = nil
		f.logger.Debug().Err(err).Msg("Failed to parse Mach-O container")
		return f, err
	}
	if opts.Comprehensive {
		for _, s := range f.slices {
			s.LoadAll()
		}
	}
	return f, nil
}

func (f *File) parse(opts Options) (err error) {
	defer errors.Recover(&err, bin.ErrContainerParse)

	head := make([]byte, 8)
	if _, err := f.data.ReadAt(head, 0); err != nil {
		return fmt.Errorf("%w: %s: short header: %v", bin.ErrContainerParse, f.path, err)
	}
	order, fat := IsFatMagic(head)
	if !fat {
		s, err := newSlice(f, 0, io.NewSectionReader(f.data, 0, int64(f.data.Len())), opts)
		if err != nil {
			return err
		}
		f.slices = []*Slice{s}
		return nil
	}

	f.fat = true
	r := bytes.NewReader(f.data.Bytes())
	var hdr fatHeader
	if err := struc.UnpackWithOrder(r, &hdr, order); err != nil {
		return fmt.Errorf("%w: %s: fat header: %v", bin.ErrContainerParse, f.path, err)
	}
	if hdr.NArch == 0 || hdr.NArch > MaxFatArches {
		return fmt.Errorf("%w: %s: fat header lists %d architectures", bin.ErrFormatNotRecognized, f.path, hdr.NArch)
	}
	for i := 0; i < int(hdr.NArch); i++ {
		var off, size uint64
		if hdr.Magic == magicFat64 {
			var a fatArch64
			if err := struc.UnpackWithOrder(r, &a, order); err != nil {
				return fmt.Errorf("%w: %s: fat arch %d: %v", bin.ErrContainerParse, f.path, i, err)
			}
			off, size = a.Offset, a.Size
		} else {
			var a fatArch
			if err := struc.UnpackWithOrder(r, &a, order); err != nil {
				return fmt.Errorf("%w: %s: fat arch %d: %v", bin.ErrContainerParse, f.path, i, err)
			}
			off, size = uint64(a.Offset), uint64(a.Size)
		}
		if safe.AddOverflows(off, size) || off+size > uint64(f.data.Len()) {
			return fmt.Errorf("%w: %s: fat arch %d [0x%x, +0x%x) outside file", bin.ErrContainerParse, f.path, i, off, size)
		}
		s, err := newSlice(f, i, io.NewSectionReader(f.data, int64(off), int64(size)), opts)
		if err != nil {
			return fmt.Errorf("fat arch %d: %w", i, err)
		}
		f.slices = append(f.slices, s)
	}
	return nil
}

// Close releases the mapping shared by every slice.
func (f *File) Close() error {
	if f.data == nil {
		return nil
	}
	return f.data.Close()
}

// Path returns the path the file was loaded from.
func (f *File) Path() string { return f.path }

// Format returns bin.FormatMachO.
func (f *File) Format() bin.Format { return bin.FormatMachO }

// Valid reports whether every slice parsed.
func (f *File) Valid() bool { return f.err == nil && len(f.slices) > 0 }

// LoadError returns the container parse error, if any.
func (f *File) LoadError() error { return f.err }

// IsFat reports whether the file is a fat archive.
func (f *File) IsFat() bool { return f.fat }

// Slices returns the architectures in header order.
func (f *File) Slices() []*Slice { return f.slices }

// Is64Bit reports whether the first slice is 64-bit.
func (f *File) Is64Bit() bool {
	return len(f.slices) > 0 && f.slices[0].Is64Bit()
}

// Sections returns the sections of every slice in order.
func (f *File) Sections() []bin.Section {
	var out []bin.Section
	for _, s := range f.slices {
		out = append(out, s.Sections()...)
	}
	return out
}

// SectionByName returns the first section called name across slices.
func (f *File) SectionByName(name string) (bin.Section, bool) {
	for _, s := range f.slices {
		if sec, ok := s.SectionByName(name); ok {
			return sec, true
		}
	}
	return bin.Section{}, false
}

// CompilationUnits returns the units of every slice in order.
func (f *File) CompilationUnits() []*dwarf.Unit {
	var out []*dwarf.Unit
	for _, s := range f.slices {
		out = append(out, s.CompilationUnits()...)
	}
	return out
}

// LinePrograms returns the line programs of every slice in order.
func (f *File) LinePrograms() []*dwarf.LineProgram {
	var out []*dwarf.LineProgram
	for _, s := range f.slices {
		out = append(out, s.LinePrograms()...)
	}
	return out
}

// CommonInformationEntries returns the CIEs of every slice in order.
func (f *File) CommonInformationEntries() []*dwarf.CIE {
	var out []*dwarf.CIE
	for _, s := range f.slices {
		out = append(out, s.CommonInformationEntries()...)
	}
	return out
}

// Compilers returns the compilers of every slice in order.
func (f *File) Compilers() []compiler.Info {
	var out []compiler.Info
	for _, s := range f.slices {
		out = append(out, s.Compilers()...)
	}
	return out
}

// DebugFileType returns the first slice's classification.
func (f *File) DebugFileType() bin.DebugFileType {
	if len(f.slices) == 0 {
		return bin.Unknown
	}
	return f.slices[0].DebugFileType()
}

// DebugFileLoaded reports whether any slice loaded debug data.
func (f *File) DebugFileLoaded() bool {
	for _, s := range f.slices {
		if s.DebugFileLoaded() {
			return true
		}
	}
	return false
}

// NormalizeAddress normalizes addr with the first slice that has a section containing it.
func (f *File) NormalizeAddress(addr uint64) uint64 {
	for _, s := range f.slices {
		if n, ok := s.TryNormalize(addr); ok {
			return n
		}
	}
	return addr
}

// Language returns the first known language across slices.
func (f *File) Language() dwarf.Lang {
	for _, s := range f.slices {
		if l := s.Language(); l != dwarf.LangUnknown {
			return l
		}
	}
	return dwarf.LangUnknown
}

// DwarfVersion returns the first non-zero DWARF version across slices.
func (f *File) DwarfVersion() int {
	for _, s := range f.slices {
		if v := s.DwarfVersion(); v != 0 {
			return v
		}
	}
	return 0
}
