package macho

import (
	"debug/macho"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	bin "github.com/coral-mesh/binscope/pkg/binary"
)

// Section flag bits and types from <mach-o/loader.h>.
const (
	sectionTypeMask        = 0xff
	sectionZerofill        = 0x01
	sectionGBZerofill      = 0x0c
	sectionThreadZerofill  = 0x12
	sectionPureInstruction = 0x80000000
	sectionSomeInstruction = 0x00000400

	protRead    = 0x1
	protWrite   = 0x2
	protExecute = 0x4

	segmentDWARF = "__DWARF"
)

var sectionTypeNames = map[uint32]string{
	0x00: "S_REGULAR",
	0x01: "S_ZEROFILL",
	0x02: "S_CSTRING_LITERALS",
	0x06: "S_NON_LAZY_SYMBOL_POINTERS",
	0x07: "S_LAZY_SYMBOL_POINTERS",
	0x08: "S_SYMBOL_STUBS",
	0x09: "S_MOD_INIT_FUNC_POINTERS",
	0x0c: "S_GB_ZEROFILL",
	0x0d: "S_INTERPOSING",
	0x0e: "S_16BYTE_LITERALS",
	0x11: "S_THREAD_LOCAL_REGULAR",
	0x12: "S_THREAD_LOCAL_ZEROFILL",
	0x13: "S_THREAD_LOCAL_VARIABLES",
}

var cpuNames = map[macho.Cpu]string{
	macho.Cpu386:   "x86",
	macho.CpuAmd64: "x86_64",
	macho.CpuArm:   "arm",
	macho.CpuArm64: "arm64",
	macho.CpuPpc:   "ppc",
	macho.CpuPpc64: "ppc64",
}

// Slice is one architecture of a Mach-O file.
type Slice struct {
	index  int
	file   *File
	mf     *macho.File
	logger zerolog.Logger

	table    *bin.SectionTable
	segments []bin.Segment
	// sectionSegment maps a section's position in table to its segment in segments.
	sectionSegment []int
	loadOffset     uint64

	lazy lazyCells
}

func newSlice(f *File, index int, r io.ReaderAt, opts Options) (*Slice, error) {
	mf, err := macho.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", bin.ErrContainerParse, f.path, err)
	}
	s := &Slice{
		index:      index,
		file:       f,
		mf:         mf,
		loadOffset: opts.LoadOffset,
	}
	s.logger = f.logger.With().Int("slice", index).Str("cpu", s.CPU()).Logger()

	segIndex := make(map[string]int)
	for _, l := range mf.Loads {
		seg, ok := l.(*macho.Segment)
		if !ok {
			continue
		}
		segIndex[seg.Name] = len(s.segments)
		cmd := "LC_SEGMENT"
		if seg.Cmd == macho.LoadCmdSegment64 {
			cmd = "LC_SEGMENT_64"
		}
		s.segments = append(s.segments, bin.Segment{
			Type:        cmd,
			Name:        seg.Name,
			Address:     seg.Addr,
			FileOffset:  seg.Offset,
			Size:        seg.Memsz,
			FileSize:    seg.Filesz,
			Permissions: permissions(seg.Prot),
		})
	}

	var sections []bin.Section
	for i, sec := range mf.Sections {
		segIdx, ok := segIndex[sec.Seg]
		if !ok {
			return nil, fmt.Errorf("%w: %s: section %s,%s outside any segment", bin.ErrContainerParse, f.path, sec.Seg, sec.Name)
		}
		seg := s.segments[segIdx]
		sections = append(sections, bin.Section{
			Name:       sec.Name,
			Index:      i,
			FileOffset: uint64(sec.Offset),
			Size:       sec.Size,
			Address:    sec.Addr,
			Flags:      sectionFlags(sec, seg),
			Type:       sectionType(sec.Flags),
		})
		s.sectionSegment = append(s.sectionSegment, segIdx)
	}

	var codeSegmentOffset uint64
	if i, ok := segIndex["__TEXT"]; ok {
		codeSegmentOffset = s.segments[i].Offset()
	}
	s.table = bin.NewSectionTable(sections, codeSegmentOffset, opts.LoadOffset)
	s.initLazy(opts.Logger)
	return s, nil
}

func isZerofill(flags uint32) bool {
	switch flags & sectionTypeMask {
	case sectionZerofill, sectionGBZerofill, sectionThreadZerofill:
		return true
	}
	return false
}

func sectionType(flags uint32) string {
	if n, ok := sectionTypeNames[flags&sectionTypeMask]; ok {
		return n
	}
	return fmt.Sprintf("0x%02x", flags&sectionTypeMask)
}

func sectionFlags(sec *macho.Section, seg bin.Segment) bin.SectionFlags {
	var fl bin.SectionFlags
	if seg.Name != segmentDWARF {
		fl |= bin.Allocatable
	}
	if sec.Flags&(sectionPureInstruction|sectionSomeInstruction) != 0 {
		fl |= bin.Executable
	}
	if seg.Permissions&bin.PermWrite != 0 {
		fl |= bin.Writable
	}
	if !isZerofill(sec.Flags) {
		fl |= bin.HasBits
	}
	return fl
}

func permissions(prot uint32) bin.Permissions {
	var p bin.Permissions
	if prot&protRead != 0 {
		p |= bin.PermRead
	}
	if prot&protWrite != 0 {
		p |= bin.PermWrite
	}
	if prot&protExecute != 0 {
		p |= bin.PermExecute
	}
	return p
}

// Index returns the slice's position in the fat header, 0 for thin files.
func (s *Slice) Index() int { return s.index }

// CPU returns the architecture name, or the numeric CPU type when it is not known.
func (s *Slice) CPU() string {
	if n, ok := cpuNames[s.mf.Cpu]; ok {
		return n
	}
	return s.mf.Cpu.String()
}

// Is64Bit reports whether the slice uses the 64-bit header.
func (s *Slice) Is64Bit() bool { return s.mf.Magic == macho.Magic64 }

// Path returns the path of the containing file.
func (s *Slice) Path() string { return s.file.path }

// Format returns bin.FormatMachO.
func (s *Slice) Format() bin.Format { return bin.FormatMachO }

// Valid reports whether the slice parsed; a Slice only exists once it has.
func (s *Slice) Valid() bool { return s.mf != nil }

// LoadError always returns nil; container errors are reported by the File.
func (s *Slice) LoadError() error { return nil }

// Close is a no-op; the mapping belongs to the File.
func (s *Slice) Close() error { return nil }

// SectionTable returns the section model.
func (s *Slice) SectionTable() *bin.SectionTable { return s.table }

// Sections returns the sections in load command order.
func (s *Slice) Sections() []bin.Section { return s.table.Sections() }

// SectionByName returns the first section called name.
func (s *Slice) SectionByName(name string) (bin.Section, bool) { return s.table.ByName(name) }

// Segments returns the segment commands.
func (s *Slice) Segments() []bin.Segment { return s.segments }

func (s *Slice) segmentOf(i int) bin.Segment { return s.segments[s.sectionSegment[i]] }

// TryNormalize maps addr through the segment of the section containing it. It reports
// false, returning addr unchanged, when no section contains addr.
func (s *Slice) TryNormalize(addr uint64) (uint64, bool) {
	for i, sec := range s.table.Sections() {
		if addr < sec.Address || addr-sec.Address >= sec.Size {
			continue
		}
		n := addr - s.segmentOf(i).Offset()
		if sec.Allocatable() {
			n += s.loadOffset
		}
		return n, true
	}
	return addr, false
}

// NormalizeAddress is TryNormalize without the found flag.
func (s *Slice) NormalizeAddress(addr uint64) uint64 {
	n, _ := s.TryNormalize(addr)
	return n
}

// GetSectionAddress returns the file offset of the named section biased by its segment, or
// bin.AddressNotFound.
func (s *Slice) GetSectionAddress(name string) uint64 {
	for i, sec := range s.table.Sections() {
		if sec.Name == name {
			return sec.FileOffset + s.segmentOf(i).Offset()
		}
	}
	return bin.AddressNotFound
}

// ReadSection returns the contents of the named section, falling back to name+".dwo".
// Missing and zerofill sections yield nil.
func (s *Slice) ReadSection(name string) ([]byte, error) {
	sec, ok := s.table.ByNameOrDwo(name)
	if !ok || !sec.HasBits() {
		return nil, nil
	}
	data, err := s.mf.Sections[sec.Index].Data()
	if err != nil {
		return nil, fmt.Errorf("read section %s: %w", sec.Name, err)
	}
	return data, nil
}
