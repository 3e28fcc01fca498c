package binary

import (
	"math"
	"sort"
	"strings"
)

// AddressNotFound is returned by address queries that have no answer.
const AddressNotFound = math.MaxUint64

// SectionFlags is a bit set of section properties.
type SectionFlags uint8

const (
	// Allocatable sections occupy memory at runtime.
	Allocatable SectionFlags = 1 << iota
	// Executable sections contain code.
	Executable
	// Writable sections are writable at runtime.
	Writable
	// HasBits sections have contents in the file (not NOBITS/zerofill).
	HasBits
)

func (f SectionFlags) String() string {
	var b strings.Builder
	for _, fl := range []struct {
		bit SectionFlags
		c   byte
	}{{Allocatable, 'A'}, {Executable, 'X'}, {Writable, 'W'}, {HasBits, 'B'}} {
		if f&fl.bit != 0 {
			b.WriteByte(fl.c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// Section is a format-agnostic section header.
type Section struct {
	Name       string
	Index      int
	FileOffset uint64
	Size       uint64
	// Address is the raw header address. Use LoadAddress for the runtime address.
	Address uint64
	Flags   SectionFlags
	// Type is the format-specific section type, kept for dumps.
	Type string
}

// Allocatable reports whether the section occupies memory at runtime.
func (s Section) Allocatable() bool { return s.Flags&Allocatable != 0 }

// HasBits reports whether the section has file contents.
func (s Section) HasBits() bool { return s.Flags&HasBits != 0 }

// LoadAddress returns the runtime address of an allocatable section.
func (s Section) LoadAddress() (uint64, bool) {
	if !s.Allocatable() {
		return 0, false
	}
	return s.Address, true
}

func (s Section) contains(addr uint64) bool {
	start := s.Address
	if !s.Allocatable() && start == 0 {
		start = s.FileOffset
	}
	return addr >= start && addr-start < s.Size
}

// Permissions is a segment protection set.
type Permissions uint8

const (
	PermRead Permissions = 1 << iota
	PermWrite
	PermExecute
)

func (p Permissions) String() string {
	b := []byte("---")
	if p&PermRead != 0 {
		b[0] = 'r'
	}
	if p&PermWrite != 0 {
		b[1] = 'w'
	}
	if p&PermExecute != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Segment is a loadable region (ELF program header or Mach-O segment command).
type Segment struct {
	Type        string
	Name        string
	Address     uint64
	FileOffset  uint64
	Size        uint64
	FileSize    uint64
	Permissions Permissions
}

// Offset returns Address minus FileOffset, the bias between file and memory layout.
func (s Segment) Offset() uint64 {
	return s.Address - s.FileOffset
}

// SectionTable is an immutable, ordered section list with the offsets used for address
// normalization.
type SectionTable struct {
	sections []Section
	byName   map[string]int

	// CodeSegmentOffset is address minus file offset of the program-header segment.
	CodeSegmentOffset uint64
	// LoadOffset is the runtime load bias supplied by the caller (zero for files on disk).
	LoadOffset uint64
}

// NewSectionTable builds a table. Allocatable sections are ordered by address, ties and
// the slots of non-allocatable sections keep declaration order. The first declared section
// with a given name wins name lookups; unnamed sections are not indexed.
func NewSectionTable(sections []Section, codeSegmentOffset, loadOffset uint64) *SectionTable {
	t := &SectionTable{
		sections:          make([]Section, len(sections)),
		byName:            make(map[string]int, len(sections)),
		CodeSegmentOffset: codeSegmentOffset,
		LoadOffset:        loadOffset,
	}

	var slots []int
	for i, s := range sections {
		if s.Allocatable() {
			slots = append(slots, i)
		}
	}
	order := append([]int(nil), slots...)
	sort.SliceStable(order, func(i, j int) bool {
		return sections[order[i]].Address < sections[order[j]].Address
	})
	pos := make([]int, len(sections))
	for i := range sections {
		pos[i] = i
	}
	for k, i := range order {
		pos[i] = slots[k]
	}

	for i, s := range sections {
		t.sections[pos[i]] = s
		if s.Name == "" {
			continue
		}
		if _, dup := t.byName[s.Name]; !dup {
			t.byName[s.Name] = pos[i]
		}
	}
	return t
}

// Sections returns the sections, allocatable ones in non-decreasing address order.
func (t *SectionTable) Sections() []Section {
	if t == nil {
		return nil
	}
	return t.sections
}

// Len returns the number of sections.
func (t *SectionTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.sections)
}

// ByName returns the first section called name.
func (t *SectionTable) ByName(name string) (Section, bool) {
	if t == nil {
		return Section{}, false
	}
	i, ok := t.byName[name]
	if !ok {
		return Section{}, false
	}
	return t.sections[i], true
}

// ByNameOrDwo returns the section called name or, failing that, name+".dwo".
func (t *SectionTable) ByNameOrDwo(name string) (Section, bool) {
	if s, ok := t.ByName(name); ok {
		return s, true
	}
	return t.ByName(name + ".dwo")
}

// Allocated returns the allocatable sections ordered by load address. Ties keep
// declaration order.
func (t *SectionTable) Allocated() []Section {
	var out []Section
	for _, s := range t.Sections() {
		if s.Allocatable() {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Find returns the first section containing addr.
func (t *SectionTable) Find(addr uint64) (Section, bool) {
	for _, s := range t.Sections() {
		if s.contains(addr) {
			return s, true
		}
	}
	return Section{}, false
}

// TryNormalize maps a virtual address to a module-relative file address.
// It reports false, returning addr unchanged, when no section contains addr.
func (t *SectionTable) TryNormalize(addr uint64) (uint64, bool) {
	s, ok := t.Find(addr)
	if !ok {
		return addr, false
	}
	if s.Allocatable() {
		return addr - t.CodeSegmentOffset + t.LoadOffset, true
	}
	return addr - t.CodeSegmentOffset, true
}

// Normalize maps a virtual address to a module-relative file address. Addresses outside
// every section are returned unchanged; use TryNormalize to tell the cases apart.
func (t *SectionTable) Normalize(addr uint64) uint64 {
	n, _ := t.TryNormalize(addr)
	return n
}

// NormalizeStrict is Normalize with AddressNotFound for addresses outside every section.
func (t *SectionTable) NormalizeStrict(addr uint64) uint64 {
	n, ok := t.TryNormalize(addr)
	if !ok {
		return AddressNotFound
	}
	return n
}

// SectionAddress returns the normalized address of the named section or AddressNotFound.
func (t *SectionTable) SectionAddress(name string) uint64 {
	s, ok := t.ByName(name)
	if !ok {
		return AddressNotFound
	}
	addr := s.FileOffset + t.CodeSegmentOffset
	if s.Allocatable() {
		addr += t.LoadOffset
	}
	return addr
}
