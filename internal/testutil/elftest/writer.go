// Package elftest writes small ELF64 little-endian files for tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

const (
	headerSize  = 64
	progSize    = 56
	sectionSize = 64
)

// Section describes one section of the file. Data is ignored for SHT_NOBITS sections,
// which use Size instead.
type Section struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Addr  uint64
	Data  []byte
	Size  uint64
	// Link names the section referenced by sh_link.
	Link    string
	Info    uint32
	Entsize uint64
}

// Prog describes a program header. A PT_PHDR entry with zero Off and Filesz is filled in
// with the location of the program header table.
type Prog struct {
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Off    uint64
	Vaddr  uint64
	Filesz uint64
	Memsz  uint64
}

// File is an ELF image under construction.
type File struct {
	Type     elf.Type
	Machine  elf.Machine
	Entry    uint64
	Progs    []Prog
	Sections []Section
}

// Bytes serializes the file: header, program headers, section contents, then the section
// header table with .shstrtab last.
func (f *File) Bytes() []byte {
	le := binary.LittleEndian

	shstr := []byte{0}
	nameOff := make([]uint32, len(f.Sections)+1)
	for i, s := range f.Sections {
		nameOff[i] = uint32(len(shstr))
		shstr = append(append(shstr, s.Name...), 0)
	}
	nameOff[len(f.Sections)] = uint32(len(shstr))
	shstr = append(append(shstr, ".shstrtab"...), 0)

	sections := append(append([]Section(nil), f.Sections...), Section{Name: ".shstrtab", Type: elf.SHT_STRTAB, Data: shstr})
	index := make(map[string]int, len(sections))
	for i, s := range sections {
		if _, dup := index[s.Name]; !dup {
			index[s.Name] = i + 1
		}
	}

	var body bytes.Buffer
	dataStart := uint64(headerSize + progSize*len(f.Progs))
	offsets := make([]uint64, len(sections))
	for i, s := range sections {
		for (dataStart+uint64(body.Len()))%8 != 0 {
			body.WriteByte(0)
		}
		offsets[i] = dataStart + uint64(body.Len())
		if s.Type != elf.SHT_NOBITS {
			body.Write(s.Data)
		}
	}
	for (dataStart+uint64(body.Len()))%8 != 0 {
		body.WriteByte(0)
	}
	shoff := dataStart + uint64(body.Len())

	var out bytes.Buffer
	hdr := elf.Header64{
		Type:      uint16(f.Type),
		Machine:   uint16(f.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     f.Entry,
		Shoff:     shoff,
		Ehsize:    headerSize,
		Shentsize: sectionSize,
		Shnum:     uint16(len(sections) + 1),
		Shstrndx:  uint16(len(sections)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	if len(f.Progs) > 0 {
		hdr.Phoff = headerSize
		hdr.Phentsize = progSize
		hdr.Phnum = uint16(len(f.Progs))
	}
	_ = binary.Write(&out, le, hdr)

	for _, p := range f.Progs {
		if p.Type == elf.PT_PHDR && p.Off == 0 && p.Filesz == 0 {
			p.Off = headerSize
			p.Filesz = uint64(progSize * len(f.Progs))
			p.Memsz = p.Filesz
		}
		_ = binary.Write(&out, le, elf.Prog64{
			Type:   uint32(p.Type),
			Flags:  uint32(p.Flags),
			Off:    p.Off,
			Vaddr:  p.Vaddr,
			Paddr:  p.Vaddr,
			Filesz: p.Filesz,
			Memsz:  p.Memsz,
			Align:  8,
		})
	}
	out.Write(body.Bytes())

	_ = binary.Write(&out, le, elf.Section64{})
	for i, s := range sections {
		size := uint64(len(s.Data))
		if s.Type == elf.SHT_NOBITS {
			size = s.Size
		}
		sh := elf.Section64{
			Name:      nameOff[i],
			Type:      uint32(s.Type),
			Flags:     uint64(s.Flags),
			Addr:      s.Addr,
			Off:       offsets[i],
			Size:      size,
			Info:      s.Info,
			Addralign: 1,
			Entsize:   s.Entsize,
		}
		if s.Link != "" {
			sh.Link = uint32(index[s.Link])
		}
		_ = binary.Write(&out, le, sh)
	}
	return out.Bytes()
}

// Write serializes f into dir/name and returns the path.
func (f *File) Write(t testing.TB, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, f.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Symbol is an entry for SymbolTable.
type Symbol struct {
	Name    string
	Type    elf.SymType
	Bind    elf.SymBind
	Section uint16
	Value   uint64
	Size    uint64
}

// SymbolTable returns the contents of a .symtab and its .strtab.
func SymbolTable(syms []Symbol) (symtab, strtab []byte) {
	strtab = []byte{0}
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, elf.Sym64{})
	for _, s := range syms {
		name := uint32(len(strtab))
		strtab = append(append(strtab, s.Name...), 0)
		_ = binary.Write(&b, binary.LittleEndian, elf.Sym64{
			Name:  name,
			Info:  elf.ST_INFO(s.Bind, s.Type),
			Shndx: s.Section,
			Value: s.Value,
			Size:  s.Size,
		})
	}
	return b.Bytes(), strtab
}
