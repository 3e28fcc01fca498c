package elf

import (
	"bytes"
	delf "debug/elf"
	"encoding/hex"
)

// Symbol is a symbol whose address is relative to the code segment.
type Symbol struct {
	Name    string `json:"name"`
	Address uint64 `json:"address"`
}

type symbolTables struct {
	public []Symbol
	files  []string
}

func (f *File) loadSymbols() symbolTables {
	var st symbolTables
	syms, err := f.ef.Symbols()
	if err != nil {
		f.logger.Debug().Err(err).Msg("No .symtab")
	}
	seen := make(map[string]struct{})
	for _, s := range syms {
		if delf.ST_TYPE(s.Info) != delf.STT_FILE || s.Name == "" {
			continue
		}
		if _, dup := seen[s.Name]; dup {
			continue
		}
		seen[s.Name] = struct{}{}
		st.files = append(st.files, s.Name)
	}

	if len(syms) == 0 {
		syms, err = f.ef.DynamicSymbols()
		if err != nil {
			f.logger.Debug().Err(err).Msg("No .dynsym")
		}
	}
	offset := f.table.CodeSegmentOffset
	for _, s := range syms {
		switch delf.ST_TYPE(s.Info) {
		case delf.STT_FILE, delf.STT_SECTION:
			continue
		}
		if s.Name == "" {
			continue
		}
		st.public = append(st.public, Symbol{Name: s.Name, Address: s.Value - offset})
	}
	return st
}

// PublicSymbols returns the named symbols of .symtab, or of .dynsym when .symtab is missing
// or empty, with values rebased on the code segment. File and section symbols are skipped.
func (f *File) PublicSymbols() []Symbol {
	if !f.Valid() {
		return nil
	}
	return f.symbols.Get().public
}

// SourceFiles returns the distinct STT_FILE names of .symtab.
func (f *File) SourceFiles() []string {
	if !f.Valid() {
		return nil
	}
	return f.symbols.Get().files
}

// Interpreter returns the program interpreter named by .interp.
func (f *File) Interpreter() string {
	data, err := f.ReadSection(".interp")
	if err != nil || len(data) == 0 {
		return ""
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data)
}

const noteGNUBuildID = 3

// BuildID returns the hex NT_GNU_BUILD_ID of the first note section that carries one.
func (f *File) BuildID() string {
	if !f.Valid() {
		return ""
	}
	for _, s := range f.ef.Sections {
		if s.Type != delf.SHT_NOTE {
			continue
		}
		data, err := s.Data()
		if err != nil {
			continue
		}
		if id, ok := parseBuildIDNote(data, f.ef); ok {
			return hex.EncodeToString(id)
		}
	}
	return ""
}

// parseBuildIDNote walks a note section: namesz(4) descsz(4) type(4) name desc, with name
// and desc padded to 4 bytes.
func parseBuildIDNote(data []byte, ef *delf.File) ([]byte, bool) {
	order := ef.ByteOrder
	align := func(n uint64) uint64 { return (n + 3) &^ 3 }
	for off := uint64(0); off+12 <= uint64(len(data)); {
		namesz := uint64(order.Uint32(data[off:]))
		descsz := uint64(order.Uint32(data[off+4:]))
		typ := order.Uint32(data[off+8:])
		nameStart := off + 12
		descStart := nameStart + align(namesz)
		end := descStart + align(descsz)
		if descStart+descsz > uint64(len(data)) || descStart < nameStart {
			return nil, false
		}
		name := data[nameStart : nameStart+namesz]
		if typ == noteGNUBuildID && bytes.Equal(bytes.TrimRight(name, "\x00"), []byte("GNU")) {
			return data[descStart : descStart+descsz], true
		}
		off = end
	}
	return nil, false
}
