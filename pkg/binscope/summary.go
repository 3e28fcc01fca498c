package binscope

import (
	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/compiler"
	"github.com/coral-mesh/binscope/pkg/binary/dwarf"
	"github.com/coral-mesh/binscope/pkg/binary/elf"
	"github.com/coral-mesh/binscope/pkg/binary/macho"
	"github.com/coral-mesh/binscope/pkg/binary/pe"
)

// Summary is the dump of one binary.
type Summary struct {
	Path            string              `json:"path"`
	Format          string              `json:"format"`
	Digest          string              `json:"digest"`
	Valid           bool                `json:"valid"`
	Error           string              `json:"error,omitempty"`
	Is64Bit         bool                `json:"is_64_bit"`
	DebugFileType   bin.DebugFileType   `json:"debug_file_type"`
	DebugFileLoaded bool                `json:"debug_file_loaded"`
	Language        dwarf.Lang          `json:"language"`
	DwarfVersion    int                 `json:"dwarf_version"`
	Compilers       []compiler.Info     `json:"compilers"`
	Sections        []SectionSummary    `json:"sections"`
	Segments        []bin.Segment       `json:"segments,omitempty"`
	Debug           DebugSummary        `json:"debug"`
	CompileUnits    []dwarf.CompileInfo `json:"compile_units,omitempty"`
	ELF             *ELFSummary         `json:"elf,omitempty"`
	MachO           []MachOSliceSummary `json:"macho,omitempty"`
	PE              *PESummary          `json:"pe,omitempty"`
}

// SectionSummary is one row of the section table.
type SectionSummary struct {
	Name       string `json:"name"`
	Index      int    `json:"index"`
	Type       string `json:"type"`
	Flags      string `json:"flags"`
	Address    uint64 `json:"address"`
	FileOffset uint64 `json:"file_offset"`
	Size       uint64 `json:"size"`
}

// DebugSummary counts decoded debug records.
type DebugSummary struct {
	Units        int `json:"units"`
	UnitErrors   int `json:"unit_errors"`
	LinePrograms int `json:"line_programs"`
	LineRows     int `json:"line_rows"`
	LineErrors   int `json:"line_errors"`
	CIEs         int `json:"cies"`
	FDEs         int `json:"fdes"`
}

// ELFSummary holds ELF-only details.
type ELFSummary struct {
	Machine       string          `json:"machine"`
	Interpreter   string          `json:"interpreter,omitempty"`
	BuildID       string          `json:"build_id,omitempty"`
	DebugArtifact string          `json:"debug_artifact,omitempty"`
	PublicSymbols int             `json:"public_symbols"`
	SourceFiles   int             `json:"source_files"`
	BTF           *elf.BTFSummary `json:"btf,omitempty"`
}

// MachOSliceSummary holds the details of one Mach-O architecture.
type MachOSliceSummary struct {
	CPU          string              `json:"cpu"`
	UUID         string              `json:"uuid,omitempty"`
	BuildVersion *macho.BuildVersion `json:"build_version,omitempty"`
	Dylibs       []macho.Dylib       `json:"dylibs,omitempty"`
	Units        int                 `json:"units"`
}

// PESummary holds PE-only details.
type PESummary struct {
	Machine   pe.Machine       `json:"machine"`
	Subsystem pe.Subsystem     `json:"subsystem"`
	Linker    string           `json:"linker"`
	ImageBase uint64           `json:"image_base"`
	Managed   bool             `json:"managed"`
	CodeView  *pe.CodeViewInfo `json:"codeview,omitempty"`
	PDB       *pe.PDB          `json:"pdb,omitempty"`
	Imports   []string         `json:"imports,omitempty"`
}

// Describe decodes everything the handle exposes into a Summary.
func Describe(h *Handle) *Summary {
	s := &Summary{
		Path:   h.Path(),
		Format: h.Format().String(),
		Valid:  h.Valid(),
	}
	if err := h.LoadError(); err != nil {
		s.Error = err.Error()
		return s
	}
	s.Digest = h.DigestString()
	s.Is64Bit = h.Is64Bit()
	s.DebugFileType = h.DebugFileType()
	s.DebugFileLoaded = h.DebugFileLoaded()
	s.Language = h.Language()
	s.DwarfVersion = h.DwarfVersion()
	s.Compilers = h.Compilers()
	for _, sec := range h.Sections() {
		s.Sections = append(s.Sections, SectionSummary{
			Name:       sec.Name,
			Index:      sec.Index,
			Type:       sec.Type,
			Flags:      sec.Flags.String(),
			Address:    sec.Address,
			FileOffset: sec.FileOffset,
			Size:       sec.Size,
		})
	}

	units := h.CompilationUnits()
	s.Debug.Units = len(units)
	for _, u := range units {
		if u.Err != nil {
			s.Debug.UnitErrors++
		}
	}
	for _, p := range h.LinePrograms() {
		s.Debug.LinePrograms++
		s.Debug.LineRows += len(p.Rows)
		if p.Err != nil {
			s.Debug.LineErrors++
		}
	}
	for _, c := range h.CommonInformationEntries() {
		s.Debug.CIEs++
		s.Debug.FDEs += len(c.FDEs)
	}
	s.CompileUnits = dwarf.CompileInfos(units)

	if f, ok := h.ELF(); ok {
		s.Segments = f.Segments()
		e := &ELFSummary{
			Machine:       f.Machine().String(),
			Interpreter:   f.Interpreter(),
			BuildID:       f.BuildID(),
			DebugArtifact: f.DebugArtifact().Path,
			PublicSymbols: len(f.PublicSymbols()),
			SourceFiles:   len(f.SourceFiles()),
		}
		if b, ok := f.BTF(); ok {
			e.BTF = &b
		}
		s.ELF = e
	}
	if f, ok := h.MachO(); ok {
		for _, sl := range f.Slices() {
			m := MachOSliceSummary{CPU: sl.CPU(), Dylibs: sl.Dylibs(), Units: len(sl.CompilationUnits())}
			if id, ok := sl.UUID(); ok {
				m.UUID = id.String()
			}
			if bv, ok := sl.BuildVersion(); ok {
				m.BuildVersion = &bv
			}
			s.Segments = append(s.Segments, sl.Segments()...)
			s.MachO = append(s.MachO, m)
		}
	}
	if f, ok := h.PE(); ok {
		major, minor := f.LinkerVersion()
		p := &PESummary{
			Machine:   f.Machine(),
			Subsystem: f.Subsystem(),
			Linker:    compiler.Version{Major: int(major), Minor: int(minor), Components: 2}.String(),
			ImageBase: f.ImageBase(),
			Managed:   f.IsManaged(),
			Imports:   f.ImportedLibraries(),
		}
		if cv, ok := f.CodeView(); ok {
			p.CodeView = &cv
		}
		if pdb, ok := f.PDB(); ok {
			p.PDB = &pdb
		}
		s.PE = p
	}
	return s
}
