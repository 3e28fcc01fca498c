package macho

import (
	"github.com/rs/zerolog"

	"github.com/coral-mesh/binscope/internal/logging"
	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/compiler"
	"github.com/coral-mesh/binscope/pkg/binary/dwarf"
)

// Mach-O section names are truncated to 16 bytes.
const (
	sectDebugInfo       = "__debug_info"
	sectDebugAbbrev     = "__debug_abbrev"
	sectDebugStr        = "__debug_str"
	sectDebugStrOffsets = "__debug_str_offs"
	sectDebugLineStr    = "__debug_line_str"
	sectDebugAddr       = "__debug_addr"
	sectDebugLine       = "__debug_line"
	sectDebugFrame      = "__debug_frame"
	sectEHFrame         = "__eh_frame"
	sectText            = "__text"
	sectData            = "__data"
)

type frameTables struct {
	debug *dwarf.FrameTable
	eh    *dwarf.FrameTable
}

type lazyCells struct {
	units     *bin.Lazy[[]*dwarf.Unit]
	lines     *bin.Lazy[[]*dwarf.LineProgram]
	frames    *bin.Lazy[frameTables]
	compilers *bin.Lazy[[]compiler.Info]
}

func (s *Slice) initLazy(base zerolog.Logger) {
	dwarfLogger := logging.Component(base, "dwarf").With().
		Str("path", s.file.path).
		Int("slice", s.index).
		Logger()

	sections := bin.NewLazy(func() *dwarf.Sections {
		return &dwarf.Sections{
			Order:      s.mf.ByteOrder,
			Info:       s.section(sectDebugInfo),
			Abbrev:     s.section(sectDebugAbbrev),
			Str:        s.section(sectDebugStr),
			StrOffsets: s.section(sectDebugStrOffsets),
			LineStr:    s.section(sectDebugLineStr),
			Addr:       s.section(sectDebugAddr),
			Line:       s.section(sectDebugLine),
		}
	})

	s.lazy.units = bin.NewLazy(func() []*dwarf.Unit {
		sec := sections.Get()
		if len(sec.Info) == 0 {
			return nil
		}
		return dwarf.DecodeUnits(sec, s.NormalizeAddress, dwarfLogger)
	})

	s.lazy.lines = bin.NewLazy(func() []*dwarf.LineProgram {
		return dwarf.LinePrograms(sections.Get(), s.lazy.units.Get(), s.NormalizeAddress, dwarfLogger)
	})

	s.lazy.frames = bin.NewLazy(func() frameTables {
		addrSize := uint8(4)
		if s.Is64Bit() {
			addrSize = 8
		}
		in := dwarf.FrameInput{
			ByteOrder:      s.mf.ByteOrder,
			AddressSize:    addrSize,
			EHFrameAddress: s.GetSectionAddress(sectEHFrame),
			TextAddress:    s.GetSectionAddress(sectText),
			DataAddress:    s.GetSectionAddress(sectData),
		}
		var ft frameTables
		if data := s.section(sectDebugFrame); len(data) > 0 {
			ft.debug = dwarf.ParseDebugFrame(data, in)
		}
		if data := s.section(sectEHFrame); len(data) > 0 {
			ft.eh = dwarf.ParseEHFrame(data, in)
		}
		return ft
	})

	s.lazy.compilers = bin.NewLazy(func() []compiler.Info {
		infos := compiler.FromProducers(dwarf.Producers(s.lazy.units.Get()), compiler.MachORules)
		if len(infos) == 0 {
			return []compiler.Info{compiler.Fingerprint("", compiler.MachORules)}
		}
		return infos
	})
}

func (s *Slice) section(name string) []byte {
	data, err := s.ReadSection(name)
	if err != nil {
		s.logger.Debug().Err(err).Str("section", name).Msg("Failed to read section")
		return nil
	}
	return data
}

// LoadAll computes every lazy cell and logs decode errors.
func (s *Slice) LoadAll() {
	for _, u := range s.CompilationUnits() {
		if u.Err != nil {
			s.logger.Warn().Err(u.Err).Uint64("offset", u.Offset).Msg("Compilation unit decoded with errors")
		}
	}
	for _, p := range s.LinePrograms() {
		if p.Err != nil {
			s.logger.Warn().Err(p.Err).Uint64("offset", p.Offset).Msg("Line program decoded with errors")
		}
	}
	ft := s.lazy.frames.Get()
	for _, t := range []*dwarf.FrameTable{ft.debug, ft.eh} {
		if t == nil {
			continue
		}
		for _, err := range t.Errs {
			s.logger.Warn().Err(err).Msg("Frame entry dropped")
		}
	}
	s.Compilers()
}

// CompilationUnits returns the slice's DWARF units.
func (s *Slice) CompilationUnits() []*dwarf.Unit { return s.lazy.units.Get() }

// LinePrograms returns the slice's line programs.
func (s *Slice) LinePrograms() []*dwarf.LineProgram { return s.lazy.lines.Get() }

// CommonInformationEntries returns the CIEs of __debug_frame followed by __eh_frame.
func (s *Slice) CommonInformationEntries() []*dwarf.CIE {
	ft := s.lazy.frames.Get()
	var out []*dwarf.CIE
	if ft.debug != nil {
		out = append(out, ft.debug.CIEs...)
	}
	if ft.eh != nil {
		out = append(out, ft.eh.CIEs...)
	}
	return out
}

// FrameDescriptionEntries returns every FDE of both CFI sections ordered by location.
func (s *Slice) FrameDescriptionEntries() []*dwarf.FDE {
	ft := s.lazy.frames.Get()
	var out []*dwarf.FDE
	if ft.debug != nil {
		out = append(out, ft.debug.FDEs()...)
	}
	if ft.eh != nil {
		out = append(out, ft.eh.FDEs()...)
	}
	return out
}

// Compilers fingerprints the DWARF producers. Without DWARF it reports one Unknown compiler.
func (s *Slice) Compilers() []compiler.Info { return s.lazy.compilers.Get() }

// DebugFileType is DebugIncluded when __debug_info has contents and NoDebug otherwise.
// Mach-O debug companions (dSYM bundles) are not resolved.
func (s *Slice) DebugFileType() bin.DebugFileType {
	if sec, ok := s.table.ByName(sectDebugInfo); ok && sec.HasBits() && sec.Size > 0 {
		return bin.DebugIncluded
	}
	return bin.NoDebug
}

// DebugFileLoaded reports whether any unit was decoded.
func (s *Slice) DebugFileLoaded() bool { return len(s.CompilationUnits()) > 0 }

// Language returns the first DW_AT_language of a compile unit root.
func (s *Slice) Language() dwarf.Lang { return dwarf.FirstLanguage(s.CompilationUnits()) }

// DwarfVersion returns the version of the first unit, or 0 without DWARF.
func (s *Slice) DwarfVersion() int {
	units := s.CompilationUnits()
	if len(units) == 0 {
		return 0
	}
	return int(units[0].Version)
}

// SourceFiles returns the file names of every line program, in order and with duplicates.
func (s *Slice) SourceFiles() []string {
	var out []string
	for _, p := range s.LinePrograms() {
		for _, f := range p.Files {
			out = append(out, f.Name)
		}
	}
	return out
}
