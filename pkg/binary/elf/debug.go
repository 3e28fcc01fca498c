package elf

import (
	"github.com/rs/zerolog"

	"github.com/coral-mesh/binscope/internal/logging"
	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/compiler"
	"github.com/coral-mesh/binscope/pkg/binary/debugpath"
	"github.com/coral-mesh/binscope/pkg/binary/dwarf"
)

type frameTables struct {
	debug *dwarf.FrameTable
	eh    *dwarf.FrameTable
}

func (f *File) initLazy() {
	dwarfLogger := logging.Component(f.opts.Logger, "dwarf").With().Str("path", f.path).Logger()

	f.dwarfSections = bin.NewLazy(f.debugSections)

	f.ownUnits = bin.NewLazy(func() []*dwarf.Unit {
		sec := f.dwarfSections.Get()
		if len(sec.Info) == 0 {
			return nil
		}
		return dwarf.DecodeUnits(sec, f.table.Normalize, dwarfLogger)
	})

	f.debug = bin.NewLazy(func() debugpath.Result {
		r := f.opts.Resolver
		if r == nil {
			r = &debugpath.Resolver{Logger: f.opts.Logger}
		}
		return r.Resolve(debugpath.Input{
			Path:        f.path,
			Order:       f.ByteOrder(),
			Sections:    f.table,
			ReadSection: f.ReadSection,
			Units:       f.ownUnits.Get(),
			Depth:       f.opts.Depth,
		})
	})

	f.units = bin.NewLazy(func() []*dwarf.Unit {
		own := f.ownUnits.Get()
		comp := f.debug.Get().Companion
		if comp == nil || len(comp.Units) == 0 {
			return own
		}
		out := make([]*dwarf.Unit, 0, len(own)+len(comp.Units))
		return append(append(out, own...), comp.Units...)
	})

	f.lines = bin.NewLazy(func() []*dwarf.LineProgram {
		progs := dwarf.LinePrograms(f.dwarfSections.Get(), f.ownUnits.Get(), f.table.Normalize, dwarfLogger)
		if comp := f.debug.Get().Companion; comp != nil {
			progs = append(progs, comp.Lines...)
		}
		return progs
	})

	f.frames = bin.NewLazy(func() frameTables {
		in := dwarf.FrameInput{
			ByteOrder:      f.ByteOrder(),
			AddressSize:    f.addressSize(),
			EHFrameAddress: f.EHFrameAddress(),
			TextAddress:    f.TextAddress(),
			DataAddress:    f.DataAddress(),
		}
		var ft frameTables
		if data := f.section(".debug_frame", dwarfLogger); len(data) > 0 {
			ft.debug = dwarf.ParseDebugFrame(data, in)
		}
		if data := f.section(".eh_frame", dwarfLogger); len(data) > 0 {
			ft.eh = dwarf.ParseEHFrame(data, in)
		}
		for _, t := range []*dwarf.FrameTable{ft.debug, ft.eh} {
			if t != nil && len(t.Errs) > 0 {
				dwarfLogger.Debug().Int("dropped", len(t.Errs)).Err(t.Errs[0]).Msg("Frame entries dropped")
			}
		}
		return ft
	})

	f.compilers = bin.NewLazy(func() []compiler.Info {
		_, present := f.table.ByName(".comment")
		data := f.section(".comment", f.logger)
		infos := compiler.FromComment(data, present)
		if len(infos) == 1 && infos[0].Raw == "" {
			// Producer strings use the DWARF naming ("GNU C17 ...") rather than .comment's.
			if fromDWARF := compiler.FromProducers(dwarf.Producers(f.CompilationUnits()), compiler.MachORules); len(fromDWARF) > 0 {
				return fromDWARF
			}
		}
		return infos
	})

	f.symbols = bin.NewLazy(f.loadSymbols)
	f.btf = bin.NewLazy(f.loadBTF)
}

// section reads name, logging and swallowing read errors.
func (f *File) section(name string, logger zerolog.Logger) []byte {
	data, err := f.ReadSection(name)
	if err != nil {
		logger.Debug().Err(err).Str("section", name).Msg("Failed to read section")
		return nil
	}
	return data
}

func (f *File) debugSections() *dwarf.Sections {
	logger := f.logger
	return &dwarf.Sections{
		Order:      f.ByteOrder(),
		Info:       f.section(".debug_info", logger),
		Abbrev:     f.section(".debug_abbrev", logger),
		Str:        f.section(".debug_str", logger),
		StrOffsets: f.section(".debug_str_offsets", logger),
		LineStr:    f.section(".debug_line_str", logger),
		Addr:       f.section(".debug_addr", logger),
		Line:       f.section(".debug_line", logger),
	}
}

// CompilationUnits returns the file's own units followed by those of a loaded companion.
func (f *File) CompilationUnits() []*dwarf.Unit {
	if !f.Valid() {
		return nil
	}
	return f.units.Get()
}

// LinePrograms returns the decoded line programs, companion programs last.
func (f *File) LinePrograms() []*dwarf.LineProgram {
	if !f.Valid() {
		return nil
	}
	return f.lines.Get()
}

// CommonInformationEntries returns the CIEs of .debug_frame followed by those of .eh_frame.
func (f *File) CommonInformationEntries() []*dwarf.CIE {
	if !f.Valid() {
		return nil
	}
	ft := f.frames.Get()
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
func (f *File) FrameDescriptionEntries() []*dwarf.FDE {
	if !f.Valid() {
		return nil
	}
	ft := f.frames.Get()
	var out []*dwarf.FDE
	if ft.debug != nil {
		out = append(out, ft.debug.FDEs()...)
	}
	if ft.eh != nil {
		out = append(out, ft.eh.FDEs()...)
	}
	return out
}

// Compilers fingerprints .comment, falling back to DWARF producers.
func (f *File) Compilers() []compiler.Info {
	if !f.Valid() {
		return nil
	}
	return f.compilers.Get()
}

// DebugArtifact returns the full resolution result.
func (f *File) DebugArtifact() debugpath.Result {
	if !f.Valid() {
		return debugpath.Result{Type: bin.Unknown}
	}
	return f.debug.Get()
}

// DebugFileType classifies where the file's debug data lives.
func (f *File) DebugFileType() bin.DebugFileType { return f.DebugArtifact().Type }

// DebugFileLoaded reports whether authoritative debug data was loaded.
func (f *File) DebugFileLoaded() bool { return f.DebugArtifact().Loaded }

// Language returns the first DW_AT_language of a compile unit root, or dwarf.LangUnknown.
func (f *File) Language() dwarf.Lang { return dwarf.FirstLanguage(f.CompilationUnits()) }

// DwarfVersion returns the version of the first unit, or 0 without DWARF.
func (f *File) DwarfVersion() int {
	units := f.CompilationUnits()
	if len(units) == 0 {
		return 0
	}
	return int(units[0].Version)
}

// CompileInfos summarizes the C and C++ compile units.
func (f *File) CompileInfos() []dwarf.CompileInfo {
	return dwarf.CompileInfos(f.CompilationUnits())
}
