package debugpath

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/binscope/internal/safe"
	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/dwarf"
)

// Section names consulted by the resolver.
const (
	SectionDebugInfo    = ".debug_info"
	SectionDebugInfoDwo = ".debug_info.dwo"
	SectionDebuglink    = ".gnu_debuglink"
	SectionInterp       = ".interp"
	SectionDynsym       = ".dynsym"
	SectionInit         = ".init"
	SectionData         = ".data"
)

// Companion is the debug data loaded from a resolved companion file.
type Companion struct {
	Units []*dwarf.Unit
	Lines []*dwarf.LineProgram
}

// Opener opens a companion file as a new binary at the given recursion depth.
type Opener func(path string, depth int) (*Companion, error)

// Input describes the binary being resolved.
type Input struct {
	Path     string
	Order    binary.ByteOrder
	Sections *bin.SectionTable
	// ReadSection returns the contents of a named section.
	ReadSection func(name string) ([]byte, error)
	// Units are the binary's own decoded units; the first root may name a .dwo file.
	Units []*dwarf.Unit
	// Depth is the recursion depth of this binary; the primary binary is 0.
	Depth int
}

// Result is the outcome of resolution.
type Result struct {
	Type   bin.DebugFileType
	Loaded bool
	// Candidate is the DWO or debuglink name that was searched for.
	Candidate string
	// Path is where the candidate was found, empty when it was not.
	Path      string
	Debuglink *Debuglink
	Companion *Companion
}

// Resolver runs the debug file state machine.
type Resolver struct {
	SearchPaths []string
	Index       *Index
	Open        Opener
	MaxDepth    int
	FileOptions *safe.FileOptions
	Logger      zerolog.Logger
}

func hasBits(t *bin.SectionTable, name string) bool {
	s, ok := t.ByName(name)
	return ok && s.HasBits()
}

func hasNoBits(t *bin.SectionTable, name string) bool {
	s, ok := t.ByName(name)
	return ok && (!s.HasBits() || s.Size == 0)
}

// Resolve classifies in and, when a companion is found, opens it through r.Open.
func (r *Resolver) Resolve(in Input) Result {
	logger := r.Logger.With().Str("path", in.Path).Int("depth", in.Depth).Logger()
	if in.Sections == nil {
		return Result{Type: bin.Unknown}
	}

	if hasBits(in.Sections, SectionDebugInfoDwo) && !hasBits(in.Sections, SectionDebugInfo) {
		return Result{Type: bin.DebugOnlyFileDwo}
	}

	res := Result{Type: bin.Unknown}
	if name, ok := firstDwoName(in.Units); ok {
		res.Type = bin.FromDwo
		res.Candidate = name
	}

	if res.Candidate == "" && hasBits(in.Sections, SectionDebuglink) && in.ReadSection != nil {
		data, err := in.ReadSection(SectionDebuglink)
		if err != nil {
			logger.Debug().Err(err).Msg("Failed to read .gnu_debuglink")
		} else if link, ok := ParseDebuglink(data, in.Order); ok {
			res.Type = bin.FromDebuglink
			res.Candidate = link.Name
			res.Debuglink = &link
		}
	}

	if res.Candidate == "" {
		res.Type, res.Loaded = classify(in.Sections)
		return res
	}

	path, found := r.find(res.Candidate, in.Path)
	if !found {
		logger.Debug().Str("candidate", res.Candidate).Err(bin.ErrArtifactNotFound).Msg("Debug companion not found")
		return res
	}
	res.Path = path

	if SamePath(path, in.Path) {
		if res.Type == bin.FromDebuglink {
			res.Type = bin.FromDebuglinkSelf
		}
		res.Loaded = hasBits(in.Sections, SectionDebugInfo)
		return res
	}

	if res.Debuglink != nil && res.Debuglink.HasCRC {
		r.checkCRC(logger, path, res.Debuglink.CRC)
	}

	if r.Open == nil || in.Depth+1 > r.MaxDepth {
		logger.Debug().Str("companion", path).Msg("Debug companion not opened: recursion limit reached")
		return res
	}
	comp, err := r.Open(path, in.Depth+1)
	if err != nil {
		logger.Debug().Err(err).Str("companion", path).Msg("Failed to open debug companion")
		return res
	}
	if comp != nil && len(comp.Units) > 0 {
		res.Companion = comp
		res.Loaded = true
	}
	return res
}

func (r *Resolver) find(name, binaryPath string) (string, bool) {
	if r.Index != nil {
		if p, ok := r.Index.Lookup(name); ok {
			return p, true
		}
		return Find(name, nil, filepath.Dir(binaryPath))
	}
	return Find(name, r.SearchPaths, filepath.Dir(binaryPath))
}

func (r *Resolver) checkCRC(logger zerolog.Logger, path string, want uint32) {
	got, err := FileCRC(path, r.FileOptions)
	if err != nil {
		logger.Debug().Err(err).Str("companion", path).Msg("Failed to checksum debug companion")
		return
	}
	if got != want {
		logger.Warn().
			Str("companion", path).
			Str("want", fmt.Sprintf("%08x", want)).
			Str("got", fmt.Sprintf("%08x", got)).
			Msg("Debuglink CRC mismatch")
	}
}

// firstDwoName returns the DWO name of the first compile or skeleton unit root.
func firstDwoName(units []*dwarf.Unit) (string, bool) {
	for _, u := range units {
		if u.Root == nil {
			continue
		}
		if u.Root.Tag != dwarf.TagCompileUnit && u.Root.Tag != dwarf.TagSkeletonUnit {
			continue
		}
		return u.DwoName()
	}
	return "", false
}

var coreSections = []string{SectionInterp, SectionDynsym, SectionInit, SectionData}

// classify applies the section fingerprint used when no companion is named.
func classify(t *bin.SectionTable) (bin.DebugFileType, bool) {
	allEmpty, allBits := true, true
	for _, name := range coreSections {
		allEmpty = allEmpty && hasNoBits(t, name)
		allBits = allBits && hasBits(t, name)
	}
	debugInfo := hasBits(t, SectionDebugInfo)
	switch {
	case allEmpty && debugInfo:
		return bin.DebugOnlyFileDebuglink, false
	case allEmpty:
		return bin.DebugOnlyFileStripped, false
	case allBits && debugInfo:
		return bin.DebugIncluded, true
	}
	return bin.NoDebug, false
}
