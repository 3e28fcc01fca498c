// Package export renders decoded debug information in external formats.
package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/google/pprof/profile"

	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/dwarf"
)

// Source is the part of a loaded binary the exporters read.
type Source interface {
	Path() string
	Sections() []bin.Section
	NormalizeAddress(addr uint64) uint64
	CompilationUnits() []*dwarf.Unit
	LinePrograms() []*dwarf.LineProgram
}

type buildIDer interface {
	BuildID() string
}

// Subprogram is a function with a code range taken from DW_TAG_subprogram.
type Subprogram struct {
	Name        string
	LinkageName string
	Low, High   uint64
	DeclLine    int64
}

// Contains reports whether addr falls in [Low, High).
func (s Subprogram) Contains(addr uint64) bool {
	return addr >= s.Low && addr < s.High
}

// Subprograms collects every named subprogram with a code range, ordered by Low.
// A DW_AT_high_pc of constant class is a length relative to DW_AT_low_pc.
func Subprograms(units []*dwarf.Unit) []Subprogram {
	var out []Subprogram
	for _, u := range units {
		if u.Root == nil {
			continue
		}
		u.Root.Walk(func(e *dwarf.Entry) bool {
			if e.Tag != dwarf.TagSubprogram {
				return true
			}
			low, ok := e.Attr(dwarf.AttrLowpc)
			if !ok || low.Kind != dwarf.KindAddress {
				return true
			}
			sp := Subprogram{Name: subprogramName(e), LinkageName: linkageName(e), Low: low.Uint, High: low.Uint}
			if high, ok := e.Attr(dwarf.AttrHighpc); ok {
				if high.Kind == dwarf.KindAddress {
					sp.High = high.Uint
				} else {
					sp.High = low.Uint + high.Uint
				}
			}
			if line, ok := e.Uint(dwarf.AttrDeclLine); ok {
				sp.DeclLine = int64(line)
			}
			if sp.Name != "" && sp.High > sp.Low {
				out = append(out, sp)
			}
			return true
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Low < out[j].Low })
	return out
}

// subprogramName follows DW_AT_abstract_origin and DW_AT_specification when the entry
// itself is anonymous.
func subprogramName(e *dwarf.Entry) string {
	for depth := 0; e != nil && depth < 4; depth++ {
		if n := e.Name(); n != "" {
			return n
		}
		e = origin(e)
	}
	return ""
}

func linkageName(e *dwarf.Entry) string {
	for depth := 0; e != nil && depth < 4; depth++ {
		if n := e.StringAttr(dwarf.AttrLinkageName); n != "" {
			return n
		}
		if n := e.StringAttr(dwarf.AttrMIPSLinkageName); n != "" {
			return n
		}
		e = origin(e)
	}
	return ""
}

func origin(e *dwarf.Entry) *dwarf.Entry {
	if v, ok := e.Attr(dwarf.AttrAbstractOrigin); ok && v.Ref != nil {
		return v.Ref
	}
	if v, ok := e.Attr(dwarf.AttrSpecification); ok && v.Ref != nil {
		return v.Ref
	}
	return nil
}

func lookup(subs []Subprogram, addr uint64) (Subprogram, bool) {
	i := sort.Search(len(subs), func(i int) bool { return subs[i].Low > addr }) - 1
	for ; i >= 0; i-- {
		if subs[i].Contains(addr) {
			return subs[i], true
		}
	}
	return Subprogram{}, false
}

// UnknownFunction names rows that no subprogram covers.
const UnknownFunction = "??"

// Profile builds a pprof profile with one sample per line-table row. The sample value is
// the number of code bytes the row covers, so pprof's views show how much code each
// function and source line produced.
func Profile(src Source) (*profile.Profile, error) {
	subs := Subprograms(src.CompilationUnits())

	p := &profile.Profile{
		SampleType:        []*profile.ValueType{{Type: "code", Unit: "bytes"}},
		DefaultSampleType: "code",
	}
	m := &profile.Mapping{
		ID:             1,
		File:           src.Path(),
		HasFunctions:   true,
		HasFilenames:   true,
		HasLineNumbers: true,
	}
	if b, ok := src.(buildIDer); ok {
		m.BuildID = b.BuildID()
	}
	first := true
	for _, s := range src.Sections() {
		if s.Flags&bin.Executable == 0 || s.Size == 0 {
			continue
		}
		// Line rows carry normalized addresses; the mapping must match them.
		start := src.NormalizeAddress(s.Address)
		if start == bin.AddressNotFound {
			continue
		}
		if first || start < m.Start {
			first = false
			m.Start = start
		}
		if end := start + s.Size; end > m.Limit {
			m.Limit = end
		}
	}
	p.Mapping = []*profile.Mapping{m}

	funcs := make(map[string]*profile.Function)
	function := func(name, system, file string, start int64) *profile.Function {
		key := name + "\x00" + file
		if fn, ok := funcs[key]; ok {
			return fn
		}
		fn := &profile.Function{
			ID:         uint64(len(p.Function) + 1),
			Name:       name,
			SystemName: system,
			Filename:   file,
			StartLine:  start,
		}
		funcs[key] = fn
		p.Function = append(p.Function, fn)
		return fn
	}
	locs := make(map[uint64]*profile.Location)

	for _, lp := range src.LinePrograms() {
		rows := lp.Rows
		for i := 0; i+1 < len(rows); i++ {
			row := rows[i]
			if row.EndSequence {
				continue
			}
			if rows[i+1].Address <= row.Address {
				continue
			}
			size := rows[i+1].Address - row.Address
			file := ""
			if fe := lp.FileOf(row); fe != nil {
				file = fe.Path
			}
			name, system, start := UnknownFunction, UnknownFunction, int64(0)
			if sp, ok := lookup(subs, row.Address); ok {
				name, start = sp.Name, sp.DeclLine
				system = sp.LinkageName
				if system == "" {
					system = sp.Name
				}
			}
			fn := function(name, system, file, start)

			loc, ok := locs[row.Address]
			if !ok {
				loc = &profile.Location{
					ID:      uint64(len(p.Location) + 1),
					Mapping: m,
					Address: row.Address,
					Line:    []profile.Line{{Function: fn, Line: int64(row.Line), Column: int64(row.Column)}},
				}
				locs[row.Address] = loc
				p.Location = append(p.Location, loc)
				p.Sample = append(p.Sample, &profile.Sample{
					Location: []*profile.Location{loc},
					Value:    []int64{int64(size)},
				})
			}
		}
	}

	sort.SliceStable(p.Sample, func(i, j int) bool {
		return p.Sample[i].Location[0].Address < p.Sample[j].Location[0].Address
	})
	if err := p.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid profile for %s: %w", src.Path(), err)
	}
	return p, nil
}

// Write serializes p as gzip-compressed protobuf.
func Write(p *profile.Profile, w io.Writer) error {
	if err := p.Write(w); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}
