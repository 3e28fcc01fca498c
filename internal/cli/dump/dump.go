// Package dump implements the 'binscope dump' command.
package dump

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/binscope/internal/cli/helpers"
	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binscope"
)

var supportedFormats = []helpers.OutputFormat{
	helpers.FormatTable,
	helpers.FormatJSON,
	helpers.FormatYAML,
}

// NewDumpCmd creates the dump command.
func NewDumpCmd(s *helpers.Session) *cobra.Command {
	var (
		format   string
		verbose  bool
		jobs     int
		useIndex bool
	)

	cmd := &cobra.Command{
		Use:   "dump <file>...",
		Short: "Describe the layout and debug information of binaries",
		Long: `Open each binary and print its section table, segments, compilers, debug-file
state, compile units, language, line-table summary and call frame counts.

Files are loaded in parallel. Files with identical contents are reported once.
Companion debug files (DWO, debuglink, PDB) are looked up in --search-path.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, supportedFormats); err != nil {
				return err
			}
			summaries, err := Run(cmd.Context(), s, args, Options{Jobs: jobs, UseIndex: useIndex})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == string(helpers.FormatTable) {
				if err := WriteText(out, summaries, verbose); err != nil {
					return err
				}
			} else {
				f, err := helpers.NewFormatter(helpers.OutputFormat(format))
				if err != nil {
					return err
				}
				if err := f.Format(summaries, out); err != nil {
					return err
				}
			}

			if failed := countFailed(summaries); failed > 0 {
				return fmt.Errorf("%d of %d files failed to load", failed, len(summaries))
			}
			return nil
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, supportedFormats)
	helpers.AddVerboseFlag(cmd, &verbose)
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.NumCPU(), "Number of binaries loaded concurrently")
	cmd.Flags().BoolVar(&useIndex, "index", false, "Index the search paths once up front instead of walking them per lookup")

	return cmd
}

// Options tunes Run.
type Options struct {
	Jobs     int
	UseIndex bool
}

// Run opens every path and describes it. Results keep argument order; a file whose
// contents were already seen under another path is dropped.
func Run(ctx context.Context, s *helpers.Session, paths []string, opts Options) ([]*binscope.Summary, error) {
	logger := s.Logger.With().Str("component", "dump").Logger()

	var openOpts []binscope.Option
	if opts.UseIndex {
		index, err := s.BuildIndex(ctx)
		if err != nil {
			return nil, err
		}
		openOpts = s.OpenOptions(index)
	} else {
		openOpts = s.OpenOptions(nil)
	}

	results := make([]*binscope.Summary, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if opts.Jobs > 0 {
		g.SetLimit(opts.Jobs)
	}
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = describe(path, openOpts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]string, len(results))
	out := results[:0]
	for _, r := range results {
		if r.Digest != "" {
			if first, ok := seen[r.Digest]; ok {
				logger.Info().
					Str("path", r.Path).
					Str("same_as", first).
					Msg("Skipping duplicate binary")
				continue
			}
			seen[r.Digest] = r.Path
		}
		out = append(out, r)
	}
	return out, nil
}

func describe(path string, opts []binscope.Option) *binscope.Summary {
	h, err := binscope.Open(path, opts...)
	if h == nil {
		return &binscope.Summary{Path: path, Format: bin.FormatUnknown.String(), Error: err.Error()}
	}
	defer func() { _ = h.Close() }()
	return binscope.Describe(h)
}

func countFailed(summaries []*binscope.Summary) int {
	n := 0
	for _, s := range summaries {
		if s.Error != "" {
			n++
		}
	}
	return n
}

type sectionRow struct {
	Index   int    `header:"IDX"`
	Name    string `header:"NAME"`
	Type    string `header:"TYPE"`
	Flags   string `header:"FLAGS"`
	Address string `header:"ADDRESS"`
	Offset  string `header:"OFFSET"`
	Size    string `header:"SIZE"`
}

type segmentRow struct {
	Type    string `header:"TYPE"`
	Name    string `header:"NAME"`
	Perms   string `header:"PERMS"`
	Address string `header:"ADDRESS"`
	Offset  string `header:"OFFSET"`
	Size    string `header:"SIZE"`
}

type unitRow struct {
	Name     string `header:"UNIT"`
	Language string `header:"LANGUAGE"`
	Producer string `header:"PRODUCER"`
}

func hex(v uint64) string { return fmt.Sprintf("0x%x", v) }

// WriteText renders summaries as human-readable text.
func WriteText(w io.Writer, summaries []*binscope.Summary, verbose bool) error {
	table := &helpers.TableFormatter{}
	for i, s := range summaries {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintf(w, "%s\n", s.Path)
		if s.Error != "" {
			_, _ = fmt.Fprintf(w, "  format:  %s\n  error:   %s\n", s.Format, s.Error)
			continue
		}
		bits := "32-bit"
		if s.Is64Bit {
			bits = "64-bit"
		}
		_, _ = fmt.Fprintf(w, "  format:  %s %s\n", s.Format, bits)
		_, _ = fmt.Fprintf(w, "  digest:  %s\n", s.Digest)
		_, _ = fmt.Fprintf(w, "  debug:   %s (loaded: %t)\n", s.DebugFileType, s.DebugFileLoaded)
		if s.DwarfVersion > 0 {
			_, _ = fmt.Fprintf(w, "  dwarf:   v%d, language %s\n", s.DwarfVersion, s.Language)
		}
		var compilers []string
		for _, c := range s.Compilers {
			compilers = append(compilers, c.String())
		}
		_, _ = fmt.Fprintf(w, "  compilers: %s\n", strings.Join(compilers, ", "))
		d := s.Debug
		_, _ = fmt.Fprintf(w, "  units: %d (%d errors)  line programs: %d (%d rows, %d errors)  CIEs: %d  FDEs: %d\n",
			d.Units, d.UnitErrors, d.LinePrograms, d.LineRows, d.LineErrors, d.CIEs, d.FDEs)

		switch {
		case s.ELF != nil:
			e := s.ELF
			_, _ = fmt.Fprintf(w, "  machine: %s\n", e.Machine)
			if e.Interpreter != "" {
				_, _ = fmt.Fprintf(w, "  interp:  %s\n", e.Interpreter)
			}
			if e.BuildID != "" {
				_, _ = fmt.Fprintf(w, "  build id: %s\n", e.BuildID)
			}
			if e.DebugArtifact != "" {
				_, _ = fmt.Fprintf(w, "  debug artifact: %s\n", e.DebugArtifact)
			}
			if e.BTF != nil {
				_, _ = fmt.Fprintf(w, "  btf:     %d types, %d functions\n", e.BTF.Types, e.BTF.Functions)
			}
		case s.PE != nil:
			p := s.PE
			_, _ = fmt.Fprintf(w, "  machine: %s  subsystem: %s  linker: %s  managed: %t\n", p.Machine, p.Subsystem, p.Linker, p.Managed)
			if p.CodeView != nil {
				_, _ = fmt.Fprintf(w, "  pdb:     %s (%s)\n", p.CodeView.PDBPath, p.CodeView.SymbolKey())
			}
			if p.PDB != nil {
				_, _ = fmt.Fprintf(w, "  pdb file: %s (%s)\n", p.PDB.Path, p.PDB.Type)
			}
		}
		for _, m := range s.MachO {
			_, _ = fmt.Fprintf(w, "  slice:   %s uuid %s units %d\n", m.CPU, m.UUID, m.Units)
		}

		_, _ = fmt.Fprintln(w)
		rows := make([]sectionRow, 0, len(s.Sections))
		for _, sec := range s.Sections {
			rows = append(rows, sectionRow{
				Index:   sec.Index,
				Name:    sec.Name,
				Type:    sec.Type,
				Flags:   sec.Flags,
				Address: hex(sec.Address),
				Offset:  hex(sec.FileOffset),
				Size:    hex(sec.Size),
			})
		}
		if err := table.Format(rows, w); err != nil {
			return err
		}

		if verbose && len(s.Segments) > 0 {
			_, _ = fmt.Fprintln(w)
			segs := make([]segmentRow, 0, len(s.Segments))
			for _, seg := range s.Segments {
				segs = append(segs, segmentRow{
					Type:    seg.Type,
					Name:    seg.Name,
					Perms:   seg.Permissions.String(),
					Address: hex(seg.Address),
					Offset:  hex(seg.FileOffset),
					Size:    hex(seg.Size),
				})
			}
			if err := table.Format(segs, w); err != nil {
				return err
			}
		}
		if verbose && len(s.CompileUnits) > 0 {
			_, _ = fmt.Fprintln(w)
			units := make([]unitRow, 0, len(s.CompileUnits))
			for _, u := range s.CompileUnits {
				units = append(units, unitRow{Name: u.Name, Language: u.Language.String(), Producer: u.Producer})
			}
			if err := table.Format(units, w); err != nil {
				return err
			}
		}
	}
	return nil
}
