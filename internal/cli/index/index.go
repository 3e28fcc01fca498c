// Package index implements the 'binscope index' command.
package index

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/binscope/internal/cli/helpers"
	"github.com/coral-mesh/binscope/pkg/binary/debugpath"
)

// Entry is one indexed file.
type Entry struct {
	Root string `header:"ROOT" json:"root" yaml:"root"`
	Name string `header:"NAME" json:"name" yaml:"name"`
	Path string `header:"PATH" json:"path" yaml:"path"`
}

// NewIndexCmd creates the index command.
func NewIndexCmd(s *helpers.Session) *cobra.Command {
	var (
		format string
		lookup string
	)

	cmd := &cobra.Command{
		Use:   "index [dir]...",
		Short: "Build and print the debug path index",
		Long: `Walk the given directories (or the configured search paths) and list every file
the companion lookup can find, keyed by base name. With --lookup, print only the
path a lookup for that name resolves to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			roots := args
			if len(roots) == 0 {
				roots = s.Config.SearchPaths
			}
			if len(roots) == 0 {
				return fmt.Errorf("no directories given and no search paths configured")
			}

			idx, err := debugpath.BuildIndex(cmd.Context(), roots)
			if err != nil {
				return fmt.Errorf("failed to build index: %w", err)
			}
			s.Logger.Debug().Int("entries", idx.Len()).Msg("Index built")

			if lookup != "" {
				p, ok := idx.Lookup(lookup)
				if !ok {
					return fmt.Errorf("%s: not found in index", lookup)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), p)
				return err
			}

			f, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			return f.Format(Entries(idx), cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{
		helpers.FormatTable,
		helpers.FormatJSON,
		helpers.FormatYAML,
		helpers.FormatCSV,
	})
	cmd.Flags().StringVar(&lookup, "lookup", "", "Resolve one file name against the index")

	return cmd
}

// Entries flattens idx into rows ordered by root position, then name.
func Entries(idx *debugpath.Index) []Entry {
	rank := make(map[string]int, len(idx.Roots()))
	for i, r := range idx.Roots() {
		if _, ok := rank[r]; !ok {
			rank[r] = i
		}
	}
	var out []Entry
	idx.Entries(func(root, name, path string) {
		out = append(out, Entry{Root: root, Name: name, Path: path})
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Root != out[j].Root {
			return rank[out[i].Root] < rank[out[j].Root]
		}
		return out[i].Name < out[j].Name
	})
	return out
}
