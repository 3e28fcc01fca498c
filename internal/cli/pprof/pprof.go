// Package pprof implements the 'binscope pprof' command.
package pprof

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/binscope/internal/cli/helpers"
	"github.com/coral-mesh/binscope/internal/errors"
	"github.com/coral-mesh/binscope/pkg/binscope"
	"github.com/coral-mesh/binscope/pkg/export"
)

// NewPprofCmd creates the pprof command.
func NewPprofCmd(s *helpers.Session) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "pprof <file>",
		Short: "Export line tables as a pprof profile",
		Long: `Write the DWARF line tables of a binary as a pprof profile. Each line-table row
becomes a location whose value is the number of code bytes it covers, so
'go tool pprof -top' ranks functions and source lines by generated code size.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := s.BuildIndex(cmd.Context())
			if err != nil {
				return err
			}
			h, err := binscope.Open(args[0], s.OpenOptions(idx)...)
			if err != nil {
				if h != nil {
					_ = h.Close()
				}
				return err
			}
			defer errors.DeferClose(s.Logger, h, "failed to close binary")

			p, err := export.Profile(h)
			if err != nil {
				return err
			}
			if len(p.Sample) == 0 {
				return fmt.Errorf("%s: no line table rows to export", args[0])
			}

			if output == "" || output == "-" {
				return export.Write(p, cmd.OutOrStdout())
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			if err := export.Write(p, f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to close %s: %w", output, err)
			}
			s.Logger.Info().
				Str("path", output).
				Int("samples", len(p.Sample)).
				Int("functions", len(p.Function)).
				Msg("Profile written")
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")

	return cmd
}
