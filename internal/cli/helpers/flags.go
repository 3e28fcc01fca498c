package helpers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/binscope/internal/config"
)

// AddFormatFlag adds a standard --format/-o flag to a command.
// Validates that the format is in the supportedFormats list.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supportedFormats []OutputFormat) {
	formatNames := make([]string, len(supportedFormats))
	for i, f := range supportedFormats {
		formatNames[i] = string(f)
	}

	description := fmt.Sprintf("Output format (%s)", strings.Join(formatNames, ", "))
	cmd.Flags().StringVarP(formatVar, "format", "f", string(defaultFormat), description)

	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return formatNames, cobra.ShellCompDirectiveNoFileComp
	})
}

// AddVerboseFlag adds a standard --verbose/-v flag.
func AddVerboseFlag(cmd *cobra.Command, verboseVar *bool) {
	cmd.Flags().BoolVarP(verboseVar, "verbose", "v", false, "Verbose output (show additional details)")
}

// ValidateFormat checks if the format is in the supported list.
func ValidateFormat(format string, supported []OutputFormat) error {
	for _, s := range supported {
		if format == string(s) {
			return nil
		}
	}

	supportedNames := make([]string, len(supported))
	for i, s := range supported {
		supportedNames[i] = string(s)
	}

	return fmt.Errorf("unsupported format %q, must be one of: %s",
		format, strings.Join(supportedNames, ", "))
}

// PathList is a pflag.Value holding directories given as one ';'-separated list or
// through repeated flags.
type PathList struct {
	paths []string
	set   bool
}

var _ pflag.Value = (*PathList)(nil)

// String joins the list back with ';'.
func (p *PathList) String() string { return strings.Join(p.paths, config.SearchPathSep) }

// Set appends the entries of one flag occurrence.
func (p *PathList) Set(v string) error {
	entries := config.SplitList(v, config.SearchPathSep)
	if len(entries) == 0 {
		return fmt.Errorf("empty search path")
	}
	p.paths = append(p.paths, entries...)
	p.set = true
	return nil
}

// Type names the value in help output.
func (p *PathList) Type() string { return "paths" }

// Paths returns the collected directories.
func (p *PathList) Paths() []string { return p.paths }

// Changed reports whether the flag was given at all.
func (p *PathList) Changed() bool { return p.set }
