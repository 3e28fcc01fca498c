// Package cli wires the binscope cobra commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	configcmd "github.com/coral-mesh/binscope/internal/cli/config"
	"github.com/coral-mesh/binscope/internal/cli/dump"
	"github.com/coral-mesh/binscope/internal/cli/helpers"
	"github.com/coral-mesh/binscope/internal/cli/index"
	"github.com/coral-mesh/binscope/internal/cli/pprof"
	"github.com/coral-mesh/binscope/internal/config"
	"github.com/coral-mesh/binscope/internal/logging"
	"github.com/coral-mesh/binscope/pkg/version"
)

type rootFlags struct {
	configPath    string
	searchPaths   helpers.PathList
	comprehensive bool
	maxDepth      int
	noMmap        bool
	logLevel      string
}

// NewRootCmd builds the command tree. Every call returns an independent tree.
func NewRootCmd() *cobra.Command {
	s := helpers.NewSession()
	f := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "binscope",
		Short: "Inspect binary layout and debug information",
		Long: `binscope opens ELF, Mach-O (thin and fat) and PE binaries and reports their
section model, compilers and debug information.

DWARF is decoded from the binary itself or from companion files: split DWARF
(.dwo/.dwp), .gnu_debuglink targets and PDB files found next to the binary or in
the search paths.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return f.apply(cmd, s)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "Config file (default $BINSCOPE_CONFIG or ~/.binscope/config.yaml)")
	pf.Var(&f.searchPaths, "search-path", "';'-separated directories searched for companion debug files (repeatable)")
	pf.BoolVar(&f.comprehensive, "comprehensive", false, "Decode all debug data at open time")
	pf.IntVar(&f.maxDepth, "max-debug-depth", config.DefaultMaxDebugDepth, "Limit on chained companion debug file opens")
	pf.BoolVar(&f.noMmap, "no-mmap", false, "Read binaries into memory instead of mapping them")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error, disabled)")

	rootCmd.AddCommand(dump.NewDumpCmd(s))
	rootCmd.AddCommand(index.NewIndexCmd(s))
	rootCmd.AddCommand(pprof.NewPprofCmd(s))
	rootCmd.AddCommand(configcmd.NewConfigCmd(s))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// apply loads the config file and layers the flags that were set on top of it.
func (f *rootFlags) apply(cmd *cobra.Command, s *helpers.Session) error {
	loader := config.NewLoader()
	if f.configPath != "" {
		loader = config.NewLoaderAt(f.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if f.searchPaths.Changed() {
		cfg.SearchPaths = f.searchPaths.Paths()
	}
	if flags.Changed("comprehensive") {
		cfg.Comprehensive = f.comprehensive
	}
	if flags.Changed("max-debug-depth") {
		cfg.MaxDebugDepth = f.maxDepth
	}
	if f.noMmap {
		cfg.UseMmap = false
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	cfg.Log.Output = cmd.ErrOrStderr()

	s.Config = cfg
	s.ConfigPath = loader.Path()
	s.Logger = logging.NewWithComponent(cfg.Log, "cli")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
