// Package config implements the 'binscope config' command family.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/binscope/internal/cli/helpers"
	"github.com/coral-mesh/binscope/internal/config"
)

// NewConfigCmd creates the config command and its subcommands.
func NewConfigCmd(s *helpers.Session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage binscope configuration",
		Long: `Manage binscope configuration.

Configuration Priority:
  1. Command-line flags (highest)
  2. BINSCOPE_* environment variables
  3. Config file ($BINSCOPE_CONFIG or ~/.binscope/config.yaml)
  4. Built-in defaults

Environment Variables:
  BINSCOPE_CONFIG           Override the config file path
  BINSCOPE_SEARCH_PATHS     ';'-separated companion search directories
  BINSCOPE_COMPREHENSIVE    Decode all debug data at open time
  BINSCOPE_MAX_DEBUG_DEPTH  Limit on chained companion opens
  BINSCOPE_LOG_LEVEL        trace, debug, info, warn, error or disabled`,
	}

	cmd.AddCommand(newViewCmd(s))
	cmd.AddCommand(newInitCmd(s))
	cmd.AddCommand(newPathCmd(s))

	return cmd
}

// newViewCmd creates the 'config view' command.
func newViewCmd(s *helpers.Session) *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the effective configuration",
		Long:  `Print the configuration after the file, environment and flags are merged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(s.Config)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// newInitCmd creates the 'config init' command.
func newInitCmd(s *helpers.Session) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoaderAt(s.ConfigPath)
			if loader.Path() == "" {
				return fmt.Errorf("no config path available, set %s", config.ConfigEnv)
			}
			if _, err := os.Stat(loader.Path()); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", loader.Path())
			}
			if err := loader.Save(config.Default()); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", loader.Path())
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

// newPathCmd creates the 'config path' command.
func newPathCmd(s *helpers.Session) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), s.ConfigPath)
			return err
		},
	}
}
