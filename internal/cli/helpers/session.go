package helpers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/binscope/internal/config"
	"github.com/coral-mesh/binscope/pkg/binary/debugpath"
	"github.com/coral-mesh/binscope/pkg/binscope"
)

// Session holds what the root command resolved before a subcommand runs: the effective
// configuration and the logger built from it.
type Session struct {
	Config *config.Config
	// ConfigPath is the file Config was loaded from, "" when none applies.
	ConfigPath string
	Logger     zerolog.Logger
}

// NewSession returns a session with the default configuration and a disabled logger.
func NewSession() *Session {
	return &Session{Config: config.Default(), Logger: zerolog.Nop()}
}

// OpenOptions returns the binscope options every command opens binaries with.
func (s *Session) OpenOptions(idx *debugpath.Index) []binscope.Option {
	opts := []binscope.Option{
		binscope.WithConfig(s.Config),
		binscope.WithLogger(s.Logger),
	}
	if idx != nil {
		opts = append(opts, binscope.WithIndex(idx))
	}
	return opts
}

// BuildIndex indexes the configured search paths. It returns nil when there are none.
func (s *Session) BuildIndex(ctx context.Context) (*debugpath.Index, error) {
	if len(s.Config.SearchPaths) == 0 {
		return nil, nil
	}
	idx, err := debugpath.BuildIndex(ctx, s.Config.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to index search paths: %w", err)
	}
	s.Logger.Debug().
		Strs("roots", idx.Roots()).
		Int("entries", idx.Len()).
		Msg("Built debug path index")
	return idx, nil
}
