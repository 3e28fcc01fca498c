// Package binscope opens ELF, Mach-O and PE binaries behind one façade. Open sniffs the
// container format, hands the mapped bytes to the matching loader and returns a Handle
// whose debug accessors decode on first use.
package binscope

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/binscope/internal/config"
	"github.com/coral-mesh/binscope/internal/logging"
	"github.com/coral-mesh/binscope/internal/mmap"
	"github.com/coral-mesh/binscope/internal/safe"
	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/compiler"
	"github.com/coral-mesh/binscope/pkg/binary/debugpath"
	"github.com/coral-mesh/binscope/pkg/binary/dwarf"
	"github.com/coral-mesh/binscope/pkg/binary/elf"
	"github.com/coral-mesh/binscope/pkg/binary/macho"
	"github.com/coral-mesh/binscope/pkg/binary/pe"
)

// Binary is the format-agnostic view of a loaded binary. *elf.File, *macho.File,
// *macho.Slice and *pe.File implement it.
type Binary interface {
	Path() string
	Format() bin.Format
	Valid() bool
	LoadError() error
	Is64Bit() bool

	Sections() []bin.Section
	SectionByName(name string) (bin.Section, bool)
	NormalizeAddress(addr uint64) uint64

	CompilationUnits() []*dwarf.Unit
	LinePrograms() []*dwarf.LineProgram
	CommonInformationEntries() []*dwarf.CIE
	Compilers() []compiler.Info
	DebugFileType() bin.DebugFileType
	DebugFileLoaded() bool
	Language() dwarf.Lang
	DwarfVersion() int

	Close() error
}

var (
	_ Binary = (*elf.File)(nil)
	_ Binary = (*macho.File)(nil)
	_ Binary = (*macho.Slice)(nil)
	_ Binary = (*pe.File)(nil)
)

type options struct {
	cfg           *config.Config
	logger        zerolog.Logger
	index         *debugpath.Index
	searchPaths   []string
	loadOffset    uint64
	comprehensive *bool
}

// Option configures Open.
type Option func(*options)

// WithConfig sets the configuration. Without it config.Default applies. Build cfg from
// config.Default: a zero MaxDebugDepth disables companion loading. A zero MaxFileSize
// takes the default, and a config that fails Validate makes Open fail.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithIndex answers companion lookups from a prebuilt session index instead of walking
// the search paths.
func WithIndex(idx *debugpath.Index) Option {
	return func(o *options) { o.index = idx }
}

// WithSearchPaths replaces the configured companion search paths.
func WithSearchPaths(paths ...string) Option {
	return func(o *options) { o.searchPaths = paths }
}

// WithLoadOffset sets the runtime load bias applied to allocatable sections.
func WithLoadOffset(off uint64) Option {
	return func(o *options) { o.loadOffset = off }
}

// Comprehensive forces every debug cell to decode at open time, overriding the config.
func Comprehensive(on bool) Option {
	return func(o *options) { o.comprehensive = &on }
}

func (o *options) fileOptions() *safe.FileOptions {
	return &safe.FileOptions{MaxSize: o.cfg.MaxFileSize, AllowSymlinks: o.cfg.FollowSymlinks}
}

// Open loads the binary at path. Unknown formats return an error matching
// bin.ErrFormatNotRecognized and no handle. Container parse failures return an invalid
// handle together with the error.
func Open(path string, opts ...Option) (*Handle, error) {
	o := &options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	cfg := config.Default()
	if o.cfg != nil {
		c := *o.cfg
		cfg = &c
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = config.DefaultMaxFileSize
	}
	if o.searchPaths != nil {
		cfg.SearchPaths = o.searchPaths
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o.cfg = cfg

	comprehensive := o.cfg.Comprehensive
	if o.comprehensive != nil {
		comprehensive = *o.comprehensive
	}
	fileOpts := o.fileOptions()

	r, err := mmap.Open(path, fileOpts, o.cfg.UseMmap)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	head := r.Bytes()
	if len(head) > SniffLen {
		head = head[:SniffLen]
	}
	format, err := Sniff(head)
	if err != nil {
		_ = r.Close()
		o.logger.Debug().Str("path", path).Msg("Format not recognized")
		return nil, err
	}

	h := &Handle{path: path, format: format, data: r}
	h.digest = bin.NewLazy(h.computeDigest)

	switch format {
	case bin.FormatELF:
		eo := elf.Options{
			Logger:        o.logger,
			LoadOffset:    o.loadOffset,
			Comprehensive: comprehensive,
			FileOptions:   fileOpts,
			UseMmap:       o.cfg.UseMmap,
		}
		eo = elf.WithResolver(debugpath.Resolver{
			SearchPaths: o.cfg.SearchPaths,
			Index:       o.index,
			MaxDepth:    o.cfg.MaxDebugDepth,
			FileOptions: fileOpts,
			Logger:      logging.Component(o.logger, "debugpath"),
		}, eo)
		h.Binary, err = elf.NewFile(r, path, eo)
	case bin.FormatMachO:
		h.Binary, err = macho.NewFile(r, path, macho.Options{
			Logger:        o.logger,
			LoadOffset:    o.loadOffset,
			Comprehensive: comprehensive,
			FileOptions:   fileOpts,
			UseMmap:       o.cfg.UseMmap,
		})
	case bin.FormatPE:
		h.Binary, err = pe.NewFile(r, path, pe.Options{
			Logger:        o.logger,
			LoadOffset:    o.loadOffset,
			Comprehensive: comprehensive,
			FileOptions:   fileOpts,
			UseMmap:       o.cfg.UseMmap,
			Provider: &pe.SearchProvider{
				SearchPaths: o.cfg.SearchPaths,
				Index:       o.index,
				FileOptions: fileOpts,
			},
		})
	}
	return h, err
}
