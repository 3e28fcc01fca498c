package elf

import (
	"github.com/coral-mesh/binscope/internal/errors"
	"github.com/coral-mesh/binscope/pkg/binary/debugpath"
)

// CompanionOpener returns a debugpath.Opener that loads DWO and debuglink companions as ELF
// files with opts at the requested depth. The companion is closed once its units and line
// programs are decoded; both are copies of the mapped data.
func CompanionOpener(opts Options) debugpath.Opener {
	return func(path string, depth int) (*debugpath.Companion, error) {
		o := opts
		o.Depth = depth
		o.Comprehensive = false
		cf, err := Open(path, o)
		if err != nil {
			return nil, err
		}
		defer errors.DeferClose(opts.Logger, cf, "Failed to close debug companion")
		return &debugpath.Companion{
			Units: cf.CompilationUnits(),
			Lines: cf.LinePrograms(),
		}, nil
	}
}

// WithResolver installs a copy of r in opts. Companions found by the resolver open as ELF
// files with the returned options.
func WithResolver(r debugpath.Resolver, opts Options) Options {
	res := r
	opts.Resolver = &res
	res.Open = CompanionOpener(opts)
	return opts
}
