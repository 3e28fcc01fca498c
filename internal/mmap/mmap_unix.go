//go:build unix

package mmap

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/coral-mesh/binscope/internal/safe"
)

// Open memory-maps the named file for reading after validating it with safe.Stat.
// When useMmap is false the file is read into memory instead.
func Open(path string, opts *safe.FileOptions, useMmap bool) (*Reader, error) {
	if !useMmap {
		return readAll(path, opts)
	}

	f, info, err := safe.Open(path, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	size, ok := safe.Uint64ToInt(uint64(info.Size()))
	if !ok {
		return nil, fmt.Errorf("mmap: file %q is too large", path)
	}
	if size == 0 {
		return &Reader{}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	return &Reader{data: data, unmap: unix.Munmap}, nil
}
