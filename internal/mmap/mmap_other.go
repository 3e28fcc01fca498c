//go:build !unix

package mmap

import (
	"github.com/coral-mesh/binscope/internal/safe"
)

// Open reads the named file into memory. Memory mapping is only used on unix platforms.
func Open(path string, opts *safe.FileOptions, _ bool) (*Reader, error) {
	return readAll(path, opts)
}
