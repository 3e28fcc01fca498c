package mmap

import (
	"github.com/coral-mesh/binscope/internal/safe"
)

func readAll(path string, opts *safe.FileOptions) (*Reader, error) {
	data, err := safe.ReadFile(path, opts)
	if err != nil {
		return nil, err
	}
	return &Reader{data: data}, nil
}
