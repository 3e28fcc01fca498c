// Package mmap provides read-only access to a binary's bytes, memory-mapped where the
// platform supports it.
package mmap

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrClosed is returned by reads after Close.
var ErrClosed = errors.New("mmap: closed")

// Reader exposes the contents of a file as a byte slice and an io.ReaderAt.
type Reader struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
	unmap  func([]byte) error
}

// FromBytes wraps an in-memory buffer. Close is a no-op apart from invalidating reads.
func FromBytes(b []byte) *Reader {
	return &Reader{data: b}
}

// Len returns the size of the underlying data.
func (r *Reader) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Bytes returns the mapped data. The slice must not be retained after Close.
func (r *Reader) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil
	}
	return r.data
}

// ReadAt implements the io.ReaderAt interface.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0, ErrClosed
	}
	if off < 0 || int64(len(r.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close releases the mapping.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	data := r.data
	r.data = nil
	if r.unmap != nil && len(data) > 0 {
		return r.unmap(data)
	}
	return nil
}
