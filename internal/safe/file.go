package safe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// DefaultMaxFileSize is the default maximum file size for safe file operations (1MB).
const DefaultMaxFileSize = 1 << 20

// FileOptions configures the checks applied before a file is read or mapped.
type FileOptions struct {
	// MaxSize is the maximum allowed file size in bytes. Zero means DefaultMaxFileSize.
	MaxSize int64
	// AllowSymlinks allows following symlinks. Default is false for security.
	AllowSymlinks bool
}

func (o *FileOptions) maxSize() int64 {
	if o == nil || o.MaxSize == 0 {
		return DefaultMaxFileSize
	}
	return o.MaxSize
}

// Stat validates path and returns the info of the file it designates.
// It rejects symlinks unless allowed, non-regular files and files above the size limit.
func Stat(path string, opts *FileOptions) (os.FileInfo, error) {
	cleanPath := filepath.Clean(path)

	// Check file info without following symlinks.
	info, err := os.Lstat(cleanPath)
	if err != nil {
		return nil, err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if opts == nil || !opts.AllowSymlinks {
			return nil, fmt.Errorf("file %q is a symlink, which is not allowed for security reasons", path)
		}
		info, err = os.Stat(cleanPath)
		if err != nil {
			return nil, err
		}
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path %q is not a regular file", path)
	}

	if maxSize := opts.maxSize(); info.Size() > maxSize {
		return nil, fmt.Errorf("file %q exceeds maximum allowed size of %d bytes", path, maxSize)
	}

	return info, nil
}

// Open validates path with Stat and opens it read-only.
func Open(path string, opts *FileOptions) (*os.File, os.FileInfo, error) {
	info, err := Stat(path, opts)
	if err != nil {
		return nil, nil, err
	}

	// #nosec G304 - path has been validated above.
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, err
	}
	return f, info, nil
}

// ReadFile reads a file with the same validations as Stat.
func ReadFile(path string, opts *FileOptions) ([]byte, error) {
	if _, err := Stat(path, opts); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Clean(path))
}

// ReadHead reads up to n bytes from the start of path. Short files return what exists.
func ReadHead(path string, n int, opts *FileOptions) ([]byte, error) {
	f, _, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}

// Close closes gracefully a Closer interface, handling and logging the error.
func Close(c io.Closer, logger zerolog.Logger, msg string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logger.Error().Err(err).Msg(msg)
	}
}
