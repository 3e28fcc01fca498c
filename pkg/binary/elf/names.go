package elf

import (
	delf "debug/elf"
	"errors"
	"io"
	"strings"
)

// Offsets of e_shstrndx in the ELF header.
const (
	shstrndxOffset32 = 50
	shstrndxOffset64 = 62
)

// isSectionNameError reports whether debug/elf rejected the file only while resolving
// section names, after the headers themselves decoded.
func isSectionNameError(err error) bool {
	var fe *delf.FormatError
	if !errors.As(err, &fe) {
		return false
	}
	msg := fe.Error()
	return strings.Contains(msg, "bad section name index") ||
		strings.Contains(msg, "section name string table")
}

// withoutSectionNames returns a view of r whose e_shstrndx reads as SHN_UNDEF, so the
// section headers decode with empty names.
func withoutSectionNames(r io.ReaderAt) (io.ReaderAt, error) {
	ident := make([]byte, delf.EI_NIDENT)
	if _, err := r.ReadAt(ident, 0); err != nil {
		return nil, err
	}
	off := int64(shstrndxOffset64)
	if delf.Class(ident[delf.EI_CLASS]) == delf.ELFCLASS32 {
		off = shstrndxOffset32
	}
	return &overlayReader{ReaderAt: r, off: off, patch: []byte{0, 0}}, nil
}

// overlayReader replaces len(patch) bytes at off.
type overlayReader struct {
	io.ReaderAt
	off   int64
	patch []byte
}

func (o *overlayReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := o.ReaderAt.ReadAt(p, off)
	for i, b := range o.patch {
		at := o.off + int64(i) - off
		if at >= 0 && at < int64(n) {
			p[at] = b
		}
	}
	return n, err
}
