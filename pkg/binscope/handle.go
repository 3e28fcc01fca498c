package binscope

import (
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/binscope/internal/mmap"
	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/elf"
	"github.com/coral-mesh/binscope/pkg/binary/macho"
	"github.com/coral-mesh/binscope/pkg/binary/pe"
)

// Handle owns one loaded binary and its backing bytes. The embedded Binary is invalid when
// the container failed to parse; it is never partially usable.
type Handle struct {
	Binary

	path   string
	format bin.Format
	data   *mmap.Reader
	digest *bin.Lazy[uint64]
}

// Path returns the path the handle was opened from.
func (h *Handle) Path() string { return h.path }

// Format returns the sniffed container format.
func (h *Handle) Format() bin.Format { return h.format }

// Digest returns the xxh3 hash of the file contents. It is computed once; a handle closed
// before the first call digests to 0.
func (h *Handle) Digest() uint64 { return h.digest.Get() }

// DigestString returns Digest as 16 hex digits.
func (h *Handle) DigestString() string { return fmt.Sprintf("%016x", h.Digest()) }

func (h *Handle) computeDigest() uint64 {
	data := h.data.Bytes()
	if data == nil {
		return 0
	}
	return xxh3.Hash(data)
}

// BuildID identifies the build the binary came from: the GNU build id for ELF, the LC_UUID
// of the first slice for Mach-O and the PDB symbol key for PE. It is "" when absent.
func (h *Handle) BuildID() string {
	switch f := h.Binary.(type) {
	case *elf.File:
		return f.BuildID()
	case *macho.File:
		for _, sl := range f.Slices() {
			if id, ok := sl.UUID(); ok {
				return id.String()
			}
		}
	case *pe.File:
		if cv, ok := f.CodeView(); ok {
			return cv.SymbolKey()
		}
	}
	return ""
}

// ELF returns the ELF loader when the handle holds an ELF file.
func (h *Handle) ELF() (*elf.File, bool) {
	f, ok := h.Binary.(*elf.File)
	return f, ok
}

// MachO returns the Mach-O loader when the handle holds a Mach-O file.
func (h *Handle) MachO() (*macho.File, bool) {
	f, ok := h.Binary.(*macho.File)
	return f, ok
}

// PE returns the PE loader when the handle holds a PE file.
func (h *Handle) PE() (*pe.File, bool) {
	f, ok := h.Binary.(*pe.File)
	return f, ok
}

// Close releases the backing bytes.
func (h *Handle) Close() error {
	if h.Binary != nil {
		return h.Binary.Close()
	}
	return h.data.Close()
}
