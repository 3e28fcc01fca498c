package binscope

import (
	"bytes"

	"github.com/pkg/errors"

	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/macho"
)

// SniffLen is the number of leading bytes Sniff needs to classify a file.
const SniffLen = 8

var (
	magicPE  = []byte("MZ")
	magicELF = []byte("\x7fELF")
)

// Sniff classifies a file by its leading bytes. Inputs that match no supported container,
// including Java class files that share the fat Mach-O magic, yield an error matching
// bin.ErrFormatNotRecognized.
func Sniff(head []byte) (bin.Format, error) {
	switch {
	case bytes.HasPrefix(head, magicELF):
		return bin.FormatELF, nil
	case bytes.HasPrefix(head, magicPE):
		return bin.FormatPE, nil
	case macho.IsThinMagic(head):
		return bin.FormatMachO, nil
	}
	if order, ok := macho.IsFatMagic(head); ok && len(head) >= 8 {
		if n := order.Uint32(head[4:8]); n > 0 && n <= macho.MaxFatArches {
			return bin.FormatMachO, nil
		}
	}
	return bin.FormatUnknown, errors.WithStack(bin.ErrFormatNotRecognized)
}
