package debugpath

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/coral-mesh/binscope/internal/safe"
)

// Debuglink is the decoded contents of a .gnu_debuglink section.
type Debuglink struct {
	Name string
	// CRC is the CRC32 of the companion file. HasCRC is false when the section is too
	// short to carry one.
	CRC    uint32
	HasCRC bool
}

// ParseDebuglink decodes a .gnu_debuglink payload: a NUL-terminated file name, padding to
// a 4-byte boundary and a CRC32 in the file's byte order.
func ParseDebuglink(data []byte, order binary.ByteOrder) (Debuglink, bool) {
	nul := bytes.IndexByte(data, 0)
	if nul < 0 {
		nul = len(data)
	}
	name := string(bytes.TrimSpace(data[:nul]))
	if name == "" {
		return Debuglink{}, false
	}
	link := Debuglink{Name: name}
	crcOff := (nul + 1 + 3) &^ 3
	if crcOff+4 <= len(data) {
		link.CRC = order.Uint32(data[crcOff : crcOff+4])
		link.HasCRC = true
	}
	return link, true
}

// FileCRC computes the IEEE CRC32 of the file at path, the checksum .gnu_debuglink uses.
func FileCRC(path string, opts *safe.FileOptions) (uint32, error) {
	f, _, err := safe.Open(path, opts)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}
