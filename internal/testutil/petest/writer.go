// Package petest writes minimal PE32+ images for loader tests.
package petest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	fileAlign     = 0x200
	dosHeaderSize = 0x40
	optHeaderSize = 240
	sectionHdrLen = 40
	dirCount      = 16
)

// Data directory indices used by the tests.
const (
	DirImport = 1
	DirDebug  = 6
	DirCLR    = 14
)

// Section is one section of the image. Sections with no Data have no raw bytes.
type Section struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	Data            []byte
	Characteristics uint32
}

// Dir is a data directory entry.
type Dir struct {
	RVA  uint32
	Size uint32
}

// File describes a PE32+ image.
type File struct {
	Machine   uint16
	ImageBase uint64
	Subsystem uint16
	Linker    [2]uint8
	Sections  []Section
	Dirs      map[int]Dir
}

func headersSize(n int) uint32 {
	raw := dosHeaderSize + 4 + 20 + optHeaderSize + sectionHdrLen*n
	return align(uint32(raw), fileAlign)
}

func align(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

// Offsets returns the file offset each section's raw data is written at, 0 for sections
// without data.
func (f *File) Offsets() []uint32 {
	out := make([]uint32, len(f.Sections))
	off := headersSize(len(f.Sections))
	for i, s := range f.Sections {
		if len(s.Data) == 0 {
			continue
		}
		out[i] = off
		off += align(uint32(len(s.Data)), fileAlign)
	}
	return out
}

// Bytes lays the image out as DOS header, PE signature, COFF header, optional header,
// section headers, then file-aligned section data.
func (f *File) Bytes() []byte {
	le := binary.LittleEndian
	var b bytes.Buffer
	w := func(v any) { _ = binary.Write(&b, le, v) }

	dos := make([]byte, dosHeaderSize)
	copy(dos, "MZ")
	le.PutUint32(dos[0x3c:], dosHeaderSize)
	b.Write(dos)
	b.WriteString("PE\x00\x00")

	// COFF file header.
	w(f.Machine)
	w(uint16(len(f.Sections)))
	w(uint32(0)) // TimeDateStamp
	w(uint32(0)) // PointerToSymbolTable
	w(uint32(0)) // NumberOfSymbols
	w(uint16(optHeaderSize))
	w(uint16(0x22)) // executable, large address aware

	var imageSize uint32
	for _, s := range f.Sections {
		if end := s.VirtualAddress + align(max(s.VirtualSize, uint32(len(s.Data))), 0x1000); end > imageSize {
			imageSize = end
		}
	}

	// Optional header (PE32+).
	w(uint16(0x20b))
	w(f.Linker[0])
	w(f.Linker[1])
	w([5]uint32{})
	w(f.ImageBase)
	w(uint32(0x1000))
	w(uint32(fileAlign))
	w([6]uint16{6, 0, 0, 0, 6, 0})
	w(uint32(0)) // Win32VersionValue
	w(imageSize)
	w(headersSize(len(f.Sections)))
	w(uint32(0)) // CheckSum
	w(f.Subsystem)
	w(uint16(0x8160))
	w([4]uint64{0x100000, 0x1000, 0x100000, 0x1000})
	w(uint32(0)) // LoaderFlags
	w(uint32(dirCount))
	for i := 0; i < dirCount; i++ {
		d := f.Dirs[i]
		w(d.RVA)
		w(d.Size)
	}

	offsets := f.Offsets()
	for i, s := range f.Sections {
		var name [8]byte
		copy(name[:], s.Name)
		w(name)
		vsize := s.VirtualSize
		if vsize == 0 {
			vsize = uint32(len(s.Data))
		}
		w(vsize)
		w(s.VirtualAddress)
		w(uint32(len(s.Data)))
		w(offsets[i])
		w([2]uint32{})
		w([2]uint16{})
		w(s.Characteristics)
	}

	for i, s := range f.Sections {
		if len(s.Data) == 0 {
			continue
		}
		pad := int(offsets[i]) - b.Len()
		b.Write(make([]byte, pad))
		b.Write(s.Data)
	}
	if rem := b.Len() % fileAlign; rem != 0 {
		b.Write(make([]byte, fileAlign-rem))
	}
	return b.Bytes()
}

// Write stores the image under dir and returns its path.
func (f *File) Write(t *testing.T, dir, name string) string {
	t.Helper()
	return WriteFile(t, dir, name, f.Bytes())
}

// WriteFile stores data under dir and returns its path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// CodeView encodes an RSDS record. guid is in on-disk (mixed-endian) order.
func CodeView(guid [16]byte, age uint32, pdb string) []byte {
	var b bytes.Buffer
	b.WriteString("RSDS")
	b.Write(guid[:])
	_ = binary.Write(&b, binary.LittleEndian, age)
	b.WriteString(pdb)
	b.WriteByte(0)
	return b.Bytes()
}

// DebugEntry encodes one IMAGE_DEBUG_DIRECTORY record.
func DebugEntry(typ, size, rva, fileOffset uint32) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, []uint32{0, 0, 0, typ, size, rva, fileOffset})
	return b.Bytes()
}

// ImportDescriptors encodes a null-terminated import descriptor table whose entries name
// the strings at nameRVAs.
func ImportDescriptors(nameRVAs ...uint32) []byte {
	var b bytes.Buffer
	for _, rva := range nameRVAs {
		_ = binary.Write(&b, binary.LittleEndian, []uint32{0, 0, 0, rva, 0})
	}
	b.Write(make([]byte, 20))
	return b.Bytes()
}

// CLRHeader encodes an IMAGE_COR20_HEADER with the given runtime version and flags.
func CLRHeader(major, minor uint16, flags uint32) []byte {
	var b bytes.Buffer
	le := binary.LittleEndian
	_ = binary.Write(&b, le, uint32(72))
	_ = binary.Write(&b, le, major)
	_ = binary.Write(&b, le, minor)
	_ = binary.Write(&b, le, [2]uint32{})
	_ = binary.Write(&b, le, flags)
	_ = binary.Write(&b, le, uint32(0))
	b.Write(make([]byte, 72-b.Len()))
	return b.Bytes()
}
