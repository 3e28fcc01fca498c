// Package machotest writes small 64-bit little-endian Mach-O images and fat archives for
// tests.
package machotest

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

const (
	headerSize    = 32
	segmentSize   = 72
	sectionSize   = 80
	dataAlignment = 8

	lcUUID         = 0x1b
	lcBuildVersion = 0x32
	lcLoadDylib    = 0xc
)

// Section is a section of a Segment. Zerofill sections occupy no file space.
type Section struct {
	Name     string
	Addr     uint64
	Data     []byte
	Size     uint64
	Flags    uint32
	Zerofill bool
}

// Segment is an LC_SEGMENT_64 command. A segment named __TEXT maps the file from offset 0.
type Segment struct {
	Name     string
	Addr     uint64
	Memsz    uint64
	Prot     uint32
	Sections []Section
}

// File is a thin Mach-O image under construction.
type File struct {
	Cpu      macho.Cpu
	SubCpu   uint32
	Type     macho.Type
	Segments []Segment
	// UUID adds an LC_UUID command when non-zero.
	UUID [16]byte
	// Build adds an LC_BUILD_VERSION command when Platform is non-zero.
	Build BuildVersion
	// Dylibs adds one LC_LOAD_DYLIB per name.
	Dylibs []string
}

// BuildVersion holds LC_BUILD_VERSION fields in their encoded (nibble) form.
type BuildVersion struct {
	Platform, MinOS, SDK uint32
}

func pad(b []byte, n int) []byte {
	for len(b)%n != 0 {
		b = append(b, 0)
	}
	return b
}

func name16(s string) [16]byte {
	var n [16]byte
	copy(n[:], s)
	return n
}

// Bytes serializes the image: header, load commands, then section contents.
func (f *File) Bytes() []byte {
	le := binary.LittleEndian

	var extra [][]byte
	if f.UUID != ([16]byte{}) {
		cmd := le.AppendUint32(nil, lcUUID)
		cmd = le.AppendUint32(cmd, 24)
		extra = append(extra, append(cmd, f.UUID[:]...))
	}
	if f.Build.Platform != 0 {
		cmd := le.AppendUint32(nil, lcBuildVersion)
		cmd = le.AppendUint32(cmd, 24)
		cmd = le.AppendUint32(cmd, f.Build.Platform)
		cmd = le.AppendUint32(cmd, f.Build.MinOS)
		cmd = le.AppendUint32(cmd, f.Build.SDK)
		extra = append(extra, le.AppendUint32(cmd, 0))
	}
	for _, d := range f.Dylibs {
		str := pad(append([]byte(d), 0), 8)
		cmd := le.AppendUint32(nil, lcLoadDylib)
		cmd = le.AppendUint32(cmd, uint32(24+len(str)))
		cmd = le.AppendUint32(cmd, 24)
		cmd = le.AppendUint32(cmd, 2)
		cmd = le.AppendUint32(cmd, 0x10000)
		cmd = le.AppendUint32(cmd, 0x10000)
		extra = append(extra, append(cmd, str...))
	}

	cmdsz := 0
	for _, s := range f.Segments {
		cmdsz += segmentSize + sectionSize*len(s.Sections)
	}
	for _, e := range extra {
		cmdsz += len(e)
	}

	// Lay out section data after the load commands.
	dataStart := headerSize + cmdsz
	var data []byte
	offsets := make([][]uint32, len(f.Segments))
	for i, s := range f.Segments {
		offsets[i] = make([]uint32, len(s.Sections))
		for j, sec := range s.Sections {
			if sec.Zerofill {
				continue
			}
			data = pad(data, dataAlignment)
			offsets[i][j] = uint32(dataStart + len(data))
			data = append(data, sec.Data...)
		}
	}
	total := uint64(dataStart + len(data))

	var out bytes.Buffer
	_ = binary.Write(&out, le, macho.FileHeader{
		Magic:  macho.Magic64,
		Cpu:    f.Cpu,
		SubCpu: f.SubCpu,
		Type:   f.Type,
		Ncmd:   uint32(len(f.Segments) + len(extra)),
		Cmdsz:  uint32(cmdsz),
	})
	_ = binary.Write(&out, le, uint32(0))

	for i, s := range f.Segments {
		var fileoff, end, memEnd uint64
		first := true
		for j, sec := range s.Sections {
			size := uint64(len(sec.Data))
			if sec.Zerofill {
				size = sec.Size
			} else {
				off := uint64(offsets[i][j])
				if first || off < fileoff {
					fileoff = off
				}
				first = false
				if off+size > end {
					end = off + size
				}
			}
			if sec.Addr+size > memEnd {
				memEnd = sec.Addr + size
			}
		}
		if s.Name == "__TEXT" {
			fileoff = 0
			if end == 0 {
				end = total
			}
		}
		filesz := uint64(0)
		if end > fileoff {
			filesz = end - fileoff
		}
		memsz := s.Memsz
		if memsz == 0 && memEnd > s.Addr {
			memsz = memEnd - s.Addr
		}
		_ = binary.Write(&out, le, macho.Segment64{
			Cmd:     macho.LoadCmdSegment64,
			Len:     uint32(segmentSize + sectionSize*len(s.Sections)),
			Name:    name16(s.Name),
			Addr:    s.Addr,
			Memsz:   memsz,
			Offset:  fileoff,
			Filesz:  filesz,
			Maxprot: s.Prot,
			Prot:    s.Prot,
			Nsect:   uint32(len(s.Sections)),
		})
		for j, sec := range s.Sections {
			size := uint64(len(sec.Data))
			if sec.Zerofill {
				size = sec.Size
			}
			_ = binary.Write(&out, le, macho.Section64{
				Name:   name16(sec.Name),
				Seg:    name16(s.Name),
				Addr:   sec.Addr,
				Size:   size,
				Offset: offsets[i][j],
				Flags:  sec.Flags,
			})
		}
	}
	for _, e := range extra {
		out.Write(e)
	}
	out.Write(data)
	return out.Bytes()
}

// Arch is one member of a fat archive.
type Arch struct {
	Cpu    macho.Cpu
	SubCpu uint32
	Data   []byte
}

// Fat builds a big-endian fat archive with 8-byte aligned members.
func Fat(arches ...Arch) []byte {
	be := binary.BigEndian
	out := be.AppendUint32(nil, macho.MagicFat)
	out = be.AppendUint32(out, uint32(len(arches)))
	off := uint32(8 + 20*len(arches))
	var body []byte
	for _, a := range arches {
		for (off+uint32(len(body)))%dataAlignment != 0 {
			body = append(body, 0)
		}
		out = be.AppendUint32(out, uint32(a.Cpu))
		out = be.AppendUint32(out, a.SubCpu)
		out = be.AppendUint32(out, off+uint32(len(body)))
		out = be.AppendUint32(out, uint32(len(a.Data)))
		out = be.AppendUint32(out, 3)
		body = append(body, a.Data...)
	}
	return append(out, body...)
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
