package pe

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/lunixbochs/struc"

	bin "github.com/coral-mesh/binscope/pkg/binary"
)

const (
	dirImport = 1
	dirCLR    = 14

	importDescriptorSize = 20
	maxImports           = 4096
	corHeaderSize        = 72
)

func (f *File) initLazy() {
	f.codeView = bin.NewLazy(f.loadCodeView)
	f.imports = bin.NewLazy(f.loadImports)
	f.clr = bin.NewLazy(f.loadCLR)
	f.pdb = bin.NewLazy(f.locatePDB)
}

type importDescriptor struct {
	OriginalFirstThunk uint32
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32
	FirstThunk         uint32
}

func (f *File) loadImports() []string {
	dir, ok := f.directory(dirImport)
	if !ok {
		return nil
	}
	off, ok := f.rvaOffset(dir.VirtualAddress)
	if !ok {
		return nil
	}
	var out []string
	for i := 0; i < maxImports; i++ {
		raw, err := f.readAt(off+int64(i*importDescriptorSize), importDescriptorSize)
		if err != nil || len(raw) < importDescriptorSize {
			break
		}
		var d importDescriptor
		if err := struc.UnpackWithOrder(bytes.NewReader(raw), &d, binary.LittleEndian); err != nil {
			break
		}
		if d == (importDescriptor{}) {
			break
		}
		name, ok := f.cstringAt(d.Name)
		if !ok {
			f.logger.Debug().Uint32("rva", d.Name).Msg("Import name outside every section")
			continue
		}
		out = append(out, name)
	}
	return out
}

// ImportedLibraries returns the DLL names of the import directory in table order.
func (f *File) ImportedLibraries() []string {
	if !f.Valid() {
		return nil
	}
	return f.imports.Get()
}

func (f *File) importsAny(names ...string) bool {
	for _, lib := range f.ImportedLibraries() {
		for _, n := range names {
			if strings.EqualFold(lib, n) {
				return true
			}
		}
	}
	return false
}

// IsDotNetNative reports whether the image links the .NET Native runtime.
func (f *File) IsDotNetNative() bool {
	return f.importsAny("mrt100.dll", "mrt100_app.dll")
}

// IsNativeUniversalWindowsPlatform reports whether an unmanaged image links the UWP C++
// runtime.
func (f *File) IsNativeUniversalWindowsPlatform() bool {
	return !f.IsManaged() && f.importsAny("msvcp140_app.dll", "vcruntime140_app.dll")
}

// CLRHeader is the fixed part of IMAGE_COR20_HEADER.
type CLRHeader struct {
	Cb                  uint32 `json:"cb"`
	MajorRuntimeVersion uint16 `json:"major_runtime_version"`
	MinorRuntimeVersion uint16 `json:"minor_runtime_version"`
	MetaDataRVA         uint32 `json:"metadata_rva"`
	MetaDataSize        uint32 `json:"metadata_size"`
	Flags               uint32 `json:"flags"`
	EntryPointToken     uint32 `json:"entry_point_token"`
}

// ILOnly reports COMIMAGE_FLAGS_ILONLY.
func (h CLRHeader) ILOnly() bool { return h.Flags&0x1 != 0 }

type clrResult struct {
	hdr CLRHeader
	ok  bool
}

func (f *File) loadCLR() clrResult {
	dir, ok := f.directory(dirCLR)
	if !ok {
		return clrResult{}
	}
	off, ok := f.rvaOffset(dir.VirtualAddress)
	if !ok {
		// The directory is present, so the image is managed even if the header is unreadable.
		return clrResult{ok: true}
	}
	raw, err := f.readAt(off, corHeaderSize)
	if err != nil {
		return clrResult{ok: true}
	}
	var h CLRHeader
	if err := struc.UnpackWithOrder(bytes.NewReader(raw), &h, binary.LittleEndian); err != nil {
		f.logger.Debug().Err(err).Msg("Failed to decode CLR header")
		return clrResult{ok: true}
	}
	return clrResult{hdr: h, ok: true}
}

// CLRHeader returns the CLR header of a managed image.
func (f *File) CLRHeader() (CLRHeader, bool) {
	if !f.Valid() {
		return CLRHeader{}, false
	}
	r := f.clr.Get()
	return r.hdr, r.ok
}

// IsManaged reports whether the image has a CLR header directory.
func (f *File) IsManaged() bool {
	_, ok := f.CLRHeader()
	return ok
}
