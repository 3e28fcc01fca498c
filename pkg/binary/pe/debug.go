package pe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/lunixbochs/struc"

	"github.com/coral-mesh/binscope/internal/safe"
	bin "github.com/coral-mesh/binscope/pkg/binary"
	"github.com/coral-mesh/binscope/pkg/binary/debugpath"
)

const (
	dirDebug = 6

	debugTypeCodeView = 2
	debugEntrySize    = 28
	rsdsSignature     = 0x53445352
	maxDebugEntries   = 64
)

// PdbFileType is the flavor of a located PDB file.
type PdbFileType int

const (
	PdbUnknown PdbFileType = iota
	PdbWindows
	PdbPortable
)

func (t PdbFileType) String() string {
	switch t {
	case PdbWindows:
		return "Windows"
	case PdbPortable:
		return "Portable"
	}
	return "Unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (t PdbFileType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

var (
	windowsPdbMagic  = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")
	portablePdbMagic = []byte("BSJB")
)

// DetectPdbFileType classifies the PDB at path by its leading bytes. Unreadable files are
// PdbUnknown.
func DetectPdbFileType(path string, opts *safe.FileOptions) PdbFileType {
	head, err := safe.ReadHead(path, len(windowsPdbMagic), opts)
	if err != nil {
		return PdbUnknown
	}
	switch {
	case bytes.HasPrefix(head, windowsPdbMagic):
		return PdbWindows
	case bytes.HasPrefix(head, portablePdbMagic):
		return PdbPortable
	}
	return PdbUnknown
}

// CodeViewInfo is the RSDS record that names a binary's PDB.
type CodeViewInfo struct {
	PDBPath string    `json:"pdb_path"`
	GUID    uuid.UUID `json:"guid"`
	Age     uint32    `json:"age"`
}

// SymbolKey formats the GUID and age the way symbol servers key PDB files.
func (c CodeViewInfo) SymbolKey() string {
	return strings.ToUpper(strings.ReplaceAll(c.GUID.String(), "-", "")) + fmt.Sprintf("%X", c.Age)
}

// PDBName returns the base name of the PDB path, which is usually a Windows path.
func (c CodeViewInfo) PDBName() string {
	name := c.PDBPath
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

type debugDirectory struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

type rsdsHeader struct {
	Signature uint32
	GUID      []byte `struc:"[16]byte"`
	Age       uint32
}

type codeViewResult struct {
	info CodeViewInfo
	ok   bool
}

// guidFromDisk converts a Windows GUID (little-endian Data1..Data3) to RFC 4122 byte order.
func guidFromDisk(b []byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], b)
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	return u
}

func (f *File) loadCodeView() codeViewResult {
	dir, ok := f.directory(dirDebug)
	if !ok {
		return codeViewResult{}
	}
	off, ok := f.rvaOffset(dir.VirtualAddress)
	if !ok {
		f.logger.Debug().Uint32("rva", dir.VirtualAddress).Msg("Debug directory outside every section")
		return codeViewResult{}
	}
	n := min(int(dir.Size/debugEntrySize), maxDebugEntries)
	raw, err := f.readAt(off, n*debugEntrySize)
	if err != nil {
		f.logger.Debug().Err(err).Msg("Failed to read debug directory")
		return codeViewResult{}
	}
	r := bytes.NewReader(raw)
	for i := 0; i < n; i++ {
		var e debugDirectory
		if err := struc.UnpackWithOrder(r, &e, binary.LittleEndian); err != nil {
			break
		}
		if e.Type != debugTypeCodeView {
			continue
		}
		if cv, ok := f.parseRSDS(e); ok {
			return codeViewResult{info: cv, ok: true}
		}
	}
	return codeViewResult{}
}

func (f *File) parseRSDS(e debugDirectory) (CodeViewInfo, bool) {
	if e.SizeOfData < 24 {
		return CodeViewInfo{}, false
	}
	raw, err := f.readAt(int64(e.PointerToRawData), int(e.SizeOfData))
	if err != nil {
		f.logger.Debug().Err(err).Msg("Failed to read CodeView record")
		return CodeViewInfo{}, false
	}
	var h rsdsHeader
	if err := struc.UnpackWithOrder(bytes.NewReader(raw), &h, binary.LittleEndian); err != nil {
		return CodeViewInfo{}, false
	}
	if h.Signature != rsdsSignature {
		f.logger.Debug().Uint32("signature", h.Signature).Msg("CodeView record is not RSDS")
		return CodeViewInfo{}, false
	}
	path := raw[24:]
	if i := bytes.IndexByte(path, 0); i >= 0 {
		path = path[:i]
	}
	return CodeViewInfo{PDBPath: string(path), GUID: guidFromDisk(h.GUID), Age: h.Age}, true
}

// CodeView returns the first RSDS CodeView record of the debug directory.
func (f *File) CodeView() (CodeViewInfo, bool) {
	if !f.Valid() {
		return CodeViewInfo{}, false
	}
	r := f.codeView.Get()
	return r.info, r.ok
}

// PDB is a located program database.
type PDB struct {
	Path string      `json:"path"`
	Type PdbFileType `json:"type"`
}

// DebugInfoProvider locates the PDB for a binary's CodeView record.
type DebugInfoProvider interface {
	LocatePDB(cv CodeViewInfo, binaryPath string) (PDB, error)
}

// SearchProvider locates PDB files by base name in the session index or the search paths,
// then the binary's own directory.
type SearchProvider struct {
	SearchPaths []string
	Index       *debugpath.Index
	FileOptions *safe.FileOptions
}

// LocatePDB implements DebugInfoProvider. A missing PDB yields bin.ErrArtifactNotFound.
func (p *SearchProvider) LocatePDB(cv CodeViewInfo, binaryPath string) (PDB, error) {
	name := cv.PDBName()
	if name == "" {
		return PDB{}, fmt.Errorf("%w: empty PDB path", bin.ErrArtifactNotFound)
	}
	path, ok := p.Index.Lookup(name)
	if !ok {
		dirs := p.SearchPaths
		if p.Index != nil {
			dirs = nil
		}
		path, ok = debugpath.Find(name, dirs, filepath.Dir(binaryPath))
	}
	if !ok {
		return PDB{}, fmt.Errorf("%w: %s", bin.ErrArtifactNotFound, name)
	}
	return PDB{Path: path, Type: DetectPdbFileType(path, p.FileOptions)}, nil
}

type pdbResult struct {
	pdb PDB
	err error
}

func (f *File) locatePDB() pdbResult {
	cv, ok := f.CodeView()
	if !ok {
		return pdbResult{err: fmt.Errorf("%w: no CodeView record", bin.ErrArtifactNotFound)}
	}
	if f.opts.Provider == nil {
		return pdbResult{err: fmt.Errorf("%w: no debug info provider", bin.ErrArtifactNotFound)}
	}
	p, err := f.opts.Provider.LocatePDB(cv, f.path)
	return pdbResult{pdb: p, err: err}
}

// PDB returns the located program database, if any.
func (f *File) PDB() (PDB, bool) {
	if !f.Valid() {
		return PDB{}, false
	}
	r := f.pdb.Get()
	return r.pdb, r.err == nil
}

// PdbFileType returns the flavor of the located PDB, PdbUnknown when none was found.
func (f *File) PdbFileType() PdbFileType {
	p, _ := f.PDB()
	return p.Type
}

// DebugFileType is DebugIncluded when the image names a PDB through CodeView, NoDebug
// otherwise.
func (f *File) DebugFileType() bin.DebugFileType {
	if !f.Valid() {
		return bin.Unknown
	}
	if _, ok := f.CodeView(); ok {
		return bin.DebugIncluded
	}
	return bin.NoDebug
}

// DebugFileLoaded reports whether the PDB was located.
func (f *File) DebugFileLoaded() bool {
	_, ok := f.PDB()
	return ok
}
