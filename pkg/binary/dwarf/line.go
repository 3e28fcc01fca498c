package dwarf

import (
	"path"
	"strings"

	"github.com/rs/zerolog"
)

// FileEntry is a file named in a line program header.
type FileEntry struct {
	Name string
	Dir  string
	// Path is Dir joined with Name unless Name is absolute.
	Path  string
	MTime uint64
	Size  uint64
	MD5   []byte
}

// LineRow is one row of the line-number matrix.
type LineRow struct {
	Address uint64
	// File indexes LineProgram.Files.
	File          int
	Line          uint64
	Column        uint64
	IsStmt        bool
	EndSequence   bool
	Discriminator uint64
}

// LineProgram is a decoded .debug_line contribution.
type LineProgram struct {
	Offset        uint64
	Version       uint16
	AddressSize   uint8
	MinInstLength uint8
	Dirs          []string
	Files         []*FileEntry
	Rows          []LineRow
	// Err records why decoding stopped early; Rows holds what was decoded before.
	Err error
}

// FileOf returns the file of row, or nil when its index is out of range.
func (p *LineProgram) FileOf(row LineRow) *FileEntry {
	if row.File < 0 || row.File >= len(p.Files) {
		return nil
	}
	return p.Files[row.File]
}

const (
	lnsCopy             = 0x01
	lnsAdvancePC        = 0x02
	lnsAdvanceLine      = 0x03
	lnsSetFile          = 0x04
	lnsSetColumn        = 0x05
	lnsNegateStmt       = 0x06
	lnsSetBasicBlock    = 0x07
	lnsConstAddPC       = 0x08
	lnsFixedAdvancePC   = 0x09
	lnsSetPrologueEnd   = 0x0a
	lnsSetEpilogueBegin = 0x0b
	lnsSetISA           = 0x0c

	lneEndSequence      = 0x01
	lneSetAddress       = 0x02
	lneDefineFile       = 0x03
	lneSetDiscriminator = 0x04

	lnctPath           = 0x1
	lnctDirectoryIndex = 0x2
	lnctTimestamp      = 0x3
	lnctSize           = 0x4
	lnctMD5            = 0x5
)

// LinePrograms decodes the line program of every unit that has DW_AT_stmt_list. Programs
// shared by several units are decoded once.
func LinePrograms(sec *Sections, units []*Unit, normalize AddressNormalizer, logger zerolog.Logger) []*LineProgram {
	if sec == nil || len(sec.Line) == 0 {
		return nil
	}
	seen := make(map[uint64]bool)
	var progs []*LineProgram
	for _, u := range units {
		off, ok := u.StmtList()
		if !ok || seen[off] {
			continue
		}
		seen[off] = true
		p, err := DecodeLineProgram(sec, off, u, normalize)
		if err != nil {
			logger.Debug().Err(err).Uint64("offset", off).Msg("Line program decoded with errors")
		}
		if p != nil {
			progs = append(progs, p)
		}
	}
	return progs
}

type lineState struct {
	addr          uint64
	opIndex       uint64
	file          int64
	line          int64
	column        uint64
	isStmt        bool
	discriminator uint64
}

// DecodeLineProgram decodes the program at off in sec.Line. u supplies the address size,
// compilation directory and primary file name; it may be nil.
func DecodeLineProgram(sec *Sections, off uint64, u *Unit, normalize AddressNormalizer) (*LineProgram, error) {
	if normalize == nil {
		normalize = Identity
	}
	if off >= uint64(len(sec.Line)) {
		return nil, &DecodeError{Section: ".debug_line", Offset: len(sec.Line), Msg: "line program offset out of range"}
	}
	r := newReader(".debug_line", sec.byteOrder(), sec.Line, int(off))
	length, is64 := r.initialLength()
	if r.err != nil {
		return nil, r.err
	}
	r = r.sub(".debug_line", length)
	if r.err != nil {
		return nil, r.err
	}

	p := &LineProgram{Offset: off, Version: r.u16()}
	if u != nil {
		p.AddressSize = u.AddressSize
	}
	if p.Version < 2 || p.Version > 5 {
		r.fail("unsupported line table version %d", p.Version)
		return nil, r.err
	}
	if p.Version >= 5 {
		p.AddressSize = r.u8()
		r.u8() // segment_selector_size
	}
	headerLength := r.offset(is64)
	programStart := r.off + int(min(headerLength, uint64(r.remaining())))
	p.MinInstLength = r.u8()
	maxOps := uint64(1)
	if p.Version >= 4 {
		if m := r.u8(); m > 0 {
			maxOps = uint64(m)
		}
	}
	defaultIsStmt := r.u8() != 0
	lineBase := int8(r.u8())
	lineRange := r.u8()
	opcodeBase := r.u8()
	if r.err != nil {
		return nil, r.err
	}
	if lineRange == 0 || opcodeBase == 0 {
		r.fail("invalid line_range %d or opcode_base %d", lineRange, opcodeBase)
		return nil, r.err
	}
	opLengths := make([]uint64, opcodeBase)
	for i := 1; i < int(opcodeBase); i++ {
		opLengths[i] = r.uleb()
	}

	var compDir, primary string
	if u != nil {
		compDir, primary = u.CompDir(), u.Name()
	}
	if p.Version >= 5 {
		decodeEntryTablesV5(r, sec, is64, p)
	} else {
		decodeEntryTables(r, compDir, primary, p)
	}
	if r.err != nil {
		p.Err = r.err
		return p, r.err
	}
	r.seek(programStart)

	newState := func() lineState {
		return lineState{file: 1, line: 1, isStmt: defaultIsStmt}
	}
	fileIndex := func(f int64) int {
		if p.Version < 5 {
			return int(f - 1)
		}
		return int(f)
	}
	st := newState()
	emit := func(end bool) {
		p.Rows = append(p.Rows, LineRow{
			Address:       normalize(st.addr),
			File:          fileIndex(st.file),
			Line:          uint64(max(st.line, 0)),
			Column:        st.column,
			IsStmt:        st.isStmt,
			EndSequence:   end,
			Discriminator: st.discriminator,
		})
		st.discriminator = 0
	}
	advance := func(opAdvance uint64) {
		minInst := uint64(p.MinInstLength)
		st.addr += minInst * ((st.opIndex + opAdvance) / maxOps)
		st.opIndex = (st.opIndex + opAdvance) % maxOps
	}

	for !r.atEnd() {
		op := r.u8()
		switch {
		case op >= opcodeBase:
			adj := uint64(op - opcodeBase)
			advance(adj / uint64(lineRange))
			st.line += int64(lineBase) + int64(adj%uint64(lineRange))
			emit(false)
		case op == 0:
			n := r.uleb()
			if n == 0 || n > uint64(r.remaining()) {
				r.fail("bad extended opcode length %d", n)
				break
			}
			next := r.off + int(n)
			switch r.u8() {
			case lneEndSequence:
				emit(true)
				st = newState()
			case lneSetAddress:
				size := int(n - 1)
				if size != 1 && size != 2 && size != 4 && size != 8 {
					size = int(p.AddressSize)
				}
				st.addr = r.uintN(size)
				st.opIndex = 0
			case lneDefineFile:
				f := readFileEntry(r, p.Dirs)
				p.Files = append(p.Files, f)
			case lneSetDiscriminator:
				st.discriminator = r.uleb()
			}
			r.seek(next)
		case op == lnsCopy:
			emit(false)
		case op == lnsAdvancePC:
			advance(r.uleb())
		case op == lnsAdvanceLine:
			st.line += r.sleb()
		case op == lnsSetFile:
			st.file = int64(r.uleb())
		case op == lnsSetColumn:
			st.column = r.uleb()
		case op == lnsNegateStmt:
			st.isStmt = !st.isStmt
		case op == lnsSetBasicBlock, op == lnsSetPrologueEnd, op == lnsSetEpilogueBegin:
		case op == lnsConstAddPC:
			advance(uint64(255-opcodeBase) / uint64(lineRange))
		case op == lnsFixedAdvancePC:
			st.addr += uint64(r.u16())
			st.opIndex = 0
		case op == lnsSetISA:
			r.uleb()
		default:
			// Unknown standard opcode: skip its ULEB operands.
			for i := uint64(0); i < opLengths[op]; i++ {
				r.uleb()
			}
		}
	}
	if r.err != nil {
		p.Err = r.err
		return p, r.err
	}
	return p, nil
}

// decodeEntryTables reads the pre-v5 include_directories and file_names lists. Directory
// index 0 is the compilation directory and file index 1 the first listed file.
func decodeEntryTables(r *reader, compDir, primary string, p *LineProgram) {
	p.Dirs = append(p.Dirs, compDir)
	for !r.atEnd() {
		dir := r.cstring()
		if dir == "" {
			break
		}
		p.Dirs = append(p.Dirs, dir)
	}
	for !r.atEnd() {
		if r.data[r.off] == 0 {
			r.u8()
			break
		}
		p.Files = append(p.Files, readFileEntry(r, p.Dirs))
	}
	if len(p.Files) == 0 && primary != "" {
		p.Files = append(p.Files, newFileEntry(primary, compDir))
	}
}

func readFileEntry(r *reader, dirs []string) *FileEntry {
	name := r.cstring()
	dirIdx := r.uleb()
	mtime := r.uleb()
	size := r.uleb()
	dir := ""
	if dirIdx < uint64(len(dirs)) {
		dir = dirs[dirIdx]
	}
	f := newFileEntry(name, dir)
	f.MTime, f.Size = mtime, size
	return f
}

func newFileEntry(name, dir string) *FileEntry {
	f := &FileEntry{Name: name, Dir: dir, Path: name}
	if dir != "" && !isAbs(name) {
		f.Path = path.Join(dir, name)
	}
	return f
}

// isAbs accepts both POSIX and Windows-style absolute paths.
func isAbs(p string) bool {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return true
	}
	return len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/')
}

type entryFormat struct {
	content uint64
	form    Form
}

func readEntryFormats(r *reader) []entryFormat {
	n := int(r.u8())
	formats := make([]entryFormat, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		formats = append(formats, entryFormat{content: r.uleb(), form: Form(r.uleb())})
	}
	return formats
}

// decodeEntryTablesV5 reads the self-describing directory and file tables of DWARF 5.
func decodeEntryTablesV5(r *reader, sec *Sections, is64 bool, p *LineProgram) {
	dirFormats := readEntryFormats(r)
	dirCount := r.uleb()
	for i := uint64(0); i < dirCount && r.err == nil; i++ {
		var dir string
		for _, ef := range dirFormats {
			v := entryValue(r, sec, is64, ef.form)
			if ef.content == lnctPath {
				dir = v.Str
			}
		}
		p.Dirs = append(p.Dirs, dir)
	}

	fileFormats := readEntryFormats(r)
	fileCount := r.uleb()
	for i := uint64(0); i < fileCount && r.err == nil; i++ {
		var (
			name, dir   string
			mtime, size uint64
			md5         []byte
		)
		for _, ef := range fileFormats {
			v := entryValue(r, sec, is64, ef.form)
			switch ef.content {
			case lnctPath:
				name = v.Str
			case lnctDirectoryIndex:
				if v.Uint < uint64(len(p.Dirs)) {
					dir = p.Dirs[v.Uint]
				}
			case lnctTimestamp:
				mtime = v.Uint
			case lnctSize:
				size = v.Uint
			case lnctMD5:
				md5 = v.Bytes
			}
		}
		f := newFileEntry(name, dir)
		f.MTime, f.Size, f.MD5 = mtime, size, md5
		p.Files = append(p.Files, f)
	}
}

// entryValue reads one field of a v5 directory or file entry.
func entryValue(r *reader, sec *Sections, is64 bool, form Form) Value {
	v := Value{Form: form}
	switch form {
	case FormString:
		v.Str = r.cstring()
	case FormStrp, FormLineStrp:
		off := r.offset(is64)
		data, name := sec.Str, ".debug_str"
		if form == FormLineStrp {
			data, name = sec.LineStr, ".debug_line_str"
		}
		if r.err == nil {
			s, err := stringAt(name, data, off)
			if err != nil {
				r.fail("%v", err)
			}
			v.Str = s
		}
	case FormStrpSup:
		r.offset(is64)
	case FormData1:
		v.Uint = uint64(r.u8())
	case FormData2:
		v.Uint = uint64(r.u16())
	case FormData4:
		v.Uint = uint64(r.u32())
	case FormData8:
		v.Uint = r.u64()
	case FormData16:
		v.Bytes = r.next(16)
	case FormUdata:
		v.Uint = r.uleb()
	case FormBlock:
		v.Bytes = r.next(lebLen(r))
	default:
		r.fail("unsupported line entry form 0x%x", uint32(form))
	}
	return v
}
