package binary

import "fmt"

// DebugFileType describes where a binary's authoritative debug data lives.
type DebugFileType int

const (
	// Unknown means resolution has not classified the binary.
	Unknown DebugFileType = iota
	// NoDebug means no debug data was found.
	NoDebug
	// DebugIncluded means DWARF is embedded in the binary.
	DebugIncluded
	// FromDwo means a compile unit names a split-DWARF .dwo companion.
	FromDwo
	// FromDebuglink means .gnu_debuglink names a separate debug file.
	FromDebuglink
	// FromDebuglinkSelf means the debuglink resolves to the binary itself.
	FromDebuglinkSelf
	// DebugOnlyFileDwo means the file is itself a .dwo companion.
	DebugOnlyFileDwo
	// DebugOnlyFileDebuglink means the file is itself a debuglink target.
	DebugOnlyFileDebuglink
	// DebugOnlyFileStripped means the file has the layout of a debug-only file but no DWARF.
	DebugOnlyFileStripped
)

var debugFileTypeNames = [...]string{
	Unknown:                "Unknown",
	NoDebug:                "NoDebug",
	DebugIncluded:          "DebugIncluded",
	FromDwo:                "FromDwo",
	FromDebuglink:          "FromDebuglink",
	FromDebuglinkSelf:      "FromDebuglinkPointingToItself",
	DebugOnlyFileDwo:       "DebugOnlyFileDwo",
	DebugOnlyFileDebuglink: "DebugOnlyFileDebuglink",
	DebugOnlyFileStripped:  "DebugOnlyFileStripped",
}

func (t DebugFileType) String() string {
	if t >= 0 && int(t) < len(debugFileTypeNames) {
		return debugFileTypeNames[t]
	}
	return fmt.Sprintf("DebugFileType(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t DebugFileType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// IsDebugOnly reports whether the state describes a companion debug file.
func (t DebugFileType) IsDebugOnly() bool {
	switch t {
	case DebugOnlyFileDwo, DebugOnlyFileDebuglink, DebugOnlyFileStripped:
		return true
	}
	return false
}
