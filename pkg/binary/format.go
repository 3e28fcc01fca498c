package binary

// Format identifies a container format.
type Format int

const (
	FormatUnknown Format = iota
	FormatELF
	FormatMachO
	FormatPE
)

func (f Format) String() string {
	switch f {
	case FormatELF:
		return "ELF"
	case FormatMachO:
		return "Mach-O"
	case FormatPE:
		return "PE"
	}
	return "unknown"
}
