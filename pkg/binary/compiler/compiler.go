// Package compiler fingerprints the toolchain that produced a binary from its provenance
// strings (ELF .comment entries, DWARF producer attributes).
//
// Fingerprinting is best effort: it never fails, and anything it cannot classify is
// reported as Unknown with version 0.0.0.0.
package compiler

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Vendor is a compiler family.
type Vendor int

const (
	Unknown Vendor = iota
	GCC
	Clang
	Rustc
)

func (v Vendor) String() string {
	switch v {
	case GCC:
		return "GCC"
	case Clang:
		return "Clang"
	case Rustc:
		return "Rustc"
	}
	return "Unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (v Vendor) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Version is a dotted version with two to four components.
type Version struct {
	Major, Minor, Build, Revision int
	// Components is the number of components that were present (2..4).
	Components int
}

// ZeroVersion is reported when no version can be extracted.
var ZeroVersion = Version{Components: 4}

func (v Version) String() string {
	parts := []int{v.Major, v.Minor, v.Build, v.Revision}
	n := v.Components
	if n < 2 || n > 4 {
		n = 4
	}
	s := make([]string, n)
	for i := range s {
		s[i] = strconv.Itoa(parts[i])
	}
	return strings.Join(s, ".")
}

// Compare orders versions component-wise. Missing components count as zero.
func (v Version) Compare(o Version) int {
	a := [4]int{v.Major, v.Minor, v.Build, v.Revision}
	b := [4]int{o.Major, o.Minor, o.Build, o.Revision}
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Info is a fingerprinted compiler.
type Info struct {
	Vendor  Vendor  `json:"vendor"`
	Version Version `json:"version"`
	Raw     string  `json:"raw"`
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s", i.Vendor, i.Version)
}

type rule struct {
	re     *regexp.Regexp
	vendor Vendor
}

// Rules is an ordered pattern list; the first matching pattern decides the vendor.
type Rules []rule

var (
	// ELFRules classify .comment entries.
	ELFRules = Rules{
		{regexp.MustCompile(`GCC:.+`), GCC},
		{regexp.MustCompile(`.*clang version.*`), Clang},
		{regexp.MustCompile(`rustc*`), Rustc},
		{regexp.MustCompile(`.*`), Unknown},
	}

	// MachORules classify DWARF producer strings found in Mach-O files.
	MachORules = Rules{
		{regexp.MustCompile(`GNU .+`), GCC},
		{regexp.MustCompile(`.*clang version.*`), Clang},
		{regexp.MustCompile(`.*`), Unknown},
	}

	versionRe = regexp.MustCompile(`\d+(\.\d+){1,3}`)
)

// Classify returns the vendor of the first matching rule.
func (r Rules) Classify(s string) Vendor {
	for _, ru := range r {
		if ru.re.MatchString(s) {
			return ru.vendor
		}
	}
	return Unknown
}

// Fingerprint classifies raw with the given rules and extracts its version.
func Fingerprint(raw string, rules Rules) Info {
	return Info{
		Vendor:  rules.Classify(raw),
		Version: ExtractVersion(raw),
		Raw:     raw,
	}
}

// ExtractVersion returns the first dotted version in s, or ZeroVersion.
func ExtractVersion(s string) Version {
	m := versionRe.FindString(s)
	if m == "" {
		return ZeroVersion
	}
	v, err := ParseVersion(m)
	if err != nil {
		return ZeroVersion
	}
	return v
}

// ParseVersion parses a dotted version of two to four non-negative 32-bit components.
func ParseVersion(s string) (Version, error) {
	fields := strings.Split(s, ".")
	if len(fields) < 2 || len(fields) > 4 {
		return Version{}, fmt.Errorf("version %q must have 2 to 4 components", s)
	}
	var parts [4]int
	for i, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil || n < 0 || n > math.MaxInt32 {
			return Version{}, fmt.Errorf("invalid version component %q in %q", f, s)
		}
		parts[i] = int(n)
	}
	return Version{
		Major:      parts[0],
		Minor:      parts[1],
		Build:      parts[2],
		Revision:   parts[3],
		Components: len(fields),
	}, nil
}
