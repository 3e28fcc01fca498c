package compiler

import (
	"bytes"
	"fmt"

	"github.com/coral-mesh/binscope/pkg/binary"
)

// NullTermASCIIToStrings splits a buffer of NUL-terminated ASCII strings.
// Empty input, a string without a terminator or a non-ASCII byte is ErrUnsupportedInput.
func NullTermASCIIToStrings(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: expected NUL-terminated ASCII strings, got an empty buffer", binary.ErrUnsupportedInput)
	}

	var out []string
	for start := 0; start < len(data); {
		end := bytes.IndexByte(data[start:], 0)
		if end < 0 {
			return nil, fmt.Errorf("%w: string at offset %d is not NUL-terminated", binary.ErrUnsupportedInput, start)
		}
		s := data[start : start+end]
		for i, c := range s {
			if c >= 0x80 {
				return nil, fmt.Errorf("%w: non-ASCII byte 0x%02x at offset %d", binary.ErrUnsupportedInput, c, start+i)
			}
		}
		out = append(out, string(s))
		start += end + 1
	}
	return out, nil
}

// FromComment fingerprints every entry of an ELF .comment section. A missing or malformed
// section yields a single Unknown compiler with an empty raw string.
func FromComment(data []byte, present bool) []Info {
	if !present {
		return []Info{Fingerprint("", ELFRules)}
	}
	entries, err := NullTermASCIIToStrings(data)
	if err != nil {
		return []Info{Fingerprint("", ELFRules)}
	}
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e == "" {
			continue
		}
		out = append(out, Fingerprint(e, ELFRules))
	}
	if len(out) == 0 {
		return []Info{Fingerprint("", ELFRules)}
	}
	return out
}

// FromProducers fingerprints DWARF producer strings, dropping duplicates and empty entries.
func FromProducers(producers []string, rules Rules) []Info {
	seen := make(map[string]struct{}, len(producers))
	var out []Info
	for _, p := range producers {
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, Fingerprint(p, rules))
	}
	return out
}
