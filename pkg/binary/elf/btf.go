package elf

import (
	"errors"

	"github.com/cilium/ebpf/btf"
)

// BTFSummary counts the types of a .BTF section.
type BTFSummary struct {
	Types     int `json:"types"`
	Functions int `json:"functions"`
	Structs   int `json:"structs"`
}

type btfResult struct {
	summary BTFSummary
	ok      bool
}

func (f *File) loadBTF() btfResult {
	if s, ok := f.table.ByName(".BTF"); !ok || !s.HasBits() {
		return btfResult{}
	}
	spec, err := btf.LoadSpecFromReader(f.data)
	if err != nil {
		if !errors.Is(err, btf.ErrNotFound) {
			f.logger.Debug().Err(err).Msg("Failed to load BTF")
		}
		return btfResult{}
	}
	var sum BTFSummary
	iter := spec.Iterate()
	for iter.Next() {
		sum.Types++
		switch iter.Type.(type) {
		case *btf.Func:
			sum.Functions++
		case *btf.Struct:
			sum.Structs++
		}
	}
	return btfResult{summary: sum, ok: true}
}

// BTF summarizes the .BTF section. It reports false when the section is absent or does not
// decode.
func (f *File) BTF() (BTFSummary, bool) {
	if !f.Valid() {
		return BTFSummary{}, false
	}
	r := f.btf.Get()
	return r.summary, r.ok
}
