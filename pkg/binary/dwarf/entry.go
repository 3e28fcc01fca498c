package dwarf

import (
	"fmt"
	"sort"
)

// ValueKind discriminates the Value variant.
type ValueKind uint8

const (
	KindNone ValueKind = iota
	KindString
	KindConstant
	KindSigned
	KindReference
	KindAddress
	KindBlock
	KindFlag
	KindSecOffset
	KindExprLoc
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindConstant:
		return "constant"
	case KindSigned:
		return "signed"
	case KindReference:
		return "reference"
	case KindAddress:
		return "address"
	case KindBlock:
		return "block"
	case KindFlag:
		return "flag"
	case KindSecOffset:
		return "sec_offset"
	case KindExprLoc:
		return "exprloc"
	}
	return "none"
}

// Value is a decoded attribute value.
type Value struct {
	Kind ValueKind
	Form Form
	// Str holds KindString.
	Str string
	// Uint holds KindConstant, KindAddress, KindSecOffset, KindFlag (0/1) and the raw offset
	// of KindReference.
	Uint uint64
	// Int holds KindSigned.
	Int int64
	// Bytes holds KindBlock and KindExprLoc.
	Bytes []byte
	// Ref is the resolved target of a KindReference, nil when the target is outside the
	// decoded units.
	Ref *Entry
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindSigned:
		return fmt.Sprint(v.Int)
	case KindAddress, KindSecOffset, KindReference:
		return fmt.Sprintf("0x%x", v.Uint)
	case KindFlag:
		return fmt.Sprint(v.Uint != 0)
	case KindBlock, KindExprLoc:
		return fmt.Sprintf("%x", v.Bytes)
	}
	return fmt.Sprint(v.Uint)
}

// Entry is a debugging information entry.
type Entry struct {
	Offset     uint64
	Tag        Tag
	Attributes map[Attr]Value
	Children   []*Entry
	Parent     *Entry `json:"-"`
}

// Attr returns the value of a, if present.
func (e *Entry) Attr(a Attr) (Value, bool) {
	v, ok := e.Attributes[a]
	return v, ok
}

// StringAttr returns a string attribute, or "" when a is absent or not a string.
func (e *Entry) StringAttr(a Attr) string {
	if v, ok := e.Attributes[a]; ok && v.Kind == KindString {
		return v.Str
	}
	return ""
}

// Uint returns a numeric attribute.
func (e *Entry) Uint(a Attr) (uint64, bool) {
	v, ok := e.Attributes[a]
	if !ok {
		return 0, false
	}
	switch v.Kind {
	case KindConstant, KindAddress, KindSecOffset, KindFlag, KindReference:
		return v.Uint, true
	case KindSigned:
		return uint64(v.Int), true
	}
	return 0, false
}

// Flag reports whether a boolean attribute is set.
func (e *Entry) Flag(a Attr) bool {
	v, ok := e.Attributes[a]
	return ok && v.Kind == KindFlag && v.Uint != 0
}

// Name returns DW_AT_name.
func (e *Entry) Name() string {
	return e.StringAttr(AttrName)
}

// SortedAttrs returns the attribute keys in numeric order.
func (e *Entry) SortedAttrs() []Attr {
	keys := make([]Attr, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Walk calls fn for e and every descendant in depth-first order. Returning false from fn
// skips the children of that entry.
func (e *Entry) Walk(fn func(*Entry) bool) {
	if !fn(e) {
		return
	}
	for _, c := range e.Children {
		c.Walk(fn)
	}
}
