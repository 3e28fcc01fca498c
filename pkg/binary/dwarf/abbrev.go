package dwarf

import "encoding/binary"

type abbrevField struct {
	attr Attr
	form Form
	// implicit holds the value of a DW_FORM_implicit_const field.
	implicit int64
}

type abbrev struct {
	tag      Tag
	children bool
	fields   []abbrevField
}

type abbrevTable map[uint64]*abbrev

// parseAbbrevs reads the abbreviation table that starts at off in .debug_abbrev.
func parseAbbrevs(order binary.ByteOrder, data []byte, off uint64) (abbrevTable, error) {
	if off >= uint64(len(data)) {
		return nil, &DecodeError{Section: ".debug_abbrev", Offset: len(data), Msg: "abbrev offset out of range"}
	}
	r := newReader(".debug_abbrev", order, data, int(off))
	table := make(abbrevTable)
	for !r.atEnd() {
		code := r.uleb()
		if code == 0 {
			break
		}
		a := &abbrev{tag: Tag(r.uleb())}
		a.children = r.u8() != 0
		for {
			attr := Attr(r.uleb())
			form := Form(r.uleb())
			if r.err != nil {
				return nil, r.err
			}
			if attr == 0 && form == 0 {
				break
			}
			f := abbrevField{attr: attr, form: form}
			if form == FormImplicitConst {
				f.implicit = r.sleb()
			}
			a.fields = append(a.fields, f)
		}
		if _, dup := table[code]; dup {
			r.fail("duplicate abbreviation code %d", code)
			break
		}
		table[code] = a
	}
	if r.err != nil {
		return nil, r.err
	}
	return table, nil
}
