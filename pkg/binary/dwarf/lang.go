package dwarf

import "fmt"

// Lang is a source language code (DW_LANG_*).
type Lang uint16

const (
	LangUnknown       Lang = 0
	LangC89           Lang = 0x01
	LangC             Lang = 0x02
	LangAda83         Lang = 0x03
	LangCPlusPlus     Lang = 0x04
	LangCobol74       Lang = 0x05
	LangCobol85       Lang = 0x06
	LangFortran77     Lang = 0x07
	LangFortran90     Lang = 0x08
	LangPascal83      Lang = 0x09
	LangModula2       Lang = 0x0a
	LangJava          Lang = 0x0b
	LangC99           Lang = 0x0c
	LangAda95         Lang = 0x0d
	LangFortran95     Lang = 0x0e
	LangPLI           Lang = 0x0f
	LangObjC          Lang = 0x10
	LangObjCPlusPlus  Lang = 0x11
	LangUPC           Lang = 0x12
	LangD             Lang = 0x13
	LangPython        Lang = 0x14
	LangOpenCL        Lang = 0x15
	LangGo            Lang = 0x16
	LangModula3       Lang = 0x17
	LangHaskell       Lang = 0x18
	LangCPlusPlus03   Lang = 0x19
	LangCPlusPlus11   Lang = 0x1a
	LangOCaml         Lang = 0x1b
	LangRust          Lang = 0x1c
	LangC11           Lang = 0x1d
	LangSwift         Lang = 0x1e
	LangJulia         Lang = 0x1f
	LangDylan         Lang = 0x20
	LangCPlusPlus14   Lang = 0x21
	LangFortran03     Lang = 0x22
	LangFortran08     Lang = 0x23
	LangRenderScript  Lang = 0x24
	LangBLISS         Lang = 0x25
	LangMipsAssembler Lang = 0x8001
)

var langNames = map[Lang]string{
	LangUnknown:       "Unknown",
	LangC89:           "C89",
	LangC:             "C",
	LangAda83:         "Ada83",
	LangCPlusPlus:     "C++",
	LangCobol74:       "Cobol74",
	LangCobol85:       "Cobol85",
	LangFortran77:     "Fortran77",
	LangFortran90:     "Fortran90",
	LangPascal83:      "Pascal83",
	LangModula2:       "Modula2",
	LangJava:          "Java",
	LangC99:           "C99",
	LangAda95:         "Ada95",
	LangFortran95:     "Fortran95",
	LangPLI:           "PLI",
	LangObjC:          "ObjC",
	LangObjCPlusPlus:  "ObjC++",
	LangUPC:           "UPC",
	LangD:             "D",
	LangPython:        "Python",
	LangOpenCL:        "OpenCL",
	LangGo:            "Go",
	LangModula3:       "Modula3",
	LangHaskell:       "Haskell",
	LangCPlusPlus03:   "C++03",
	LangCPlusPlus11:   "C++11",
	LangOCaml:         "OCaml",
	LangRust:          "Rust",
	LangC11:           "C11",
	LangSwift:         "Swift",
	LangJulia:         "Julia",
	LangDylan:         "Dylan",
	LangCPlusPlus14:   "C++14",
	LangFortran03:     "Fortran03",
	LangFortran08:     "Fortran08",
	LangRenderScript:  "RenderScript",
	LangBLISS:         "BLISS",
	LangMipsAssembler: "MipsAssembler",
}

func (l Lang) String() string {
	if n, ok := langNames[l]; ok {
		return n
	}
	return fmt.Sprintf("Lang(0x%x)", uint16(l))
}

// MarshalText implements encoding.TextMarshaler.
func (l Lang) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// IsCFamily reports whether l is a C or C++ dialect.
func IsCFamily(l Lang) bool {
	switch l {
	case LangC89, LangC, LangC99, LangC11,
		LangCPlusPlus, LangCPlusPlus03, LangCPlusPlus11, LangCPlusPlus14:
		return true
	}
	return false
}
