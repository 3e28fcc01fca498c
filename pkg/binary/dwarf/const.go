package dwarf

import "fmt"

// Tag is a DIE tag (DW_TAG_*).
type Tag uint32

const (
	TagArrayType              Tag = 0x01
	TagClassType              Tag = 0x02
	TagEnumerationType        Tag = 0x04
	TagFormalParameter        Tag = 0x05
	TagLexicalBlock           Tag = 0x0b
	TagMember                 Tag = 0x0d
	TagPointerType            Tag = 0x0f
	TagCompileUnit            Tag = 0x11
	TagStructType             Tag = 0x13
	TagSubroutineType         Tag = 0x15
	TagTypedef                Tag = 0x16
	TagUnionType              Tag = 0x17
	TagInlinedSubroutine      Tag = 0x1d
	TagSubrangeType           Tag = 0x21
	TagBaseType               Tag = 0x24
	TagConstType              Tag = 0x26
	TagEnumerator             Tag = 0x28
	TagSubprogram             Tag = 0x2e
	TagVariable               Tag = 0x34
	TagVolatileType           Tag = 0x35
	TagNamespace              Tag = 0x39
	TagPartialUnit            Tag = 0x3c
	TagTypeUnit               Tag = 0x41
	TagSkeletonUnit           Tag = 0x4a
	TagGNUCallSite            Tag = 0x4109
	TagGNUCallSiteParameter   Tag = 0x410a
	TagCallSite               Tag = 0x48
	TagCallSiteParameter      Tag = 0x49
	TagRvalueReferenceType    Tag = 0x42
	TagReferenceType          Tag = 0x10
	TagUnspecifiedParameters  Tag = 0x18
	TagTemplateTypeParameter  Tag = 0x2f
	TagTemplateValueParameter Tag = 0x30
)

var tagNames = map[Tag]string{
	TagArrayType:              "array_type",
	TagClassType:              "class_type",
	TagEnumerationType:        "enumeration_type",
	TagFormalParameter:        "formal_parameter",
	TagLexicalBlock:           "lexical_block",
	TagMember:                 "member",
	TagPointerType:            "pointer_type",
	TagReferenceType:          "reference_type",
	TagCompileUnit:            "compile_unit",
	TagStructType:             "structure_type",
	TagSubroutineType:         "subroutine_type",
	TagTypedef:                "typedef",
	TagUnionType:              "union_type",
	TagUnspecifiedParameters:  "unspecified_parameters",
	TagInlinedSubroutine:      "inlined_subroutine",
	TagSubrangeType:           "subrange_type",
	TagBaseType:               "base_type",
	TagConstType:              "const_type",
	TagEnumerator:             "enumerator",
	TagSubprogram:             "subprogram",
	TagTemplateTypeParameter:  "template_type_parameter",
	TagTemplateValueParameter: "template_value_parameter",
	TagVariable:               "variable",
	TagVolatileType:           "volatile_type",
	TagNamespace:              "namespace",
	TagPartialUnit:            "partial_unit",
	TagTypeUnit:               "type_unit",
	TagRvalueReferenceType:    "rvalue_reference_type",
	TagCallSite:               "call_site",
	TagCallSiteParameter:      "call_site_parameter",
	TagSkeletonUnit:           "skeleton_unit",
	TagGNUCallSite:            "GNU_call_site",
	TagGNUCallSiteParameter:   "GNU_call_site_parameter",
}

func (t Tag) String() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Tag(0x%x)", uint32(t))
}

// IsUnitRoot reports whether t heads a compilation unit tree.
func (t Tag) IsUnitRoot() bool {
	return t == TagCompileUnit || t == TagSkeletonUnit || t == TagPartialUnit || t == TagTypeUnit
}

// Attr is a DIE attribute (DW_AT_*).
type Attr uint32

const (
	AttrSibling          Attr = 0x01
	AttrLocation         Attr = 0x02
	AttrName             Attr = 0x03
	AttrByteSize         Attr = 0x0b
	AttrStmtList         Attr = 0x10
	AttrLowpc            Attr = 0x11
	AttrHighpc           Attr = 0x12
	AttrLanguage         Attr = 0x13
	AttrCompDir          Attr = 0x1b
	AttrConstValue       Attr = 0x1c
	AttrInline           Attr = 0x20
	AttrProducer         Attr = 0x25
	AttrPrototyped       Attr = 0x27
	AttrAbstractOrigin   Attr = 0x31
	AttrCount            Attr = 0x37
	AttrDeclFile         Attr = 0x3a
	AttrDeclLine         Attr = 0x3b
	AttrDeclaration      Attr = 0x3c
	AttrEncoding         Attr = 0x3e
	AttrExternal         Attr = 0x3f
	AttrFrameBase        Attr = 0x40
	AttrSpecification    Attr = 0x47
	AttrType             Attr = 0x49
	AttrRanges           Attr = 0x55
	AttrEntryPC          Attr = 0x52
	AttrLinkageName      Attr = 0x6e
	AttrStrOffsetsBase   Attr = 0x72
	AttrAddrBase         Attr = 0x73
	AttrRnglistsBase     Attr = 0x74
	AttrDwoName          Attr = 0x76
	AttrMIPSLinkageName  Attr = 0x2007
	AttrGNUDwoName       Attr = 0x2130
	AttrGNUDwoID         Attr = 0x2131
	AttrGNURangesBase    Attr = 0x2132
	AttrGNUAddrBase      Attr = 0x2133
	AttrGNUPubnames      Attr = 0x2134
	AttrAPPLEOptimized   Attr = 0x3fe1
	AttrAPPLEFlags       Attr = 0x3fe2
	AttrAPPLESDK         Attr = 0x3fef
	AttrGNUAllCallSites  Attr = 0x2117
	AttrCallAllCalls     Attr = 0x7a
	AttrDecimalSign      Attr = 0x5e
	AttrGNUTemplateName  Attr = 0x2110
	AttrMainSubprogram   Attr = 0x6a
	AttrLocListsBase     Attr = 0x8c
	AttrAPPLEIsysroot    Attr = 0x3fe0
	AttrDataMemberLoc    Attr = 0x38
	AttrUpperBound       Attr = 0x2f
	AttrCallFile         Attr = 0x58
	AttrCallLine         Attr = 0x59
	AttrArtificial       Attr = 0x34
	AttrExternalFileName Attr = 0x2120
)

var attrNames = map[Attr]string{
	AttrSibling:         "sibling",
	AttrLocation:        "location",
	AttrName:            "name",
	AttrByteSize:        "byte_size",
	AttrStmtList:        "stmt_list",
	AttrLowpc:           "low_pc",
	AttrHighpc:          "high_pc",
	AttrLanguage:        "language",
	AttrCompDir:         "comp_dir",
	AttrConstValue:      "const_value",
	AttrInline:          "inline",
	AttrProducer:        "producer",
	AttrPrototyped:      "prototyped",
	AttrAbstractOrigin:  "abstract_origin",
	AttrArtificial:      "artificial",
	AttrCount:           "count",
	AttrDataMemberLoc:   "data_member_location",
	AttrDeclFile:        "decl_file",
	AttrDeclLine:        "decl_line",
	AttrDeclaration:     "declaration",
	AttrEncoding:        "encoding",
	AttrExternal:        "external",
	AttrFrameBase:       "frame_base",
	AttrSpecification:   "specification",
	AttrType:            "type",
	AttrUpperBound:      "upper_bound",
	AttrRanges:          "ranges",
	AttrEntryPC:         "entry_pc",
	AttrCallFile:        "call_file",
	AttrCallLine:        "call_line",
	AttrLinkageName:     "linkage_name",
	AttrMainSubprogram:  "main_subprogram",
	AttrStrOffsetsBase:  "str_offsets_base",
	AttrAddrBase:        "addr_base",
	AttrRnglistsBase:    "rnglists_base",
	AttrDwoName:         "dwo_name",
	AttrCallAllCalls:    "call_all_calls",
	AttrLocListsBase:    "loclists_base",
	AttrMIPSLinkageName: "MIPS_linkage_name",
	AttrGNUAllCallSites: "GNU_all_call_sites",
	AttrGNUDwoName:      "GNU_dwo_name",
	AttrGNUDwoID:        "GNU_dwo_id",
	AttrGNURangesBase:   "GNU_ranges_base",
	AttrGNUAddrBase:     "GNU_addr_base",
	AttrGNUPubnames:     "GNU_pubnames",
	AttrAPPLEIsysroot:   "APPLE_isysroot",
	AttrAPPLEOptimized:  "APPLE_optimized",
	AttrAPPLEFlags:      "APPLE_flags",
	AttrAPPLESDK:        "APPLE_sdk",
}

func (a Attr) String() string {
	if n, ok := attrNames[a]; ok {
		return n
	}
	return fmt.Sprintf("Attr(0x%x)", uint32(a))
}

// Form is an attribute encoding (DW_FORM_*).
type Form uint32

const (
	FormAddr          Form = 0x01
	FormBlock2        Form = 0x03
	FormBlock4        Form = 0x04
	FormData2         Form = 0x05
	FormData4         Form = 0x06
	FormData8         Form = 0x07
	FormString        Form = 0x08
	FormBlock         Form = 0x09
	FormBlock1        Form = 0x0a
	FormData1         Form = 0x0b
	FormFlag          Form = 0x0c
	FormSdata         Form = 0x0d
	FormStrp          Form = 0x0e
	FormUdata         Form = 0x0f
	FormRefAddr       Form = 0x10
	FormRef1          Form = 0x11
	FormRef2          Form = 0x12
	FormRef4          Form = 0x13
	FormRef8          Form = 0x14
	FormRefUdata      Form = 0x15
	FormIndirect      Form = 0x16
	FormSecOffset     Form = 0x17
	FormExprloc       Form = 0x18
	FormFlagPresent   Form = 0x19
	FormStrx          Form = 0x1a
	FormAddrx         Form = 0x1b
	FormRefSup4       Form = 0x1c
	FormStrpSup       Form = 0x1d
	FormData16        Form = 0x1e
	FormLineStrp      Form = 0x1f
	FormRefSig8       Form = 0x20
	FormImplicitConst Form = 0x21
	FormLoclistx      Form = 0x22
	FormRnglistx      Form = 0x23
	FormRefSup8       Form = 0x24
	FormStrx1         Form = 0x25
	FormStrx2         Form = 0x26
	FormStrx3         Form = 0x27
	FormStrx4         Form = 0x28
	FormAddrx1        Form = 0x29
	FormAddrx2        Form = 0x2a
	FormAddrx3        Form = 0x2b
	FormAddrx4        Form = 0x2c
	FormGNUAddrIndex  Form = 0x1f01
	FormGNUStrIndex   Form = 0x1f02
	FormGNURefAlt     Form = 0x1f20
	FormGNUStrpAlt    Form = 0x1f21
)

func (f Form) String() string {
	return fmt.Sprintf("Form(0x%x)", uint32(f))
}

// UnitType is the DWARF 5 unit type (DW_UT_*). Units of earlier versions report
// UnitTypeCompile.
type UnitType uint8

const (
	UnitTypeCompile      UnitType = 0x01
	UnitTypeType         UnitType = 0x02
	UnitTypePartial      UnitType = 0x03
	UnitTypeSkeleton     UnitType = 0x04
	UnitTypeSplitCompile UnitType = 0x05
	UnitTypeSplitType    UnitType = 0x06
)

func (u UnitType) String() string {
	switch u {
	case UnitTypeCompile:
		return "compile"
	case UnitTypeType:
		return "type"
	case UnitTypePartial:
		return "partial"
	case UnitTypeSkeleton:
		return "skeleton"
	case UnitTypeSplitCompile:
		return "split_compile"
	case UnitTypeSplitType:
		return "split_type"
	}
	return fmt.Sprintf("UnitType(0x%x)", uint8(u))
}
