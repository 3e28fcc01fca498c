package dwarf

// CompileInfo summarizes a C or C++ compile unit.
type CompileInfo struct {
	Name     string `json:"name"`
	CompDir  string `json:"comp_dir"`
	Producer string `json:"producer"`
	Language Lang   `json:"language"`
}

// CompileInfos returns one entry per C-family compile unit root, in unit order.
func CompileInfos(units []*Unit) []CompileInfo {
	var out []CompileInfo
	for _, u := range units {
		if u.Root == nil || u.Root.Tag != TagCompileUnit {
			continue
		}
		lang := u.Language()
		if !IsCFamily(lang) {
			continue
		}
		out = append(out, CompileInfo{
			Name:     u.Name(),
			CompDir:  u.CompDir(),
			Producer: u.Producer(),
			Language: lang,
		})
	}
	return out
}

// FirstLanguage returns the first DW_AT_language found on a compile unit root. Skeleton
// roots usually carry none, so split units loaded later still decide the answer.
func FirstLanguage(units []*Unit) Lang {
	for _, u := range units {
		if u.Root == nil || u.Root.Tag != TagCompileUnit {
			continue
		}
		if _, ok := u.Root.Uint(AttrLanguage); ok {
			return u.Language()
		}
	}
	return LangUnknown
}

// Producers returns DW_AT_producer of every unit root in order, skipping empty values.
func Producers(units []*Unit) []string {
	var out []string
	for _, u := range units {
		if p := u.Producer(); p != "" {
			out = append(out, p)
		}
	}
	return out
}
