package debugpath

import (
	"io/fs"
	"os"
	"path/filepath"
)

// findIn walks root recursively in lexical order and returns the first regular file named
// name.
func findIn(root, name string) (string, bool) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", false
	}
	var found string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped.
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() && d.Name() == name && d.Type().IsRegular() {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	return found, found != ""
}

// Find searches dirs in order, then fallbackDir, and returns the first file whose base name
// matches name. An absolute name that exists is returned as is.
func Find(name string, dirs []string, fallbackDir string) (string, bool) {
	if name == "" {
		return "", false
	}
	if filepath.IsAbs(name) {
		if info, err := os.Stat(name); err == nil && info.Mode().IsRegular() {
			return name, true
		}
	}
	base := filepath.Base(name)
	for _, d := range dirs {
		if p, ok := findIn(d, base); ok {
			return p, true
		}
	}
	if fallbackDir != "" {
		return findIn(fallbackDir, base)
	}
	return "", false
}

// SamePath reports whether a and b name the same file after making them absolute and
// resolving symlinks.
func SamePath(a, b string) bool {
	ca, errA := canonical(a)
	cb, errB := canonical(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return ca == cb
}

func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
