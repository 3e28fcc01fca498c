package debugpath

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Index maps file base names to paths under a fixed list of search roots. It is built once
// and is read-only afterwards, so lookups need no locking.
type Index struct {
	roots  []string
	byRoot []map[string]string
}

// BuildIndex walks every root concurrently, one goroutine per root. For each root and name
// the first path in lexical walk order is kept. Missing roots index as empty.
func BuildIndex(ctx context.Context, roots []string) (*Index, error) {
	idx := &Index{
		roots:  append([]string(nil), roots...),
		byRoot: make([]map[string]string, len(roots)),
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for i, root := range roots {
		g.Go(func() error {
			m, err := walkRoot(ctx, root)
			if err != nil {
				return err
			}
			mu.Lock()
			idx.byRoot[i] = m
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return idx, nil
}

func walkRoot(ctx context.Context, root string) (map[string]string, error) {
	m := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			if _, seen := m[d.Name()]; !seen {
				m[d.Name()] = p
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Roots returns the indexed roots in search order.
func (x *Index) Roots() []string {
	return x.roots
}

// Len returns the number of indexed names across all roots.
func (x *Index) Len() int {
	n := 0
	for _, m := range x.byRoot {
		n += len(m)
	}
	return n
}

// Lookup returns the path of name in the first root that contains it.
func (x *Index) Lookup(name string) (string, bool) {
	if x == nil {
		return "", false
	}
	base := filepath.Base(name)
	for _, m := range x.byRoot {
		if p, ok := m[base]; ok {
			return p, true
		}
	}
	return "", false
}

// Entries calls fn for every indexed name, root by root.
func (x *Index) Entries(fn func(root, name, path string)) {
	for i, m := range x.byRoot {
		for name, p := range m {
			fn(x.roots[i], name, p)
		}
	}
}
