package sandbox

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

var ignoredNames = map[string]bool{
	"node_modules": true,
	".git":         true,
	".next":        true,
}

// IsIgnoredName reports whether a file or directory is hidden from the
// panel's file list: dependency trees, VCS metadata, build output and env
// files that may hold secrets.
func IsIgnoredName(name string) bool {
	return ignoredNames[name] || name == ".env" || strings.HasPrefix(name, ".env.")
}

// ProjectFiles returns every file in the workspace, relative to the root
// and sorted, skipping ignored names at any depth.
func (w *Workspace) ProjectFiles(ctx context.Context) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == w.root {
				return err
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == w.root {
			return nil
		}
		if IsIgnoredName(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, w.Rel(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
