// Package panel provides the control panel assets served at the root of
// the control port.
package panel

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// IndexFile is the panel document.
const IndexFile = "index.html"

// ErrNoIndex is returned when a panel directory has no index.html.
var ErrNoIndex = errors.New("panel directory has no " + IndexFile)

//go:embed dist
var embedded embed.FS

// Embedded returns the built-in fallback panel.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "dist")
	if err != nil {
		// dist is compiled in; Sub only fails on an invalid name.
		panic(err)
	}
	return sub
}

// Open returns the panel filesystem. An empty dir selects the embedded
// panel; otherwise dir must contain index.html.
func Open(dir string) (fs.FS, error) {
	if dir == "" {
		return Embedded(), nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("panel dir: %w", err)
	}
	if _, err := os.Stat(filepath.Join(abs, IndexFile)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoIndex, abs)
		}
		return nil, fmt.Errorf("panel dir: %w", err)
	}
	return os.DirFS(abs), nil
}
