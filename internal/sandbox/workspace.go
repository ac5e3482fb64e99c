// Package sandbox implements the filesystem tools available to the coding
// agent. Every path is resolved against a single workspace root and
// rejected if it would escape it.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultSearchTimeout bounds a single searchText call.
	DefaultSearchTimeout = 30 * time.Second
)

// Options tune a Workspace.
type Options struct {
	// SearchTimeout bounds searchText. Zero uses DefaultSearchTimeout.
	SearchTimeout time.Duration
	// DisableRipgrep forces the in-process search even when rg is on PATH.
	DisableRipgrep bool
}

// Workspace is the root directory all tool operations are confined to.
type Workspace struct {
	root     string
	realRoot string
	opts     Options
	rgPath   string
}

// New returns a Workspace rooted at dir. The directory must exist.
func New(dir string, opts Options) (*Workspace, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		real = abs
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultSearchTimeout
	}
	w := &Workspace{
		root:     filepath.Clean(abs),
		realRoot: filepath.Clean(real),
		opts:     opts,
	}
	if !opts.DisableRipgrep {
		if p, err := exec.LookPath("rg"); err == nil {
			w.rgPath = p
		}
	}
	return w, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// Resolve maps a workspace-relative (or absolute, in-workspace) path to an
// absolute path. The path is cleaned, joined to the root and, after
// following any symlinks that already exist on disk, must still lie inside
// the root.
func (w *Workspace) Resolve(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "." {
		return w.root, nil
	}

	var candidate string
	if filepath.IsAbs(raw) {
		candidate = filepath.Clean(raw)
	} else {
		candidate = filepath.Clean(filepath.Join(w.root, raw))
	}
	if !isWithinDir(w.root, candidate) && !isWithinDir(w.realRoot, candidate) {
		return "", toolErr(CodePathOutsideWorkspace, "path %q escapes the workspace", raw)
	}
	if !isWithinDir(w.realRoot, resolveExisting(candidate)) {
		return "", toolErr(CodePathOutsideWorkspace, "path %q escapes the workspace via symlink", raw)
	}
	return candidate, nil
}

// Rel returns abs relative to the root using forward slashes.
func (w *Workspace) Rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

func (w *Workspace) resolve(raw string) (string, *ToolError) {
	p, err := w.Resolve(raw)
	if err != nil {
		return "", AsToolError(err, CodePathOutsideWorkspace)
	}
	return p, nil
}

func isWithinDir(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveExisting evaluates symlinks on the longest existing prefix of p and
// re-appends the components that do not exist yet.
func resolveExisting(p string) string {
	var rest []string
	cur := p
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			parts := append([]string{resolved}, rest...)
			return filepath.Join(parts...)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return p
		}
		if _, err := os.Lstat(cur); err == nil {
			// Dangling symlink: the target is unknown, so nothing is inside.
			return ""
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

func checkCtx(ctx context.Context) *ToolError {
	if err := ctx.Err(); err != nil {
		return wrapErr(CodeCancelled, err, "tool call cancelled")
	}
	return nil
}
