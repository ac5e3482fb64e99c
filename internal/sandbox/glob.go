package sandbox

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MaxGlobResults caps a single glob call.
const MaxGlobResults = 1000

// GlobArgs are the arguments of the glob tool.
type GlobArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// GlobResult lists matching files relative to the workspace root.
type GlobResult struct {
	Files     []string `json:"files"`
	Truncated bool     `json:"truncated,omitempty"`
}

var errGlobLimit = errors.New("glob result limit reached")

// Glob returns files under Path (default: the workspace root) matching a
// doublestar pattern such as "src/**/*.tsx". Ignored directories such as
// node_modules are skipped unless the pattern names them.
func (w *Workspace) Glob(ctx context.Context, args GlobArgs) (*GlobResult, error) {
	if te := checkCtx(ctx); te != nil {
		return nil, te
	}
	pattern := strings.TrimPrefix(strings.TrimSpace(args.Pattern), "./")
	if pattern == "" {
		return nil, toolErr(CodeMissingPattern, "missing required parameter: pattern")
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, toolErr(CodeGlobError, "invalid glob pattern %q", args.Pattern)
	}
	base, te := w.resolve(args.Path)
	if te != nil {
		return nil, te
	}
	info, err := os.Stat(base)
	if err != nil {
		return nil, wrapErr(CodeGlobError, err, "failed to find files matching pattern %s", args.Pattern)
	}
	if !info.IsDir() {
		return nil, toolErr(CodeGlobError, "%s is not a directory", displayPath(args.Path))
	}

	res := &GlobResult{Files: []string{}}
	walk := func(p string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if IsIgnoredName(d.Name()) && !mentionsSegment(pattern, d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if hasIgnoredSegment(p) && !mentionsIgnored(pattern, p) {
			return nil
		}
		if len(res.Files) >= MaxGlobResults {
			res.Truncated = true
			return errGlobLimit
		}
		res.Files = append(res.Files, w.Rel(filepath.Join(base, filepath.FromSlash(p))))
		return nil
	}

	err = doublestar.GlobWalk(os.DirFS(base), pattern, walk)
	switch {
	case err == nil, errors.Is(err, errGlobLimit):
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, wrapErr(CodeCancelled, err, "glob cancelled")
	default:
		return nil, wrapErr(CodeGlobError, err, "failed to find files matching pattern %s", args.Pattern)
	}
	sort.Strings(res.Files)
	return res, nil
}

func mentionsSegment(pattern, name string) bool {
	for _, seg := range strings.Split(pattern, "/") {
		if seg == name {
			return true
		}
	}
	return false
}

func mentionsIgnored(pattern, p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if IsIgnoredName(seg) && mentionsSegment(pattern, seg) {
			return true
		}
	}
	return false
}

func hasIgnoredSegment(p string) bool {
	segs := strings.Split(p, "/")
	for _, seg := range segs[:len(segs)-1] {
		if IsIgnoredName(seg) {
			return true
		}
	}
	return false
}
