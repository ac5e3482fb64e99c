package sandbox

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MaxListEntries caps a single list call.
const MaxListEntries = 5000

// ListArgs are the arguments of the list tool. Nil pointers take the
// defaults: unlimited depth, directories and files both included.
type ListArgs struct {
	Path         string `json:"path,omitempty"`
	Recursive    bool   `json:"recursive,omitempty"`
	MaxDepth     *int   `json:"maxDepth,omitempty"`
	Pattern      string `json:"pattern,omitempty"`
	IncludeDirs  *bool  `json:"includeDirectories,omitempty"`
	IncludeFiles *bool  `json:"includeFiles,omitempty"`
}

// EntryType is "file" or "directory".
type EntryType string

const (
	EntryFile      EntryType = "file"
	EntryDirectory EntryType = "directory"
)

// ListEntry is one item returned by List.
type ListEntry struct {
	Path string    `json:"path"`
	Name string    `json:"name"`
	Type EntryType `json:"type"`
	Size int64     `json:"size,omitempty"`
}

// ListResult is returned by List.
type ListResult struct {
	Entries   []ListEntry `json:"entries"`
	FileCount int         `json:"fileCount"`
	DirCount  int         `json:"dirCount"`
	Truncated bool        `json:"truncated,omitempty"`
}

// List enumerates a directory. Depth 0 is the directory's direct children;
// with Recursive set, descent stops once MaxDepth is reached.
func (w *Workspace) List(ctx context.Context, args ListArgs) (*ListResult, error) {
	if te := checkCtx(ctx); te != nil {
		return nil, te
	}
	if args.MaxDepth != nil && *args.MaxDepth < 0 {
		return nil, toolErr(CodeInvalidMaxDepth, "maxDepth must be a non-negative integer")
	}
	includeDirs := args.IncludeDirs == nil || *args.IncludeDirs
	includeFiles := args.IncludeFiles == nil || *args.IncludeFiles
	if !includeDirs && !includeFiles {
		return nil, toolErr(CodeInvalidIncludeOpts, "at least one of includeFiles or includeDirectories must be true")
	}
	if args.Pattern != "" && !isExtPattern(args.Pattern) && !doublestar.ValidatePattern(args.Pattern) {
		return nil, toolErr(CodeListError, "invalid pattern %q", args.Pattern)
	}

	abs, te := w.resolve(args.Path)
	if te != nil {
		return nil, te
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, toolErr(CodeFileDoesNotExist, "file does not exist: %s", displayPath(args.Path))
		}
		return nil, wrapErr(CodeListError, err, "failed to list %s", displayPath(args.Path))
	}
	if !info.IsDir() {
		return nil, toolErr(CodeNotADirectory, "file is not a directory: %s", displayPath(args.Path))
	}

	res := &ListResult{Entries: []ListEntry{}}
	walkErr := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == abs {
				return err
			}
			return nil
		}
		if p == abs {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, _ := filepath.Rel(abs, p)
		depth := strings.Count(filepath.ToSlash(rel), "/")
		descend := d.IsDir() && args.Recursive && (args.MaxDepth == nil || depth < *args.MaxDepth)

		if (d.IsDir() && includeDirs) || (!d.IsDir() && includeFiles) {
			if matchListPattern(args.Pattern, filepath.ToSlash(rel), d.Name()) {
				if len(res.Entries) >= MaxListEntries {
					res.Truncated = true
					return fs.SkipAll
				}
				entry := ListEntry{Path: w.Rel(p), Name: d.Name(), Type: EntryFile}
				if d.IsDir() {
					entry.Type = EntryDirectory
					res.DirCount++
				} else {
					if fi, err := d.Info(); err == nil {
						entry.Size = fi.Size()
					}
					res.FileCount++
				}
				res.Entries = append(res.Entries, entry)
			}
		}
		if d.IsDir() && !descend {
			return fs.SkipDir
		}
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return nil, wrapErr(CodeCancelled, walkErr, "list cancelled")
		}
		return nil, wrapErr(CodeListError, walkErr, "failed to list %s", displayPath(args.Path))
	}
	return res, nil
}

// isExtPattern reports whether pattern is a bare extension such as ".ts".
func isExtPattern(pattern string) bool {
	return strings.HasPrefix(pattern, ".") && !strings.ContainsAny(pattern, "*?[{/")
}

func matchListPattern(pattern, rel, name string) bool {
	if pattern == "" {
		return true
	}
	if isExtPattern(pattern) {
		return strings.HasSuffix(name, pattern)
	}
	if strings.Contains(pattern, "/") {
		ok, _ := doublestar.Match(pattern, rel)
		return ok
	}
	ok, _ := doublestar.Match(pattern, path.Base(rel))
	return ok
}

func displayPath(p string) string {
	if strings.TrimSpace(p) == "" {
		return "."
	}
	return p
}
