package sandbox

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/standardbeagle/flycli/internal/diff"
)

// FileChangeResult describes a write so the caller can show or undo it
// without reading the file again.
type FileChangeResult struct {
	Path         string `json:"path"`
	IsNewFile    bool   `json:"isNewFile"`
	LinesAdded   uint   `json:"linesAdded"`
	LinesRemoved uint   `json:"linesRemoved"`
}

// EditFilesArgs are the arguments of the editFiles tool.
type EditFilesArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// EditFiles writes content to path, creating parent directories as needed,
// and reports the line delta against the previous content.
func (w *Workspace) EditFiles(ctx context.Context, args EditFilesArgs) (*FileChangeResult, error) {
	if te := checkCtx(ctx); te != nil {
		return nil, te
	}
	if strings.TrimSpace(args.Path) == "" {
		return nil, toolErr(CodeMissingPath, "missing required parameter: path")
	}
	abs, te := w.resolve(args.Path)
	if te != nil {
		return nil, te
	}

	var (
		prior  string
		exists bool
		mode   fs.FileMode = 0o644
	)
	if info, err := os.Stat(abs); err == nil {
		if info.IsDir() {
			return nil, toolErr(CodeWriteError, "%s is a directory", args.Path)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, wrapErr(CodeWriteError, err, "failed to read existing file %s", args.Path)
		}
		prior, exists, mode = string(data), true, info.Mode().Perm()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, wrapErr(CodeWriteError, err, "failed to stat %s", args.Path)
	}

	if err := writeFileAtomic(abs, []byte(args.Content), mode); err != nil {
		return nil, wrapErr(CodeWriteError, err, "failed to write file %s", args.Path)
	}

	res := &FileChangeResult{Path: w.Rel(abs), IsNewFile: !exists}
	if exists {
		d := diff.ComputeLineDiff(prior, args.Content)
		res.LinesAdded, res.LinesRemoved = d.LinesAdded, d.LinesRemoved
	} else {
		res.LinesAdded = diff.CountLines(args.Content)
	}
	return res, nil
}

// SearchReplaceArgs are the arguments of the searchReplace tool.
type SearchReplaceArgs struct {
	Path    string `json:"path"`
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

// SearchReplace replaces the single occurrence of OldText in a file. The
// file is left untouched unless OldText occurs exactly once.
func (w *Workspace) SearchReplace(ctx context.Context, args SearchReplaceArgs) (*FileChangeResult, error) {
	if te := checkCtx(ctx); te != nil {
		return nil, te
	}
	if strings.TrimSpace(args.Path) == "" {
		return nil, toolErr(CodeMissingPath, "missing required parameter: path")
	}
	if args.OldText == "" {
		return nil, toolErr(CodeInvalidArguments, "oldText cannot be empty")
	}
	if args.OldText == args.NewText {
		return nil, toolErr(CodeNoChange, "oldText and newText are identical")
	}
	abs, te := w.resolve(args.Path)
	if te != nil {
		return nil, te
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, wrapErr(CodeReadError, err, "failed to read file %s", args.Path)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, wrapErr(CodeReadError, err, "failed to read file %s", args.Path)
	}
	content := string(data)

	switch n := strings.Count(content, args.OldText); {
	case n == 0:
		return nil, toolErr(CodeNotFound, "oldText not found in %s", args.Path)
	case n > 1:
		return nil, toolErr(CodeNotUnique, "oldText matches %d locations in %s; include more surrounding context", n, args.Path)
	}

	updated := strings.Replace(content, args.OldText, args.NewText, 1)
	if err := writeFileAtomic(abs, []byte(updated), info.Mode().Perm()); err != nil {
		return nil, wrapErr(CodeWriteError, err, "failed to write file %s", args.Path)
	}
	d := diff.ComputeLineDiff(content, updated)
	return &FileChangeResult{
		Path:         w.Rel(abs),
		LinesAdded:   d.LinesAdded,
		LinesRemoved: d.LinesRemoved,
	}, nil
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place, so a failed write never truncates the old file.
func writeFileAtomic(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".flycli-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
