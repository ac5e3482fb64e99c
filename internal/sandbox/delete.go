package sandbox

import (
	"context"
	"os"
	"strings"
)

// DeleteFileArgs are the arguments of the deleteFile tool.
type DeleteFileArgs struct {
	Path string `json:"path"`
}

// DeleteFileResult carries the content the file had before deletion.
type DeleteFileResult struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// DeleteFile removes a regular file and returns its previous content.
// A missing file is a READ_ERROR and nothing is removed.
func (w *Workspace) DeleteFile(ctx context.Context, args DeleteFileArgs) (*DeleteFileResult, error) {
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
	if abs == w.root {
		return nil, toolErr(CodeDeleteError, "refusing to delete the workspace root")
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, wrapErr(CodeReadError, err, "failed to read file before deletion: %s", args.Path)
	}
	if info.IsDir() {
		return nil, toolErr(CodeReadError, "%s is a directory", args.Path)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, wrapErr(CodeReadError, err, "failed to read file before deletion: %s", args.Path)
	}
	if err := os.Remove(abs); err != nil {
		return nil, wrapErr(CodeDeleteError, err, "failed to delete file %s", args.Path)
	}
	return &DeleteFileResult{Path: w.Rel(abs), Content: string(data)}, nil
}
