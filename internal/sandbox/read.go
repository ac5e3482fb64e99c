package sandbox

import (
	"context"
	"os"
	"strings"

	"github.com/standardbeagle/flycli/internal/diff"
)

// ReadFileArgs are the arguments of the readFile tool. StartLine and
// EndLine are 1-indexed and inclusive; zero means "from the start" and
// "to the end".
type ReadFileArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"startLine,omitempty"`
	EndLine   int    `json:"endLine,omitempty"`
}

// ReadFileResult is returned by ReadFile. TotalLines always counts the whole
// file, even when a line range was requested.
type ReadFileResult struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	TotalLines uint   `json:"totalLines"`
}

// ReadFile returns the content of a file inside the workspace.
func (w *Workspace) ReadFile(ctx context.Context, args ReadFileArgs) (*ReadFileResult, error) {
	if te := checkCtx(ctx); te != nil {
		return nil, te
	}
	if strings.TrimSpace(args.Path) == "" {
		return nil, toolErr(CodeMissingPath, "missing required parameter: path")
	}
	if args.StartLine < 0 || args.EndLine < 0 || (args.EndLine > 0 && args.EndLine < args.StartLine) {
		return nil, toolErr(CodeInvalidLineRange, "invalid line range %d-%d", args.StartLine, args.EndLine)
	}
	abs, te := w.resolve(args.Path)
	if te != nil {
		return nil, te
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, wrapErr(CodeReadError, err, "failed to read file %s", args.Path)
	}
	if info.IsDir() {
		return nil, toolErr(CodeReadError, "%s is a directory", args.Path)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, wrapErr(CodeReadError, err, "failed to read file %s", args.Path)
	}

	content := string(data)
	lines := diff.SplitLines(content)
	res := &ReadFileResult{
		Path:       w.Rel(abs),
		Content:    content,
		TotalLines: uint(len(lines)),
	}
	if args.StartLine > 0 || args.EndLine > 0 {
		start := max(args.StartLine, 1)
		end := args.EndLine
		if end == 0 || end > len(lines) {
			end = len(lines)
		}
		if start > len(lines) {
			res.Content = ""
		} else {
			res.Content = strings.Join(lines[start-1:end], "")
		}
	}
	return res, nil
}
