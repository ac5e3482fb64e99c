package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	ws, root := newTestWorkspace(t)
	writeFile(t, root, "src/a.txt", "one\ntwo\nthree\n")
	ctx := context.Background()

	res, err := ws.ReadFile(ctx, ReadFileArgs{Path: "src/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", res.Content)
	assert.Equal(t, uint(3), res.TotalLines)
	assert.Equal(t, "src/a.txt", res.Path)

	res, err = ws.ReadFile(ctx, ReadFileArgs{Path: "src/a.txt", StartLine: 2, EndLine: 3})
	require.NoError(t, err)
	assert.Equal(t, "two\nthree\n", res.Content)
	assert.Equal(t, uint(3), res.TotalLines)

	res, err = ws.ReadFile(ctx, ReadFileArgs{Path: "src/a.txt", StartLine: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Content)

	_, err = ws.ReadFile(ctx, ReadFileArgs{Path: "src/a.txt", StartLine: 3, EndLine: 1})
	requireCode(t, err, CodeInvalidLineRange)

	_, err = ws.ReadFile(ctx, ReadFileArgs{Path: "missing.txt"})
	requireCode(t, err, CodeReadError)

	_, err = ws.ReadFile(ctx, ReadFileArgs{Path: "src"})
	requireCode(t, err, CodeReadError)

	_, err = ws.ReadFile(ctx, ReadFileArgs{})
	requireCode(t, err, CodeMissingPath)

	_, err = ws.ReadFile(ctx, ReadFileArgs{Path: "../etc/passwd"})
	requireCode(t, err, CodePathOutsideWorkspace)
}

func TestEditFilesNewFile(t *testing.T) {
	ws, root := newTestWorkspace(t)

	res, err := ws.EditFiles(context.Background(), EditFilesArgs{Path: "a.txt", Content: "x\ny\n"})
	require.NoError(t, err)
	assert.Equal(t, &FileChangeResult{Path: "a.txt", IsNewFile: true, LinesAdded: 2, LinesRemoved: 0}, res)
	assert.Equal(t, "x\ny\n", readFile(t, root, "a.txt"))
}

func TestEditFilesExistingFile(t *testing.T) {
	ws, root := newTestWorkspace(t)
	writeFile(t, root, "a.txt", "a\nb\nc\n")

	res, err := ws.EditFiles(context.Background(), EditFilesArgs{Path: "a.txt", Content: "a\nb\nd\n"})
	require.NoError(t, err)
	assert.False(t, res.IsNewFile)
	assert.Equal(t, uint(1), res.LinesAdded)
	assert.Equal(t, uint(1), res.LinesRemoved)
	assert.Equal(t, "a\nb\nd\n", readFile(t, root, "a.txt"))
}

func TestEditFilesCreatesDirectories(t *testing.T) {
	ws, root := newTestWorkspace(t)

	res, err := ws.EditFiles(context.Background(), EditFilesArgs{Path: "app/components/Button.tsx", Content: "export {}\n"})
	require.NoError(t, err)
	assert.True(t, res.IsNewFile)
	assert.Equal(t, "export {}\n", readFile(t, root, "app/components/Button.tsx"))

	entries, err := os.ReadDir(filepath.Join(root, "app", "components"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestEditFilesErrors(t *testing.T) {
	ws, root := newTestWorkspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0o755))
	ctx := context.Background()

	_, err := ws.EditFiles(ctx, EditFilesArgs{Path: "dir", Content: "x"})
	requireCode(t, err, CodeWriteError)

	_, err = ws.EditFiles(ctx, EditFilesArgs{Path: "../escape.txt", Content: "x"})
	requireCode(t, err, CodePathOutsideWorkspace)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(root), "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestEditFilesPreservesMode(t *testing.T) {
	ws, root := newTestWorkspace(t)
	writeFile(t, root, "run.sh", "#!/bin/sh\n")
	require.NoError(t, os.Chmod(filepath.Join(root, "run.sh"), 0o755))

	_, err := ws.EditFiles(context.Background(), EditFilesArgs{Path: "run.sh", Content: "#!/bin/sh\necho hi\n"})
	require.NoError(t, err)
	info, err := os.Stat(filepath.Join(root, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestDeleteFile(t *testing.T) {
	ws, root := newTestWorkspace(t)
	writeFile(t, root, "gone.txt", "bye\n")

	res, err := ws.DeleteFile(context.Background(), DeleteFileArgs{Path: "gone.txt"})
	require.NoError(t, err)
	assert.Equal(t, "bye\n", res.Content)
	_, statErr := os.Stat(filepath.Join(root, "gone.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteFileMissing(t *testing.T) {
	ws, root := newTestWorkspace(t)
	writeFile(t, root, "keep.txt", "keep")

	_, err := ws.DeleteFile(context.Background(), DeleteFileArgs{Path: "missing.txt"})
	requireCode(t, err, CodeReadError)
	assert.Equal(t, "keep", readFile(t, root, "keep.txt"))

	_, err = ws.DeleteFile(context.Background(), DeleteFileArgs{Path: ""})
	requireCode(t, err, CodeMissingPath)
}

func TestSearchReplace(t *testing.T) {
	ws, root := newTestWorkspace(t)
	writeFile(t, root, "a.go", "package a\n\nfunc A() int {\n\treturn 1\n}\n")

	res, err := ws.SearchReplace(context.Background(), SearchReplaceArgs{
		Path:    "a.go",
		OldText: "\treturn 1\n",
		NewText: "\tx := 2\n\treturn x\n",
	})
	require.NoError(t, err)
	assert.Equal(t, uint(2), res.LinesAdded)
	assert.Equal(t, uint(1), res.LinesRemoved)
	assert.False(t, res.IsNewFile)
	assert.Contains(t, readFile(t, root, "a.go"), "return x")
}

func TestSearchReplaceNeverPartial(t *testing.T) {
	const original = "foo\nbar\nfoo\n"
	tests := []struct {
		name string
		old  string
		new  string
		code ErrorCode
	}{
		{"zero matches", "baz", "qux", CodeNotFound},
		{"two matches", "foo", "qux", CodeNotUnique},
		{"identical", "bar", "bar", CodeNoChange},
		{"empty old", "", "qux", CodeInvalidArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, root := newTestWorkspace(t)
			writeFile(t, root, "f.txt", original)

			_, err := ws.SearchReplace(context.Background(), SearchReplaceArgs{Path: "f.txt", OldText: tt.old, NewText: tt.new})
			requireCode(t, err, tt.code)
			assert.Equal(t, original, readFile(t, root, "f.txt"))
		})
	}
}

func TestSearchReplaceMissingFile(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	_, err := ws.SearchReplace(context.Background(), SearchReplaceArgs{Path: "nope.txt", OldText: "a", NewText: "b"})
	requireCode(t, err, CodeReadError)
}

func TestProjectFiles(t *testing.T) {
	ws, root := newTestWorkspace(t)
	for _, f := range []string{
		"package.json",
		"app/page.tsx",
		"app/layout.tsx",
		"node_modules/react/index.js",
		".git/HEAD",
		".next/build.json",
		".env",
		".env.local",
		"lib/.env.production.local",
		".envrc",
	} {
		writeFile(t, root, f, "x")
	}

	files, err := ws.ProjectFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{".envrc", "app/layout.tsx", "app/page.tsx", "package.json"}, files)
}

func TestOperationsHonorCancelledContext(t *testing.T) {
	ws, root := newTestWorkspace(t)
	writeFile(t, root, "a.txt", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ws.EditFiles(ctx, EditFilesArgs{Path: "a.txt", Content: "b"})
	requireCode(t, err, CodeCancelled)
	assert.Equal(t, "a", readFile(t, root, "a.txt"))

	_, err = ws.SearchText(ctx, SearchTextArgs{Query: "a", Explanation: "x"})
	requireCode(t, err, CodeCancelled)
	assert.True(t, strings.Contains(err.Error(), "cancel"))
}
