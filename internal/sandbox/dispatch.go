package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"pkt.systems/pslog"

	"github.com/standardbeagle/flycli/internal/metrics"
)

// Tool names as seen by the model and the panel.
const (
	ToolReadFile      = "readFile"
	ToolEditFiles     = "editFiles"
	ToolDeleteFile    = "deleteFile"
	ToolList          = "list"
	ToolGlob          = "glob"
	ToolSearchText    = "searchText"
	ToolSearchReplace = "searchReplace"
)

// argAliases maps argument names used by older prompts onto the canonical
// ones.
var argAliases = map[string]string{
	"relative_file_path":     "path",
	"file_path":              "path",
	"code_edit":              "content",
	"old_string":             "oldText",
	"new_string":             "newText",
	"start_line_one_indexed": "startLine",
	"end_line_one_indexed":   "endLine",
	"case_sensitive":         "caseSensitive",
	"include_file_pattern":   "includePattern",
	"exclude_file_pattern":   "excludePattern",
	"max_matches":            "maxMatches",
	"includeDirs":            "includeDirectories",
}

// Dispatch runs the named tool with JSON arguments. The returned error, if
// any, is always a *ToolError.
func (w *Workspace) Dispatch(ctx context.Context, name string, raw json.RawMessage) (any, error) {
	start := time.Now()
	out, err := w.dispatch(ctx, name, raw)

	te := AsToolError(err, CodeInvalidArguments)
	code := "ok"
	if te != nil {
		code = string(te.Code)
	}
	metrics.ObserveTool(name, code, time.Since(start))

	log := pslog.Ctx(ctx).With("tool", name, "elapsed", time.Since(start))
	if te != nil {
		log.Warn("tool call failed", "code", te.Code, "error", te.Message)
		return nil, te
	}
	log.Debug("tool call ok")
	return out, nil
}

func (w *Workspace) dispatch(ctx context.Context, name string, raw json.RawMessage) (any, error) {
	if te := checkCtx(ctx); te != nil {
		return nil, te
	}
	switch name {
	case ToolReadFile:
		var a ReadFileArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		return w.ReadFile(ctx, a)
	case ToolEditFiles:
		var a EditFilesArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		return w.EditFiles(ctx, a)
	case ToolDeleteFile:
		var a DeleteFileArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		return w.DeleteFile(ctx, a)
	case ToolList:
		var a ListArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		return w.List(ctx, a)
	case ToolGlob:
		var a GlobArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		return w.Glob(ctx, a)
	case ToolSearchText:
		var a SearchTextArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		return w.SearchText(ctx, a)
	case ToolSearchReplace:
		var a SearchReplaceArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		return w.SearchReplace(ctx, a)
	default:
		return nil, toolErr(CodeUnknownTool, "unknown tool %q", name)
	}
}

// decodeArgs normalises alias keys and a nested "options" object before
// decoding into dst.
func decodeArgs(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return wrapErr(CodeInvalidArguments, err, "arguments must be a JSON object")
	}
	if opts, ok := fields["options"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(opts, &nested); err == nil {
			for k, v := range nested {
				if _, exists := fields[k]; !exists {
					fields[k] = v
				}
			}
		}
		delete(fields, "options")
	}
	for alias, canonical := range argAliases {
		v, ok := fields[alias]
		if !ok {
			continue
		}
		if _, exists := fields[canonical]; !exists {
			fields[canonical] = v
		}
		delete(fields, alias)
	}
	normalized, err := json.Marshal(fields)
	if err != nil {
		return wrapErr(CodeInvalidArguments, err, "invalid arguments")
	}
	if err := json.Unmarshal(normalized, dst); err != nil {
		return wrapErr(CodeInvalidArguments, err, "invalid arguments")
	}
	return nil
}
