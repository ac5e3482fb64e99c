package sandbox

// ToolSpec describes a tool to a model provider or MCP client. Schema is a
// JSON Schema object for the tool's arguments.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

func obj(required []string, props map[string]any) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

// Tools returns the specs of every sandbox tool, in a stable order.
func Tools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        ToolReadFile,
			Description: "Read a file in the workspace. Returns the content and the file's total line count. Optionally restrict to a 1-indexed inclusive line range.",
			Schema: obj([]string{"path"}, map[string]any{
				"path":      prop("string", "File path relative to the workspace root."),
				"startLine": prop("integer", "First line to return (1-indexed, inclusive)."),
				"endLine":   prop("integer", "Last line to return (1-indexed, inclusive)."),
			}),
		},
		{
			Name:        ToolEditFiles,
			Description: "Create a file or overwrite it entirely. Missing directories are created. Returns whether the file is new and how many lines were added and removed. For partial edits use searchReplace.",
			Schema: obj([]string{"path", "content"}, map[string]any{
				"path":    prop("string", "File path relative to the workspace root."),
				"content": prop("string", "The complete new file content."),
			}),
		},
		{
			Name:        ToolDeleteFile,
			Description: "Delete a file. Returns the content it had before deletion.",
			Schema: obj([]string{"path"}, map[string]any{
				"path": prop("string", "File path relative to the workspace root."),
			}),
		},
		{
			Name:        ToolList,
			Description: "List a directory, optionally recursively, with file and directory counts.",
			Schema: obj(nil, map[string]any{
				"path":               prop("string", "Directory relative to the workspace root (default: root)."),
				"recursive":          prop("boolean", "List recursively (default: false)."),
				"maxDepth":           prop("integer", "Maximum recursion depth; 0 lists only direct children."),
				"pattern":            prop("string", "File extension such as \".ts\" or a glob on the entry name."),
				"includeDirectories": prop("boolean", "Include directories (default: true)."),
				"includeFiles":       prop("boolean", "Include files (default: true)."),
			}),
		},
		{
			Name:        ToolGlob,
			Description: "Find files matching a glob pattern such as \"**/*.tsx\" or \"app/**/page.tsx\".",
			Schema: obj([]string{"pattern"}, map[string]any{
				"pattern": prop("string", "Glob pattern; ** matches any number of directories."),
				"path":    prop("string", "Directory to search in (default: workspace root)."),
			}),
		},
		{
			Name:        ToolSearchText,
			Description: "Regex search over workspace files. Returns matching lines as file, line and content. Output is truncated when it gets too large.",
			Schema: obj([]string{"query", "explanation"}, map[string]any{
				"query":          prop("string", "Regular expression to search for."),
				"caseSensitive":  prop("boolean", "Case-sensitive search (default: false)."),
				"includePattern": prop("string", "Glob for files to include, e.g. \"*.ts\"."),
				"excludePattern": prop("string", "Glob for files to exclude."),
				"maxMatches":     prop("integer", "Maximum matches to return (default: 200)."),
				"explanation":    prop("string", "Why this search is being run."),
			}),
		},
		{
			Name:        ToolSearchReplace,
			Description: "Replace one unique occurrence of text in a file. oldText must match exactly once; include surrounding lines to make it unique.",
			Schema: obj([]string{"path", "oldText", "newText"}, map[string]any{
				"path":    prop("string", "File path relative to the workspace root."),
				"oldText": prop("string", "Exact text to replace; must occur exactly once."),
				"newText": prop("string", "Replacement text."),
			}),
		},
	}
}
