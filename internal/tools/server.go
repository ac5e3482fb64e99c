// Package tools exposes the workspace sandbox, and optionally the command
// executor, as an MCP server so editor agents can use the same bounded
// tools as the control panel.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/flycli/internal/sandbox"
	"github.com/standardbeagle/flycli/internal/terminal"
)

// ToolRunCommand is the MCP name of the command executor.
const ToolRunCommand = "runCommand"

const instructions = `Workspace tools for a frontend project.

All paths are relative to the workspace root and cannot escape it.

Available tools:
- readFile, list, glob, searchText: inspect the project
- editFiles, searchReplace, deleteFile: change files; results report lines added and removed
- runCommand: run a command in the workspace root (when enabled)`

// Options configure the MCP server.
type Options struct {
	Name    string
	Version string
	// Executor enables runCommand when set.
	Executor *terminal.Executor
}

// NewServer builds an MCP server over ws.
func NewServer(ws *sandbox.Workspace, opts Options) *mcp.Server {
	if opts.Name == "" {
		opts.Name = "flycli"
	}
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    opts.Name,
			Version: opts.Version,
		},
		&mcp.ServerOptions{
			HasTools:     true,
			Instructions: instructions,
		},
	)
	RegisterSandboxTools(server, ws)
	if opts.Executor != nil {
		RegisterRunCommand(server, opts.Executor)
	}
	return server
}

// RegisterSandboxTools adds every sandbox tool to server.
func RegisterSandboxTools(server *mcp.Server, ws *sandbox.Workspace) {
	for _, spec := range sandbox.Tools() {
		server.AddTool(&mcp.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.Schema,
		}, makeSandboxHandler(ws, spec.Name))
	}
}

func makeSandboxHandler(ws *sandbox.Workspace, name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var raw json.RawMessage
		if req.Params != nil {
			raw = req.Params.Arguments
		}
		out, err := ws.Dispatch(ctx, name, raw)
		if err != nil {
			var te *sandbox.ToolError
			if errors.As(err, &te) {
				return toolErrorResult(te), nil
			}
			return nil, err
		}
		return jsonResult(out)
	}
}

// RunCommandInput is the argument of runCommand.
type RunCommandInput struct {
	Command terminal.Command `json:"command"`
}

// RegisterRunCommand adds the command executor to server.
func RegisterRunCommand(server *mcp.Server, executor *terminal.Executor) {
	server.AddTool(&mcp.Tool{
		Name:        ToolRunCommand,
		Description: "Run a command in the workspace root and return its stdout, stderr and success. The command is a string split on whitespace or an array of arguments. No shell is involved.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"description": "Command to run, e.g. \"npm test\" or [\"npx\", \"tsc\", \"--noEmit\"].",
					"anyOf": []any{
						map[string]any{"type": "string"},
						map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
				},
			},
			"required": []string{"command"},
		},
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in RunCommandInput
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
				return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
		}
		res, err := executor.Run(ctx, in.Command)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		out, rerr := jsonResult(res)
		if rerr != nil {
			return nil, rerr
		}
		out.IsError = !res.Success
		return out, nil
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func toolErrorResult(te *sandbox.ToolError) *mcp.CallToolResult {
	data, _ := json.Marshal(te)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// Serve runs server over stdio until the client disconnects or ctx ends.
func Serve(ctx context.Context, server *mcp.Server) error {
	err := server.Run(ctx, &mcp.StdioTransport{})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
