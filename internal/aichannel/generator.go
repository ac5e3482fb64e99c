// Package aichannel adapts language-model providers to the chunk stream the
// control session forwards to the panel.
package aichannel

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/standardbeagle/flycli/internal/sandbox"
)

var (
	ErrNoAPIKey      = errors.New("API key not configured")
	ErrProviderError = errors.New("provider error")
	ErrStepLimit     = errors.New("tool step limit reached")
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one conversation entry handed to a generator.
type Message struct {
	Role Role
	Text string
}

// Request describes one turn.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []sandbox.ToolSpec
	MaxSteps    int
	MaxTokens   int
	Temperature float64
	// ThinkingBudget enables extended reasoning on providers that support
	// it. Zero disables it.
	ThinkingBudget int
}

// ToolCall is a model's request to run a tool.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolResult is what the model sees after a tool runs. Exactly one of
// Output or Err is set.
type ToolResult struct {
	Output any
	Err    *sandbox.ToolError
}

// Content renders the result as the text sent back to the model.
func (r ToolResult) Content() string {
	var v any = r.Output
	if r.Err != nil {
		v = r.Err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return `{"code":"INVALID_ARGUMENTS","message":"unserializable tool result"}`
	}
	return string(data)
}

// Handler receives a generator's output in generation order. Generators
// call it from a single goroutine.
type Handler interface {
	// Text is an incremental piece of assistant text.
	Text(delta string)
	// Reasoning is an incremental piece of model reasoning.
	Reasoning(delta string)
	// ToolCall runs a tool and returns its result. It blocks until the tool
	// finishes or ctx is done.
	ToolCall(ctx context.Context, call ToolCall) ToolResult
}

// Generator produces one assistant turn. Generate returns when the model
// stops, ctx is cancelled, or the provider fails. A cancelled turn returns
// ctx.Err().
type Generator interface {
	Generate(ctx context.Context, req Request, h Handler) error
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request, h Handler) error

func (f GeneratorFunc) Generate(ctx context.Context, req Request, h Handler) error {
	return f(ctx, req, h)
}

func maxSteps(req Request) int {
	if req.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return req.MaxSteps
}

func maxTokens(req Request) int {
	if req.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return req.MaxTokens
}

// Defaults used when a Request leaves the field zero.
const (
	DefaultMaxSteps  = 20
	DefaultMaxTokens = 8192
)
