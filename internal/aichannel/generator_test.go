package aichannel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/flycli/internal/sandbox"
)

// recorder is a Handler that records everything a generator emits and
// answers tool calls from a fixed function.
type recorder struct {
	mu        sync.Mutex
	text      string
	reasoning string
	calls     []ToolCall
	answer    func(ToolCall) ToolResult
	// events is the handler call order: "text" or "tool:<name>".
	events []string
}

func (r *recorder) Text(delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text += delta
	r.events = append(r.events, "text")
}

func (r *recorder) Reasoning(delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasoning += delta
}

func (r *recorder) ToolCall(_ context.Context, call ToolCall) ToolResult {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.events = append(r.events, "tool:"+call.Name)
	r.mu.Unlock()
	if r.answer != nil {
		return r.answer(call)
	}
	return ToolResult{Output: map[string]any{"ok": true}}
}

func TestToolResultContent(t *testing.T) {
	t.Run("output", func(t *testing.T) {
		r := ToolResult{Output: map[string]int{"count": 2}}
		assert.JSONEq(t, `{"count":2}`, r.Content())
	})
	t.Run("error wins", func(t *testing.T) {
		r := ToolResult{
			Output: "ignored",
			Err:    &sandbox.ToolError{Code: sandbox.CodeNotFound, Message: "missing"},
		}
		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.Content()), &got))
		assert.Equal(t, "NOT_FOUND", got["code"])
		assert.Equal(t, "missing", got["message"])
	})
	t.Run("unserializable", func(t *testing.T) {
		r := ToolResult{Output: make(chan int)}
		assert.Contains(t, r.Content(), "INVALID_ARGUMENTS")
	})
}

func TestRequestDefaults(t *testing.T) {
	assert.Equal(t, DefaultMaxSteps, maxSteps(Request{}))
	assert.Equal(t, 3, maxSteps(Request{MaxSteps: 3}))
	assert.Equal(t, DefaultMaxTokens, maxTokens(Request{MaxTokens: -1}))
	assert.Equal(t, 100, maxTokens(Request{MaxTokens: 100}))
}

func TestGeneratorFunc(t *testing.T) {
	gen := GeneratorFunc(func(ctx context.Context, req Request, h Handler) error {
		h.Text("hi " + req.Model)
		return nil
	})
	rec := &recorder{}
	require.NoError(t, gen.Generate(context.Background(), Request{Model: "m"}, rec))
	assert.Equal(t, "hi m", rec.text)
}
