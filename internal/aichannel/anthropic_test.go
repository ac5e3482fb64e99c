package aichannel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/flycli/internal/sandbox"
)

func sse(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal([]byte(e), &head)
		fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", head.Type, e)
	}
	return b.String()
}

const messageStart = `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}`

func textTurn(text string) string {
	return sse(
		messageStart,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		fmt.Sprintf(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":%q}}`, text),
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":5}}`,
		`{"type":"message_stop"}`,
	)
}

func toolTurn(id, name, input string) string {
	return sse(
		messageStart,
		fmt.Sprintf(`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":%q,"name":%q,"input":{}}}`, id, name),
		fmt.Sprintf(`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":%q}}`, input),
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":5}}`,
		`{"type":"message_stop"}`,
	)
}

// fakeAnthropic serves one scripted SSE body per request and records the
// request bodies.
type fakeAnthropic struct {
	mu     sync.Mutex
	bodies []map[string]any
	turns  []string
}

func (f *fakeAnthropic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)

	f.mu.Lock()
	i := len(f.bodies)
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()

	if i >= len(f.turns) {
		http.Error(w, `{"type":"error","error":{"type":"invalid_request_error","message":"no more turns"}}`, http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, f.turns[i])
}

func newFakeGenerator(t *testing.T, turns ...string) (*AnthropicGenerator, *fakeAnthropic) {
	t.Helper()
	fake := &fakeAnthropic{turns: turns}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	gen, err := NewAnthropicGenerator(ProviderConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	return gen, fake
}

func TestNewAnthropicGenerator(t *testing.T) {
	t.Run("default model", func(t *testing.T) {
		gen, err := NewAnthropicGenerator(ProviderConfig{APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, AnthropicModelSonnet, gen.Model())
	})
	t.Run("no key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("CLAUDE_KEY", "")
		_, err := NewAnthropicGenerator(ProviderConfig{})
		require.ErrorIs(t, err, ErrNoAPIKey)
	})
}

func TestAnthropicGenerator_StreamsText(t *testing.T) {
	gen, fake := newFakeGenerator(t, textTurn("Hello there"))
	rec := &recorder{}

	err := gen.Generate(context.Background(), Request{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Text: "hi"}},
	}, rec)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", rec.text)
	assert.Empty(t, rec.calls)

	require.Len(t, fake.bodies, 1)
	assert.Equal(t, true, fake.bodies[0]["stream"])
	assert.Equal(t, "claude-sonnet-4-5", fake.bodies[0]["model"])
}

func TestAnthropicGenerator_ToolLoop(t *testing.T) {
	gen, fake := newFakeGenerator(t,
		toolTurn("toolu_1", "readFile", `{"path":"a.txt"}`),
		textTurn("done"),
	)
	rec := &recorder{answer: func(call ToolCall) ToolResult {
		return ToolResult{Err: &sandbox.ToolError{Code: sandbox.CodeFileDoesNotExist, Message: "nope"}}
	}}

	err := gen.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Text: "read a.txt"}},
		Tools:    sandbox.Tools(),
	}, rec)
	require.NoError(t, err)

	require.Len(t, rec.calls, 1)
	assert.Equal(t, "toolu_1", rec.calls[0].ID)
	assert.Equal(t, "readFile", rec.calls[0].Name)
	assert.JSONEq(t, `{"path":"a.txt"}`, string(rec.calls[0].Args))
	assert.Equal(t, "done", rec.text)

	require.Len(t, fake.bodies, 2)
	tools, ok := fake.bodies[0]["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, len(sandbox.Tools()))

	// The second request carries the tool result back as a user message.
	msgs := fake.bodies[1]["messages"].([]any)
	require.Len(t, msgs, 3)
	last := msgs[2].(map[string]any)
	assert.Equal(t, "user", last["role"])
	block := last["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_result", block["type"])
	assert.Equal(t, "toolu_1", block["tool_use_id"])
	assert.Equal(t, true, block["is_error"])
}

func TestAnthropicGenerator_StepLimit(t *testing.T) {
	gen, _ := newFakeGenerator(t,
		toolTurn("t1", "list", `{}`),
		toolTurn("t2", "list", `{}`),
	)
	err := gen.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Text: "loop"}},
		MaxSteps: 2,
	}, &recorder{})
	require.ErrorIs(t, err, ErrStepLimit)
}

func TestAnthropicGenerator_Cancelled(t *testing.T) {
	gen, _ := newFakeGenerator(t, textTurn("never"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := gen.Generate(ctx, Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}}, &recorder{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestAnthropicHistory(t *testing.T) {
	system, msgs := anthropicHistory(Request{
		System: "base",
		Messages: []Message{
			{Role: RoleSystem, Text: "extra"},
			{Role: RoleUser, Text: "q"},
			{Role: RoleAssistant, Text: "  "},
			{Role: RoleAssistant, Text: "a"},
		},
	})
	assert.Equal(t, "base\n\nextra", system)
	assert.Len(t, msgs, 2)

	_, empty := anthropicHistory(Request{Messages: []Message{{Role: RoleUser, Text: ""}}})
	assert.Empty(t, empty)
}
