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
	"github.com/tmc/langchaingo/llms"

	"github.com/standardbeagle/flycli/internal/sandbox"
)

func TestGetAPIKeyForProvider(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("OPEN_ROUTER_KEY", "fallback")
	assert.Equal(t, "fallback", GetAPIKeyForProvider(ProviderOpenRouter))

	t.Setenv("OPENROUTER_API_KEY", "primary")
	assert.Equal(t, "primary", GetAPIKeyForProvider(ProviderOpenRouter))
	assert.True(t, IsProviderConfigured(ProviderOpenRouter))

	assert.Empty(t, GetAPIKeyForProvider("nope"))
}

func TestNewLangChainGenerator(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewLangChainGenerator(LangChainConfig{Provider: "nope"})
		require.Error(t, err)
	})
	t.Run("anthropic is not openai compatible", func(t *testing.T) {
		_, err := NewLangChainGenerator(LangChainConfig{Provider: ProviderAnthropic, APIKey: "k"})
		require.Error(t, err)
	})
	t.Run("missing key", func(t *testing.T) {
		t.Setenv("OPENROUTER_API_KEY", "")
		t.Setenv("OPEN_ROUTER_KEY", "")
		_, err := NewLangChainGenerator(LangChainConfig{Provider: ProviderOpenRouter})
		require.ErrorIs(t, err, ErrNoAPIKey)
	})
	t.Run("defaults", func(t *testing.T) {
		gen, err := NewLangChainGenerator(LangChainConfig{Provider: ProviderOpenRouter, APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "openrouter", gen.Name())
		assert.Equal(t, "openai/gpt-5-nano", gen.Model())
	})
}

func TestLangchainHistory(t *testing.T) {
	msgs := langchainHistory(Request{
		System: "sys",
		Messages: []Message{
			{Role: RoleUser, Text: "q"},
			{Role: RoleAssistant, Text: "a"},
		},
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)

	assert.Nil(t, langchainHistory(Request{System: "sys"}))
}

func TestLangchainTools(t *testing.T) {
	tools := langchainTools(Request{Tools: sandbox.Tools()})
	require.Len(t, tools, len(sandbox.Tools()))
	for _, tool := range tools {
		assert.Equal(t, "function", tool.Type)
		require.NotNil(t, tool.Function)
		assert.NotEmpty(t, tool.Function.Name)
	}
}

// chunk renders one chat.completion.chunk with the given delta.
func chunk(delta, finish string) string {
	reason := "null"
	if finish != "" {
		reason = fmt.Sprintf("%q", finish)
	}
	return fmt.Sprintf(`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-5-nano","choices":[{"index":0,"delta":%s,"finish_reason":%s}]}`, delta, reason)
}

func openAIStream(chunks ...string) string {
	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "data: %s\n\n", c)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

// fakeOpenAI serves one scripted stream per chat completion request.
type fakeOpenAI struct {
	mu     sync.Mutex
	bodies []map[string]any
	turns  []string
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)

	f.mu.Lock()
	i := len(f.bodies)
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()

	if !strings.HasSuffix(r.URL.Path, "/chat/completions") || i >= len(f.turns) {
		http.Error(w, `{"error":{"message":"unexpected request"}}`, http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, f.turns[i])
}

func newFakeLangChain(t *testing.T, turns ...string) (*LangChainGenerator, *fakeOpenAI) {
	t.Helper()
	fake := &fakeOpenAI{turns: turns}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	gen, err := NewLangChainGenerator(LangChainConfig{
		Provider: ProviderOpenAI,
		APIKey:   "test-key",
		BaseURL:  srv.URL,
	})
	require.NoError(t, err)
	return gen, fake
}

func TestLangChainGenerator_ToolCallsStayOutOfText(t *testing.T) {
	gen, fake := newFakeLangChain(t,
		openAIStream(
			chunk(`{"role":"assistant","content":"Let me look."}`, ""),
			chunk(`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"list","arguments":""}}]}`, ""),
			chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":"}}]}`, ""),
			chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"\".\"}"}}]}`, ""),
			chunk(`{}`, "tool_calls"),
		),
		openAIStream(
			chunk(`{"role":"assistant","content":" Done."}`, ""),
			chunk(`{}`, "stop"),
		),
	)
	rec := &recorder{}

	err := gen.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Text: "what is here?"}},
		Tools:    sandbox.Tools(),
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, "Let me look. Done.", rec.text)
	assert.NotContains(t, rec.text, "function")
	assert.Equal(t, []string{"text", "tool:list", "text"}, rec.events)

	require.Len(t, rec.calls, 1)
	assert.Equal(t, "call_1", rec.calls[0].ID)
	assert.JSONEq(t, `{"path":"."}`, string(rec.calls[0].Args))

	require.Len(t, fake.bodies, 2)
	assert.Equal(t, true, fake.bodies[0]["stream"])
	msgs := fake.bodies[1]["messages"].([]any)
	last := msgs[len(msgs)-1].(map[string]any)
	assert.Equal(t, "tool", last["role"])
	assert.Equal(t, "call_1", last["tool_call_id"])
}

func TestLangChainGenerator_StepLimit(t *testing.T) {
	toolStep := openAIStream(
		chunk(`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"list","arguments":"{}"}}]}`, ""),
		chunk(`{}`, "tool_calls"),
	)
	gen, _ := newFakeLangChain(t, toolStep, toolStep)

	err := gen.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Text: "loop"}},
		Tools:    sandbox.Tools(),
		MaxSteps: 2,
	}, &recorder{})
	require.ErrorIs(t, err, ErrStepLimit)
}

func TestIsToolCallChunk(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
		want  bool
	}{
		{"text", "Hello", false},
		{"bracketed text", "[see above]", false},
		{"json array of numbers", "[1,2]", false},
		{"empty array", "[]", false},
		{"tool call delta", `[{"id":"call_1","type":"function","function":{"name":"list","arguments":""}}]`, true},
		{"argument delta", `[{"type":"","function":{"name":"","arguments":"{\"pa"}}]`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isToolCallChunk([]byte(tt.chunk)))
		})
	}
}
