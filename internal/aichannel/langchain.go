package aichannel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"pkt.systems/pslog"
)

// LLMProvider represents a supported LLM provider type.
type LLMProvider string

const (
	ProviderOpenAI     LLMProvider = "openai"
	ProviderAnthropic  LLMProvider = "anthropic"
	ProviderOpenRouter LLMProvider = "openrouter"
	ProviderDeepSeek   LLMProvider = "deepseek"
)

// ProviderInfo contains configuration for a provider.
type ProviderInfo struct {
	// EnvKeys are environment variable names to check for API key (in order)
	EnvKeys []string
	// BaseURL for OpenAI-compatible providers
	BaseURL string
	// DefaultModel is the default model to use
	DefaultModel string
	// IsOpenAICompatible indicates if this uses the OpenAI API format
	IsOpenAICompatible bool
}

// providerRegistry maps providers to their configuration.
var providerRegistry = map[LLMProvider]ProviderInfo{
	ProviderOpenAI: {
		EnvKeys:            []string{"OPENAI_KEY", "OPENAI_API_KEY"},
		DefaultModel:       "gpt-5-nano",
		IsOpenAICompatible: true,
	},
	ProviderAnthropic: {
		EnvKeys:      []string{"ANTHROPIC_API_KEY", "CLAUDE_KEY"},
		DefaultModel: AnthropicModelSonnet,
	},
	ProviderOpenRouter: {
		EnvKeys:            []string{"OPENROUTER_API_KEY", "OPEN_ROUTER_KEY"},
		BaseURL:            "https://openrouter.ai/api/v1",
		DefaultModel:       "openai/gpt-5-nano",
		IsOpenAICompatible: true,
	},
	ProviderDeepSeek: {
		EnvKeys:            []string{"DEEPSEEK_API_KEY", "DEEP_SEEK_KEY"},
		BaseURL:            "https://api.deepseek.com/v1",
		DefaultModel:       "deepseek-chat",
		IsOpenAICompatible: true,
	},
}

// LangChainGenerator streams turns from any OpenAI-compatible endpoint
// through langchaingo.
type LangChainGenerator struct {
	llm      llms.Model
	provider LLMProvider
	model    string
}

// LangChainConfig configures a LangChain generator.
type LangChainConfig struct {
	// Provider is the LLM provider to use
	Provider LLMProvider
	// APIKey overrides environment variable lookup
	APIKey string
	// Model overrides the default model
	Model string
	// BaseURL overrides the registry endpoint
	BaseURL string
}

// NewLangChainGenerator creates a generator for an OpenAI-compatible
// provider.
func NewLangChainGenerator(config LangChainConfig) (*LangChainGenerator, error) {
	info, ok := providerRegistry[config.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", config.Provider)
	}
	if !info.IsOpenAICompatible {
		return nil, fmt.Errorf("provider %s is not OpenAI-compatible", config.Provider)
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = GetAPIKeyForProvider(config.Provider)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: no API key found for %s (tried: %v)", ErrNoAPIKey, config.Provider, info.EnvKeys)
	}

	model := config.Model
	if model == "" {
		model = info.DefaultModel
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = info.BaseURL
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s LLM: %w", config.Provider, err)
	}
	return &LangChainGenerator{llm: llm, provider: config.Provider, model: model}, nil
}

// Name returns the provider name.
func (g *LangChainGenerator) Name() string { return string(g.provider) }

// Model returns the configured model name.
func (g *LangChainGenerator) Model() string { return g.model }

// Generate runs the turn, streaming text through h and looping while the
// model requests tools.
func (g *LangChainGenerator) Generate(ctx context.Context, req Request, h Handler) error {
	messages := langchainHistory(req)
	if len(messages) == 0 {
		return fmt.Errorf("%w: no user message", ErrProviderError)
	}
	tools := langchainTools(req)
	log := pslog.Ctx(ctx).With("provider", g.provider, "model", g.model)

	for step := 0; step < maxSteps(req); step++ {
		opts := []llms.CallOption{
			llms.WithMaxTokens(maxTokens(req)),
			llms.WithTemperature(req.Temperature),
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				if len(chunk) > 0 && !isToolCallChunk(chunk) {
					h.Text(string(chunk))
				}
				return nil
			}),
		}
		if len(tools) > 0 {
			opts = append(opts, llms.WithTools(tools))
		}

		resp, err := g.llm.GenerateContent(ctx, messages, opts...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrProviderError, err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("%w: no response choices", ErrProviderError)
		}
		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 {
			log.Debug("langchain turn complete", "steps", step+1, "stop_reason", choice.StopReason)
			return nil
		}

		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if choice.Content != "" {
			assistant.Parts = append(assistant.Parts, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, tc)
		}
		messages = append(messages, assistant)

		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			args := json.RawMessage(tc.FunctionCall.Arguments)
			res := h.ToolCall(ctx, ToolCall{ID: tc.ID, Name: tc.FunctionCall.Name, Args: args})
			if err := ctx.Err(); err != nil {
				return err
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    res.Content(),
				}},
			})
		}
	}
	return ErrStepLimit
}

// isToolCallChunk reports whether a streamed chunk is the client's JSON
// rendering of tool-call deltas rather than assistant text. The openai
// client hands both to the same streaming func.
func isToolCallChunk(chunk []byte) bool {
	trimmed := bytes.TrimSpace(chunk)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return false
	}
	var calls []map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &calls); err != nil || len(calls) == 0 {
		return false
	}
	for _, c := range calls {
		if _, ok := c["function"]; !ok {
			return false
		}
	}
	return true
}

func langchainHistory(req Request) []llms.MessageContent {
	var out []llms.MessageContent
	if req.System != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	hasUser := false
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		switch m.Role {
		case RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Text))
		case RoleAssistant:
			out = append(out, llms.TextParts(llms.ChatMessageTypeAI, m.Text))
		default:
			hasUser = true
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Text))
		}
	}
	if !hasUser {
		return nil
	}
	return out
}

func langchainTools(req Request) []llms.Tool {
	tools := make([]llms.Tool, 0, len(req.Tools))
	for _, spec := range req.Tools {
		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Schema,
			},
		})
	}
	return tools
}

// GetAPIKeyForProvider returns the API key for a provider from environment variables.
func GetAPIKeyForProvider(provider LLMProvider) string {
	info, ok := providerRegistry[provider]
	if !ok {
		return ""
	}
	for _, envKey := range info.EnvKeys {
		if key := os.Getenv(envKey); key != "" {
			return key
		}
	}
	return ""
}

// IsProviderConfigured checks if a provider has an API key available.
func IsProviderConfigured(provider LLMProvider) bool {
	return GetAPIKeyForProvider(provider) != ""
}
