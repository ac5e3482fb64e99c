package aichannel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"pkt.systems/pslog"
)

// Default Anthropic model.
const AnthropicModelSonnet = "claude-sonnet-4-5"

// AnthropicGenerator streams turns from the Anthropic Messages API and runs
// the tool-use loop itself.
type AnthropicGenerator struct {
	client anthropic.Client
	config ProviderConfig
}

// ProviderConfig holds common configuration for API-based providers.
type ProviderConfig struct {
	// APIKey overrides environment lookup.
	APIKey string
	// Model is the provider's own model id, e.g. "claude-sonnet-4-5".
	Model string
	// BaseURL overrides the default API endpoint (for proxies/self-hosted)
	BaseURL string
}

// NewAnthropicGenerator creates a generator. If config.APIKey is empty the
// ANTHROPIC_API_KEY and CLAUDE_KEY environment variables are tried.
func NewAnthropicGenerator(config ProviderConfig) (*AnthropicGenerator, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = GetAPIKeyForProvider(ProviderAnthropic)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY", ErrNoAPIKey)
	}
	if config.Model == "" {
		config.Model = AnthropicModelSonnet
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &AnthropicGenerator{
		client: anthropic.NewClient(opts...),
		config: config,
	}, nil
}

// Model returns the configured model id.
func (g *AnthropicGenerator) Model() string { return g.config.Model }

// Generate runs the turn. Each step streams one assistant message; any
// tool_use blocks are executed through h and their results sent back until
// the model stops asking for tools.
func (g *AnthropicGenerator) Generate(ctx context.Context, req Request, h Handler) error {
	system, messages := anthropicHistory(req)
	if len(messages) == 0 {
		return fmt.Errorf("%w: no user message", ErrProviderError)
	}
	tools := anthropicTools(req)
	log := pslog.Ctx(ctx).With("provider", "anthropic", "model", g.config.Model)

	for step := 0; step < maxSteps(req); step++ {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(g.config.Model),
			MaxTokens: int64(maxTokens(req)),
			Messages:  messages,
			Tools:     tools,
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}
		if req.ThinkingBudget > 0 {
			params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
		} else {
			params.Temperature = anthropic.Float(req.Temperature)
		}

		message, err := g.stream(ctx, params, h)
		if err != nil {
			return err
		}
		messages = append(messages, message.ToParam())

		var results []anthropic.ContentBlockParamUnion
		for _, block := range message.Content {
			use, ok := block.AsAny().(anthropic.ToolUseBlock)
			if !ok {
				continue
			}
			res := h.ToolCall(ctx, ToolCall{ID: use.ID, Name: use.Name, Args: json.RawMessage(use.Input)})
			if err := ctx.Err(); err != nil {
				return err
			}
			results = append(results, anthropic.NewToolResultBlock(use.ID, res.Content(), res.Err != nil))
		}
		if len(results) == 0 {
			log.Debug("anthropic turn complete", "steps", step+1, "stop_reason", message.StopReason)
			return nil
		}
		messages = append(messages, anthropic.NewUserMessage(results...))
	}
	return ErrStepLimit
}

func (g *AnthropicGenerator) stream(ctx context.Context, params anthropic.MessageNewParams, h Handler) (*anthropic.Message, error) {
	stream := g.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
		}
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			switch d := delta.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				h.Text(d.Text)
			case anthropic.ThinkingDelta:
				h.Reasoning(d.Thinking)
			}
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	return &message, nil
}

// anthropicHistory folds system messages into the system prompt and maps
// the rest to alternating user/assistant params.
func anthropicHistory(req Request) (string, []anthropic.MessageParam) {
	system := []string{}
	if req.System != "" {
		system = append(system, req.System)
	}
	var out []anthropic.MessageParam
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Text)
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		}
	}
	return strings.Join(system, "\n\n"), out
}

func anthropicTools(req Request) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
	for _, spec := range req.Tools {
		var required []string
		if r, ok := spec.Schema["required"].([]string); ok {
			required = r
		}
		tool := anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: spec.Schema["properties"],
				Required:   required,
			},
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return tools
}
