package aichannel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"pkt.systems/pslog"
)

// DefaultModel is used when a chat request names no model.
const DefaultModel = "anthropic/claude-sonnet-4.5"

// ModelInfo describes a model the panel can offer.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	// anthropicID is the native Messages API id, set for models the
	// Anthropic SDK can serve directly.
	anthropicID string
}

var catalog = []ModelInfo{
	{ID: "openai/gpt-5-nano", Name: "GPT-5 Nano", Description: "GPT-5 optimized for speed and cost."},
	{ID: "openai/gpt-5.1-codex", Name: "GPT-5.1 Codex", Description: "GPT-5.1 tuned for agentic coding tasks."},
	{ID: "openai/gpt-5.1-codex-mini", Name: "GPT-5.1 Codex Mini", Description: "A smaller, cheaper GPT-5.1 Codex."},
	{ID: "anthropic/claude-haiku-4.5", Name: "Claude Haiku 4.5", Description: "Fast model for quick responses.", anthropicID: "claude-haiku-4-5"},
	{ID: "anthropic/claude-sonnet-4", Name: "Claude Sonnet 4", Description: "Balanced performance with strong reasoning.", anthropicID: "claude-sonnet-4-0"},
	{ID: "anthropic/claude-sonnet-4.5", Name: "Claude Sonnet 4.5", Description: "Sonnet with improved reasoning and knowledge.", anthropicID: "claude-sonnet-4-5"},
	{ID: "anthropic/claude-3.5-haiku", Name: "Claude 3.5 Haiku", Description: "Fast and efficient.", anthropicID: "claude-3-5-haiku-latest"},
	{ID: "google/gemini-3-pro-preview", Name: "Gemini 3 Pro Preview", Description: "Gemini 3 Pro preview."},
	{ID: "zai/glm-4.6", Name: "GLM 4.6", Description: "Multilingual model with strong Chinese support."},
	{ID: "minimax/minimax-m2", Name: "Minimax M2", Description: "Compact MoE model built for agents."},
}

// Catalog returns the models offered to the panel.
func Catalog() []ModelInfo {
	out := make([]ModelInfo, len(catalog))
	copy(out, catalog)
	return out
}

// LookupModel finds a catalog entry by id.
func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// Factory builds a generator for a single model id.
type Factory func(model string) (Generator, error)

// Router is a Generator that picks a provider per request from the model id.
// Anthropic models go straight to the Anthropic API when a key is present;
// everything else goes through OpenRouter. Generators are built lazily and
// reused.
type Router struct {
	DefaultModel string

	anthropic       Factory
	openRouter      Factory
	hasAnthropicKey func() bool

	mu    sync.Mutex
	cache map[string]Generator
}

// NewRouter returns a Router backed by the real providers.
func NewRouter(defaultModel string) *Router {
	return &Router{
		DefaultModel: defaultModel,
		anthropic: func(model string) (Generator, error) {
			return NewAnthropicGenerator(ProviderConfig{Model: model})
		},
		openRouter: func(model string) (Generator, error) {
			return NewLangChainGenerator(LangChainConfig{Provider: ProviderOpenRouter, Model: model})
		},
		hasAnthropicKey: func() bool { return IsProviderConfigured(ProviderAnthropic) },
		cache:           make(map[string]Generator),
	}
}

// NewRouterWithFactories returns a Router using the given factories. A nil
// anthropic factory routes everything to openRouter.
func NewRouterWithFactories(defaultModel string, anthropic, openRouter Factory) *Router {
	return &Router{
		DefaultModel:    defaultModel,
		anthropic:       anthropic,
		openRouter:      openRouter,
		hasAnthropicKey: func() bool { return anthropic != nil },
		cache:           make(map[string]Generator),
	}
}

// Generate implements Generator.
func (r *Router) Generate(ctx context.Context, req Request, h Handler) error {
	if req.Model == "" {
		req.Model = r.DefaultModel
	}
	if req.Model == "" {
		req.Model = DefaultModel
	}
	gen, err := r.generator(req.Model)
	if err != nil {
		return err
	}
	pslog.Ctx(ctx).Debug("routing turn", "model", req.Model)
	return gen.Generate(ctx, req, h)
}

func (r *Router) generator(model string) (Generator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.cache[model]; ok {
		return g, nil
	}

	var (
		g   Generator
		err error
	)
	if native := anthropicModelID(model); native != "" && r.anthropic != nil && r.hasAnthropicKey() {
		g, err = r.anthropic(native)
	} else {
		if r.openRouter == nil {
			return nil, fmt.Errorf("%w: no provider for model %q", ErrNoAPIKey, model)
		}
		g, err = r.openRouter(model)
	}
	if err != nil {
		return nil, err
	}
	r.cache[model] = g
	return g, nil
}

// anthropicModelID maps a catalog id like "anthropic/claude-sonnet-4.5" to
// the native API id. Unknown anthropic ids have their dots turned into
// dashes. Non-anthropic ids return "".
func anthropicModelID(model string) string {
	if m, ok := LookupModel(model); ok {
		return m.anthropicID
	}
	name, ok := strings.CutPrefix(model, "anthropic/")
	if !ok || name == "" {
		return ""
	}
	return strings.ReplaceAll(name, ".", "-")
}

// IsConfigError reports whether err means no provider could be set up.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNoAPIKey)
}
