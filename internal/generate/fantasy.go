package generate

import (
	"context"
	"fmt"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/openai"
	"charm.land/fantasy/providers/openrouter"
)

// Provider names accepted by NewProvider.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
)

// ProviderConfig selects and authenticates a Fantasy provider.
type ProviderConfig struct {
	// Name is one of openai, anthropic or openrouter.
	Name string

	// APIKey authenticates against the provider.
	APIKey string

	// BaseURL overrides the provider endpoint. Ignored by openrouter.
	BaseURL string
}

// NewProvider builds the Fantasy provider named in cfg.
func NewProvider(cfg ProviderConfig) (fantasy.Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is required", cfg.Name)
	}

	switch cfg.Name {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)

	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...)

	case ProviderOpenRouter:
		return openrouter.New(openrouter.WithAPIKey(cfg.APIKey))

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// FantasyGenerator implements Generator on top of a Fantasy provider.
type FantasyGenerator struct {
	provider  fantasy.Provider
	model     string
	maxTokens int64
}

// FantasyConfig configures a FantasyGenerator.
type FantasyConfig struct {
	// Provider is the Fantasy provider to use.
	Provider fantasy.Provider

	// Model is the provider model ID.
	Model string

	// MaxTokens caps the reply length. Zero uses 1000.
	MaxTokens int
}

// NewFantasyGenerator creates a generator backed by cfg.Provider.
func NewFantasyGenerator(cfg FantasyConfig) (*FantasyGenerator, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1000
	}

	return &FantasyGenerator{
		provider:  cfg.Provider,
		model:     cfg.Model,
		maxTokens: int64(maxTokens),
	}, nil
}

// Generate implements Generator.
func (g *FantasyGenerator) Generate(ctx context.Context, messages []Message, temperature float64) (string, error) {
	lm, err := g.provider.LanguageModel(ctx, g.model)
	if err != nil {
		return "", fmt.Errorf("get language model: %w", err)
	}

	maxTokens := g.maxTokens
	call := fantasy.Call{
		Prompt:          toPrompt(messages),
		MaxOutputTokens: &maxTokens,
		Temperature:     &temperature,
	}

	resp, err := lm.Generate(ctx, call)
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", g.model, err)
	}

	text := resp.Content.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from %s", g.model)
	}
	return text, nil
}

// Model returns the configured model name.
func (g *FantasyGenerator) Model() string {
	return g.model
}

func toPrompt(messages []Message) fantasy.Prompt {
	prompt := make(fantasy.Prompt, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			prompt = append(prompt, fantasy.NewSystemMessage(m.Content))
		case RoleAssistant:
			prompt = append(prompt, fantasy.Message{
				Role:    fantasy.MessageRoleAssistant,
				Content: []fantasy.MessagePart{fantasy.TextPart{Text: m.Content}},
			})
		default:
			prompt = append(prompt, fantasy.NewUserMessage(m.Content))
		}
	}
	return prompt
}
