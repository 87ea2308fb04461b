package llm

import (
	"context"
	"fmt"

	"screentest-backend/internal/config"
)

// NewProvider builds the provider selected by model.provider.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.Model.Provider {
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI, cfg.Log.Level == "debug")
	case "doubao":
		return NewDoubaoProvider(ctx, cfg.Doubao)
	case "qwen":
		return NewQwenProvider(ctx, cfg.Qwen, cfg.Generation.MaxTokens, cfg.Generation.Temperature)
	case "gemini":
		return NewGeminiProvider(ctx, cfg.Gemini)
	case "vertex":
		return NewVertexProvider(ctx, cfg.Vertex, cfg.GCS.CredentialsFile)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Model.Provider)
	}
}

// NewClientFromConfig builds the configured provider wrapped in the retry policy.
func NewClientFromConfig(ctx context.Context, cfg *config.Config) (*Client, error) {
	provider, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(provider, RetryConfig{
		MaxAttempts: cfg.Generation.MaxAttempts,
		BaseDelay:   cfg.Generation.RetryBaseDelay,
		MaxDelay:    cfg.Generation.RetryMaxDelay,
	}), nil
}
