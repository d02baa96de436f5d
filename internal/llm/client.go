package llm

import (
	"context"
	"fmt"
)

// Image is an inline image passed to a multimodal model.
type Image struct {
	Data     []byte
	MIMEType string
}

// Client is an abstraction over LLM providers
type Client interface {
	// GenerateContent generates text content using the specified model tier
	GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GenerateJSON generates JSON content using the specified model tier
	GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GenerateContentWithImage generates text from a prompt and one image
	GenerateContentWithImage(ctx context.Context, prompt string, img Image, tier ModelTier) (string, error)
	// GenerateJSONWithImage generates JSON from a prompt and one image
	GenerateJSONWithImage(ctx context.Context, prompt string, img Image, tier ModelTier) (string, error)
	// GetModel returns the underlying provider model for a tier
	GetModel(tier ModelTier) string
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a new LLM client based on configuration
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, config, apiKey)
	case ProviderAnthropic:
		return NewAnthropicClient(config, apiKey)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", config.Provider)
	}
}
