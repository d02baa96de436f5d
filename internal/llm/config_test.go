package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFor(t *testing.T) {
	gemini := ConfigFor("gemini")
	assert.Equal(t, ProviderGemini, gemini.Provider)
	assert.Equal(t, "gemini-2.5-flash-lite", gemini.GetModel(TierLite))
	assert.Equal(t, "gemini-2.5-flash", gemini.GetModel(TierStandard))

	anthropic := ConfigFor("anthropic")
	assert.Equal(t, ProviderAnthropic, anthropic.Provider)
	assert.NotEmpty(t, anthropic.GetModel(TierStandard))

	assert.Equal(t, ProviderGemini, ConfigFor("something-else").Provider)
}

func TestGetModel_Fallback(t *testing.T) {
	config := &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite: "fallback-model",
		},
	}

	// Unknown tier falls back to TierStandard, then TierLite
	assert.Equal(t, "fallback-model", config.GetModel("unknown"))
	assert.Equal(t, "", (&Config{Models: map[ModelTier]string{}}).GetModel(TierAdvanced))
}

func TestWithModel_CopiesSettings(t *testing.T) {
	config := DefaultConfig()
	newConfig := config.WithModel(TierAdvanced, "custom-model")

	assert.Equal(t, "gemini-2.5-pro", config.GetModel(TierAdvanced))
	assert.Equal(t, "custom-model", newConfig.GetModel(TierAdvanced))
	assert.Equal(t, "gemini-2.5-flash-lite", newConfig.GetModel(TierLite))
	assert.Equal(t, config.Temperature, newConfig.Temperature)
	assert.Equal(t, config.MaxTokens, newConfig.MaxTokens)
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(context.Background(), DefaultAnthropicConfig(), "")
	require.Error(t, err)

	_, err = NewClient(context.Background(), &Config{Provider: "openai"}, "key")
	assert.ErrorContains(t, err, "unsupported")
}

func TestNewClient_Anthropic(t *testing.T) {
	client, err := NewClient(context.Background(), DefaultAnthropicConfig(), "test-key")
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	assert.Equal(t, "claude-sonnet-4-0", client.GetModel(TierStandard))
}
