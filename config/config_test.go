package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequiresCredentials(t *testing.T) {
	c := &Config{BaseURL: "https://openrouter.ai/api/v1", ChatModel: "openai/gpt-4o-mini"}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")

	c.APIKey = "sk-test"
	assert.NoError(t, c.Validate())
}

func TestHasValidAPI(t *testing.T) {
	assert.False(t, (&Config{}).HasValidAPI())
	assert.False(t, (&Config{APIKey: "k"}).HasValidAPI())
	assert.True(t, (&Config{APIKey: "k", BaseURL: "u"}).HasValidAPI())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("API_KEY", "sk-env")
	t.Setenv("CHAT_MODEL", "openai/gpt-4o")
	t.Setenv("ASR", "mock")
	t.Setenv("PORT", "9999")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.APIKey)
	assert.Equal(t, "openai/gpt-4o", cfg.ChatModel)
	assert.Equal(t, "mock", cfg.ASRProvider)
	assert.Equal(t, "9999", cfg.Port)
	// Defaults survive where nothing overrides them.
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.BaseURL)
}

func TestLoadIsCached(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("API_KEY", "first")
	a, err := Load()
	require.NoError(t, err)

	t.Setenv("API_KEY", "second")
	b, err := Load()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "first", b.APIKey)
}
