package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coactrun/coact/internal/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.MaxMessages)
	assert.Equal(t, 50000, cfg.MaxToolContentLength)
	assert.False(t, cfg.EnableContextCompression)
	assert.Equal(t, 128000, cfg.MaxContextTokens)
	assert.Equal(t, 0.8, cfg.CompressionThreshold)
	assert.Equal(t, 2, cfg.KeepInitialTurns)
	assert.Equal(t, 3, cfg.KeepRecentTurns)
	assert.Equal(t, 180, cfg.LLMTimeoutSeconds)
	assert.Equal(t, "openai", cfg.Provider)
}

func TestLoadReadsOverridesFromEnvironment(t *testing.T) {
	t.Setenv("MAX_MESSAGES", "42")
	t.Setenv("ENABLE_CONTEXT_COMPRESSION", "true")
	t.Setenv("COMPRESSION_THRESHOLD", "0.5")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("WORKSPACE_PATH", "/tmp/ws")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.MaxMessages)
	assert.True(t, cfg.EnableContextCompression)
	assert.Equal(t, 0.5, cfg.CompressionThreshold)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "/tmp/ws", cfg.WorkspacePath)
}

func TestLoadRejectsInvalidInt(t *testing.T) {
	t.Setenv("MAX_MESSAGES", "not-a-number")
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidBool(t *testing.T) {
	t.Setenv("ENABLE_CONTEXT_COMPRESSION", "maybe")
	_, err := config.Load()
	require.Error(t, err)
}
