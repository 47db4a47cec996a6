// Package config loads the orchestrator's environment-variable
// configuration, mirroring ChatLLM's os.environ.get reads plus the
// provider/workspace settings the kernel needs beyond the LLM client.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-configurable option recognized by the
// orchestrator and its LLM client.
type Config struct {
	// MaxMessages bounds retained non-system messages in fallback
	// truncation. Default 20.
	MaxMessages int
	// MaxToolContentLength caps a single tool message's character count.
	// Default 50000.
	MaxToolContentLength int
	// EnableContextCompression is the master switch for summary-based
	// context compression. Default false.
	EnableContextCompression bool
	// MaxContextTokens is the hard context-window ceiling. Default 128000.
	MaxContextTokens int
	// CompressionThreshold is the trigger ratio in (0,1]. Default 0.8.
	CompressionThreshold float64
	// KeepInitialTurns is how many leading message groups survive
	// compression verbatim. Default 2.
	KeepInitialTurns int
	// KeepRecentTurns is how many trailing message groups survive
	// compression verbatim. Default 3.
	KeepRecentTurns int
	// LLMTimeoutSeconds is the HTTP read timeout for provider calls.
	// Default 180.
	LLMTimeoutSeconds int
	// WorkspacePath is the filesystem directory tools read/write under.
	// Empty disables workspace-relative path rewriting and the
	// plan.log audit trail.
	WorkspacePath string

	// Provider selects which LLM provider adapter to construct: "openai",
	// "anthropic", or "bedrock". Default "openai".
	Provider string
	// Model is the model identifier passed to the selected provider.
	Model string
	// APIKey authenticates against the selected provider (unused for
	// "bedrock", which relies on the AWS SDK's default credential chain).
	APIKey string
	// BaseURL overrides the provider's default API endpoint. Empty uses
	// the provider SDK's default.
	BaseURL string

	// RedisURL, when set, enables the optional plan-progress Redis stream
	// mirror. Empty disables it.
	RedisURL string
	// RedisStream names the stream RedisStreamMirror writes to.
	RedisStream string
}

// Load reads Config from the process environment, applying the defaults
// named in spec.md §6 / chat_llm.py's ChatLLM.__init__.
func Load() (*Config, error) {
	cfg := &Config{
		MaxMessages:              20,
		MaxToolContentLength:     50000,
		EnableContextCompression: false,
		MaxContextTokens:         128000,
		CompressionThreshold:     0.8,
		KeepInitialTurns:         2,
		KeepRecentTurns:          3,
		LLMTimeoutSeconds:        180,
		WorkspacePath:            os.Getenv("WORKSPACE_PATH"),
		Provider:                 envOr("LLM_PROVIDER", "openai"),
		Model:                    os.Getenv("LLM_MODEL"),
		APIKey:                   os.Getenv("LLM_API_KEY"),
		BaseURL:                  os.Getenv("LLM_BASE_URL"),
		RedisURL:                 os.Getenv("REDIS_URL"),
		RedisStream:              envOr("REDIS_STREAM", "plan_process"),
	}

	var err error
	if cfg.MaxMessages, err = envInt("MAX_MESSAGES", cfg.MaxMessages); err != nil {
		return nil, err
	}
	if cfg.MaxToolContentLength, err = envInt("MAX_TOOL_CONTENT_LENGTH", cfg.MaxToolContentLength); err != nil {
		return nil, err
	}
	if cfg.EnableContextCompression, err = envBool("ENABLE_CONTEXT_COMPRESSION", cfg.EnableContextCompression); err != nil {
		return nil, err
	}
	if cfg.MaxContextTokens, err = envInt("MAX_CONTEXT_TOKENS", cfg.MaxContextTokens); err != nil {
		return nil, err
	}
	if cfg.CompressionThreshold, err = envFloat("COMPRESSION_THRESHOLD", cfg.CompressionThreshold); err != nil {
		return nil, err
	}
	if cfg.KeepInitialTurns, err = envInt("KEEP_INITIAL_TURNS", cfg.KeepInitialTurns); err != nil {
		return nil, err
	}
	if cfg.KeepRecentTurns, err = envInt("KEEP_RECENT_TURNS", cfg.KeepRecentTurns); err != nil {
		return nil, err
	}
	if cfg.LLMTimeoutSeconds, err = envInt("LLM_TIMEOUT", cfg.LLMTimeoutSeconds); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	return f, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("parsing %s=%q: not a recognized boolean", key, v)
	}
}
