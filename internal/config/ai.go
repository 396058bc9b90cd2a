package config

import (
	"fmt"
	"time"

	pkgconfig "clinic-backend/pkg/config"
)

// ProviderConfig holds the settings for one AI provider.
type ProviderConfig struct {
	// APIKey authenticates against the provider. An empty key disables the provider.
	APIKey string

	// BaseURL overrides the provider endpoint (proxies, tests). Empty means the SDK default.
	BaseURL string

	// Model is the chat model identifier.
	Model string

	// TranscriptionModel is the speech-to-text model. OpenAI only.
	TranscriptionModel string

	// MaxTokens caps the response length. Default: 1024
	MaxTokens int

	// Timeout bounds a single attempt, not the whole retried call.
	Timeout time.Duration

	// RequestsPerSecond paces outgoing attempts client-side. 0 disables pacing.
	RequestsPerSecond float64

	// Burst is the token bucket size used with RequestsPerSecond.
	Burst int
}

// Enabled reports whether the provider has credentials.
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// Validate checks configuration correctness. prefix names the env variables in errors.
func (p ProviderConfig) Validate(prefix string) error {
	if p.Model == "" {
		return fmt.Errorf("%s_MODEL cannot be empty", prefix)
	}
	if p.MaxTokens <= 0 {
		return fmt.Errorf("%s_MAX_TOKENS must be positive, got %d", prefix, p.MaxTokens)
	}
	if err := pkgconfig.ValidatePositiveDuration(p.Timeout); err != nil {
		return fmt.Errorf("%s_TIMEOUT: %w", prefix, err)
	}
	if p.RequestsPerSecond < 0 {
		return fmt.Errorf("%s_RPS must not be negative, got %v", prefix, p.RequestsPerSecond)
	}
	if p.RequestsPerSecond > 0 && p.Burst <= 0 {
		return fmt.Errorf("%s_BURST must be positive when %s_RPS is set", prefix, prefix)
	}
	return nil
}

// AIConfig holds configuration for the chat completion and transcription providers.
type AIConfig struct {
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
}

// LoadAIConfig loads AI provider configuration from environment variables.
// Returns a config with defaults if environment variables are not set.
//
// Environment variables (PROVIDER is OPENAI or ANTHROPIC):
//   - PROVIDER_API_KEY, PROVIDER_BASE_URL, PROVIDER_MODEL
//   - PROVIDER_MAX_TOKENS (default: 1024)
//   - PROVIDER_TIMEOUT (default: 60s)
//   - PROVIDER_RPS, PROVIDER_BURST (default: 5, 5)
//   - OPENAI_TRANSCRIPTION_MODEL (default: whisper-1)
func LoadAIConfig() (*AIConfig, error) {
	config := &AIConfig{
		OpenAI:    loadProvider("OPENAI", "gpt-4o-mini"),
		Anthropic: loadProvider("ANTHROPIC", "claude-sonnet-4-5"),
	}
	config.OpenAI.TranscriptionModel = pkgconfig.GetEnvString("OPENAI_TRANSCRIPTION_MODEL", "whisper-1")

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}
	return config, nil
}

// Validate checks configuration correctness.
func (c *AIConfig) Validate() error {
	if err := c.OpenAI.Validate("OPENAI"); err != nil {
		return err
	}
	if c.OpenAI.TranscriptionModel == "" {
		return fmt.Errorf("OPENAI_TRANSCRIPTION_MODEL cannot be empty")
	}
	return c.Anthropic.Validate("ANTHROPIC")
}

func loadProvider(prefix, defaultModel string) ProviderConfig {
	return ProviderConfig{
		APIKey:            pkgconfig.GetEnvString(prefix+"_API_KEY", ""),
		BaseURL:           pkgconfig.GetEnvString(prefix+"_BASE_URL", ""),
		Model:             pkgconfig.GetEnvString(prefix+"_MODEL", defaultModel),
		MaxTokens:         pkgconfig.GetEnvInt(prefix+"_MAX_TOKENS", 1024),
		Timeout:           pkgconfig.GetEnvDuration(prefix+"_TIMEOUT", 60*time.Second),
		RequestsPerSecond: pkgconfig.GetEnvFloat(prefix+"_RPS", 5),
		Burst:             pkgconfig.GetEnvInt(prefix+"_BURST", 5),
	}
}
