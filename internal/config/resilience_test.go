package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinic-backend/internal/resilience/circuitbreaker"
	"clinic-backend/internal/resilience/retry"
)

func clearResilienceEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RESILIENCE_CB_FAILURE_THRESHOLD",
		"RESILIENCE_CB_RESET_TIMEOUT",
		"RESILIENCE_RETRYABLE_ERRORS",
		"RESILIENCE_RETRYABLE_STATUS_CODES",
		"RESILIENCE_POLICY_FILE",
	} {
		t.Setenv(key, "")
	}
}

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadResilienceConfig_Defaults(t *testing.T) {
	clearResilienceEnvVars(t)

	config, err := LoadResilienceConfig()
	require.NoError(t, err)

	assert.Equal(t, circuitbreaker.DefaultConfig(), config.DefaultBreaker)
	assert.Equal(t, retry.ChatCompletionPolicy().MaxRetries, config.Policies[OperationOpenAIChat].MaxRetries)
	assert.Equal(t, retry.TranscriptionPolicy().BaseDelay, config.Policies[OperationOpenAITranscribe].BaseDelay)
	assert.Equal(t, retry.DatabasePolicy().MaxDelay, config.Policies[OperationDatabase].MaxDelay)
	assert.Equal(t, circuitbreaker.TranscriptionConfig(), config.Breakers[OperationOpenAITranscribe])
	assert.Empty(t, config.PolicyFile)
}

func TestLoadResilienceConfig_EnvOverrides(t *testing.T) {
	clearResilienceEnvVars(t)
	t.Setenv("RESILIENCE_CB_FAILURE_THRESHOLD", "8")
	t.Setenv("RESILIENCE_CB_RESET_TIMEOUT", "45s")
	t.Setenv("RESILIENCE_RETRYABLE_ERRORS", "ECONNRESET,UNAVAILABLE")
	t.Setenv("RESILIENCE_RETRYABLE_STATUS_CODES", "503")

	config, err := LoadResilienceConfig()
	require.NoError(t, err)

	assert.Equal(t, uint32(8), config.DefaultBreaker.FailureThreshold)
	assert.Equal(t, 45*time.Second, config.DefaultBreaker.ResetTimeout)
	assert.Equal(t, []string{"ECONNRESET", "UNAVAILABLE"}, config.Policies[OperationAnthropicChat].RetryableErrors)
	assert.Equal(t, []int{503}, config.Policies[OperationOpenAIChat].RetryableStatusCodes)
	assert.Nil(t, config.Policies[OperationDatabase].RetryableStatusCodes,
		"database policy has no status codes to override")
}

func TestLoadResilienceConfig_InvalidThreshold(t *testing.T) {
	clearResilienceEnvVars(t)
	t.Setenv("RESILIENCE_CB_FAILURE_THRESHOLD", "0")

	_, err := LoadResilienceConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESILIENCE_CB_FAILURE_THRESHOLD")
}

func TestLoadResilienceConfig_PolicyFile(t *testing.T) {
	clearResilienceEnvVars(t)
	t.Setenv("RESILIENCE_POLICY_FILE", writePolicyFile(t, `
operations:
  openai.chat:
    max_retries: 4
    max_delay: 45s
    breaker:
      reset_timeout: 5m
  appointments.sync:
    max_retries: 1
    base_delay: 250ms
    breaker:
      failure_threshold: 2
`))

	config, err := LoadResilienceConfig()
	require.NoError(t, err)

	chat := config.Policies[OperationOpenAIChat]
	assert.Equal(t, 4, chat.MaxRetries)
	assert.Equal(t, 45*time.Second, chat.MaxDelay)
	assert.Equal(t, retry.ChatCompletionPolicy().BaseDelay, chat.BaseDelay, "absent fields keep the preset")
	assert.Equal(t, 5*time.Minute, config.Breakers[OperationOpenAIChat].ResetTimeout)
	assert.Equal(t, circuitbreaker.ChatCompletionConfig().FailureThreshold, config.Breakers[OperationOpenAIChat].FailureThreshold)

	apptSync := config.Policies["appointments.sync"]
	assert.Equal(t, 1, apptSync.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, apptSync.BaseDelay)
	assert.Equal(t, retry.DefaultPolicy().MaxDelay, apptSync.MaxDelay)
	assert.Equal(t, uint32(2), config.Breakers["appointments.sync"].FailureThreshold)
	assert.Equal(t, config.DefaultBreaker.ResetTimeout, config.Breakers["appointments.sync"].ResetTimeout)
}

func TestLoadResilienceConfig_PolicyFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown key",
			content: "operations:\n  openai.chat:\n    retries: 3\n",
			wantErr: "failed to parse policy file",
		},
		{
			name:    "invalid policy",
			content: "operations:\n  openai.chat:\n    multiplier: 0.5\n",
			wantErr: `policy "openai.chat"`,
		},
		{
			name:    "invalid breaker",
			content: "operations:\n  database:\n    breaker:\n      failure_threshold: 0\n",
			wantErr: `breaker "database"`,
		},
		{
			name:    "delay out of range",
			content: "operations:\n  openai.chat:\n    max_delay: 30h\n",
			wantErr: `policy "openai.chat": max delay: duration 30h0m0s out of range`,
		},
		{
			name:    "delay below minimum",
			content: "operations:\n  database:\n    base_delay: 100us\n",
			wantErr: `policy "database": base delay: duration 100µs out of range`,
		},
		{
			name:    "reset timeout out of range",
			content: "operations:\n  anthropic.chat:\n    breaker:\n      reset_timeout: 48h\n",
			wantErr: `breaker "anthropic.chat": reset timeout: duration 48h0m0s out of range`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearResilienceEnvVars(t)
			t.Setenv("RESILIENCE_POLICY_FILE", writePolicyFile(t, tt.content))

			_, err := LoadResilienceConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadResilienceConfig_ResetTimeoutFromEnvIsBounded(t *testing.T) {
	clearResilienceEnvVars(t)
	t.Setenv("RESILIENCE_CB_RESET_TIMEOUT", "2h")

	_, err := LoadResilienceConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default breaker: reset timeout")
}

func TestLoadPolicyFile_Missing(t *testing.T) {
	_, err := LoadPolicyFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read policy file")
}

func TestLoadPolicyFile_Empty(t *testing.T) {
	file, err := LoadPolicyFile(writePolicyFile(t, ""))
	require.NoError(t, err)
	assert.Empty(t, file.Operations)
}
