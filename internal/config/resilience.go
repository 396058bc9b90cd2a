package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"clinic-backend/internal/resilience"
	"clinic-backend/internal/resilience/circuitbreaker"
	"clinic-backend/internal/resilience/retry"
	pkgconfig "clinic-backend/pkg/config"
)

// Operation names with built-in presets.
const (
	OperationOpenAIChat       = "openai.chat"
	OperationOpenAITranscribe = "openai.transcribe"
	OperationAnthropicChat    = "anthropic.chat"
	OperationDatabase         = resilience.DatabaseOperation
)

// ResilienceConfig holds the retry policies and breaker configs the executor
// starts with. It is loaded once at startup and never reloaded.
type ResilienceConfig struct {
	// DefaultBreaker is used for operations without an entry in Breakers.
	DefaultBreaker circuitbreaker.Config

	// Policies and Breakers are keyed by operation name.
	Policies map[string]retry.Policy
	Breakers map[string]circuitbreaker.Config

	// PolicyFile is the YAML file the overrides were read from, if any.
	PolicyFile string
}

// DefaultOperationPolicies returns the built-in retry policy per operation.
func DefaultOperationPolicies() map[string]retry.Policy {
	return map[string]retry.Policy{
		OperationOpenAIChat:       retry.ChatCompletionPolicy(),
		OperationAnthropicChat:    retry.ChatCompletionPolicy(),
		OperationOpenAITranscribe: retry.TranscriptionPolicy(),
		OperationDatabase:         retry.DatabasePolicy(),
	}
}

// DefaultOperationBreakers returns the built-in breaker config per operation.
func DefaultOperationBreakers() map[string]circuitbreaker.Config {
	return map[string]circuitbreaker.Config{
		OperationOpenAIChat:       circuitbreaker.ChatCompletionConfig(),
		OperationAnthropicChat:    circuitbreaker.ChatCompletionConfig(),
		OperationOpenAITranscribe: circuitbreaker.TranscriptionConfig(),
		OperationDatabase:         circuitbreaker.DatabaseConfig(),
	}
}

// LoadResilienceConfig loads resilience configuration from environment variables
// and, if RESILIENCE_POLICY_FILE is set, from a YAML policy file.
//
// Environment variables:
//   - RESILIENCE_CB_FAILURE_THRESHOLD: default breaker threshold (default: 5)
//   - RESILIENCE_CB_RESET_TIMEOUT: default breaker reset timeout (default: 60s)
//   - RESILIENCE_RETRYABLE_ERRORS: transport codes retried by every policy
//   - RESILIENCE_RETRYABLE_STATUS_CODES: statuses retried by every HTTP policy
//   - RESILIENCE_POLICY_FILE: YAML overrides per operation
func LoadResilienceConfig() (*ResilienceConfig, error) {
	threshold := pkgconfig.GetEnvInt("RESILIENCE_CB_FAILURE_THRESHOLD", 5)
	if threshold <= 0 {
		return nil, fmt.Errorf("RESILIENCE_CB_FAILURE_THRESHOLD must be positive, got %d", threshold)
	}

	config := &ResilienceConfig{
		DefaultBreaker: circuitbreaker.Config{
			FailureThreshold: uint32(threshold), // #nosec G115 -- checked positive above
			ResetTimeout:     pkgconfig.GetEnvDuration("RESILIENCE_CB_RESET_TIMEOUT", 60*time.Second),
		},
		Policies:   DefaultOperationPolicies(),
		Breakers:   DefaultOperationBreakers(),
		PolicyFile: pkgconfig.GetEnvString("RESILIENCE_POLICY_FILE", ""),
	}

	errorCodes := pkgconfig.GetEnvStringList("RESILIENCE_RETRYABLE_ERRORS", nil)
	statusCodes := pkgconfig.GetEnvIntList("RESILIENCE_RETRYABLE_STATUS_CODES", nil)
	for name, p := range config.Policies {
		if errorCodes != nil {
			p.RetryableErrors = errorCodes
		}
		if statusCodes != nil && p.RetryableStatusCodes != nil {
			p.RetryableStatusCodes = statusCodes
		}
		config.Policies[name] = p
	}

	if config.PolicyFile != "" {
		file, err := LoadPolicyFile(config.PolicyFile)
		if err != nil {
			return nil, err
		}
		config.Apply(file)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resilience configuration: %w", err)
	}
	return config, nil
}

// Validate checks every policy and breaker config.
// Bounds on configured durations. A misplaced unit in a policy file (say 30h
// for 30s) would otherwise park callers or hold a breaker open indefinitely.
const (
	minPolicyDelay  = time.Millisecond
	maxPolicyDelay  = 10 * time.Minute
	minResetTimeout = time.Second
	maxResetTimeout = time.Hour
)

func (c *ResilienceConfig) Validate() error {
	if err := validateBreaker(c.DefaultBreaker); err != nil {
		return fmt.Errorf("default breaker: %w", err)
	}
	for _, name := range slices.Sorted(maps.Keys(c.Policies)) {
		if err := validatePolicy(c.Policies[name]); err != nil {
			return fmt.Errorf("policy %q: %w", name, err)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(c.Breakers)) {
		if err := validateBreaker(c.Breakers[name]); err != nil {
			return fmt.Errorf("breaker %q: %w", name, err)
		}
	}
	return nil
}

func validatePolicy(p retry.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := pkgconfig.ValidateDurationRange(p.BaseDelay, minPolicyDelay, maxPolicyDelay); err != nil {
		return fmt.Errorf("base delay: %w", err)
	}
	if err := pkgconfig.ValidateDurationRange(p.MaxDelay, minPolicyDelay, maxPolicyDelay); err != nil {
		return fmt.Errorf("max delay: %w", err)
	}
	return nil
}

func validateBreaker(c circuitbreaker.Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := pkgconfig.ValidateDurationRange(c.ResetTimeout, minResetTimeout, maxResetTimeout); err != nil {
		return fmt.Errorf("reset timeout: %w", err)
	}
	return nil
}

// Apply merges file overrides into c. Fields absent from the file keep their
// current value; unknown operations start from the defaults.
func (c *ResilienceConfig) Apply(file *PolicyFile) {
	for name, o := range file.Operations {
		base, ok := c.Policies[name]
		if !ok {
			base = retry.DefaultPolicy()
		}
		c.Policies[name] = o.apply(base)

		if o.Breaker != nil {
			cb, ok := c.Breakers[name]
			if !ok {
				cb = c.DefaultBreaker
			}
			c.Breakers[name] = o.Breaker.apply(cb)
		}
	}
}

// PolicyFile is the YAML policy file layout.
//
//	operations:
//	  openai.chat:
//	    max_retries: 2
//	    base_delay: 2s
//	    max_delay: 20s
//	    retryable_status_codes: [429, 503]
//	    breaker:
//	      failure_threshold: 5
//	      reset_timeout: 2m
type PolicyFile struct {
	Operations map[string]OperationOverride `yaml:"operations"`
}

// OperationOverride holds the optional per-operation overrides.
type OperationOverride struct {
	MaxRetries           *int             `yaml:"max_retries"`
	BaseDelay            *time.Duration   `yaml:"base_delay"`
	MaxDelay             *time.Duration   `yaml:"max_delay"`
	Multiplier           *float64         `yaml:"multiplier"`
	RetryableStatusCodes []int            `yaml:"retryable_status_codes"`
	RetryableErrors      []string         `yaml:"retryable_errors"`
	Breaker              *BreakerOverride `yaml:"breaker"`
}

// BreakerOverride holds the optional breaker overrides for one operation.
type BreakerOverride struct {
	FailureThreshold *uint32        `yaml:"failure_threshold"`
	ResetTimeout     *time.Duration `yaml:"reset_timeout"`
}

// LoadPolicyFile reads and parses a YAML policy file. Unknown keys are rejected.
// The path parameter is expected to come from a trusted source (env or CLI flag).
func LoadPolicyFile(path string) (*PolicyFile, error) {
	// #nosec G304 -- path is provided by trusted source (env or CLI flag), not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var file PolicyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	return &file, nil
}

func (o OperationOverride) apply(p retry.Policy) retry.Policy {
	if o.MaxRetries != nil {
		p.MaxRetries = *o.MaxRetries
	}
	if o.BaseDelay != nil {
		p.BaseDelay = *o.BaseDelay
	}
	if o.MaxDelay != nil {
		p.MaxDelay = *o.MaxDelay
	}
	if o.Multiplier != nil {
		p.Multiplier = *o.Multiplier
	}
	if o.RetryableStatusCodes != nil {
		p.RetryableStatusCodes = o.RetryableStatusCodes
	}
	if o.RetryableErrors != nil {
		p.RetryableErrors = o.RetryableErrors
	}
	return p
}

func (o BreakerOverride) apply(c circuitbreaker.Config) circuitbreaker.Config {
	if o.FailureThreshold != nil {
		c.FailureThreshold = *o.FailureThreshold
	}
	if o.ResetTimeout != nil {
		c.ResetTimeout = *o.ResetTimeout
	}
	return c
}
