// Package config provides helpers for reading typed configuration values from
// environment variables. Invalid values never fail startup: the helper logs a
// warning and falls back to the default.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvString returns the value of an environment variable or the default value if not set.
//
// Example:
//
//	addr := GetEnvString("GATEWAY_ADDR", ":9090")
func GetEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt returns the value of an environment variable as an integer.
//
// Example:
//
//	threshold := GetEnvInt("RESILIENCE_CB_FAILURE_THRESHOLD", 5)
func GetEnvInt(key string, defaultValue int) int {
	return getEnv(key, defaultValue, strconv.Atoi)
}

// GetEnvFloat returns the value of an environment variable as a float64.
//
// Example:
//
//	rps := GetEnvFloat("OPENAI_RPS", 5)
func GetEnvFloat(key string, defaultValue float64) float64 {
	return getEnv(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// GetEnvBool returns the value of an environment variable as a boolean.
// Accepted values are those of strconv.ParseBool.
func GetEnvBool(key string, defaultValue bool) bool {
	return getEnv(key, defaultValue, strconv.ParseBool)
}

// GetEnvDuration returns the value of an environment variable as a time.Duration.
// The value must be parseable by time.ParseDuration (e.g., "1m", "30s", "1h30m").
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return getEnv(key, defaultValue, time.ParseDuration)
}

// GetEnvStringList returns a comma-separated list of strings from an environment variable.
// The values are trimmed of whitespace. Empty values are filtered out.
//
// Example:
//
//	codes := GetEnvStringList("RESILIENCE_RETRYABLE_ERRORS", retry.DefaultRetryableErrors)
//	// RESILIENCE_RETRYABLE_ERRORS="ECONNRESET, ETIMEDOUT"
//	// Result: ["ECONNRESET", "ETIMEDOUT"]
func GetEnvStringList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// GetEnvIntList returns a comma-separated list of integers from an environment
// variable. If any element fails to parse, the whole default is returned.
func GetEnvIntList(key string, defaultValue []int) []int {
	parts := GetEnvStringList(key, nil)
	if parts == nil {
		return defaultValue
	}

	result := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			warnInvalid(key, os.Getenv(key), err)
			return defaultValue
		}
		result = append(result, n)
	}
	return result
}

func getEnv[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := parse(strings.TrimSpace(valueStr))
	if err != nil {
		warnInvalid(key, valueStr, err)
		return defaultValue
	}
	return value
}

func warnInvalid(key, value string, err error) {
	slog.Warn("invalid value for environment variable, using default",
		slog.String("key", key),
		slog.String("value", value),
		slog.String("error", err.Error()))
}
