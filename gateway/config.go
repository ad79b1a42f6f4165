// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"os"
	"strconv"
	"time"
)

// Config holds the gateway service configuration, loaded from environment
// variables with sensible defaults for local development.
type Config struct {
	Port string

	// DatabaseURL enables Postgres-backed model config and usage
	// persistence when set. Empty runs the gateway memory-only.
	DatabaseURL string

	// Cache settings. CacheBackend is "memory" or "redis".
	CacheEnabled    bool
	CacheBackend    string
	CacheTTL        time.Duration
	CacheMaxEntries int
	RedisAddr       string

	// ModelsConfigPath points at an optional models.yaml manifest
	// merged over the built-in catalog.
	ModelsConfigPath string

	// Built-in catalog credentials. A model is registered only when
	// its credential is present.
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiAPIKey    string
	BedrockRegion   string
	BedrockModel    string

	// SecretsBackend selects how api_key_secret_arn references resolve:
	// "aws" or "env".
	SecretsBackend string
}

// LoadConfig reads gateway configuration from the environment.
func LoadConfig() Config {
	return Config{
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		CacheEnabled:     getEnvBool("CACHE_ENABLED", true),
		CacheBackend:     getEnv("CACHE_BACKEND", "memory"),
		CacheTTL:         time.Duration(getEnvInt("CACHE_TTL_SECONDS", 3600)) * time.Second,
		CacheMaxEntries:  getEnvInt("CACHE_MAX_ENTRIES", 1000),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		ModelsConfigPath: getEnv("MODELS_CONFIG", ""),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		BedrockRegion:    getEnv("BEDROCK_REGION", ""),
		BedrockModel:     getEnv("BEDROCK_MODEL", ""),
		SecretsBackend:   getEnv("SECRETS_BACKEND", "env"),
	}
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
