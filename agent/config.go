// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the ModelRelay agent service: an HTTP chat
// surface over the tool-use workflow engine, talking to the gateway for
// generations and a tool host for tool execution.
package agent

import (
	"os"
	"strconv"
)

// Config holds the agent service configuration.
type Config struct {
	Port string

	// GatewayURL is the ModelRelay gateway base URL.
	GatewayURL string

	// ToolHostURL is the tool host base URL. Empty disables tools.
	ToolHostURL string

	// DefaultModel is used when the chat request names no model.
	DefaultModel string

	// Workflow bounds.
	Temperature   float64
	MaxTokens     int
	MaxIterations int
}

// LoadConfig reads agent configuration from the environment.
func LoadConfig() Config {
	return Config{
		Port:          getEnv("PORT", "8090"),
		GatewayURL:    getEnv("GATEWAY_URL", "http://localhost:8080"),
		ToolHostURL:   getEnv("MCP_SERVER_URL", ""),
		DefaultModel:  getEnv("DEFAULT_MODEL", "bedrock-nova"),
		Temperature:   getEnvFloat("AGENT_TEMPERATURE", 0.7),
		MaxTokens:     getEnvInt("AGENT_MAX_TOKENS", 2000),
		MaxIterations: getEnvInt("AGENT_MAX_ITERATIONS", 10),
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

// getEnvFloat retrieves a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
