// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the ModelRelay Gateway service.
//
// The Gateway is a provider-agnostic LLM routing service that:
// - Dispatches generate requests to registered model providers
// - Caches responses by request fingerprint
// - Tracks per-model request metrics and costs
// - Persists model configs and usage events to PostgreSQL
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string (optional)
//	CACHE_BACKEND - "memory" or "redis" (default: memory)
//	REDIS_ADDR - Redis address for the redis cache backend
//	ANTHROPIC_API_KEY / OPENAI_API_KEY / GEMINI_API_KEY - provider keys
//	BEDROCK_REGION - AWS Bedrock region (optional)
//	MODELS_CONFIG - path to a models.yaml manifest (optional)
package main

import (
	"modelrelay/platform/gateway"
)

func main() {
	gateway.Run()
}
