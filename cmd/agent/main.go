// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the ModelRelay Agent service.
//
// The Agent is a tool-use workflow service that:
// - Accepts chat messages over HTTP
// - Alternates model turns and tool execution until a final answer
// - Calls the ModelRelay Gateway for generations
// - Calls a tool host for tool listing and execution
//
// Usage:
//
//	./agent
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8090)
//	GATEWAY_URL - ModelRelay Gateway base URL
//	MCP_SERVER_URL - tool host base URL (optional)
//	DEFAULT_MODEL - model used when the request names none (default: bedrock-nova)
//	AGENT_MAX_ITERATIONS - workflow loop bound (default: 10)
package main

import (
	"modelrelay/platform/agent"
)

func main() {
	agent.Run()
}
