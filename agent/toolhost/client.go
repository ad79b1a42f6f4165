// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package toolhost is the HTTP client for the agent's tool host: the
// service that advertises callable tools and executes them on request.
package toolhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"modelrelay/platform/gateway/llm"
)

// DefaultTimeout covers slow tools (external API calls behind the host).
const DefaultTimeout = 60 * time.Second

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to a tool host over its REST surface.
type Client struct {
	baseURL string
	client  HTTPClient
}

// NewClient creates a tool host client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// toolsResponse is the GET /tools body.
type toolsResponse struct {
	Tools []llm.ToolSpec `json:"tools"`
}

// callRequest is the POST /tools/call body.
type callRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// callResponse is the POST /tools/call result. Result may be any JSON
// value; non-strings are re-encoded for the tool message.
type callResponse struct {
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

// ListTools fetches the host's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]llm.ToolSpec, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool host request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tool host returned status %d: %s", resp.StatusCode, body)
	}

	var parsed toolsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode tool list: %w", err)
	}
	return parsed.Tools, nil
}

// CallTool executes a tool and returns its result rendered as a string.
// A host-reported tool error comes back as an error; the workflow encodes
// it into the tool message.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	reqBody, err := json.Marshal(callRequest{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/tools/call", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tool host request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read tool response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tool host returned status %d: %s", resp.StatusCode, body)
	}

	var parsed callResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode tool response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("%s", parsed.Error)
	}

	return stringifyResult(parsed.Result)
}

// stringifyResult renders a tool result for the conversation. Strings
// pass through; everything else goes back to JSON.
func stringifyResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode tool result: %w", err)
		}
		return string(encoded), nil
	}
}

// IsHealthy probes the host's health endpoint.
func (c *Client) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK
}
