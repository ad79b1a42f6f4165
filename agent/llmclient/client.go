// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package llmclient is the agent-side client for the ModelRelay gateway's
// generate API. It implements the workflow Generator contract.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"modelrelay/platform/gateway/llm"
)

// DefaultTimeout covers slow model generations end to end.
const DefaultTimeout = 120 * time.Second

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the gateway over HTTP.
type Client struct {
	baseURL string
	client  HTTPClient

	mu     sync.Mutex
	models map[string]llm.ModelInfo // memoized /api/v1/models catalog
}

// NewClient creates a gateway client for the given base URL.
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

// gatewayError is the gateway's JSON error envelope.
type gatewayError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

// Generate posts a generate request to the gateway. Gateway-reported
// failures come back as ProviderErrors carrying the gateway's error code
// so workflow callers can reason about retryability.
func (c *Client) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/generate", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewProviderError(req.Model, llm.ErrCodeUnavailable,
			"gateway request failed", 0, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var gwErr gatewayError
		if err := json.Unmarshal(body, &gwErr); err == nil && gwErr.Error.Message != "" {
			return nil, llm.NewProviderError(req.Model, gwErr.Error.Code,
				gwErr.Error.Message, resp.StatusCode, nil)
		}
		return nil, llm.NewProviderError(req.Model, llm.CodeFromStatus(resp.StatusCode),
			fmt.Sprintf("gateway returned status %d", resp.StatusCode), resp.StatusCode, nil)
	}

	var generated llm.GenerateResponse
	if err := json.Unmarshal(body, &generated); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return &generated, nil
}

// modelsResponse is the GET /api/v1/models body.
type modelsResponse struct {
	Models []llm.ModelInfo `json:"models"`
}

// ListModels fetches the gateway's model catalog.
func (c *Client) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, body)
	}

	var parsed modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	return parsed.Models, nil
}

// SupportsNativeTools reports whether a model advertises structured tool
// calls. The catalog is fetched once and memoized; unknown models and
// catalog failures report false, which degrades to the textual protocol.
func (c *Client) SupportsNativeTools(ctx context.Context, model string) bool {
	c.mu.Lock()
	catalog := c.models
	c.mu.Unlock()

	if catalog == nil {
		models, err := c.ListModels(ctx)
		if err != nil {
			return false
		}
		catalog = make(map[string]llm.ModelInfo, len(models))
		for _, info := range models {
			catalog[info.Name] = info
		}
		c.mu.Lock()
		c.models = catalog
		c.mu.Unlock()
	}

	info, ok := catalog[model]
	return ok && info.NativeTools
}

// IsHealthy probes the gateway's health endpoint.
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
