// Copyright 2025 ModelRelay
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package openai provides a model adapter for OpenAI models through the
// Chat Completions API, including native tool calls.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"modelrelay/platform/common/usage"
	"modelrelay/platform/gateway/llm"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint
	DefaultBaseURL = "https://api.openai.com"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second

	// DefaultModel is used when no backend model is configured
	DefaultModel = "gpt-4o"
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements llm.Provider for OpenAI chat models.
type Provider struct {
	name        string
	description string
	apiKey      string
	baseURL     string
	model       string
	timeout     time.Duration
	client      HTTPClient
	healthy     bool
	mu          sync.RWMutex
}

// Config contains configuration for the OpenAI adapter
type Config struct {
	Name        string        // Required: registry identifier (e.g. "gpt-4o")
	APIKey      string        // Required: OpenAI API key
	BaseURL     string        // Optional: API base URL (default: https://api.openai.com)
	Model       string        // Optional: backend model id (default: gpt-4o)
	Description string        // Optional: shown in model listings
	Timeout     time.Duration // Optional: HTTP timeout (default: 120s)
}

// New creates a new OpenAI adapter instance
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Description == "" {
		cfg.Description = fmt.Sprintf("OpenAI %s via the Chat Completions API", cfg.Model)
	}

	return &Provider{
		name:        cfg.Name,
		description: cfg.Description,
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		client:      &http.Client{Timeout: cfg.Timeout},
		healthy:     true,
	}, nil
}

// Name returns the registry identifier for this model.
func (p *Provider) Name() string {
	return p.name
}

// Family returns the provider family.
func (p *Provider) Family() string {
	return llm.FamilyOpenAI
}

// Description returns a human-readable summary.
func (p *Provider) Description() string {
	return p.description
}

// SupportsNativeTools reports that OpenAI handles structured tool calls.
func (p *Provider) SupportsNativeTools() bool {
	return true
}

// IsHealthy returns whether the provider is healthy
func (p *Provider) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy && p.apiKey != ""
}

// setHealthy updates the provider health status
func (p *Provider) setHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

// EstimateCost returns the estimated USD cost for the given token counts.
func (p *Provider) EstimateCost(inputTokens, outputTokens int) float64 {
	return usage.CostUSD(llm.FamilyOpenAI, p.model, inputTokens, outputTokens)
}

// Generate produces a completion through the Chat Completions API.
func (p *Provider) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if err := llm.ValidateMessages(req.Messages); err != nil {
		return nil, err
	}

	apiReq := openaiRequest{
		Model:    p.model,
		Messages: buildMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		apiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature >= 0 {
		temperature := req.Temperature
		apiReq.Temperature = &temperature
	}

	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	applyExtra(&apiReq, req.Extra)

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.setHealthy(false)
		return nil, llm.NewProviderError(p.name, llm.ErrCodeUnavailable,
			"openai API request failed", 0, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			p.setHealthy(false)
		}
		return nil, p.parseAPIError(resp.StatusCode, body)
	}

	p.setHealthy(true)

	var apiResp openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, llm.NewProviderError(p.name, llm.ErrCodeServerError,
			"openai response contained no choices", resp.StatusCode, nil)
	}

	choice := apiResp.Choices[0]

	toolCalls, err := decodeToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, llm.NewProviderError(p.name, llm.ErrCodeServerError,
			fmt.Sprintf("malformed tool call in response: %v", err), resp.StatusCode, err)
	}

	return &llm.GenerateResponse{
		Content:      choice.Message.Content,
		Model:        p.name,
		FinishReason: mapFinishReason(choice.FinishReason),
		ToolCalls:    toolCalls,
		Usage: llm.UsageStats{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		},
	}, nil
}

// buildMessages converts the provider-agnostic history into OpenAI's
// wire shape. Roles map one to one; tool results carry tool_call_id.
func buildMessages(messages []llm.Message) []openaiMessage {
	out := make([]openaiMessage, 0, len(messages))
	for _, msg := range messages {
		om := openaiMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == llm.RoleTool {
			om.ToolCallID = msg.ToolCallID
			om.Name = msg.Name
		}
		for _, tc := range msg.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			om.ToolCalls = append(om.ToolCalls, openaiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openaiCallFunction{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, om)
	}
	return out
}

// decodeToolCalls parses the JSON-encoded arguments of native tool calls.
func decodeToolCalls(calls []openaiToolCall) ([]llm.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]llm.ToolCall, 0, len(calls))
	for _, call := range calls {
		args := make(map[string]any)
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("tool call %s: %w", call.ID, err)
			}
		}
		out = append(out, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

// applyExtra maps recognized pass-through parameters onto the request.
func applyExtra(apiReq *openaiRequest, extra map[string]any) {
	if extra == nil {
		return
	}
	if v, ok := extra["top_p"].(float64); ok && v > 0 {
		apiReq.TopP = &v
	}
	if v, ok := extra["frequency_penalty"].(float64); ok {
		apiReq.FrequencyPenalty = &v
	}
	if v, ok := extra["presence_penalty"].(float64); ok {
		apiReq.PresencePenalty = &v
	}
	if v, ok := extra["stop"].([]string); ok && len(v) > 0 {
		apiReq.Stop = v
	}
}

// mapFinishReason translates OpenAI finish reasons to finish reasons.
func mapFinishReason(reason string) string {
	switch reason {
	case "stop", "content_filter":
		return llm.FinishReasonStop
	case "length":
		return llm.FinishReasonLength
	case "tool_calls", "function_call":
		return llm.FinishReasonToolCalls
	default:
		return llm.FinishReasonStop
	}
}

// parseAPIError parses an API error response into a ProviderError.
func (p *Provider) parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	code := llm.CodeFromStatus(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		if errResp.Error.Code == "context_length_exceeded" {
			code = llm.ErrCodeContextLength
		}
	}

	return llm.NewProviderError(p.name, code, message, statusCode, nil)
}

// Internal API types

type openaiRequest struct {
	Model            string          `json:"model"`
	Messages         []openaiMessage `json:"messages"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	Tools            []openaiTool    `json:"tools,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiCallFunction `json:"function"`
}

type openaiCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Ensure Provider implements the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)
