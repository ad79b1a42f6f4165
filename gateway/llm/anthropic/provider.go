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

// Package anthropic provides a model adapter for Anthropic's Claude models
// through the Messages API, including native tool use.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"modelrelay/platform/common/usage"
	"modelrelay/platform/gateway/llm"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version
	DefaultAPIVersion = "2023-06-01"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096

	// DefaultModel is used when no backend model is configured
	DefaultModel = "claude-sonnet-4-5-20250929"
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements llm.Provider for Anthropic Claude.
type Provider struct {
	name        string
	description string
	apiKey      string
	baseURL     string
	apiVersion  string
	model       string
	timeout     time.Duration
	client      HTTPClient
	healthy     bool
	mu          sync.RWMutex
}

// Config contains configuration for the Anthropic adapter
type Config struct {
	Name        string        // Required: registry identifier (e.g. "claude-sonnet")
	APIKey      string        // Required: Anthropic API key
	BaseURL     string        // Optional: API base URL (default: https://api.anthropic.com)
	APIVersion  string        // Optional: API version (default: 2023-06-01)
	Model       string        // Optional: backend model id (default: claude-sonnet-4-5-20250929)
	Description string        // Optional: shown in model listings
	Timeout     time.Duration // Optional: HTTP timeout (default: 120s)
}

// New creates a new Anthropic adapter instance
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Description == "" {
		cfg.Description = fmt.Sprintf("Anthropic %s via the Messages API", cfg.Model)
	}

	return &Provider{
		name:        cfg.Name,
		description: cfg.Description,
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		apiVersion:  cfg.APIVersion,
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
	return llm.FamilyAnthropic
}

// Description returns a human-readable summary.
func (p *Provider) Description() string {
	return p.description
}

// SupportsNativeTools reports that Claude handles structured tool use.
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
	return usage.CostUSD(llm.FamilyAnthropic, p.model, inputTokens, outputTokens)
}

// Generate produces a completion through the Messages API.
func (p *Provider) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if err := llm.ValidateMessages(req.Messages); err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	system, messages := buildMessages(req.Messages)

	apiReq := anthropicRequest{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		apiReq.System = system
	}

	// Temperature 0.0 is valid (deterministic); only negative means unset.
	if req.Temperature >= 0 {
		temperature := req.Temperature
		apiReq.Temperature = &temperature
	}

	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}

	applyExtra(&apiReq, req.Extra)

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.setHealthy(false)
		return nil, llm.NewProviderError(p.name, llm.ErrCodeUnavailable,
			"anthropic API request failed", 0, err)
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

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var contentBuilder strings.Builder
	var toolCalls []llm.ToolCall
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			contentBuilder.WriteString(block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}

	return &llm.GenerateResponse{
		Content:      contentBuilder.String(),
		Model:        p.name,
		FinishReason: mapStopReason(apiResp.StopReason),
		ToolCalls:    toolCalls,
		Usage: llm.UsageStats{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
			TotalTokens:  apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
	}, nil
}

// buildMessages converts the provider-agnostic history into Anthropic's
// wire shape. System messages collapse into the top-level system field;
// tool results become tool_result blocks on user-role messages, merged
// when consecutive so the strict user/assistant alternation holds.
func buildMessages(messages []llm.Message) (string, []anthropicMessage) {
	var systemParts []string
	out := make([]anthropicMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case llm.RoleUser:
			out = append(out, anthropicMessage{
				Role:    "user",
				Content: []anthropicBlock{{Type: "text", Text: msg.Content}},
			})

		case llm.RoleAssistant:
			blocks := make([]anthropicBlock, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: ""})
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: blocks})

		case llm.RoleTool:
			block := anthropicBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}
			if n := len(out); n > 0 && out[n-1].Role == "user" &&
				len(out[n-1].Content) > 0 && out[n-1].Content[0].Type == "tool_result" {
				out[n-1].Content = append(out[n-1].Content, block)
			} else {
				out = append(out, anthropicMessage{Role: "user", Content: []anthropicBlock{block}})
			}
		}
	}

	return strings.Join(systemParts, "\n\n"), out
}

// applyExtra maps recognized pass-through parameters onto the request.
func applyExtra(apiReq *anthropicRequest, extra map[string]any) {
	if extra == nil {
		return
	}
	if v, ok := extra["top_p"].(float64); ok && v > 0 {
		apiReq.TopP = &v
	}
	if v, ok := extra["top_k"].(float64); ok && v > 0 {
		topK := int(v)
		apiReq.TopK = &topK
	}
	if v, ok := extra["stop_sequences"].([]string); ok && len(v) > 0 {
		apiReq.StopSequences = v
	}
}

// mapStopReason translates Anthropic stop reasons to finish reasons.
func mapStopReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return llm.FinishReasonStop
	case "max_tokens":
		return llm.FinishReasonLength
	case "tool_use":
		return llm.FinishReasonToolCalls
	default:
		return llm.FinishReasonStop
	}
}

// setHeaders sets the required headers for Anthropic API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", p.apiVersion)
}

// parseAPIError parses an API error response into a ProviderError.
func (p *Provider) parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	code := llm.CodeFromStatus(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		if mapped := mapErrorType(errResp.Error.Type); mapped != "" {
			code = mapped
		}
	}

	return llm.NewProviderError(p.name, code, message, statusCode, nil)
}

// mapErrorType maps Anthropic error type strings to provider error codes.
func mapErrorType(errType string) string {
	switch errType {
	case "rate_limit_error":
		return llm.ErrCodeRateLimit
	case "authentication_error", "permission_error":
		return llm.ErrCodeAuth
	case "invalid_request_error":
		return llm.ErrCodeInvalidRequest
	case "not_found_error":
		return llm.ErrCodeModelNotFound
	case "overloaded_error":
		return llm.ErrCodeUnavailable
	case "api_error":
		return llm.ErrCodeServerError
	default:
		return ""
	}
}

// Internal API types

type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

// anthropicBlock covers text, tool_use, and tool_result content blocks.
type anthropicBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Role       string           `json:"role"`
	Model      string           `json:"model"`
	StopReason string           `json:"stop_reason"`
	Content    []anthropicBlock `json:"content"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Ensure Provider implements the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)
