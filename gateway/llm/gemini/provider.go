// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package gemini provides a model adapter for Google's Gemini models through
// the generateContent REST API. Gemini requests in this adapter carry no
// structured tool declarations; tool use is layered above it through the
// textual tool-call protocol.
package gemini

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
	// DefaultBaseURL is the default Gemini API endpoint
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultAPIVersion is the Gemini API version
	DefaultAPIVersion = "v1beta"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max output tokens for completions
	DefaultMaxTokens = 4096

	// DefaultModel is used when no backend model is configured
	DefaultModel = "gemini-2.5-pro"
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements llm.Provider for Google Gemini.
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

// Config contains configuration for the Gemini adapter
type Config struct {
	Name        string        // Required: registry identifier (e.g. "gemini-pro")
	APIKey      string        // Required: Google API key
	BaseURL     string        // Optional: API base URL (default: https://generativelanguage.googleapis.com)
	APIVersion  string        // Optional: API version (default: v1beta)
	Model       string        // Optional: backend model id (default: gemini-2.5-pro)
	Description string        // Optional: shown in model listings
	Timeout     time.Duration // Optional: HTTP timeout (default: 120s)
}

// New creates a new Gemini adapter instance
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
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
		cfg.Description = fmt.Sprintf("Google %s via generateContent", cfg.Model)
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
	return llm.FamilyGemini
}

// Description returns a human-readable summary.
func (p *Provider) Description() string {
	return p.description
}

// SupportsNativeTools reports false; callers use the textual protocol.
func (p *Provider) SupportsNativeTools() bool {
	return false
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
	return usage.CostUSD(llm.FamilyGemini, p.model, inputTokens, outputTokens)
}

// Generate produces a completion through the generateContent endpoint.
func (p *Provider) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if err := llm.ValidateMessages(req.Messages); err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	apiReq := p.buildAPIRequest(req, maxTokens)

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s",
		p.baseURL, p.apiVersion, p.model, p.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.setHealthy(false)
		return nil, llm.NewProviderError(p.name, llm.ErrCodeUnavailable,
			"gemini API request failed", 0, err)
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

	var apiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	content := ""
	finishReason := llm.FinishReasonStop
	if len(apiResp.Candidates) > 0 {
		var parts []string
		for _, part := range apiResp.Candidates[0].Content.Parts {
			parts = append(parts, part.Text)
		}
		content = strings.Join(parts, "")
		finishReason = mapFinishReason(apiResp.Candidates[0].FinishReason)
	}

	inputTokens := 0
	outputTokens := 0
	if apiResp.UsageMetadata != nil {
		inputTokens = apiResp.UsageMetadata.PromptTokenCount
		outputTokens = apiResp.UsageMetadata.CandidatesTokenCount
	}

	return &llm.GenerateResponse{
		Content:      content,
		Model:        p.name,
		FinishReason: finishReason,
		Usage: llm.UsageStats{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
		},
	}, nil
}

// buildAPIRequest converts the provider-agnostic history into Gemini's
// wire shape. System messages collapse into systemInstruction, assistant
// turns become role "model", and tool results are narrated back as user
// text since this adapter offers no structured tool channel.
func (p *Provider) buildAPIRequest(req llm.GenerateRequest, maxTokens int) geminiRequest {
	var systemParts []string
	var contents []geminiContent

	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case llm.RoleUser:
			contents = append(contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})

		case llm.RoleAssistant:
			contents = append(contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: msg.Content}},
			})

		case llm.RoleTool:
			contents = append(contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: fmt.Sprintf("Tool %s returned: %s", msg.Name, msg.Content)}},
			})
		}
	}

	apiReq := geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: maxTokens,
			Temperature:     req.Temperature,
		},
	}
	if len(systemParts) > 0 {
		apiReq.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}

	if v, ok := req.Extra["top_p"].(float64); ok && v > 0 {
		apiReq.GenerationConfig.TopP = &v
	}
	if v, ok := req.Extra["top_k"].(float64); ok && v > 0 {
		topK := int(v)
		apiReq.GenerationConfig.TopK = &topK
	}

	return apiReq
}

// mapFinishReason translates Gemini finish reasons to finish reasons.
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return llm.FinishReasonStop
	case "MAX_TOKENS":
		return llm.FinishReasonLength
	default:
		return llm.FinishReasonStop
	}
}

// parseAPIError parses an API error response into a ProviderError.
func (p *Provider) parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	message := string(body)
	code := llm.CodeFromStatus(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		if errResp.Error.Status == "RESOURCE_EXHAUSTED" {
			code = llm.ErrCodeRateLimit
		}
	}

	return llm.NewProviderError(p.name, code, message, statusCode, nil)
}

// Internal API types

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens"`
	Temperature     float64  `json:"temperature"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Ensure Provider implements the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)
