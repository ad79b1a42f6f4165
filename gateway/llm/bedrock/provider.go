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

// Package bedrock provides a model adapter for AWS Bedrock through
// InvokeModel with AWS Signature V4 authentication. Request and response
// bodies are encoded per model family (anthropic, amazon, meta).
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"modelrelay/platform/common/usage"
	"modelrelay/platform/gateway/llm"
)

const (
	// DefaultRegion is used when no AWS region is configured
	DefaultRegion = "us-east-1"

	// DefaultModel is used when no backend model is configured
	DefaultModel = "amazon.nova-pro-v1:0"

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096

	// anthropicVersion is the required version marker for Claude on Bedrock
	anthropicVersion = "bedrock-2023-05-31"
)

// invoker abstracts the bedrockruntime client for testing.
type invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Provider implements llm.Provider for AWS Bedrock.
type Provider struct {
	name        string
	description string
	region      string
	model       string
	client      invoker
	healthy     bool
	mu          sync.RWMutex
}

// Config contains configuration for the Bedrock adapter
type Config struct {
	Name            string // Required: registry identifier (e.g. "bedrock-nova")
	Region          string // Optional: AWS region (default: us-east-1)
	Model           string // Optional: Bedrock model id (default: amazon.nova-pro-v1:0)
	Description     string // Optional: shown in model listings
	AccessKeyID     string // Optional: static credentials; IAM role used when empty
	SecretAccessKey string
}

// New creates a new Bedrock adapter instance. The AWS config load fails
// when no credential source can be resolved; callers should surface that
// rather than fall back silently.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Description == "" {
		cfg.Description = fmt.Sprintf("AWS Bedrock %s in %s", cfg.Model, cfg.Region)
	}
	if family := detectModelFamily(cfg.Model); family == "" {
		return nil, fmt.Errorf("unsupported bedrock model family for %q", cfg.Model)
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", cfg.Region, err)
	}

	return &Provider{
		name:        cfg.Name,
		description: cfg.Description,
		region:      cfg.Region,
		model:       cfg.Model,
		client:      bedrockruntime.NewFromConfig(awsCfg),
		healthy:     true,
	}, nil
}

// Name returns the registry identifier for this model.
func (p *Provider) Name() string {
	return p.name
}

// Family returns the provider family.
func (p *Provider) Family() string {
	return llm.FamilyBedrock
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
	return p.healthy
}

// setHealthy updates the provider health status
func (p *Provider) setHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

// EstimateCost returns the estimated USD cost for the given token counts.
func (p *Provider) EstimateCost(inputTokens, outputTokens int) float64 {
	return usage.CostUSD(llm.FamilyBedrock, p.model, inputTokens, outputTokens)
}

// Generate produces a completion through InvokeModel.
func (p *Provider) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if err := llm.ValidateMessages(req.Messages); err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	family := detectModelFamily(p.model)
	requestBody, err := buildRequestBody(family, p.model, req, maxTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	requestJSON, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		p.setHealthy(false)
		return nil, llm.NewProviderError(p.name, llm.ErrCodeUnavailable,
			fmt.Sprintf("bedrock InvokeModel failed: %v", err), 0, err)
	}

	p.setHealthy(true)

	resp, err := parseResponseBody(family, output.Body)
	if err != nil {
		return nil, llm.NewProviderError(p.name, llm.ErrCodeServerError,
			fmt.Sprintf("failed to parse bedrock response: %v", err), 0, err)
	}

	resp.Model = p.name
	return resp, nil
}

// Model family detection. Bedrock model ids follow provider.model-name,
// optionally behind an inference profile prefix (us., eu., apac., global.).

var inferenceProfilePrefixes = []string{"us", "eu", "apac", "global"}

func detectModelFamily(modelID string) string {
	parts := strings.Split(modelID, ".")
	if len(parts) > 1 {
		for _, prefix := range inferenceProfilePrefixes {
			if parts[0] == prefix {
				parts = parts[1:]
				break
			}
		}
	}
	switch parts[0] {
	case "anthropic", "amazon", "meta":
		return parts[0]
	default:
		return ""
	}
}

// buildRequestBody encodes the request per model family.
func buildRequestBody(family, model string, req llm.GenerateRequest, maxTokens int) (map[string]any, error) {
	switch family {
	case "anthropic":
		system, messages := buildAnthropicMessages(req.Messages)
		body := map[string]any{
			"anthropic_version": anthropicVersion,
			"max_tokens":        maxTokens,
			"temperature":       req.Temperature,
			"messages":          messages,
		}
		if system != "" {
			body["system"] = system
		}
		return body, nil

	case "amazon":
		if strings.Contains(model, "titan") {
			return map[string]any{
				"inputText": flattenConversation(req.Messages),
				"textGenerationConfig": map[string]any{
					"maxTokenCount": maxTokens,
					"temperature":   req.Temperature,
				},
			}, nil
		}
		// Nova models use the converse-style messages schema.
		system, messages := buildNovaMessages(req.Messages)
		body := map[string]any{
			"messages": messages,
			"inferenceConfig": map[string]any{
				"maxTokens":   maxTokens,
				"temperature": req.Temperature,
			},
		}
		if system != "" {
			body["system"] = []map[string]any{{"text": system}}
		}
		return body, nil

	case "meta":
		return map[string]any{
			"prompt":      flattenConversation(req.Messages),
			"max_gen_len": maxTokens,
			"temperature": req.Temperature,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported model family: %s", family)
	}
}

// parseResponseBody decodes the response per model family.
func parseResponseBody(family string, body []byte) (*llm.GenerateResponse, error) {
	switch family {
	case "anthropic":
		return parseAnthropicResponse(body)
	case "amazon":
		return parseAmazonResponse(body)
	case "meta":
		return parseMetaResponse(body)
	default:
		return nil, fmt.Errorf("unsupported model family: %s", family)
	}
}

// buildAnthropicMessages maps history onto the Claude-on-Bedrock schema.
// Tool results are narrated as user turns; there is no structured tool
// channel in this adapter.
func buildAnthropicMessages(messages []llm.Message) (string, []map[string]any) {
	var systemParts []string
	var out []map[string]any

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case llm.RoleUser:
			out = append(out, map[string]any{"role": "user", "content": msg.Content})
		case llm.RoleAssistant:
			out = append(out, map[string]any{"role": "assistant", "content": msg.Content})
		case llm.RoleTool:
			out = append(out, map[string]any{
				"role":    "user",
				"content": fmt.Sprintf("Tool %s returned: %s", msg.Name, msg.Content),
			})
		}
	}

	return strings.Join(systemParts, "\n\n"), out
}

// buildNovaMessages maps history onto the Nova messages schema, where
// each content entry is a list of text blocks.
func buildNovaMessages(messages []llm.Message) (string, []map[string]any) {
	var systemParts []string
	var out []map[string]any

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case llm.RoleUser:
			out = append(out, map[string]any{
				"role":    "user",
				"content": []map[string]any{{"text": msg.Content}},
			})
		case llm.RoleAssistant:
			out = append(out, map[string]any{
				"role":    "assistant",
				"content": []map[string]any{{"text": msg.Content}},
			})
		case llm.RoleTool:
			out = append(out, map[string]any{
				"role":    "user",
				"content": []map[string]any{{"text": fmt.Sprintf("Tool %s returned: %s", msg.Name, msg.Content)}},
			})
		}
	}

	return strings.Join(systemParts, "\n\n"), out
}

// flattenConversation renders the history as a single prompt for
// completion-style model families (titan text, meta llama).
func flattenConversation(messages []llm.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			b.WriteString("System: ")
		case llm.RoleUser:
			b.WriteString("User: ")
		case llm.RoleAssistant:
			b.WriteString("Assistant: ")
		case llm.RoleTool:
			fmt.Fprintf(&b, "Tool %s returned: ", msg.Name)
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

func parseAnthropicResponse(body []byte) (*llm.GenerateResponse, error) {
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	var parts []string
	for _, block := range resp.Content {
		parts = append(parts, block.Text)
	}

	finishReason := llm.FinishReasonStop
	if resp.StopReason == "max_tokens" {
		finishReason = llm.FinishReasonLength
	}

	return &llm.GenerateResponse{
		Content:      strings.Join(parts, ""),
		FinishReason: finishReason,
		Usage: llm.UsageStats{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// parseAmazonResponse handles both Nova (messages) and Titan (results)
// response shapes, distinguished by which fields are present.
func parseAmazonResponse(body []byte) (*llm.GenerateResponse, error) {
	var nova struct {
		Output *struct {
			Message struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"message"`
		} `json:"output"`
		StopReason string `json:"stopReason"`
		Usage      *struct {
			InputTokens  int `json:"inputTokens"`
			OutputTokens int `json:"outputTokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &nova); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if nova.Output != nil {
		var parts []string
		for _, block := range nova.Output.Message.Content {
			parts = append(parts, block.Text)
		}
		resp := &llm.GenerateResponse{
			Content:      strings.Join(parts, ""),
			FinishReason: llm.FinishReasonStop,
		}
		if nova.StopReason == "max_tokens" {
			resp.FinishReason = llm.FinishReasonLength
		}
		if nova.Usage != nil {
			resp.Usage = llm.UsageStats{
				InputTokens:  nova.Usage.InputTokens,
				OutputTokens: nova.Usage.OutputTokens,
				TotalTokens:  nova.Usage.InputTokens + nova.Usage.OutputTokens,
			}
		}
		return resp, nil
	}

	var titan struct {
		Results []struct {
			OutputText       string `json:"outputText"`
			TokenCount       int    `json:"tokenCount"`
			CompletionReason string `json:"completionReason"`
		} `json:"results"`
		InputTextTokenCount int `json:"inputTextTokenCount"`
	}
	if err := json.Unmarshal(body, &titan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	content := ""
	outputTokens := 0
	finishReason := llm.FinishReasonStop
	if len(titan.Results) > 0 {
		content = titan.Results[0].OutputText
		outputTokens = titan.Results[0].TokenCount
		if titan.Results[0].CompletionReason == "LENGTH" {
			finishReason = llm.FinishReasonLength
		}
	}

	return &llm.GenerateResponse{
		Content:      content,
		FinishReason: finishReason,
		Usage: llm.UsageStats{
			InputTokens:  titan.InputTextTokenCount,
			OutputTokens: outputTokens,
			TotalTokens:  titan.InputTextTokenCount + outputTokens,
		},
	}, nil
}

func parseMetaResponse(body []byte) (*llm.GenerateResponse, error) {
	var resp struct {
		Generation       string `json:"generation"`
		PromptTokenCount int    `json:"prompt_token_count"`
		GenTokenCount    int    `json:"generation_token_count"`
		StopReason       string `json:"stop_reason"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	finishReason := llm.FinishReasonStop
	if resp.StopReason == "length" {
		finishReason = llm.FinishReasonLength
	}

	return &llm.GenerateResponse{
		Content:      resp.Generation,
		FinishReason: finishReason,
		Usage: llm.UsageStats{
			InputTokens:  resp.PromptTokenCount,
			OutputTokens: resp.GenTokenCount,
			TotalTokens:  resp.PromptTokenCount + resp.GenTokenCount,
		},
	}, nil
}

// Ensure Provider implements the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)
