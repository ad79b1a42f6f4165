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

package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"modelrelay/platform/gateway/llm"
)

// MockHTTPClient is a mock implementation of HTTPClient
type MockHTTPClient struct {
	mock.Mock
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

func jsonResponse(statusCode int, body any) *http.Response {
	data, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func userRequest(content string) llm.GenerateRequest {
	return llm.GenerateRequest{
		Model:       "claude-sonnet",
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: content}},
		Temperature: 0.7,
		MaxTokens:   100,
	}
}

// =============================================================================
// Provider Creation Tests
// =============================================================================

func TestNew_Success(t *testing.T) {
	provider, err := New(Config{
		Name:   "claude-sonnet",
		APIKey: "test-api-key",
	})

	require.NoError(t, err)
	assert.NotNil(t, provider)
	assert.Equal(t, "claude-sonnet", provider.Name())
	assert.Equal(t, llm.FamilyAnthropic, provider.Family())
	assert.Equal(t, DefaultBaseURL, provider.baseURL)
	assert.Equal(t, DefaultAPIVersion, provider.apiVersion)
	assert.Equal(t, DefaultModel, provider.model)
	assert.Equal(t, DefaultTimeout, provider.timeout)
	assert.True(t, provider.IsHealthy())
	assert.True(t, provider.SupportsNativeTools())
}

func TestNew_CustomConfig(t *testing.T) {
	provider, err := New(Config{
		Name:       "claude-custom",
		APIKey:     "test-api-key",
		BaseURL:    "https://custom.anthropic.com",
		APIVersion: "2024-01-01",
		Model:      "claude-3-opus-20240229",
		Timeout:    60 * time.Second,
	})

	require.NoError(t, err)
	assert.Equal(t, "https://custom.anthropic.com", provider.baseURL)
	assert.Equal(t, "2024-01-01", provider.apiVersion)
	assert.Equal(t, "claude-3-opus-20240229", provider.model)
	assert.Equal(t, 60*time.Second, provider.timeout)
}

func TestNew_MissingAPIKey(t *testing.T) {
	provider, err := New(Config{Name: "claude-sonnet"})

	assert.Error(t, err)
	assert.Nil(t, provider)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestNew_MissingName(t *testing.T) {
	provider, err := New(Config{APIKey: "test-api-key"})

	assert.Error(t, err)
	assert.Nil(t, provider)
	assert.Contains(t, err.Error(), "name is required")
}

func TestProvider_EstimateCost(t *testing.T) {
	provider, err := New(Config{Name: "claude-sonnet", APIKey: "key"})
	require.NoError(t, err)

	cost := provider.EstimateCost(1_000_000, 1_000_000)
	assert.InDelta(t, 18.0, cost, 0.001) // $3 input + $15 output per 1M
	assert.Zero(t, provider.EstimateCost(0, 0))
}

// =============================================================================
// Generate Tests
// =============================================================================

func TestGenerate_Success(t *testing.T) {
	mockClient := new(MockHTTPClient)
	provider, err := New(Config{Name: "claude-sonnet", APIKey: "test-key"})
	require.NoError(t, err)
	provider.client = mockClient

	mockClient.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.URL.Path == "/v1/messages" &&
			req.Header.Get("x-api-key") == "test-key" &&
			req.Header.Get("anthropic-version") == DefaultAPIVersion
	})).Return(jsonResponse(http.StatusOK, anthropicResponse{
		StopReason: "end_turn",
		Content:    []anthropicBlock{{Type: "text", Text: "Hello there"}},
		Usage: struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		}{InputTokens: 12, OutputTokens: 4},
	}), nil)

	resp, err := provider.Generate(context.Background(), userRequest("Hi"))

	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, "claude-sonnet", resp.Model)
	assert.Equal(t, llm.FinishReasonStop, resp.FinishReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
	assert.Equal(t, 16, resp.Usage.TotalTokens)
	assert.Empty(t, resp.ToolCalls)
	assert.True(t, provider.IsHealthy())
	mockClient.AssertExpectations(t)
}

func TestGenerate_NativeToolUse(t *testing.T) {
	mockClient := new(MockHTTPClient)
	provider, err := New(Config{Name: "claude-sonnet", APIKey: "test-key"})
	require.NoError(t, err)
	provider.client = mockClient

	mockClient.On("Do", mock.Anything).Return(jsonResponse(http.StatusOK, anthropicResponse{
		StopReason: "tool_use",
		Content: []anthropicBlock{
			{Type: "text", Text: "Let me check."},
			{Type: "tool_use", ID: "toolu_01", Name: "add", Input: map[string]any{"a": 2.0, "b": 2.0}},
		},
	}), nil)

	req := userRequest("What is 2+2?")
	req.Tools = []llm.ToolSpec{{Name: "add", Description: "Adds numbers"}}

	resp, err := provider.Generate(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, llm.FinishReasonToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_01", resp.ToolCalls[0].ID)
	assert.Equal(t, "add", resp.ToolCalls[0].Name)
	assert.Equal(t, 2.0, resp.ToolCalls[0].Arguments["a"])
}

func TestGenerate_WireFormat(t *testing.T) {
	mockClient := new(MockHTTPClient)
	provider, err := New(Config{Name: "claude-sonnet", APIKey: "test-key"})
	require.NoError(t, err)
	provider.client = mockClient

	var captured anthropicRequest
	mockClient.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		body, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(body))
		return json.Unmarshal(body, &captured) == nil
	})).Return(jsonResponse(http.StatusOK, anthropicResponse{
		Content: []anthropicBlock{{Type: "text", Text: "ok"}},
	}), nil)

	req := llm.GenerateRequest{
		Model: "claude-sonnet",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Be terse."},
			{Role: llm.RoleUser, Content: "What is 2+2?"},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
				{ID: "toolu_01", Name: "add", Arguments: map[string]any{"a": 2, "b": 2}},
			}},
			{Role: llm.RoleTool, ToolCallID: "toolu_01", Name: "add", Content: "4"},
		},
		Temperature: 0.2,
		MaxTokens:   64,
	}
	_, err = provider.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Be terse.", captured.System)
	assert.Equal(t, 64, captured.MaxTokens)
	require.NotNil(t, captured.Temperature)
	assert.Equal(t, 0.2, *captured.Temperature)

	// system message folds out; tool result rides a user-role message
	require.Len(t, captured.Messages, 3)
	assert.Equal(t, "user", captured.Messages[0].Role)
	assert.Equal(t, "assistant", captured.Messages[1].Role)
	assert.Equal(t, "tool_use", captured.Messages[1].Content[0].Type)
	assert.Equal(t, "user", captured.Messages[2].Role)
	assert.Equal(t, "tool_result", captured.Messages[2].Content[0].Type)
	assert.Equal(t, "toolu_01", captured.Messages[2].Content[0].ToolUseID)
}

func TestGenerate_ValidationBeforeNetwork(t *testing.T) {
	mockClient := new(MockHTTPClient)
	provider, err := New(Config{Name: "claude-sonnet", APIKey: "test-key"})
	require.NoError(t, err)
	provider.client = mockClient

	req := llm.GenerateRequest{
		Model:     "claude-sonnet",
		Messages:  []llm.Message{{Role: "robot", Content: "hi"}},
		MaxTokens: 10,
	}
	_, err = provider.Generate(context.Background(), req)

	assert.True(t, llm.IsValidationError(err))
	mockClient.AssertNotCalled(t, "Do", mock.Anything)
}

func TestGenerate_APIError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errType    string
		wantCode   string
		retryable  bool
	}{
		{"rate limited", http.StatusTooManyRequests, "rate_limit_error", llm.ErrCodeRateLimit, true},
		{"unauthorized", http.StatusUnauthorized, "authentication_error", llm.ErrCodeAuth, false},
		{"overloaded", 529, "overloaded_error", llm.ErrCodeUnavailable, true},
		{"server error", http.StatusInternalServerError, "api_error", llm.ErrCodeServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := new(MockHTTPClient)
			provider, err := New(Config{Name: "claude-sonnet", APIKey: "test-key"})
			require.NoError(t, err)
			provider.client = mockClient

			mockClient.On("Do", mock.Anything).Return(jsonResponse(tt.statusCode, map[string]any{
				"type": "error",
				"error": map[string]any{
					"type":    tt.errType,
					"message": "upstream said no",
				},
			}), nil)

			_, err = provider.Generate(context.Background(), userRequest("Hi"))

			var provErr *llm.ProviderError
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, tt.wantCode, provErr.Code)
			assert.Equal(t, tt.retryable, provErr.Retryable)
			assert.Equal(t, "upstream said no", provErr.Message)
			assert.Equal(t, tt.statusCode, provErr.StatusCode)
		})
	}
}

func TestGenerate_NetworkError(t *testing.T) {
	mockClient := new(MockHTTPClient)
	provider, err := New(Config{Name: "claude-sonnet", APIKey: "test-key"})
	require.NoError(t, err)
	provider.client = mockClient

	mockClient.On("Do", mock.Anything).Return(nil, errors.New("connection refused"))

	_, err = provider.Generate(context.Background(), userRequest("Hi"))

	var provErr *llm.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, llm.ErrCodeUnavailable, provErr.Code)
	assert.True(t, provErr.Retryable)
	assert.False(t, provider.IsHealthy())
}

func TestMapStopReason(t *testing.T) {
	assert.Equal(t, llm.FinishReasonStop, mapStopReason("end_turn"))
	assert.Equal(t, llm.FinishReasonStop, mapStopReason("stop_sequence"))
	assert.Equal(t, llm.FinishReasonLength, mapStopReason("max_tokens"))
	assert.Equal(t, llm.FinishReasonToolCalls, mapStopReason("tool_use"))
	assert.Equal(t, llm.FinishReasonStop, mapStopReason("something_new"))
}
