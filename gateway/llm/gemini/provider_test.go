// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

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

func successBody(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
		"usageMetadata": map[string]any{
			"promptTokenCount":     8,
			"candidatesTokenCount": 2,
			"totalTokenCount":      10,
		},
	}
}

func TestNew_Defaults(t *testing.T) {
	provider, err := New(Config{Name: "gemini-pro", APIKey: "test-key"})

	require.NoError(t, err)
	assert.Equal(t, "gemini-pro", provider.Name())
	assert.Equal(t, llm.FamilyGemini, provider.Family())
	assert.Equal(t, DefaultBaseURL, provider.baseURL)
	assert.Equal(t, DefaultAPIVersion, provider.apiVersion)
	assert.Equal(t, DefaultModel, provider.model)
	assert.False(t, provider.SupportsNativeTools())
	assert.True(t, provider.IsHealthy())
}

func TestNew_MissingConfig(t *testing.T) {
	_, err := New(Config{APIKey: "test-key"})
	assert.Error(t, err)

	_, err = New(Config{Name: "gemini-pro"})
	assert.Error(t, err)
}

func TestGenerate_Success(t *testing.T) {
	mockClient := new(MockHTTPClient)
	provider, err := New(Config{Name: "gemini-pro", APIKey: "test-key"})
	require.NoError(t, err)
	provider.client = mockClient

	mockClient.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.URL.Query().Get("key") == "test-key" &&
			req.URL.Path == "/v1beta/models/"+DefaultModel+":generateContent"
	})).Return(jsonResponse(http.StatusOK, successBody("Four.")), nil)

	resp, err := provider.Generate(context.Background(), llm.GenerateRequest{
		Model:       "gemini-pro",
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "What is 2+2?"}},
		Temperature: 0.7,
		MaxTokens:   100,
	})

	require.NoError(t, err)
	assert.Equal(t, "Four.", resp.Content)
	assert.Equal(t, "gemini-pro", resp.Model)
	assert.Equal(t, llm.FinishReasonStop, resp.FinishReason)
	assert.Equal(t, 8, resp.Usage.InputTokens)
	assert.Equal(t, 2, resp.Usage.OutputTokens)
	assert.Empty(t, resp.ToolCalls)
}

func TestGenerate_WireFormat(t *testing.T) {
	mockClient := new(MockHTTPClient)
	provider, err := New(Config{Name: "gemini-pro", APIKey: "test-key"})
	require.NoError(t, err)
	provider.client = mockClient

	var captured geminiRequest
	mockClient.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		body, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(body))
		return json.Unmarshal(body, &captured) == nil
	})).Return(jsonResponse(http.StatusOK, successBody("ok")), nil)

	_, err = provider.Generate(context.Background(), llm.GenerateRequest{
		Model: "gemini-pro",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Be terse."},
			{Role: llm.RoleUser, Content: "What is 2+2?"},
			{Role: llm.RoleAssistant, Content: "TOOL_CALL: add"},
			{Role: llm.RoleTool, ToolCallID: "call_1", Name: "add", Content: "4"},
		},
		Temperature: 0.3,
		MaxTokens:   128,
	})
	require.NoError(t, err)

	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "Be terse.", captured.SystemInstruction.Parts[0].Text)

	require.Len(t, captured.Contents, 3)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "model", captured.Contents[1].Role)
	assert.Equal(t, "user", captured.Contents[2].Role)
	assert.Contains(t, captured.Contents[2].Parts[0].Text, "Tool add returned: 4")

	assert.Equal(t, 128, captured.GenerationConfig.MaxOutputTokens)
	assert.Equal(t, 0.3, captured.GenerationConfig.Temperature)
}

func TestGenerate_APIError(t *testing.T) {
	mockClient := new(MockHTTPClient)
	provider, err := New(Config{Name: "gemini-pro", APIKey: "test-key"})
	require.NoError(t, err)
	provider.client = mockClient

	mockClient.On("Do", mock.Anything).Return(jsonResponse(http.StatusTooManyRequests, map[string]any{
		"error": map[string]any{
			"code":    429,
			"message": "Quota exceeded",
			"status":  "RESOURCE_EXHAUSTED",
		},
	}), nil)

	_, err = provider.Generate(context.Background(), llm.GenerateRequest{
		Model:     "gemini-pro",
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
		MaxTokens: 10,
	})

	var provErr *llm.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, llm.ErrCodeRateLimit, provErr.Code)
	assert.Equal(t, "Quota exceeded", provErr.Message)
	assert.True(t, provErr.Retryable)
}

func TestGenerate_ValidationBeforeNetwork(t *testing.T) {
	mockClient := new(MockHTTPClient)
	provider, err := New(Config{Name: "gemini-pro", APIKey: "test-key"})
	require.NoError(t, err)
	provider.client = mockClient

	_, err = provider.Generate(context.Background(), llm.GenerateRequest{
		Model:     "gemini-pro",
		Messages:  []llm.Message{{Role: "bogus", Content: "hi"}},
		MaxTokens: 10,
	})

	assert.True(t, llm.IsValidationError(err))
	mockClient.AssertNotCalled(t, "Do", mock.Anything)
}

func TestMapFinishReason(t *testing.T) {
	assert.Equal(t, llm.FinishReasonStop, mapFinishReason("STOP"))
	assert.Equal(t, llm.FinishReasonLength, mapFinishReason("MAX_TOKENS"))
	assert.Equal(t, llm.FinishReasonStop, mapFinishReason("SAFETY"))
}
