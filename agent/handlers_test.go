// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrelay/platform/agent/workflow"
	"modelrelay/platform/gateway/llm"
)

// stubGateway is a scriptable GatewayClient.
type stubGateway struct {
	responses   []*llm.GenerateResponse
	err         error
	nativeTools bool
	requests    []llm.GenerateRequest
}

func (g *stubGateway) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	idx := len(g.requests) - 1
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	return g.responses[idx], nil
}

func (g *stubGateway) SupportsNativeTools(ctx context.Context, model string) bool {
	return g.nativeTools
}

func (g *stubGateway) IsHealthy(ctx context.Context) bool { return true }

// stubHost answers every tool call with a fixed result.
type stubHost struct {
	result string
	err    error
}

func (h *stubHost) ListTools(ctx context.Context) ([]llm.ToolSpec, error) {
	return []llm.ToolSpec{{Name: "add", Description: "Adds numbers"}}, nil
}

func (h *stubHost) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	return h.result, h.err
}

func answer(content string) *llm.GenerateResponse {
	return &llm.GenerateResponse{
		Content:      content,
		Model:        "test-model",
		FinishReason: llm.FinishReasonStop,
	}
}

func testConfig() Config {
	return Config{
		DefaultModel:  "bedrock-nova",
		Temperature:   0.7,
		MaxTokens:     2000,
		MaxIterations: 10,
	}
}

func postChat(t *testing.T, h *APIHandlers, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/v1/chat", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h.ChatHandler(rec, req)
	return rec
}

func TestChatHandler_DirectAnswer(t *testing.T) {
	gateway := &stubGateway{responses: []*llm.GenerateResponse{answer("Hello there!")}}
	h := NewAPIHandlers(testConfig(), gateway, nil)

	rec := postChat(t, h, map[string]any{"message": "Hi"})

	assert.Equal(t, http.StatusOK, rec.Code)
	var body chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, "Hello there!", body.Answer)
	assert.Equal(t, 1, body.Iterations)
	require.NotEmpty(t, body.Steps)
	assert.Equal(t, workflow.NodeProcessInput, body.Steps[0].Node)

	// Default model flows into the generate request.
	assert.Equal(t, "bedrock-nova", gateway.requests[0].Model)
}

func TestChatHandler_ModelOverride(t *testing.T) {
	gateway := &stubGateway{responses: []*llm.GenerateResponse{answer("Hi.")}}
	h := NewAPIHandlers(testConfig(), gateway, nil)

	rec := postChat(t, h, map[string]any{"message": "Hi", "model": "claude-sonnet"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "claude-sonnet", gateway.requests[0].Model)
}

func TestChatHandler_ToolLoop(t *testing.T) {
	gateway := &stubGateway{responses: []*llm.GenerateResponse{
		answer("TOOL_CALL: add\nARGUMENTS: {\"a\": 2, \"b\": 2}"),
		answer("The sum is 4."),
	}}
	h := NewAPIHandlers(testConfig(), gateway, &stubHost{result: "4"})

	rec := postChat(t, h, map[string]any{"message": "What is 2+2?"})

	assert.Equal(t, http.StatusOK, rec.Code)
	var body chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "The sum is 4.", body.Answer)
	assert.Equal(t, 2, body.Iterations)

	nodes := make([]string, len(body.Steps))
	for i, step := range body.Steps {
		nodes[i] = step.Node
	}
	assert.Equal(t, []string{
		workflow.NodeProcessInput, workflow.NodeLLM, workflow.NodeTools,
		workflow.NodeLLM, workflow.NodeFinalAnswer,
	}, nodes)
}

func TestChatHandler_ValidationErrors(t *testing.T) {
	h := NewAPIHandlers(testConfig(), &stubGateway{responses: []*llm.GenerateResponse{answer("x")}}, nil)

	rec := postChat(t, h, map[string]any{"message": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest("POST", "/api/v1/chat", bytes.NewReader([]byte("{broken")))
	rec = httptest.NewRecorder()
	h.ChatHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatHandler_MaxIterations(t *testing.T) {
	gateway := &stubGateway{responses: []*llm.GenerateResponse{
		answer("TOOL_CALL: add\nARGUMENTS: {\"a\": 1, \"b\": 1}"),
	}}
	h := NewAPIHandlers(testConfig(), gateway, &stubHost{result: "2"})

	rec := postChat(t, h, map[string]any{"message": "Loop", "max_iterations": 2})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "max_iterations", errObj["code"])
	assert.Equal(t, 2.0, body["iterations"])
	assert.NotEmpty(t, body["steps"])
}

func TestChatHandler_GatewayError(t *testing.T) {
	gateway := &stubGateway{
		err: llm.NewProviderError("bedrock-nova", llm.ErrCodeUnavailable, "gateway down", 0, nil),
	}
	h := NewAPIHandlers(testConfig(), gateway, nil)

	rec := postChat(t, h, map[string]any{"message": "Hi"})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, llm.ErrCodeUnavailable, body.Error.Code)
}

func TestChatHandler_NativeToolsPassedThrough(t *testing.T) {
	gateway := &stubGateway{
		nativeTools: true,
		responses:   []*llm.GenerateResponse{answer("Hi.")},
	}
	h := NewAPIHandlers(testConfig(), gateway, &stubHost{result: "ok"})

	rec := postChat(t, h, map[string]any{"message": "Hi"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, gateway.requests[0].Tools, 1)
	assert.NotEqual(t, llm.RoleSystem, gateway.requests[0].Messages[0].Role)
}

func TestHealthHandler(t *testing.T) {
	h := NewAPIHandlers(testConfig(), &stubGateway{responses: []*llm.GenerateResponse{answer("x")}}, nil)

	rec := httptest.NewRecorder()
	h.HealthHandler(rec, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "agent", body["service"])
	assert.Equal(t, true, body["gateway_healthy"])
}
