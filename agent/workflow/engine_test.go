// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"modelrelay/platform/gateway/llm"
)

// scriptedGenerator returns canned responses in sequence.
type scriptedGenerator struct {
	responses []*llm.GenerateResponse
	err       error
	requests  []llm.GenerateRequest
}

func (g *scriptedGenerator) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
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

func textResponse(content string) *llm.GenerateResponse {
	return &llm.GenerateResponse{
		Content:      content,
		Model:        "test-model",
		FinishReason: llm.FinishReasonStop,
	}
}

// stubToolHost serves a fixed catalog and a scriptable call function.
type stubToolHost struct {
	tools    []llm.ToolSpec
	listErr  error
	callFn   func(name string, args map[string]any) (string, error)
	callsLog []string
}

func (h *stubToolHost) ListTools(ctx context.Context) ([]llm.ToolSpec, error) {
	return h.tools, h.listErr
}

func (h *stubToolHost) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	h.callsLog = append(h.callsLog, name)
	if h.callFn != nil {
		return h.callFn(name, args)
	}
	return "ok", nil
}

func addToolHost() *stubToolHost {
	return &stubToolHost{
		tools: []llm.ToolSpec{{Name: "add", Description: "Adds two numbers"}},
		callFn: func(name string, args map[string]any) (string, error) {
			return "4", nil
		},
	}
}

func stepNodes(state *AgentState) []string {
	nodes := make([]string, len(state.Steps))
	for i, step := range state.Steps {
		nodes[i] = step.Node
	}
	return nodes
}

func TestRun_DirectAnswer(t *testing.T) {
	gen := &scriptedGenerator{responses: []*llm.GenerateResponse{textResponse("The answer is 4.")}}
	engine := NewEngine(gen, addToolHost(), "test-model")

	state, err := engine.Run(context.Background(), "What is 2+2?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.FinalAnswer != "The answer is 4." {
		t.Errorf("final answer = %q", state.FinalAnswer)
	}
	if len(gen.requests) != 1 {
		t.Fatalf("generator called %d times, want 1", len(gen.requests))
	}
	if state.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", state.Iterations)
	}

	want := []string{NodeProcessInput, NodeLLM, NodeFinalAnswer}
	got := stepNodes(state)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("steps = %v, want %v", got, want)
	}
}

func TestRun_OneToolLoop(t *testing.T) {
	gen := &scriptedGenerator{responses: []*llm.GenerateResponse{
		textResponse("TOOL_CALL: add\nARGUMENTS: {\"a\": 2, \"b\": 2}"),
		textResponse("The sum is 4."),
	}}
	host := addToolHost()
	engine := NewEngine(gen, host, "test-model",
		WithCallIDGenerator(func() string { return "call_test_1" }))

	state, err := engine.Run(context.Background(), "What is 2+2?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.FinalAnswer != "The sum is 4." {
		t.Errorf("final answer = %q", state.FinalAnswer)
	}
	if state.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", state.Iterations)
	}

	want := []string{NodeProcessInput, NodeLLM, NodeTools, NodeLLM, NodeFinalAnswer}
	got := stepNodes(state)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("steps = %v, want %v", got, want)
	}

	// The second model call sees exactly one tool message, correlated
	// by id and name, with the host result as content.
	second := gen.requests[1]
	toolMessages := 0
	for _, msg := range second.Messages {
		if msg.Role == llm.RoleTool {
			toolMessages++
			if msg.ToolCallID != "call_test_1" {
				t.Errorf("tool message id = %q", msg.ToolCallID)
			}
			if msg.Name != "add" {
				t.Errorf("tool message name = %q", msg.Name)
			}
			if msg.Content != "4" {
				t.Errorf("tool message content = %q", msg.Content)
			}
		}
	}
	if toolMessages != 1 {
		t.Errorf("tool messages = %d, want 1", toolMessages)
	}

	if len(host.callsLog) != 1 || host.callsLog[0] != "add" {
		t.Errorf("host calls = %v", host.callsLog)
	}
}

func TestRun_ToolPromptPrepended(t *testing.T) {
	gen := &scriptedGenerator{responses: []*llm.GenerateResponse{textResponse("Hi.")}}
	engine := NewEngine(gen, addToolHost(), "test-model")

	if _, err := engine.Run(context.Background(), "Hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := gen.requests[0].Messages[0]
	if first.Role != llm.RoleSystem {
		t.Fatalf("first message role = %q, want system", first.Role)
	}
	if !strings.Contains(first.Content, "TOOL_CALL: tool_name") {
		t.Error("system message missing tool protocol instructions")
	}
	if len(gen.requests[0].Tools) != 0 {
		t.Error("textual mode must not send structured tools")
	}
}

func TestRun_NativeToolMode(t *testing.T) {
	gen := &scriptedGenerator{responses: []*llm.GenerateResponse{
		{
			Content:      "",
			Model:        "test-model",
			FinishReason: llm.FinishReasonToolCalls,
			ToolCalls: []llm.ToolCall{
				{ID: "native_1", Name: "add", Arguments: map[string]any{"a": 2.0, "b": 2.0}},
			},
		},
		textResponse("The sum is 4."),
	}}
	engine := NewEngine(gen, addToolHost(), "test-model", WithNativeTools(true))

	state, err := engine.Run(context.Background(), "What is 2+2?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gen.requests[0].Tools) != 1 {
		t.Error("native mode must send structured tools")
	}
	if gen.requests[0].Messages[0].Role == llm.RoleSystem {
		t.Error("native mode must not prepend the protocol prompt")
	}
	if state.FinalAnswer != "The sum is 4." {
		t.Errorf("final answer = %q", state.FinalAnswer)
	}
}

func TestRun_MaxIterations(t *testing.T) {
	// The model asks for a tool forever.
	gen := &scriptedGenerator{responses: []*llm.GenerateResponse{
		textResponse("TOOL_CALL: add\nARGUMENTS: {\"a\": 1, \"b\": 1}"),
	}}
	engine := NewEngine(gen, addToolHost(), "test-model", WithMaxIterations(3))

	state, err := engine.Run(context.Background(), "Loop forever")

	var maxErr *MaxIterationsError
	if !errors.As(err, &maxErr) {
		t.Fatalf("error = %v, want MaxIterationsError", err)
	}
	if maxErr.Limit != 3 {
		t.Errorf("limit = %d, want 3", maxErr.Limit)
	}
	if state == nil {
		t.Fatal("state must be returned with the error")
	}
	if state.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", state.Iterations)
	}
	if len(state.Steps) == 0 {
		t.Error("audit trail must be preserved")
	}
	if !IsMaxIterations(err) {
		t.Error("IsMaxIterations must match")
	}
}

func TestRun_ToolFailureAdvances(t *testing.T) {
	host := &stubToolHost{
		tools: []llm.ToolSpec{{Name: "fetch", Description: "Fetches a URL"}},
		callFn: func(name string, args map[string]any) (string, error) {
			return "", errors.New("timeout")
		},
	}
	gen := &scriptedGenerator{responses: []*llm.GenerateResponse{
		textResponse("TOOL_CALL: fetch\nARGUMENTS: {\"url\": \"http://x\"}"),
		textResponse("The fetch failed, sorry."),
	}}
	engine := NewEngine(gen, host, "test-model")

	state, err := engine.Run(context.Background(), "Fetch it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var toolMsg *llm.Message
	for i := range state.Messages {
		if state.Messages[i].Role == llm.RoleTool {
			toolMsg = &state.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message recorded")
	}
	if toolMsg.Content != "Error: timeout" {
		t.Errorf("tool message content = %q, want %q", toolMsg.Content, "Error: timeout")
	}
	if state.FinalAnswer != "The fetch failed, sorry." {
		t.Errorf("final answer = %q", state.FinalAnswer)
	}
}

func TestRun_MalformedToolCallDegrades(t *testing.T) {
	gen := &scriptedGenerator{responses: []*llm.GenerateResponse{
		textResponse("TOOL_CALL: add\nARGUMENTS: {broken"),
	}}
	engine := NewEngine(gen, addToolHost(), "test-model")

	state, err := engine.Run(context.Background(), "What is 2+2?")
	if err != nil {
		t.Fatalf("parse failure must not abort the run: %v", err)
	}

	// Degrades to a plain answer carrying the raw content.
	if state.FinalAnswer != "TOOL_CALL: add\nARGUMENTS: {broken" {
		t.Errorf("final answer = %q", state.FinalAnswer)
	}

	var llmStep *StepRecord
	for i := range state.Steps {
		if state.Steps[i].Node == NodeLLM {
			llmStep = &state.Steps[i]
		}
	}
	if llmStep == nil {
		t.Fatal("no llm step recorded")
	}
	if _, ok := llmStep.Detail["parse_error"]; !ok {
		t.Error("llm step must note the parse failure")
	}
}

func TestRun_GeneratorErrorAborts(t *testing.T) {
	provErr := llm.NewProviderError("test-model", llm.ErrCodeUnavailable, "gateway down", 0, nil)
	gen := &scriptedGenerator{err: provErr}
	engine := NewEngine(gen, addToolHost(), "test-model")

	state, err := engine.Run(context.Background(), "Hello")

	var pe *llm.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want the provider error", err)
	}
	if state == nil || len(state.Steps) == 0 {
		t.Error("partial state must be returned")
	}
}

func TestRun_NoToolHost(t *testing.T) {
	gen := &scriptedGenerator{responses: []*llm.GenerateResponse{textResponse("Hello!")}}
	engine := NewEngine(gen, nil, "test-model")

	state, err := engine.Run(context.Background(), "Hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.FinalAnswer != "Hello!" {
		t.Errorf("final answer = %q", state.FinalAnswer)
	}
	// Without tools there is no protocol prompt.
	if gen.requests[0].Messages[0].Role != llm.RoleUser {
		t.Errorf("first message role = %q, want user", gen.requests[0].Messages[0].Role)
	}
}

func TestRun_ListToolsFailureDegrades(t *testing.T) {
	host := &stubToolHost{listErr: errors.New("host down")}
	gen := &scriptedGenerator{responses: []*llm.GenerateResponse{textResponse("Hi.")}}
	engine := NewEngine(gen, host, "test-model")

	state, err := engine.Run(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.FinalAnswer != "Hi." {
		t.Errorf("final answer = %q", state.FinalAnswer)
	}
}

func TestRun_FinalAnswerSkipsEmptyAssistantTurns(t *testing.T) {
	gen := &scriptedGenerator{responses: []*llm.GenerateResponse{
		{
			Content:      "Let me check that.",
			Model:        "test-model",
			FinishReason: llm.FinishReasonToolCalls,
			ToolCalls:    []llm.ToolCall{{ID: "c1", Name: "add", Arguments: map[string]any{"a": 2.0, "b": 2.0}}},
		},
		textResponse(""),
	}}
	engine := NewEngine(gen, addToolHost(), "test-model", WithNativeTools(true))

	state, err := engine.Run(context.Background(), "What is 2+2?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The last assistant turn is content-free; the answer comes from the
	// latest turn that actually said something.
	if state.FinalAnswer != "Let me check that." {
		t.Errorf("final answer = %q, want earlier assistant content", state.FinalAnswer)
	}
}

func TestRun_EmptyAssistantFallback(t *testing.T) {
	gen := &scriptedGenerator{responses: []*llm.GenerateResponse{textResponse("")}}
	engine := NewEngine(gen, nil, "test-model")

	state, err := engine.Run(context.Background(), "Hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.FinalAnswer != FallbackAnswer {
		t.Errorf("final answer = %q, want fallback", state.FinalAnswer)
	}
}

func TestRun_MultipleToolCallsOrdered(t *testing.T) {
	host := &stubToolHost{
		tools: []llm.ToolSpec{{Name: "a"}, {Name: "b"}},
		callFn: func(name string, args map[string]any) (string, error) {
			return "result-" + name, nil
		},
	}
	gen := &scriptedGenerator{responses: []*llm.GenerateResponse{
		{
			Model:        "test-model",
			FinishReason: llm.FinishReasonToolCalls,
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "a"},
				{ID: "c2", Name: "b"},
			},
		},
		textResponse("Done."),
	}}
	engine := NewEngine(gen, host, "test-model", WithNativeTools(true))

	state, err := engine.Run(context.Background(), "Do both")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var toolMsgs []llm.Message
	for _, msg := range state.Messages {
		if msg.Role == llm.RoleTool {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	if len(toolMsgs) != 2 {
		t.Fatalf("tool messages = %d, want 2", len(toolMsgs))
	}
	// Results land in request order regardless of completion order.
	if toolMsgs[0].ToolCallID != "c1" || toolMsgs[0].Content != "result-a" {
		t.Errorf("first tool message = %+v", toolMsgs[0])
	}
	if toolMsgs[1].ToolCallID != "c2" || toolMsgs[1].Content != "result-b" {
		t.Errorf("second tool message = %+v", toolMsgs[1])
	}
}
