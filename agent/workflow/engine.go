// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"modelrelay/platform/gateway/llm"
	"modelrelay/platform/shared/logger"
)

// Engine defaults.
const (
	DefaultTemperature   = 0.7
	DefaultMaxTokens     = 2000
	DefaultMaxIterations = 10
)

// FallbackAnswer is returned when the run produced no assistant content.
const FallbackAnswer = "I could not generate a response."

// Generator produces model completions. The gateway client implements
// this; tests script it directly.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error)
}

// ToolHost lists and executes tools on behalf of the workflow.
type ToolHost interface {
	ListTools(ctx context.Context) ([]llm.ToolSpec, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Engine runs the agent workflow: process_input, then an llm/tools loop,
// then final_answer. One Engine serves many concurrent runs; all
// per-run state lives in AgentState.
type Engine struct {
	generator     Generator
	toolHost      ToolHost
	model         string
	temperature   float64
	maxTokens     int
	maxIterations int
	nativeTools   bool
	logger        *logger.Logger
	now           func() time.Time
	newCallID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithTemperature sets the sampling temperature for model turns.
func WithTemperature(t float64) Option {
	return func(e *Engine) { e.temperature = t }
}

// WithMaxTokens sets the per-turn output token budget.
func WithMaxTokens(n int) Option {
	return func(e *Engine) { e.maxTokens = n }
}

// WithMaxIterations bounds the llm/tools loop.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithNativeTools passes tool specs through the generate request instead
// of the textual protocol. Use when the target model supports structured
// tool calls.
func WithNativeTools(native bool) Option {
	return func(e *Engine) { e.nativeTools = native }
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the step-record clock. Tests only.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCallIDGenerator sets the synthesized tool-call id source. Tests only.
func WithCallIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newCallID = gen }
}

// NewEngine creates a workflow engine. toolHost may be nil; the workflow
// then runs without tools.
func NewEngine(generator Generator, toolHost ToolHost, model string, opts ...Option) *Engine {
	e := &Engine{
		generator:     generator,
		toolHost:      toolHost,
		model:         model,
		temperature:   DefaultTemperature,
		maxTokens:     DefaultMaxTokens,
		maxIterations: DefaultMaxIterations,
		logger:        logger.New("agent-workflow"),
		now:           time.Now,
		newCallID:     func() string { return "call_" + uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one workflow turn for the given user input. The returned
// state always carries the full audit trail, including when the error is
// a MaxIterationsError.
func (e *Engine) Run(ctx context.Context, userInput string) (*AgentState, error) {
	state := &AgentState{UserInput: userInput}

	// process_input
	state.addMessage(llm.Message{Role: llm.RoleUser, Content: userInput})
	state.addStep(NodeProcessInput, e.now(), map[string]any{"input": userInput})

	tools := e.listTools(ctx, state)

	for state.Iterations < e.maxIterations {
		state.Iterations++

		if err := e.llmTurn(ctx, state, tools); err != nil {
			return state, err
		}

		last := state.lastMessage()
		if last == nil || len(last.ToolCalls) == 0 {
			e.finalAnswer(state)
			return state, nil
		}

		e.executeTools(ctx, state, last.ToolCalls)
	}

	// The model is still asking for tools; stop and surface the bound.
	e.logger.Warn("", "Workflow exceeded iteration bound", map[string]interface{}{
		"limit": e.maxIterations,
	})
	return state, &MaxIterationsError{Limit: e.maxIterations}
}

// listTools fetches the tool catalog once per run. A failed listing is
// degraded to an empty catalog so the agent can still answer directly.
func (e *Engine) listTools(ctx context.Context, state *AgentState) []llm.ToolSpec {
	if e.toolHost == nil {
		return nil
	}
	tools, err := e.toolHost.ListTools(ctx)
	if err != nil {
		e.logger.ErrorWithErr("", "Failed to list tools, continuing without", err, nil)
		return nil
	}
	return tools
}

// llmTurn runs one model call and appends the assistant message.
func (e *Engine) llmTurn(ctx context.Context, state *AgentState, tools []llm.ToolSpec) error {
	req := llm.GenerateRequest{
		Model:       e.model,
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	}

	if e.nativeTools {
		req.Messages = state.Messages
		req.Tools = tools
	} else if len(tools) > 0 {
		req.Messages = append([]llm.Message{
			{Role: llm.RoleSystem, Content: buildToolPrompt(tools)},
		}, state.Messages...)
	} else {
		req.Messages = state.Messages
	}

	resp, err := e.generator.Generate(ctx, req)
	if err != nil {
		e.logger.ErrorWithErr("", "Model turn failed", err, map[string]interface{}{
			"model":     e.model,
			"iteration": state.Iterations,
		})
		return err
	}

	assistant := llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	}

	detail := map[string]any{}
	if !e.nativeTools && len(assistant.ToolCalls) == 0 {
		name, args, found, parseErr := parseToolCall(resp.Content)
		if parseErr != nil {
			// Malformed marker degrades to a plain answer.
			detail["parse_error"] = parseErr.Error()
			e.logger.Warn("", "Tool call parse failed, treating as answer", map[string]interface{}{
				"error": parseErr.Error(),
			})
		} else if found {
			assistant.ToolCalls = []llm.ToolCall{{
				ID:        e.newCallID(),
				Name:      name,
				Arguments: args,
			}}
		}
	}
	detail["has_tool_calls"] = len(assistant.ToolCalls) > 0

	state.addMessage(assistant)
	state.addStep(NodeLLM, e.now(), detail)
	return nil
}

// executeTools runs every requested call concurrently and appends one
// tool message per call in request order. Failures become error-encoded
// tool content; the workflow always advances.
func (e *Engine) executeTools(ctx context.Context, state *AgentState, calls []llm.ToolCall) {
	results := make([]string, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			results[i] = e.callTool(ctx, call)
		}(i, call)
	}
	wg.Wait()

	executed := make([]map[string]any, 0, len(calls))
	for i, call := range calls {
		state.addMessage(llm.Message{
			Role:       llm.RoleTool,
			Content:    results[i],
			ToolCallID: call.ID,
			Name:       call.Name,
		})
		executed = append(executed, map[string]any{
			"name":   call.Name,
			"args":   call.Arguments,
			"result": results[i],
		})
	}

	state.addStep(NodeTools, e.now(), map[string]any{"tools": executed})
}

func (e *Engine) callTool(ctx context.Context, call llm.ToolCall) string {
	if e.toolHost == nil {
		return "Error: no tool host configured"
	}
	result, err := e.toolHost.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		e.logger.ErrorWithErr("", "Tool execution failed", err, map[string]interface{}{
			"tool": call.Name,
		})
		return "Error: " + err.Error()
	}
	return result
}

// finalAnswer scans backward for the latest assistant message with
// non-empty content. Tool-call-only assistant turns carry nothing worth
// surfacing, so they are skipped in favor of earlier prose; when no turn
// produced content at all, the fallback string stands.
func (e *Engine) finalAnswer(state *AgentState) {
	state.FinalAnswer = FallbackAnswer
	for i := len(state.Messages) - 1; i >= 0; i-- {
		msg := state.Messages[i]
		if msg.Role == llm.RoleAssistant && msg.Content != "" {
			state.FinalAnswer = msg.Content
			break
		}
	}
	state.addStep(NodeFinalAnswer, e.now(), nil)
}
