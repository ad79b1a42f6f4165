// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"modelrelay/platform/agent/workflow"
	"modelrelay/platform/gateway/llm"
	"modelrelay/platform/shared/logger"
)

// GatewayClient is the slice of the gateway client the handlers need.
type GatewayClient interface {
	workflow.Generator
	SupportsNativeTools(ctx context.Context, model string) bool
	IsHealthy(ctx context.Context) bool
}

// APIHandlers serves the agent HTTP API.
type APIHandlers struct {
	cfg      Config
	gateway  GatewayClient
	toolHost workflow.ToolHost
	logger   *logger.Logger
	now      func() time.Time
}

// NewAPIHandlers creates the handler set. toolHost may be nil.
func NewAPIHandlers(cfg Config, gateway GatewayClient, toolHost workflow.ToolHost) *APIHandlers {
	return &APIHandlers{
		cfg:      cfg,
		gateway:  gateway,
		toolHost: toolHost,
		logger:   logger.New("agent-api"),
		now:      time.Now,
	}
}

// chatRequest is the POST /api/v1/chat body.
type chatRequest struct {
	Message       string `json:"message"`
	Model         string `json:"model,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// chatResponse is the successful chat reply.
type chatResponse struct {
	RequestID  string                `json:"request_id"`
	Answer     string                `json:"answer"`
	Iterations int                   `json:"iterations"`
	Steps      []workflow.StepRecord `json:"steps"`
	DurationMs float64               `json:"duration_ms"`
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HealthHandler reports service and dependency liveness.
func (h *APIHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"service":         "agent",
		"gateway_healthy": h.gateway.IsHealthy(r.Context()),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

// ChatHandler runs one workflow turn for a chat message.
func (h *APIHandlers) ChatHandler(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "message is required")
		return
	}

	model := body.Model
	if model == "" {
		model = h.cfg.DefaultModel
	}
	maxIterations := h.cfg.MaxIterations
	if body.MaxIterations > 0 {
		maxIterations = body.MaxIterations
	}

	engine := workflow.NewEngine(h.gateway, h.toolHost, model,
		workflow.WithTemperature(h.cfg.Temperature),
		workflow.WithMaxTokens(h.cfg.MaxTokens),
		workflow.WithMaxIterations(maxIterations),
		workflow.WithNativeTools(h.gateway.SupportsNativeTools(r.Context(), model)),
	)

	start := h.now()
	state, err := engine.Run(r.Context(), body.Message)
	durationMs := float64(h.now().Sub(start).Milliseconds())
	observeChat(err, durationMs)

	if err != nil {
		h.writeRunError(w, requestID, state, err)
		return
	}

	h.logger.InfoWithDuration(requestID, "Chat completed", durationMs, map[string]interface{}{
		"model":      model,
		"iterations": state.Iterations,
	})

	writeJSON(w, http.StatusOK, chatResponse{
		RequestID:  requestID,
		Answer:     state.FinalAnswer,
		Iterations: state.Iterations,
		Steps:      state.Steps,
		DurationMs: durationMs,
	})
}

// writeRunError maps workflow failures onto HTTP statuses. The iteration
// bound carries the audit trail so callers can see what the model kept
// asking for.
func (h *APIHandlers) writeRunError(w http.ResponseWriter, requestID string, state *workflow.AgentState, err error) {
	var maxErr *workflow.MaxIterationsError
	if errors.As(err, &maxErr) {
		h.logger.Warn(requestID, "Workflow hit iteration bound", map[string]interface{}{
			"limit": maxErr.Limit,
		})
		body := map[string]any{
			"request_id": requestID,
			"error": map[string]any{
				"code":    "max_iterations",
				"message": maxErr.Error(),
			},
		}
		if state != nil {
			body["iterations"] = state.Iterations
			body["steps"] = state.Steps
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
		return
	}

	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		writeError(w, http.StatusBadGateway, provErr.Code, provErr.Message)
		return
	}
	var valErr *llm.ValidationError
	if errors.As(err, &valErr) {
		writeError(w, http.StatusBadRequest, "validation_error", valErr.Error())
		return
	}

	h.logger.ErrorWithErr(requestID, "Chat failed", err, nil)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}
