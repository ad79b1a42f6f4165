// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"modelrelay/platform/gateway/llm"
	"modelrelay/platform/shared/logger"
)

// Request defaults applied when the client omits sampling parameters.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// APIHandlers serves the gateway HTTP API.
type APIHandlers struct {
	gateway *Gateway
	logger  *logger.Logger
}

// NewAPIHandlers creates the handler set for a gateway.
func NewAPIHandlers(gw *Gateway) *APIHandlers {
	return &APIHandlers{
		gateway: gw,
		logger:  logger.New("gateway-api"),
	}
}

// generateRequest is the POST /api/v1/generate body.
type generateRequest struct {
	Model       string         `json:"model"`
	Messages    []llm.Message  `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Tools       []llm.ToolSpec `json:"tools,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// generateResponse wraps the model response with request-level facts.
type generateResponse struct {
	RequestID string  `json:"request_id"`
	Cached    bool    `json:"cached"`
	LatencyMs float64 `json:"latency_ms"`
	*llm.GenerateResponse
}

// errorBody is the JSON error envelope for all endpoints.
type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable,omitempty"`
	} `json:"error"`
}

// HealthHandler reports service liveness and catalog size.
func (h *APIHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "llm-gateway",
		"models":    h.gateway.Registry().Count(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GenerateHandler dispatches a generate request to its provider.
func (h *APIHandlers) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON", false)
		return
	}

	req := llm.GenerateRequest{
		Model:       body.Model,
		Messages:    body.Messages,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Tools:       body.Tools,
		Extra:       body.Extra,
	}
	if body.Temperature != nil {
		req.Temperature = *body.Temperature
	}
	if body.MaxTokens != nil {
		req.MaxTokens = *body.MaxTokens
	}

	start := time.Now()
	result, err := h.gateway.Dispatch(r.Context(), req)
	observeRequest(req.Model, err, time.Since(start))

	if err != nil {
		h.writeDispatchError(w, req.Model, err)
		return
	}

	if result.Cached {
		promCacheLookups.WithLabelValues("hit").Inc()
	} else if h.gateway.Cache() != nil {
		promCacheLookups.WithLabelValues("miss").Inc()
	}

	writeJSON(w, http.StatusOK, generateResponse{
		RequestID:        result.RequestID,
		Cached:           result.Cached,
		LatencyMs:        result.LatencyMs,
		GenerateResponse: result.Response,
	})
}

// ModelsHandler lists every model that can currently serve requests.
func (h *APIHandlers) ModelsHandler(w http.ResponseWriter, r *http.Request) {
	models := h.gateway.Registry().ListAvailable(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"models": models,
		"count":  len(models),
	})
}

// MetricsHandler returns the JSON metrics snapshot.
func (h *APIHandlers) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if h.gateway.Metrics() == nil {
		writeError(w, http.StatusNotFound, "metrics_disabled", "metrics collection is not enabled", false)
		return
	}
	writeJSON(w, http.StatusOK, h.gateway.Metrics().Snapshot())
}

// MetricsResetHandler zeroes the snapshot counters.
func (h *APIHandlers) MetricsResetHandler(w http.ResponseWriter, r *http.Request) {
	if h.gateway.Metrics() == nil {
		writeError(w, http.StatusNotFound, "metrics_disabled", "metrics collection is not enabled", false)
		return
	}
	h.gateway.Metrics().Reset()
	h.logger.Info("", "Metrics reset", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

// CacheStatsHandler reports cache effectiveness.
func (h *APIHandlers) CacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	if h.gateway.Cache() == nil {
		writeError(w, http.StatusNotFound, "cache_disabled", "response caching is not enabled", false)
		return
	}
	writeJSON(w, http.StatusOK, h.gateway.Cache().Stats(r.Context()))
}

// CacheClearHandler drops every cached response.
func (h *APIHandlers) CacheClearHandler(w http.ResponseWriter, r *http.Request) {
	if h.gateway.Cache() == nil {
		writeError(w, http.StatusNotFound, "cache_disabled", "response caching is not enabled", false)
		return
	}
	if err := h.gateway.Cache().Purge(r.Context()); err != nil {
		h.logger.ErrorWithErr("", "Cache purge failed", err, nil)
		writeError(w, http.StatusInternalServerError, "cache_error", "failed to clear cache", true)
		return
	}
	h.logger.Info("", "Cache cleared", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

// writeDispatchError maps the error taxonomy onto HTTP statuses.
func (h *APIHandlers) writeDispatchError(w http.ResponseWriter, model string, err error) {
	var valErr *llm.ValidationError
	if errors.As(err, &valErr) {
		writeError(w, http.StatusBadRequest, "validation_error", valErr.Error(), false)
		return
	}

	var regErr *llm.RegistryError
	if errors.As(err, &regErr) {
		status := http.StatusBadRequest
		switch regErr.Code {
		case llm.ErrRegistryUnknownModel:
			status = http.StatusNotFound
		case llm.ErrRegistryDuplicate:
			status = http.StatusConflict
		case llm.ErrRegistryInitFailed:
			status = http.StatusBadGateway
		}
		writeError(w, status, regErr.Code, regErr.Error(), false)
		return
	}

	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		promProviderErrors.WithLabelValues(provErr.Code).Inc()
		writeError(w, http.StatusBadGateway, provErr.Code, provErr.Message, provErr.Retryable)
		return
	}

	h.logger.ErrorWithErr("", "Unclassified dispatch error", err, map[string]interface{}{
		"model": model,
	})
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", false)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string, retryable bool) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	body.Error.Retryable = retryable
	writeJSON(w, status, body)
}
