// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package gateway implements the ModelRelay LLM gateway: a single generate
// surface over a registry of provider adapters, with response caching,
// request metrics, and usage recording layered around every dispatch.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"modelrelay/platform/common/usage"
	"modelrelay/platform/gateway/cache"
	"modelrelay/platform/gateway/llm"
	"modelrelay/platform/shared/logger"
)

// usageRecordTimeout bounds the async usage insert so a stalled database
// cannot pile up goroutines.
const usageRecordTimeout = 5 * time.Second

// Gateway routes generate requests to registered providers. Cache,
// metrics, and usage recording are optional collaborators; a Gateway
// built with only a registry still dispatches correctly.
type Gateway struct {
	registry *llm.Registry
	cache    *cache.ResponseCache
	metrics  *MetricsCollector
	recorder *usage.Recorder
	logger   *logger.Logger
	now      func() time.Time
}

// DispatchResult carries the response plus the request-level facts the
// HTTP layer surfaces to clients.
type DispatchResult struct {
	Response  *llm.GenerateResponse
	RequestID string
	Cached    bool
	LatencyMs float64
	CostUSD   float64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCache attaches a response cache.
func WithCache(c *cache.ResponseCache) Option {
	return func(g *Gateway) { g.cache = c }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *MetricsCollector) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithUsageRecorder attaches a usage recorder for billing events.
func WithUsageRecorder(r *usage.Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithClock sets the clock used for latency measurement. Tests only.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a gateway over the given registry.
func New(registry *llm.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		registry: registry,
		logger:   logger.New("llm-gateway"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Registry exposes the underlying model registry for the HTTP layer.
func (g *Gateway) Registry() *llm.Registry {
	return g.registry
}

// Cache exposes the response cache, or nil when caching is off.
func (g *Gateway) Cache() *cache.ResponseCache {
	return g.cache
}

// Metrics exposes the metrics collector, or nil when not attached.
func (g *Gateway) Metrics() *MetricsCollector {
	return g.metrics
}

// Dispatch validates, serves from cache when possible, and otherwise
// routes the request to its provider. Registry lookup failures (unknown
// model, init failure) propagate without touching request metrics; only
// requests that reach a provider are counted.
func (g *Gateway) Dispatch(ctx context.Context, req llm.GenerateRequest) (*DispatchResult, error) {
	requestID := uuid.New().String()

	if err := llm.ValidateRequest(req); err != nil {
		return nil, err
	}

	if g.cache != nil {
		if resp := g.cache.Get(ctx, req); resp != nil {
			g.logger.Info(requestID, "Cache hit", map[string]interface{}{
				"model": req.Model,
			})
			if g.metrics != nil {
				g.metrics.Record(req.Model, resp.Usage.TotalTokens, 0, 0, true, false)
			}
			g.recordUsage(requestID, req.Model, "", resp, 0, 0, true, nil)
			return &DispatchResult{
				Response:  resp,
				RequestID: requestID,
				Cached:    true,
			}, nil
		}
	}

	provider, err := g.registry.Get(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	start := g.now()
	resp, err := provider.Generate(ctx, req)
	latencyMs := float64(g.now().Sub(start).Milliseconds())

	if err != nil {
		g.logger.ErrorWithErr(requestID, "Generate failed", err, map[string]interface{}{
			"model":  req.Model,
			"family": provider.Family(),
		})
		if g.metrics != nil {
			g.metrics.Record(req.Model, 0, 0, 0, false, true)
		}
		g.recordUsage(requestID, req.Model, provider.Family(), nil, 0, latencyMs, false, err)
		return nil, err
	}

	costUSD := provider.EstimateCost(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	if g.cache != nil {
		g.cache.Put(ctx, req, resp)
	}
	if g.metrics != nil {
		g.metrics.Record(req.Model, resp.Usage.TotalTokens, costUSD, latencyMs, false, false)
	}
	g.recordUsage(requestID, req.Model, provider.Family(), resp, costUSD, latencyMs, false, nil)

	g.logger.InfoWithDuration(requestID, "Request completed", latencyMs, map[string]interface{}{
		"model":         req.Model,
		"family":        provider.Family(),
		"total_tokens":  resp.Usage.TotalTokens,
		"finish_reason": resp.FinishReason,
	})

	return &DispatchResult{
		Response:  resp,
		RequestID: requestID,
		LatencyMs: latencyMs,
		CostUSD:   costUSD,
	}, nil
}

// recordUsage writes the billing event off the request path. Failures
// are logged inside the recorder and never affect the caller.
func (g *Gateway) recordUsage(requestID, model, family string, resp *llm.GenerateResponse, costUSD, latencyMs float64, cached bool, dispatchErr error) {
	if g.recorder == nil {
		return
	}

	event := usage.RequestEvent{
		RequestID: requestID,
		Model:     model,
		Family:    family,
		CostUSD:   costUSD,
		LatencyMs: int64(latencyMs),
		Cached:    cached,
		Status:    "success",
	}
	if resp != nil {
		event.InputTokens = resp.Usage.InputTokens
		event.OutputTokens = resp.Usage.OutputTokens
		event.TotalTokens = resp.Usage.TotalTokens
	}
	if dispatchErr != nil {
		event.Status = "error"
		event.ErrorMessage = dispatchErr.Error()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), usageRecordTimeout)
		defer cancel()
		_ = g.recorder.RecordRequest(ctx, event)
	}()
}
