// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrelay/platform/gateway/cache"
	"modelrelay/platform/gateway/llm"
)

// stubProvider is a scriptable provider for dispatch tests.
type stubProvider struct {
	name       string
	family     string
	generateFn func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error)

	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Name() string              { return p.name }
func (p *stubProvider) Family() string            { return p.family }
func (p *stubProvider) Description() string       { return "stub" }
func (p *stubProvider) SupportsNativeTools() bool { return false }

func (p *stubProvider) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens+outputTokens) / 1_000_000
}

func (p *stubProvider) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.generateFn != nil {
		return p.generateFn(ctx, req)
	}
	return &llm.GenerateResponse{
		Content:      "Four.",
		Model:        p.name,
		FinishReason: llm.FinishReasonStop,
		Usage:        llm.UsageStats{InputTokens: 8, OutputTokens: 2, TotalTokens: 10},
	}, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// newTestGateway wires a gateway around a single stub model.
func newTestGateway(t *testing.T, provider *stubProvider, opts ...Option) *Gateway {
	t.Helper()

	fm := llm.NewFactoryManager()
	require.NoError(t, fm.Register(provider.family, func(cfg llm.ModelConfig) (llm.Provider, error) {
		return provider, nil
	}))

	registry := llm.NewRegistry(llm.WithFactoryManager(fm))
	require.NoError(t, registry.Register(context.Background(), &llm.ModelConfig{
		Name:   provider.name,
		Family: provider.family,
		APIKey: "test-key",
	}))

	return New(registry, opts...)
}

func dispatchRequest(model string) llm.GenerateRequest {
	return llm.GenerateRequest{
		Model:       model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "What is 2+2?"}},
		Temperature: 0.7,
		MaxTokens:   100,
	}
}

func TestDispatch_Success(t *testing.T) {
	provider := &stubProvider{name: "claude-sonnet", family: llm.FamilyAnthropic}
	metrics := NewMetricsCollector()
	gw := newTestGateway(t, provider, WithMetrics(metrics))

	result, err := gw.Dispatch(context.Background(), dispatchRequest("claude-sonnet"))

	require.NoError(t, err)
	assert.Equal(t, "Four.", result.Response.Content)
	assert.NotEmpty(t, result.RequestID)
	assert.False(t, result.Cached)
	assert.InDelta(t, 10.0/1_000_000, result.CostUSD, 1e-9)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, int64(10), snap.TotalTokens)
	assert.Zero(t, snap.Errors)
}

func TestDispatch_ValidationRejectedBeforeProvider(t *testing.T) {
	provider := &stubProvider{name: "claude-sonnet", family: llm.FamilyAnthropic}
	metrics := NewMetricsCollector()
	gw := newTestGateway(t, provider, WithMetrics(metrics))

	_, err := gw.Dispatch(context.Background(), llm.GenerateRequest{
		Model:     "claude-sonnet",
		MaxTokens: 100,
	})

	assert.True(t, llm.IsValidationError(err))
	assert.Zero(t, provider.callCount())
	assert.Zero(t, metrics.Snapshot().TotalRequests)
}

func TestDispatch_UnknownModelNotCounted(t *testing.T) {
	provider := &stubProvider{name: "claude-sonnet", family: llm.FamilyAnthropic}
	metrics := NewMetricsCollector()
	gw := newTestGateway(t, provider, WithMetrics(metrics))

	_, err := gw.Dispatch(context.Background(), dispatchRequest("no-such-model"))

	assert.True(t, llm.IsUnknownModel(err))
	assert.Zero(t, metrics.Snapshot().TotalRequests)
}

func TestDispatch_ProviderErrorRecorded(t *testing.T) {
	provider := &stubProvider{
		name:   "claude-sonnet",
		family: llm.FamilyAnthropic,
		generateFn: func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
			return nil, llm.NewProviderError("claude-sonnet", llm.ErrCodeRateLimit, "throttled", 429, nil)
		},
	}
	metrics := NewMetricsCollector()
	gw := newTestGateway(t, provider, WithMetrics(metrics))

	_, err := gw.Dispatch(context.Background(), dispatchRequest("claude-sonnet"))

	var provErr *llm.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, llm.ErrCodeRateLimit, provErr.Code)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.Errors)
	assert.Zero(t, snap.TotalTokens)
}

func TestDispatch_CacheHitSkipsProvider(t *testing.T) {
	provider := &stubProvider{name: "claude-sonnet", family: llm.FamilyAnthropic}
	metrics := NewMetricsCollector()
	responseCache := cache.New(cache.NewMemoryStore(10, time.Hour), true)
	gw := newTestGateway(t, provider, WithMetrics(metrics), WithCache(responseCache))

	req := dispatchRequest("claude-sonnet")

	first, err := gw.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := gw.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Response.Content, second.Response.Content)
	assert.Zero(t, second.CostUSD)
	assert.Equal(t, 1, provider.callCount())

	snap := metrics.Snapshot()
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.InDelta(t, 50.0, snap.CacheHitRatePercent, 0.01)
}

func TestDispatch_DifferentParamsMissCache(t *testing.T) {
	provider := &stubProvider{name: "claude-sonnet", family: llm.FamilyAnthropic}
	responseCache := cache.New(cache.NewMemoryStore(10, time.Hour), true)
	gw := newTestGateway(t, provider, WithCache(responseCache))

	req := dispatchRequest("claude-sonnet")
	_, err := gw.Dispatch(context.Background(), req)
	require.NoError(t, err)

	req.Temperature = 0.2
	result, err := gw.Dispatch(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.Cached)
	assert.Equal(t, 2, provider.callCount())
}

func TestDispatch_ProviderErrorNotCached(t *testing.T) {
	failing := true
	provider := &stubProvider{
		name:   "claude-sonnet",
		family: llm.FamilyAnthropic,
		generateFn: func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
			if failing {
				return nil, llm.NewProviderError("claude-sonnet", llm.ErrCodeServerError, "boom", 500, nil)
			}
			return &llm.GenerateResponse{
				Content:      "recovered",
				Model:        "claude-sonnet",
				FinishReason: llm.FinishReasonStop,
			}, nil
		},
	}
	responseCache := cache.New(cache.NewMemoryStore(10, time.Hour), true)
	gw := newTestGateway(t, provider, WithCache(responseCache))

	req := dispatchRequest("claude-sonnet")
	_, err := gw.Dispatch(context.Background(), req)
	require.Error(t, err)

	failing = false
	result, err := gw.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, "recovered", result.Response.Content)
}

func TestDispatch_LatencyMeasured(t *testing.T) {
	provider := &stubProvider{name: "claude-sonnet", family: llm.FamilyAnthropic}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(250 * time.Millisecond)}
	i := 0
	clock := func() time.Time {
		t := ticks[i%len(ticks)]
		i++
		return t
	}

	gw := newTestGateway(t, provider, WithClock(clock))

	result, err := gw.Dispatch(context.Background(), dispatchRequest("claude-sonnet"))
	require.NoError(t, err)
	assert.InDelta(t, 250.0, result.LatencyMs, 0.01)
}
