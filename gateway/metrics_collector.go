// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"math"
	"sync"
	"time"
)

// latencyWindow caps the rolling latency sample so a long-lived gateway
// reports recent behavior instead of an all-time average.
const latencyWindow = 1000

// MetricsCollector accumulates per-process request statistics for the
// gateway. It is independent of the Prometheus registry: this collector
// backs the JSON snapshot endpoints, which support reset, while the
// Prometheus counters are cumulative by design.
type MetricsCollector struct {
	mu sync.RWMutex

	totalRequests int64
	errors        int64
	cacheHits     int64
	cacheMisses   int64
	totalTokens   int64
	totalCostUSD  float64

	requestsByModel map[string]int64
	tokensByModel   map[string]int64
	costByModel     map[string]float64

	latencies []float64
	lastReset time.Time
	now       func() time.Time
}

// MetricsSnapshot is a point-in-time view of collected metrics.
type MetricsSnapshot struct {
	TotalRequests       int64              `json:"total_requests"`
	SuccessfulRequests  int64              `json:"successful_requests"`
	Errors              int64              `json:"errors"`
	ErrorRatePercent    float64            `json:"error_rate_percent"`
	CacheHits           int64              `json:"cache_hits"`
	CacheMisses         int64              `json:"cache_misses"`
	CacheHitRatePercent float64            `json:"cache_hit_rate_percent"`
	TotalTokens         int64              `json:"total_tokens"`
	TotalCostUSD        float64            `json:"total_cost_usd"`
	AverageLatencyMs    float64            `json:"average_latency_ms"`
	RequestsByModel     map[string]int64   `json:"requests_by_model"`
	TokensByModel       map[string]int64   `json:"tokens_by_model"`
	CostByModel         map[string]float64 `json:"cost_by_model"`
	LastReset           string             `json:"last_reset"`
	UptimeSeconds       float64            `json:"uptime_seconds"`
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	c := &MetricsCollector{now: time.Now}
	c.reset()
	return c
}

// Record accumulates one completed request. Error outcomes count toward
// totals and the error counter only; their tokens, cost, and latency are
// not meaningful and are not recorded.
func (c *MetricsCollector) Record(model string, tokens int, costUSD float64, latencyMs float64, cached, isError bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	if isError {
		c.errors++
		return
	}

	if cached {
		c.cacheHits++
	} else {
		c.cacheMisses++
	}

	c.totalTokens += int64(tokens)
	c.totalCostUSD += costUSD
	c.requestsByModel[model]++
	c.tokensByModel[model] += int64(tokens)
	c.costByModel[model] += costUSD

	c.latencies = append(c.latencies, latencyMs)
	if len(c.latencies) > latencyWindow {
		c.latencies = c.latencies[len(c.latencies)-latencyWindow:]
	}
}

// Snapshot returns current metrics. Maps are copied so callers can hold
// the snapshot without racing the collector.
func (c *MetricsCollector) Snapshot() MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	avgLatency := 0.0
	if len(c.latencies) > 0 {
		sum := 0.0
		for _, l := range c.latencies {
			sum += l
		}
		avgLatency = sum / float64(len(c.latencies))
	}

	errorRate := 0.0
	cacheHitRate := 0.0
	if c.totalRequests > 0 {
		errorRate = float64(c.errors) / float64(c.totalRequests) * 100
		cacheHitRate = float64(c.cacheHits) / float64(c.totalRequests) * 100
	}

	costByModel := make(map[string]float64, len(c.costByModel))
	for model, cost := range c.costByModel {
		costByModel[model] = round4(cost)
	}

	return MetricsSnapshot{
		TotalRequests:       c.totalRequests,
		SuccessfulRequests:  c.totalRequests - c.errors,
		Errors:              c.errors,
		ErrorRatePercent:    round2(errorRate),
		CacheHits:           c.cacheHits,
		CacheMisses:         c.cacheMisses,
		CacheHitRatePercent: round2(cacheHitRate),
		TotalTokens:         c.totalTokens,
		TotalCostUSD:        round4(c.totalCostUSD),
		AverageLatencyMs:    round2(avgLatency),
		RequestsByModel:     copyInt64Map(c.requestsByModel),
		TokensByModel:       copyInt64Map(c.tokensByModel),
		CostByModel:         costByModel,
		LastReset:           c.lastReset.UTC().Format(time.RFC3339),
		UptimeSeconds:       round2(c.now().Sub(c.lastReset).Seconds()),
	}
}

// Reset zeroes all counters and restarts the uptime clock.
func (c *MetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *MetricsCollector) reset() {
	c.totalRequests = 0
	c.errors = 0
	c.cacheHits = 0
	c.cacheMisses = 0
	c.totalTokens = 0
	c.totalCostUSD = 0
	c.requestsByModel = make(map[string]int64)
	c.tokensByModel = make(map[string]int64)
	c.costByModel = make(map[string]float64)
	c.latencies = nil
	c.lastReset = c.now()
}

func copyInt64Map(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
