// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

/*
Package usage provides model price tables and usage event recording for the
ModelRelay gateway.

Pricing is a static table in cents per 1M tokens keyed by family-model;
CostUSD converts token counts into an estimated dollar cost and falls back to
conservative default pricing for unknown models:

	cost := usage.CostUSD("anthropic", "claude-sonnet-4-5", 1200, 300)

Recording persists one row per completed generate request when the gateway is
configured with a database:

	recorder := usage.NewRecorder(db)
	_ = recorder.RecordRequest(ctx, usage.RequestEvent{
	    RequestID:   "req-123",
	    Model:       "claude-sonnet",
	    Family:      "anthropic",
	    TotalTokens: 1500,
	    CostUSD:     0.0081,
	    LatencyMs:   840,
	    Status:      "success",
	})

Recording is best-effort and must never sit on the request path; the gateway
invokes it from a goroutine after responding.
*/
package usage
