// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"database/sql"
	"log"
)

// Recorder persists per-request usage events to PostgreSQL for billing and
// analytics. Recording is best-effort: callers invoke it asynchronously and a
// failed insert never blocks or fails the request that produced the event.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a usage recorder with a database connection
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// RequestEvent represents one completed generate request
type RequestEvent struct {
	RequestID    string
	Model        string // gateway model id, e.g. "claude-sonnet"
	Family       string // provider family, e.g. "anthropic"
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	LatencyMs    int64
	Cached       bool
	Status       string // "success" or "error"
	ErrorMessage string
}

// RecordRequest inserts a usage event row. Errors are logged and returned;
// callers running this in a goroutine typically only log.
func (r *Recorder) RecordRequest(ctx context.Context, event RequestEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO llm_usage_events (
			request_id, model, family, input_tokens, output_tokens,
			total_tokens, cost_usd, latency_ms, cached, status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, event.RequestID, event.Model, event.Family, event.InputTokens,
		event.OutputTokens, event.TotalTokens, event.CostUSD, event.LatencyMs,
		event.Cached, event.Status, nullString(event.ErrorMessage))

	if err != nil {
		log.Printf("[USAGE] Failed to record request event: %v", err)
	}

	return err
}

// nullString converts empty strings to SQL NULL
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
