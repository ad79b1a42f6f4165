// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package cache provides the fingerprint response cache for the ModelRelay
// gateway: deterministic content-addressed keys over generate requests, an
// in-memory LRU store with TTL, and an optional Redis-backed store.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"modelrelay/platform/gateway/llm"
)

// fingerprintPayload is the canonical representation hashed into a cache
// key. Field order is fixed by the struct; params is a map, which
// encoding/json serializes with sorted keys, so two requests that differ
// only in parameter insertion order produce identical bytes.
type fingerprintPayload struct {
	Model    string         `json:"model"`
	Messages []llm.Message  `json:"messages"`
	Params   map[string]any `json:"params"`
}

// Fingerprint derives the deterministic cache key for a request. The key
// covers the model, the full ordered message history, and every sampling
// parameter including tools and Extra entries; any semantic difference
// yields a different key up to SHA-256 collision probability.
// Extra is nested under its own key so a passthrough entry named like a
// first-class parameter cannot mask that parameter's real value.
func Fingerprint(req llm.GenerateRequest) (string, error) {
	params := map[string]any{
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		params["tools"] = req.Tools
	}
	if len(req.Extra) > 0 {
		params["extra"] = req.Extra
	}

	data, err := json.Marshal(fingerprintPayload{
		Model:    req.Model,
		Messages: req.Messages,
		Params:   params,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize request for fingerprinting: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
