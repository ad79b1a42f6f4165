// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
)

// Provider is the unified interface for all model adapters.
// Implementations must be safe for concurrent use.
//
// Minimal implementation requires Name(), Family(), and Generate().
// EstimateCost may return 0 when pricing is unknown.
type Provider interface {
	// Name returns the registry identifier for this model.
	// This is used for routing, logging, and metrics.
	// Example: "claude-sonnet", "gpt-4o"
	Name() string

	// Family returns the provider family (e.g. "anthropic", "openai").
	// This identifies the underlying adapter implementation.
	Family() string

	// Description returns a human-readable summary for discovery.
	Description() string

	// Generate produces a completion for the given request.
	// The context should be used for cancellation and timeout.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// EstimateCost returns the estimated USD cost for the given
	// token counts. Returns 0 if no pricing is known.
	EstimateCost(inputTokens, outputTokens int) float64

	// SupportsNativeTools indicates whether the adapter translates
	// tool specs into the provider's structured tool-call API.
	// Adapters without native support rely on textual tool protocols
	// layered above this package.
	SupportsNativeTools() bool
}

// ModelConfig contains configuration for registering a model.
// This is the unified format stored in the database and in
// models.yaml bootstrap files.
type ModelConfig struct {
	// Name is the unique registry identifier for this model.
	Name string `json:"name" yaml:"name"`

	// Family identifies the adapter implementation to use.
	Family string `json:"family" yaml:"family"`

	// Description is a human-readable summary shown in listings.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// APIKey is the authentication key for the provider API.
	// For AWS Bedrock, this may be empty (uses IAM).
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// APIKeySecretARN is the AWS Secrets Manager ARN for the API key.
	// Used instead of APIKey for production deployments.
	APIKeySecretARN string `json:"api_key_secret_arn,omitempty" yaml:"api_key_secret_arn,omitempty"`

	// Endpoint is the API endpoint URL.
	// If empty, adapter defaults are used.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Model is the provider-side model identifier
	// (e.g. "claude-sonnet-4-5-20250929" behind the name "claude-sonnet").
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Region is the cloud region (for AWS Bedrock).
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Enabled indicates if this model is available for dispatch.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// TimeoutSeconds is the request timeout (0 = adapter default).
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`

	// Settings contains adapter-specific configuration.
	Settings map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Copy returns a deep copy of the config so callers cannot mutate
// registry-held state through retained references.
func (c *ModelConfig) Copy() *ModelConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.Settings != nil {
		out.Settings = make(map[string]any, len(c.Settings))
		for k, v := range c.Settings {
			out.Settings[k] = v
		}
	}
	return &out
}
