// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"errors"
	"fmt"
)

// ValidationError indicates a request that failed validation before
// any provider was contacted. Maps to HTTP 400 at the API layer.
type ValidationError struct {
	// Field is the offending request field, if identifiable.
	Field string `json:"field,omitempty"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid request: %s", e.Message)
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ProviderError represents an error from an LLM provider.
// Adapters wrap upstream failures in this type so callers can
// branch on the code without parsing provider-specific messages.
type ProviderError struct {
	// Provider is the name of the provider that generated the error.
	Provider string `json:"provider"`

	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// StatusCode is the HTTP status code, if applicable.
	StatusCode int `json:"status_code,omitempty"`

	// Retryable indicates if the request can be retried.
	Retryable bool `json:"retryable"`

	// Cause is the underlying error, if any.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Common provider error codes.
const (
	// ErrCodeRateLimit indicates the provider rate limit was exceeded.
	ErrCodeRateLimit = "rate_limit"

	// ErrCodeAuth indicates authentication failure.
	ErrCodeAuth = "authentication_error"

	// ErrCodeInvalidRequest indicates the request was malformed.
	ErrCodeInvalidRequest = "invalid_request"

	// ErrCodeModelNotFound indicates the requested model doesn't exist.
	ErrCodeModelNotFound = "model_not_found"

	// ErrCodeContextLength indicates the context window was exceeded.
	ErrCodeContextLength = "context_length_exceeded"

	// ErrCodeContentFilter indicates content was filtered.
	ErrCodeContentFilter = "content_filter"

	// ErrCodeServerError indicates a provider-side server error.
	ErrCodeServerError = "server_error"

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = "timeout"

	// ErrCodeUnavailable indicates the provider is unavailable.
	ErrCodeUnavailable = "unavailable"
)

// NewProviderError creates a ProviderError with the given details.
// The Retryable flag is derived from the error code.
func NewProviderError(provider, code, message string, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  isRetryableCode(code),
		Cause:      cause,
	}
}

// isRetryableCode determines if an error code is retryable.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

// CodeFromStatus maps an HTTP status code from a provider API to a
// provider error code. Adapters share this mapping so equivalent
// upstream failures produce the same code regardless of family.
func CodeFromStatus(status int) string {
	switch {
	case status == 401 || status == 403:
		return ErrCodeAuth
	case status == 404:
		return ErrCodeModelNotFound
	case status == 408:
		return ErrCodeTimeout
	case status == 429:
		return ErrCodeRateLimit
	case status >= 500:
		return ErrCodeServerError
	default:
		return ErrCodeInvalidRequest
	}
}
