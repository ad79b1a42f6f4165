// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"fmt"
)

// ValidateRequest checks a GenerateRequest before any provider work.
// Returns a *ValidationError describing the first violation found.
func ValidateRequest(req GenerateRequest) error {
	if req.Model == "" {
		return NewValidationError("model", "model is required")
	}
	if len(req.Messages) == 0 {
		return NewValidationError("messages", "at least one message is required")
	}
	if err := ValidateMessages(req.Messages); err != nil {
		return err
	}
	if req.Temperature < 0.0 || req.Temperature > 1.0 {
		return NewValidationError("temperature", fmt.Sprintf("must be between 0.0 and 1.0, got %g", req.Temperature))
	}
	if req.MaxTokens <= 0 {
		return NewValidationError("max_tokens", fmt.Sprintf("must be positive, got %d", req.MaxTokens))
	}
	return nil
}

// ValidateMessages checks conversation structure rules shared by all
// adapters. Assistant messages may have empty content when they carry
// tool calls; every other role requires content.
func ValidateMessages(messages []Message) error {
	for i, msg := range messages {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		default:
			return NewValidationError(
				fmt.Sprintf("messages[%d].role", i),
				fmt.Sprintf("unknown role %q", msg.Role),
			)
		}
		if msg.Role != RoleAssistant && msg.Content == "" {
			return NewValidationError(
				fmt.Sprintf("messages[%d].content", i),
				"content is required",
			)
		}
		if msg.Role == RoleTool && msg.ToolCallID == "" {
			return NewValidationError(
				fmt.Sprintf("messages[%d].tool_call_id", i),
				"tool messages must reference the call they answer",
			)
		}
	}
	return nil
}
