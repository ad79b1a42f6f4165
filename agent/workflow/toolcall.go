// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"modelrelay/platform/gateway/llm"
)

// Textual tool-call protocol markers. Models without native tool support
// are instructed to emit these two lines; anything else is a normal
// answer.
const (
	toolCallMarker  = "TOOL_CALL:"
	argumentsMarker = "ARGUMENTS:"
)

// buildToolPrompt renders the system instruction that teaches a model
// the textual tool protocol.
func buildToolPrompt(tools []llm.ToolSpec) string {
	var descriptions []string
	for _, tool := range tools {
		desc := tool.Description
		if desc == "" {
			desc = "No description"
		}
		info := fmt.Sprintf("- %s: %s", tool.Name, desc)
		if props, ok := tool.InputSchema["properties"]; ok {
			if encoded, err := json.Marshal(props); err == nil {
				info += fmt.Sprintf("\n  Parameters: %s", encoded)
			}
		}
		descriptions = append(descriptions, info)
	}

	return fmt.Sprintf(`You are a helpful AI assistant with access to the following tools:

%s

When you need to use a tool, respond with a tool call in this exact format:
TOOL_CALL: tool_name
ARGUMENTS: {"arg1": "value1", "arg2": "value2"}

If you don't need any tools, just respond normally to help the user.`, strings.Join(descriptions, "\n"))
}

// parseToolCall extracts a textual tool call from model output. Returns
// found=false when no marker is present (a normal answer). A marker with
// malformed arguments returns an error; callers degrade to no-tool and
// note the failure rather than aborting the run.
func parseToolCall(content string) (name string, args map[string]any, found bool, err error) {
	if !strings.Contains(content, toolCallMarker) {
		return "", nil, false, nil
	}

	args = map[string]any{}
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, toolCallMarker):
			name = strings.TrimSpace(strings.TrimPrefix(line, toolCallMarker))
		case strings.HasPrefix(line, argumentsMarker):
			raw := strings.TrimSpace(strings.TrimPrefix(line, argumentsMarker))
			if raw == "" {
				continue
			}
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return "", nil, false, fmt.Errorf("malformed tool arguments: %w", err)
			}
		}
	}

	if name == "" {
		return "", nil, false, fmt.Errorf("tool call marker present but no tool name")
	}
	return name, args, true, nil
}
