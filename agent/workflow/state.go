// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package workflow implements the agent's tool-use loop: a small state
// machine that alternates between model turns and tool execution until
// the model produces a final answer or the iteration bound is hit.
package workflow

import (
	"time"

	"modelrelay/platform/gateway/llm"
)

// Node names recorded in step records.
const (
	NodeProcessInput = "process_input"
	NodeLLM          = "llm"
	NodeTools        = "tools"
	NodeFinalAnswer  = "final_answer"
)

// AgentState is the working state of one workflow run. A run owns its
// state exclusively; nothing is shared between runs.
type AgentState struct {
	// UserInput is the original user message.
	UserInput string `json:"user_input"`

	// Messages is the conversation accumulated across the run.
	Messages []llm.Message `json:"messages"`

	// Steps is the append-only audit trail of node executions.
	Steps []StepRecord `json:"steps"`

	// FinalAnswer is the extracted answer, set by the final_answer node.
	FinalAnswer string `json:"final_answer"`

	// Iterations is how many model turns the run used.
	Iterations int `json:"iterations"`
}

// StepRecord documents one node execution.
type StepRecord struct {
	Node      string         `json:"node"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

func (s *AgentState) addStep(node string, ts time.Time, detail map[string]any) {
	s.Steps = append(s.Steps, StepRecord{Node: node, Timestamp: ts, Detail: detail})
}

func (s *AgentState) addMessage(msg llm.Message) {
	s.Messages = append(s.Messages, msg)
}

// lastMessage returns the most recent message, or nil.
func (s *AgentState) lastMessage() *llm.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}
