// Package agent defines the runtime boundary the dispatcher invokes for
// AI-assisted processing. The runtime is an opaque fallible call: provider
// SDKs live behind the Runtime interface and never leak into the pipeline.
package agent

import (
	"context"

	"civicline/internal/domain"
)

// Dispatchable action types.
const (
	ActionClassification     = "classification"
	ActionSummarization      = "summarization"
	ActionResponseGeneration = "response_generation"
	ActionFull               = "full"
)

// SubActions lists the concrete actions "full" expands to, in execution
// order.
var SubActions = []string{ActionClassification, ActionSummarization, ActionResponseGeneration}

// ValidAction reports whether the action type is dispatchable.
func ValidAction(action string) bool {
	switch action {
	case ActionClassification, ActionSummarization, ActionResponseGeneration, ActionFull:
		return true
	}
	return false
}

// Result is the output of one runtime invocation. Fields are populated
// according to the action type; unused fields stay zero.
type Result struct {
	Classification string   `json:"classification,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	KeyPoints      []string `json:"key_points,omitempty"`
	ResponseText   string   `json:"response_text,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

// Runtime executes one action against request content with the agent's
// configuration. Any error (timeout, malformed output, rate limit) is
// returned as-is; the dispatcher owns failure handling.
type Runtime interface {
	Invoke(ctx context.Context, content, actionType string, cfg domain.AgentConfig) (Result, error)
}
