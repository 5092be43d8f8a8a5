package dispatch

import "fmt"

// ProcessingError marks a runtime failure for one request. The request
// itself is left untouched apart from its ai_process_failed activity.
type ProcessingError struct {
	RequestID string
	AgentID   string
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("agent %s failed on request %s: %v", e.AgentID, e.RequestID, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
