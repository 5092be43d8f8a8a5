// Package routing decides which organizational unit a citizen request
// belongs to. Route is a pure function over an immutable rule snapshot:
// identical inputs always produce identical decisions.
package routing

import (
	"fmt"
	"strings"

	"civicline/internal/domain"
)

// Decision is the outcome of one rule evaluation. An unmatched request is
// a valid decision (Assigned=false), never an error.
type Decision struct {
	Assigned     bool    `json:"assigned"`
	RuleID       string  `json:"rule_id,omitempty"`
	DepartmentID string  `json:"department_id,omitempty"`
	PositionID   *string `json:"position_id,omitempty"`
}

// RuleEvaluationWarning reports one malformed rule that was skipped.
// A bad rule never blocks routing; evaluation continues over the rest of
// the snapshot.
type RuleEvaluationWarning struct {
	RuleID string `json:"rule_id"`
	Reason string `json:"reason"`
}

func (w RuleEvaluationWarning) Error() string {
	return fmt.Sprintf("rule %s skipped: %s", w.RuleID, w.Reason)
}

// Route matches the request against the rule snapshot. Inactive rules are
// discarded. A rule matches when any of its keywords occurs as a
// case-insensitive substring of subject + " " + description. Among matches
// the highest priority wins; ties break to the earliest created rule, then
// the smallest id, so the decision is deterministic.
func Route(req domain.CitizenRequest, rules []domain.TaskRule) (Decision, []RuleEvaluationWarning) {
	text := strings.ToLower(req.Subject + " " + req.Description)
	var warnings []RuleEvaluationWarning
	var best *domain.TaskRule
	for i := range rules {
		rule := &rules[i]
		if !rule.IsActive {
			continue
		}
		if rule.DepartmentID == nil || *rule.DepartmentID == "" {
			warnings = append(warnings, RuleEvaluationWarning{RuleID: rule.ID, Reason: "missing department_id"})
			continue
		}
		if !matches(text, rule.Keywords) {
			continue
		}
		if best == nil || wins(rule, best) {
			best = rule
		}
	}
	if best == nil {
		return Decision{}, warnings
	}
	return Decision{
		Assigned:     true,
		RuleID:       best.ID,
		DepartmentID: *best.DepartmentID,
		PositionID:   best.PositionID,
	}, warnings
}

func matches(text string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func wins(candidate, current *domain.TaskRule) bool {
	if candidate.Priority != current.Priority {
		return candidate.Priority > current.Priority
	}
	if candidate.CreatedAt != current.CreatedAt {
		return candidate.CreatedAt < current.CreatedAt
	}
	return candidate.ID < current.ID
}
