package server

import (
	"encoding/json"

	"civicline/internal/dispatch"
	"civicline/internal/domain"
	"civicline/internal/routing"
)

// Wire DTOs. Requests keep camelCase AI field names for compatibility with
// existing intake integrations.

type CreateRequestBody struct {
	ID             *string `json:"id,omitempty"`
	Subject        string  `json:"subject"`
	Description    *string `json:"description,omitempty"`
	FullName       *string `json:"full_name,omitempty"`
	ContactInfo    *string `json:"contact_info,omitempty"`
	RequestType    *string `json:"request_type,omitempty"`
	Priority       *string `json:"priority,omitempty"`
	ExternalID     *string `json:"external_id,omitempty"`
	ExternalSource *string `json:"external_source,omitempty"`
}

type UpdateRequestBody struct {
	Subject     *string `json:"subject,omitempty"`
	Description *string `json:"description,omitempty"`
	FullName    *string `json:"full_name,omitempty"`
	ContactInfo *string `json:"contact_info,omitempty"`
	Priority    *string `json:"priority,omitempty"`
}

type TransitionBody struct {
	Status string `json:"status"`
}

type RuleBody struct {
	ID           *string  `json:"id,omitempty"`
	Name         string   `json:"name"`
	Description  *string  `json:"description,omitempty"`
	Keywords     []string `json:"keywords"`
	Priority     int      `json:"priority"`
	DepartmentID *string  `json:"department_id,omitempty"`
	PositionID   *string  `json:"position_id,omitempty"`
	IsActive     *bool    `json:"is_active,omitempty"`
}

type AgentBody struct {
	ID       *string             `json:"id,omitempty"`
	Name     string              `json:"name"`
	Type     *string             `json:"type,omitempty"`
	Config   *domain.AgentConfig `json:"config,omitempty"`
	IsActive *bool               `json:"is_active,omitempty"`
}

type ProcessBody struct {
	AgentID        string `json:"agent_id"`
	ActionType     string `json:"action_type,omitempty"`
	ForceReprocess bool   `json:"force_reprocess,omitempty"`
}

type ProcessBatchBody struct {
	RequestIDs     []string `json:"request_ids"`
	AgentID        string   `json:"agent_id"`
	AutoClassify   bool     `json:"auto_classify,omitempty"`
	AutoRespond    bool     `json:"auto_respond,omitempty"`
	ForceReprocess bool     `json:"force_reprocess,omitempty"`
}

type RouteResponse struct {
	Request  domain.CitizenRequest          `json:"request"`
	Decision routing.Decision               `json:"decision"`
	Warnings []routing.RuleEvaluationWarning `json:"warnings,omitempty"`
}

type ProcessResponse struct {
	Result  dispatch.RequestResult `json:"result"`
	Request domain.CitizenRequest  `json:"request"`
}

// ActivityResponse carries the decoded payload alongside the raw row.
type ActivityResponse struct {
	ID          int64           `json:"id"`
	Action      string          `json:"action"`
	RelatedID   string          `json:"related_id,omitempty"`
	RelatedType string          `json:"related_type"`
	ActorID     string          `json:"actor_id"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   string          `json:"ts"`
}

func activityResponse(a domain.Activity) ActivityResponse {
	return ActivityResponse{
		ID:          a.ID,
		Action:      a.Action,
		RelatedID:   a.RelatedID,
		RelatedType: a.RelatedType,
		ActorID:     a.ActorID,
		Payload:     json.RawMessage(a.Payload),
		Timestamp:   a.Timestamp,
	}
}

func mapActivities(items []domain.Activity) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(items))
	for _, a := range items {
		out = append(out, activityResponse(a))
	}
	return out
}
