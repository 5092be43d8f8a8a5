package audit

import "civicline/internal/domain"

// Payload is the closed set of activity payload variants, one per action
// type. The action an activity row carries is always derived from its
// payload, never passed separately.
type Payload interface {
	Action() string
}

// FieldChange is one entry of a field-level diff between two snapshots of
// the same entity. Only fields that actually changed are recorded.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old,omitempty"`
	New   string `json:"new,omitempty"`
}

type EntityCreated struct {
	Subject string `json:"subject,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (EntityCreated) Action() string { return domain.ActionEntityCreate }

// EntityUpdated records a mutation that did not touch the status field.
type EntityUpdated struct {
	Changes []FieldChange `json:"changes"`
}

func (EntityUpdated) Action() string { return domain.ActionEntityUpdate }

// StatusChanged records a lifecycle transition, with the full diff of the
// mutation that carried it. Ledger-sensitive.
type StatusChanged struct {
	From    string        `json:"from"`
	To      string        `json:"to"`
	Changes []FieldChange `json:"changes,omitempty"`
	RuleID  string        `json:"rule_id,omitempty"`
}

func (StatusChanged) Action() string { return domain.ActionStatusChange }

// EntityDeleted records a tombstone. Ledger-sensitive.
type EntityDeleted struct {
	PriorStatus string `json:"prior_status"`
}

func (EntityDeleted) Action() string { return domain.ActionEntityDelete }

type AIProcessed struct {
	AgentID   string   `json:"agent_id"`
	AgentName string   `json:"agent_name,omitempty"`
	Actions   []string `json:"actions"`
}

func (AIProcessed) Action() string { return domain.ActionAIProcess }

type AIProcessFailed struct {
	AgentID    string `json:"agent_id"`
	ActionType string `json:"action_type"`
	Error      string `json:"error"`
}

func (AIProcessFailed) Action() string { return domain.ActionAIProcessFailed }

type AIProcessReport struct {
	AgentID   string   `json:"agent_id"`
	AgentName string   `json:"agent_name,omitempty"`
	Total     int      `json:"total"`
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Actions   []string `json:"actions"`
}

func (AIProcessReport) Action() string { return domain.ActionAIProcessReport }

// LedgerAnchored is appended by the anchorer once a blockchain record
// reaches a terminal status.
type LedgerAnchored struct {
	RecordID        string `json:"record_id"`
	Hash            string `json:"hash"`
	Status          string `json:"status"`
	TransactionHash string `json:"transaction_hash,omitempty"`
}

func (LedgerAnchored) Action() string { return domain.ActionBlockchainRecord }

// ledgerSensitive marks the payload kinds whose activities are anchored.
func ledgerSensitive(p Payload) bool {
	switch p.(type) {
	case StatusChanged, EntityDeleted:
		return true
	default:
		return false
	}
}
