package domain

// Request lifecycle statuses. Deleted is a tombstone; the audit history
// for a deleted request is retained.
const (
	StatusNew               = "new"
	StatusAssigned          = "assigned"
	StatusInProgress        = "in_progress"
	StatusWaitingInfo       = "waiting_info"
	StatusCompleted         = "completed"
	StatusRequiresAttention = "requires_attention"
	StatusDeleted           = "deleted"
)

// Activity action types.
const (
	ActionEntityCreate     = "entity_create"
	ActionEntityUpdate     = "entity_update"
	ActionEntityDelete     = "entity_delete"
	ActionAIProcess        = "ai_process"
	ActionAIProcessFailed  = "ai_process_failed"
	ActionAIProcessReport  = "ai_process_report"
	ActionStatusChange     = "status_change"
	ActionBlockchainRecord = "blockchain_record"
)

// Blockchain record statuses. A record is created pending and transitions
// exactly once to confirmed or failed.
const (
	LedgerPending   = "pending"
	LedgerConfirmed = "confirmed"
	LedgerFailed    = "failed"
)

type CitizenRequest struct {
	ID                   string  `json:"id"`
	Subject              string  `json:"subject"`
	Description          string  `json:"description,omitempty"`
	FullName             string  `json:"full_name,omitempty"`
	ContactInfo          string  `json:"contact_info,omitempty"`
	RequestType          string  `json:"request_type,omitempty"`
	Status               string  `json:"status" enum:"new,assigned,in_progress,waiting_info,completed,requires_attention,deleted"`
	Priority             string  `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	AssignedDepartmentID *string `json:"assigned_department_id,omitempty"`
	AssignedPositionID   *string `json:"assigned_position_id,omitempty"`
	AIProcessed          bool    `json:"aiProcessed"`
	AIClassification     string  `json:"aiClassification,omitempty"`
	AISuggestion         string  `json:"aiSuggestion,omitempty"`
	Summary              string  `json:"summary,omitempty"`
	ExternalID           string  `json:"external_id,omitempty"`
	ExternalSource       string  `json:"external_source,omitempty"`
	CreatedAt            string  `json:"created_at" format:"date-time"`
	UpdatedAt            string  `json:"updated_at" format:"date-time"`
}

// TaskRule maps request content to a department/position by keyword.
// Rules are edited out-of-band and treated as immutable during a single
// routing evaluation.
type TaskRule struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Keywords     []string `json:"keywords"`
	Priority     int      `json:"priority"`
	DepartmentID *string  `json:"department_id,omitempty"`
	PositionID   *string  `json:"position_id,omitempty"`
	IsActive     bool     `json:"is_active"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
}

// Agent is a configured AI processing profile. Read-only input to the
// dispatcher.
type Agent struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	Config    AgentConfig `json:"config"`
	IsActive  bool        `json:"is_active"`
	CreatedAt string      `json:"created_at" format:"date-time"`
}

type AgentConfig struct {
	Model        string   `json:"model,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// AgentResult is the immutable record of one agent invocation's output for
// one entity. One row per invocation per action.
type AgentResult struct {
	ID         string `json:"id"`
	AgentID    string `json:"agent_id"`
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
	ActionType string `json:"action_type"`
	Result     string `json:"result_json"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Activity is one append-only audit log entry. Rows are never mutated or
// deleted. Payload holds the JSON encoding of the typed payload variant
// for the action (see internal/audit).
type Activity struct {
	ID          int64  `json:"id"`
	Action      string `json:"action" enum:"entity_create,entity_update,entity_delete,ai_process,ai_process_failed,ai_process_report,status_change,blockchain_record"`
	RelatedID   string `json:"related_id,omitempty"`
	RelatedType string `json:"related_type"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
	Timestamp   string `json:"ts" format:"date-time"`
}

// BlockchainRecord anchors the content hash of a ledger-sensitive Activity.
type BlockchainRecord struct {
	ID              string  `json:"id"`
	EntityID        string  `json:"entity_id"`
	EntityType      string  `json:"entity_type"`
	Action          string  `json:"action"`
	Hash            string  `json:"hash"`
	TransactionHash *string `json:"transaction_hash,omitempty"`
	Status          string  `json:"status" enum:"pending,confirmed,failed"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	ConfirmedAt     *string `json:"confirmed_at,omitempty" format:"date-time"`
}

// Organizational hierarchy, consumed read-only by the routing engine.

type Department struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id,omitempty"`
}

type Position struct {
	ID           string `json:"id"`
	DepartmentID string `json:"department_id"`
	Title        string `json:"title"`
}

type Employee struct {
	ID         string `json:"id"`
	FullName   string `json:"full_name"`
	PositionID string `json:"position_id"`
	Email      string `json:"email,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
