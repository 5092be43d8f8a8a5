package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"civicline/internal/audit"
	"civicline/internal/domain"
	"civicline/internal/repo"
	"civicline/internal/routing"
)

// Engine is the lifecycle controller. Every mutation of a citizen request
// flows through here: it enforces the status transition table, computes the
// field diff against the previous snapshot, and appends exactly one audit
// activity in the same transaction as the write.
type Engine struct {
	DB    *sql.DB
	Repo  repo.Repo
	Audit audit.Recorder
	Now   func() time.Time
}

func New(db *sql.DB, anchorer *audit.Anchorer) Engine {
	return Engine{
		DB:    db,
		Repo:  repo.Repo{DB: db},
		Audit: audit.Recorder{Anchorer: anchorer},
		Now:   time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// recorder returns a per-operation audit recorder with the engine clock
// applied. Each operation flushes its own recorder after commit.
func (e Engine) recorder() *audit.Recorder {
	rec := e.Audit
	if rec.Now == nil {
		rec.Now = e.Now
	}
	return &rec
}

// RequestCreateOptions are the intake parameters for a citizen request.
type RequestCreateOptions struct {
	ID             string
	Subject        string
	Description    string
	FullName       string
	ContactInfo    string
	RequestType    string
	Priority       string
	ExternalID     string
	ExternalSource string
	ActorID        string
}

func (e Engine) CreateRequest(ctx context.Context, opts RequestCreateOptions) (domain.CitizenRequest, error) {
	if opts.Subject == "" {
		return domain.CitizenRequest{}, errors.New("subject is required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowString()
	cr := domain.CitizenRequest{
		ID:             id,
		Subject:        opts.Subject,
		Description:    opts.Description,
		FullName:       opts.FullName,
		ContactInfo:    opts.ContactInfo,
		RequestType:    opts.RequestType,
		Status:         domain.StatusNew,
		Priority:       opts.Priority,
		ExternalID:     opts.ExternalID,
		ExternalSource: opts.ExternalSource,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CitizenRequest{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRequest(ctx, tx, cr); err != nil {
		return domain.CitizenRequest{}, fmt.Errorf("insert request: %w", err)
	}
	if err := e.recorder().Append(ctx, tx, "citizen_request", cr.ID, opts.ActorID, audit.EntityCreated{
		Subject: cr.Subject,
		Status:  cr.Status,
	}); err != nil {
		return domain.CitizenRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CitizenRequest{}, err
	}
	return cr, nil
}

// allowedTransition is the lifecycle table. Deleted is handled by
// DeleteRequest (any state may tombstone); a deleted request accepts
// nothing.
func allowedTransition(from, to string) bool {
	switch from {
	case domain.StatusNew:
		return to == domain.StatusAssigned || to == domain.StatusInProgress
	case domain.StatusAssigned:
		return to == domain.StatusInProgress
	case domain.StatusInProgress:
		return to == domain.StatusWaitingInfo || to == domain.StatusCompleted || to == domain.StatusRequiresAttention
	case domain.StatusWaitingInfo:
		return to == domain.StatusInProgress
	case domain.StatusCompleted, domain.StatusRequiresAttention:
		// reopen is an explicit caller action
		return to == domain.StatusInProgress
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case domain.StatusNew, domain.StatusAssigned, domain.StatusInProgress, domain.StatusWaitingInfo,
		domain.StatusCompleted, domain.StatusRequiresAttention, domain.StatusDeleted:
		return true
	}
	return false
}

// mutateRequest loads the request, applies the mutation, validates any
// status change against the transition table, and persists the result with
// exactly one activity carrying the field diff. A mutation that changes
// nothing writes nothing and appends nothing. ruleID, when set, attributes
// a status change to the routing rule that caused it.
func (e Engine) mutateRequest(ctx context.Context, id, actorID, ruleID string, mutate func(*domain.CitizenRequest) error) (domain.CitizenRequest, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CitizenRequest{}, err
	}
	defer tx.Rollback()

	original, err := e.Repo.GetRequestTx(ctx, tx, id)
	if err != nil {
		return domain.CitizenRequest{}, err
	}
	cr := original
	if err := mutate(&cr); err != nil {
		return original, err
	}
	if cr.Status != original.Status {
		if !validStatus(cr.Status) {
			return original, fmt.Errorf("invalid status %q", cr.Status)
		}
		if cr.Status == domain.StatusDeleted {
			return original, errors.New("use delete to tombstone a request")
		}
		if original.Status == domain.StatusDeleted || !allowedTransition(original.Status, cr.Status) {
			return original, InvalidTransitionError{From: original.Status, To: cr.Status}
		}
	} else if original.Status == domain.StatusDeleted {
		return original, fmt.Errorf("request %s is deleted", id)
	}

	changes := diffRequest(original, cr)
	if len(changes) == 0 {
		return original, nil
	}
	cr.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateRequest(ctx, tx, cr); err != nil {
		return original, err
	}

	var payload audit.Payload
	if cr.Status != original.Status {
		payload = audit.StatusChanged{From: original.Status, To: cr.Status, Changes: changes, RuleID: ruleID}
	} else {
		payload = audit.EntityUpdated{Changes: changes}
	}
	rec := e.recorder()
	if err := rec.Append(ctx, tx, "citizen_request", cr.ID, actorID, payload); err != nil {
		return original, err
	}
	if err := tx.Commit(); err != nil {
		return original, err
	}
	rec.Flush()
	return cr, nil
}

// RequestUpdateOptions are the caller-editable fields. Nil means leave
// unchanged.
type RequestUpdateOptions struct {
	ID          string
	Subject     *string
	Description *string
	FullName    *string
	ContactInfo *string
	Priority    *string
	ActorID     string
}

func (e Engine) UpdateRequest(ctx context.Context, opts RequestUpdateOptions) (domain.CitizenRequest, error) {
	return e.mutateRequest(ctx, opts.ID, opts.ActorID, "", func(cr *domain.CitizenRequest) error {
		if opts.Subject != nil {
			if *opts.Subject == "" {
				return errors.New("subject cannot be empty")
			}
			cr.Subject = *opts.Subject
		}
		if opts.Description != nil {
			cr.Description = *opts.Description
		}
		if opts.FullName != nil {
			cr.FullName = *opts.FullName
		}
		if opts.ContactInfo != nil {
			cr.ContactInfo = *opts.ContactInfo
		}
		if opts.Priority != nil {
			cr.Priority = *opts.Priority
		}
		return nil
	})
}

// Transition moves a request to the given status. Reopening a completed or
// requires_attention request back to in_progress goes through here too.
func (e Engine) Transition(ctx context.Context, id, to, actorID string) (domain.CitizenRequest, error) {
	if !validStatus(to) {
		return domain.CitizenRequest{}, fmt.Errorf("invalid status %q", to)
	}
	return e.mutateRequest(ctx, id, actorID, "", func(cr *domain.CitizenRequest) error {
		cr.Status = to
		return nil
	})
}

// ApplyRouting evaluates the active rule snapshot against the request and
// applies the decision: assignment fields plus the new -> assigned
// transition when a rule matched. An unmatched request stays untouched.
func (e Engine) ApplyRouting(ctx context.Context, id, actorID string) (domain.CitizenRequest, routing.Decision, []routing.RuleEvaluationWarning, error) {
	rules, err := e.Repo.ListRules(ctx)
	if err != nil {
		return domain.CitizenRequest{}, routing.Decision{}, nil, fmt.Errorf("load rule snapshot: %w", err)
	}
	cr, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		return domain.CitizenRequest{}, routing.Decision{}, nil, err
	}
	decision, warnings := routing.Route(cr, rules)
	if !decision.Assigned {
		return cr, decision, warnings, nil
	}
	updated, err := e.mutateRequest(ctx, id, actorID, decision.RuleID, func(cr *domain.CitizenRequest) error {
		cr.AssignedDepartmentID = &decision.DepartmentID
		cr.AssignedPositionID = decision.PositionID
		if cr.Status == domain.StatusNew {
			cr.Status = domain.StatusAssigned
		}
		return nil
	})
	if err != nil {
		return cr, decision, warnings, err
	}
	return updated, decision, warnings, nil
}

// DeleteRequest tombstones a request from any state. The row and its audit
// history are retained.
func (e Engine) DeleteRequest(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	cr, err := e.Repo.GetRequestTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if cr.Status == domain.StatusDeleted {
		return nil
	}
	prior := cr.Status
	cr.Status = domain.StatusDeleted
	cr.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateRequest(ctx, tx, cr); err != nil {
		return err
	}
	rec := e.recorder()
	if err := rec.Append(ctx, tx, "citizen_request", cr.ID, actorID, audit.EntityDeleted{PriorStatus: prior}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	rec.Flush()
	return nil
}

// AgentOutcome carries the applied results of one successful dispatcher
// run so the field updates, the agent result rows, the lifecycle
// transition, and the ai_process activity commit atomically.
type AgentOutcome struct {
	RequestID      string
	AgentID        string
	AgentName      string
	Actions        []string
	Classification string
	Suggestion     string
	Summary        string
	Results        []domain.AgentResult
	ActorID        string
}

// ApplyAgentOutcome records a successful agent run: one AgentResult row per
// sub-action, the AI fields on the request, aiProcessed=true, the
// new/assigned -> in_progress transition, and one ai_process activity.
func (e Engine) ApplyAgentOutcome(ctx context.Context, out AgentOutcome) (domain.CitizenRequest, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CitizenRequest{}, err
	}
	defer tx.Rollback()

	original, err := e.Repo.GetRequestTx(ctx, tx, out.RequestID)
	if err != nil {
		return domain.CitizenRequest{}, err
	}
	if original.Status == domain.StatusDeleted {
		return original, fmt.Errorf("request %s is deleted", out.RequestID)
	}
	cr := original
	if out.Classification != "" {
		cr.AIClassification = out.Classification
	}
	if out.Suggestion != "" {
		cr.AISuggestion = out.Suggestion
	}
	if out.Summary != "" {
		cr.Summary = out.Summary
	}
	cr.AIProcessed = true
	if cr.Status == domain.StatusNew || cr.Status == domain.StatusAssigned {
		cr.Status = domain.StatusInProgress
	}
	cr.UpdatedAt = e.nowString()

	for _, res := range out.Results {
		if res.ID == "" {
			res.ID = uuid.New().String()
		}
		if res.CreatedAt == "" {
			res.CreatedAt = cr.UpdatedAt
		}
		if err := e.Repo.InsertAgentResult(ctx, tx, res); err != nil {
			return original, fmt.Errorf("insert agent result: %w", err)
		}
	}
	if err := e.Repo.UpdateRequest(ctx, tx, cr); err != nil {
		return original, err
	}
	if err := e.recorder().Append(ctx, tx, "citizen_request", cr.ID, out.ActorID, audit.AIProcessed{
		AgentID:   out.AgentID,
		AgentName: out.AgentName,
		Actions:   out.Actions,
	}); err != nil {
		return original, err
	}
	if err := tx.Commit(); err != nil {
		return original, err
	}
	return cr, nil
}

// RecordAgentFailure appends the ai_process_failed activity for a request
// the runtime could not process. The request itself is never touched.
func (e Engine) RecordAgentFailure(ctx context.Context, requestID, agentID, actionType, actorID string, cause error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.recorder().Append(ctx, tx, "citizen_request", requestID, actorID, audit.AIProcessFailed{
		AgentID:    agentID,
		ActionType: actionType,
		Error:      cause.Error(),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordBatchReport appends the single ai_process_report activity that
// summarizes one batch run.
func (e Engine) RecordBatchReport(ctx context.Context, actorID string, report audit.AIProcessReport) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.recorder().Append(ctx, tx, "citizen_request", "", actorID, report); err != nil {
		return err
	}
	return tx.Commit()
}

// diffRequest lists the fields whose values differ between two snapshots.
// UpdatedAt is excluded; it moves with every write.
func diffRequest(old, new domain.CitizenRequest) []audit.FieldChange {
	var changes []audit.FieldChange
	add := func(field, o, n string) {
		if o != n {
			changes = append(changes, audit.FieldChange{Field: field, Old: o, New: n})
		}
	}
	add("subject", old.Subject, new.Subject)
	add("description", old.Description, new.Description)
	add("full_name", old.FullName, new.FullName)
	add("contact_info", old.ContactInfo, new.ContactInfo)
	add("request_type", old.RequestType, new.RequestType)
	add("status", old.Status, new.Status)
	add("priority", old.Priority, new.Priority)
	add("assigned_department_id", deref(old.AssignedDepartmentID), deref(new.AssignedDepartmentID))
	add("assigned_position_id", deref(old.AssignedPositionID), deref(new.AssignedPositionID))
	add("ai_processed", boolString(old.AIProcessed), boolString(new.AIProcessed))
	add("ai_classification", old.AIClassification, new.AIClassification)
	add("ai_suggestion", old.AISuggestion, new.AISuggestion)
	add("summary", old.Summary, new.Summary)
	add("external_id", old.ExternalID, new.ExternalID)
	add("external_source", old.ExternalSource, new.ExternalSource)
	return changes
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
