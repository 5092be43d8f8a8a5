package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"civicline/internal/audit"
	"civicline/internal/db"
	"civicline/internal/domain"
	"civicline/internal/engine"
	"civicline/internal/migrate"
	"civicline/internal/repo"
)

func newTestEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, nil)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e.Now = func() time.Time {
		ts = ts.Add(time.Second)
		return ts
	}
	return e
}

func mustCreate(t *testing.T, e engine.Engine, subject, description string) domain.CitizenRequest {
	t.Helper()
	cr, err := e.CreateRequest(context.Background(), engine.RequestCreateOptions{
		Subject:     subject,
		Description: description,
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return cr
}

func activities(t *testing.T, e engine.Engine, id string) []domain.Activity {
	t.Helper()
	acts, err := e.Repo.ListActivities(context.Background(), "citizen_request", id, 0)
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	return acts
}

func TestCreateRequestAppendsOneActivity(t *testing.T) {
	e := newTestEngine(t)
	cr := mustCreate(t, e, "Нет отопления", "в доме холодно")
	if cr.Status != domain.StatusNew {
		t.Fatalf("new request status = %s", cr.Status)
	}
	acts := activities(t, e, cr.ID)
	if len(acts) != 1 || acts[0].Action != domain.ActionEntityCreate {
		t.Fatalf("unexpected activities: %+v", acts)
	}
}

func TestUpdateRequestRecordsFieldDiff(t *testing.T) {
	e := newTestEngine(t)
	cr := mustCreate(t, e, "Жалоба", "")
	subject := "Жалоба на дорогу"
	priority := "high"
	updated, err := e.UpdateRequest(context.Background(), engine.RequestUpdateOptions{
		ID: cr.ID, Subject: &subject, Priority: &priority, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Subject != subject || updated.Priority != priority {
		t.Fatalf("fields not applied: %+v", updated)
	}
	acts := activities(t, e, cr.ID)
	if len(acts) != 2 || acts[0].Action != domain.ActionEntityUpdate {
		t.Fatalf("unexpected activities: %+v", acts)
	}
	var payload audit.EntityUpdated
	if err := json.Unmarshal([]byte(acts[0].Payload), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(payload.Changes) != 2 {
		t.Fatalf("expected 2 field changes, got %+v", payload.Changes)
	}
}

func TestNoopUpdateWritesNothing(t *testing.T) {
	e := newTestEngine(t)
	cr := mustCreate(t, e, "Тест", "описание")
	same := cr.Subject
	updated, err := e.UpdateRequest(context.Background(), engine.RequestUpdateOptions{
		ID: cr.ID, Subject: &same, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("noop update: %v", err)
	}
	if updated.UpdatedAt != cr.UpdatedAt {
		t.Fatalf("updated_at moved on a noop")
	}
	if acts := activities(t, e, cr.ID); len(acts) != 1 {
		t.Fatalf("noop appended an activity: %+v", acts)
	}
}

func TestTransitionTable(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	cr := mustCreate(t, e, "Тест", "")

	if _, err := e.Transition(ctx, cr.ID, domain.StatusCompleted, "tester"); err == nil {
		t.Fatal("new -> completed allowed")
	} else {
		var ite engine.InvalidTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("expected InvalidTransitionError, got %v", err)
		}
	}

	steps := []string{
		domain.StatusInProgress,
		domain.StatusWaitingInfo,
		domain.StatusInProgress,
		domain.StatusCompleted,
		domain.StatusInProgress, // reopen
		domain.StatusRequiresAttention,
	}
	for _, to := range steps {
		if _, err := e.Transition(ctx, cr.ID, to, "tester"); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	acts := activities(t, e, cr.ID)
	var statusChanges int
	for _, a := range acts {
		if a.Action == domain.ActionStatusChange {
			statusChanges++
		}
	}
	if statusChanges != len(steps) {
		t.Fatalf("expected %d status_change activities, got %d", len(steps), statusChanges)
	}
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	e := newTestEngine(t)
	cr := mustCreate(t, e, "Тест", "")
	if _, err := e.Transition(context.Background(), cr.ID, "archived", "tester"); err == nil {
		t.Fatal("unknown status accepted")
	}
}

func TestDeleteTombstonesAndBlocksMutation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	cr := mustCreate(t, e, "Тест", "")
	if err := e.DeleteRequest(ctx, cr.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := e.Repo.GetRequest(ctx, cr.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got.Status != domain.StatusDeleted {
		t.Fatalf("status after delete = %s", got.Status)
	}
	// history is retained
	if acts := activities(t, e, cr.ID); len(acts) != 2 {
		t.Fatalf("history lost: %+v", acts)
	}
	// deleted is terminal
	if _, err := e.Transition(ctx, cr.ID, domain.StatusInProgress, "tester"); err == nil {
		t.Fatal("deleted request accepted a transition")
	}
	subject := "novel"
	if _, err := e.UpdateRequest(ctx, engine.RequestUpdateOptions{ID: cr.ID, Subject: &subject, ActorID: "tester"}); err == nil {
		t.Fatal("deleted request accepted an update")
	}
	// idempotent
	if err := e.DeleteRequest(ctx, cr.ID, "tester"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if acts := activities(t, e, cr.ID); len(acts) != 2 {
		t.Fatal("second delete appended an activity")
	}
}

func TestLedgerSensitiveMutationsCreatePendingRecords(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	cr := mustCreate(t, e, "Тест", "")
	if _, err := e.Transition(ctx, cr.ID, domain.StatusInProgress, "tester"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := e.DeleteRequest(ctx, cr.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recs, err := e.Repo.ListBlockchainRecords(ctx, "citizen_request", cr.ID)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 blockchain records, got %d", len(recs))
	}
	for _, rec := range recs {
		if rec.Status != domain.LedgerPending {
			t.Fatalf("record %s status = %s", rec.ID, rec.Status)
		}
		if rec.Hash == "" {
			t.Fatalf("record %s missing content hash", rec.ID)
		}
	}
}

func TestFailedAuditAppendAbortsMutation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	cr := mustCreate(t, e, "Тест", "")

	if _, err := e.DB.ExecContext(ctx, `DROP TABLE activities`); err != nil {
		t.Fatalf("drop activities: %v", err)
	}
	if _, err := e.Transition(ctx, cr.ID, domain.StatusInProgress, "tester"); err == nil {
		t.Fatal("mutation committed without its activity")
	}
	got, err := e.Repo.GetRequest(ctx, cr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusNew || got.UpdatedAt != cr.UpdatedAt {
		t.Fatalf("request mutated despite audit failure: %+v", got)
	}
}

type instantLedger struct{}

func (instantLedger) Submit(ctx context.Context, hash string) (string, error) {
	return "0x" + strings.Repeat("cd", 32), nil
}

func TestTransitionAnchorsAfterCommit(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	anchorer := audit.NewAnchorer(conn, instantLedger{}, 1, time.Millisecond)
	e := engine.New(conn, anchorer)
	ctx := context.Background()
	cr := mustCreate(t, e, "Тест", "")

	if _, err := e.Transition(ctx, cr.ID, domain.StatusInProgress, "tester"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	anchorer.Wait()

	recs, err := e.Repo.ListBlockchainRecords(ctx, "citizen_request", cr.ID)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	if recs[0].Status != domain.LedgerConfirmed {
		t.Fatalf("record stuck at %s with a single-attempt budget", recs[0].Status)
	}
	if recs[0].TransactionHash == nil {
		t.Fatalf("confirmed record missing transaction hash: %+v", recs[0])
	}
}

func TestApplyRoutingAssignsAndTransitions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	dept := "dept-it"
	rule, err := e.CreateRule(ctx, domain.TaskRule{
		Name:         "it-support",
		Keywords:     []string{"принтер", "компьютер"},
		Priority:     5,
		DepartmentID: &dept,
		IsActive:     true,
	}, "tester")
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	cr := mustCreate(t, e, "Сломался принтер", "не печатает документы")

	updated, decision, warnings, err := e.ApplyRouting(ctx, cr.ID, "tester")
	if err != nil {
		t.Fatalf("routing: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if !decision.Assigned || decision.RuleID != rule.ID {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if updated.Status != domain.StatusAssigned {
		t.Fatalf("status after routing = %s", updated.Status)
	}
	if updated.AssignedDepartmentID == nil || *updated.AssignedDepartmentID != dept {
		t.Fatalf("department not assigned: %+v", updated)
	}

	acts := activities(t, e, cr.ID)
	if acts[0].Action != domain.ActionStatusChange {
		t.Fatalf("expected status_change, got %s", acts[0].Action)
	}
	var payload audit.StatusChanged
	if err := json.Unmarshal([]byte(acts[0].Payload), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.RuleID != rule.ID {
		t.Fatalf("rule id not attributed: %+v", payload)
	}
}

func TestApplyRoutingNoMatchLeavesRequestUntouched(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	dept := "dept-law"
	if _, err := e.CreateRule(ctx, domain.TaskRule{
		Name: "legal", Keywords: []string{"закон"}, Priority: 1, DepartmentID: &dept, IsActive: true,
	}, "tester"); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	cr := mustCreate(t, e, "Прошу справку", "")
	updated, decision, _, err := e.ApplyRouting(ctx, cr.ID, "tester")
	if err != nil {
		t.Fatalf("routing: %v", err)
	}
	if decision.Assigned {
		t.Fatalf("unexpected assignment: %+v", decision)
	}
	if updated.Status != domain.StatusNew || updated.AssignedDepartmentID != nil {
		t.Fatalf("request mutated on no-match: %+v", updated)
	}
	if acts := activities(t, e, cr.ID); len(acts) != 1 {
		t.Fatalf("no-match appended an activity: %+v", acts)
	}
}

func TestApplyAgentOutcome(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	cr := mustCreate(t, e, "Вопрос по налогам", "")
	updated, err := e.ApplyAgentOutcome(ctx, engine.AgentOutcome{
		RequestID:      cr.ID,
		AgentID:        "agent-1",
		AgentName:      "classifier",
		Actions:        []string{"classification", "response_generation"},
		Classification: "taxation",
		Suggestion:     "Ответ подготовлен",
		ActorID:        "dispatcher",
		Results: []domain.AgentResult{
			{AgentID: "agent-1", EntityID: cr.ID, EntityType: "citizen_request", ActionType: "classification", Result: `{"classification":"taxation"}`},
			{AgentID: "agent-1", EntityID: cr.ID, EntityType: "citizen_request", ActionType: "response_generation", Result: `{"response_text":"Ответ подготовлен"}`},
		},
	})
	if err != nil {
		t.Fatalf("apply outcome: %v", err)
	}
	if !updated.AIProcessed || updated.AIClassification != "taxation" {
		t.Fatalf("ai fields not applied: %+v", updated)
	}
	if updated.Status != domain.StatusInProgress {
		t.Fatalf("status after processing = %s", updated.Status)
	}
	results, err := e.Repo.ListAgentResults(ctx, "citizen_request", cr.ID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 agent results, got %d", len(results))
	}
	acts := activities(t, e, cr.ID)
	if acts[0].Action != domain.ActionAIProcess {
		t.Fatalf("expected ai_process, got %s", acts[0].Action)
	}
}

func TestRecordAgentFailureLeavesRequestUnmodified(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	cr := mustCreate(t, e, "Тест", "")
	if err := e.RecordAgentFailure(ctx, cr.ID, "agent-1", "classification", "dispatcher", errors.New("runtime timeout")); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	got, err := e.Repo.GetRequest(ctx, cr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AIProcessed || got.UpdatedAt != cr.UpdatedAt {
		t.Fatalf("request mutated by failure record: %+v", got)
	}
	acts := activities(t, e, cr.ID)
	if acts[0].Action != domain.ActionAIProcessFailed {
		t.Fatalf("expected ai_process_failed, got %s", acts[0].Action)
	}
}

func TestGetMissingRequestReturnsNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Transition(context.Background(), "missing", domain.StatusInProgress, "tester")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRuleUpdateDiffAndNoop(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	dept := "dept-1"
	rule, err := e.CreateRule(ctx, domain.TaskRule{
		Name: "roads", Keywords: []string{"дорога"}, Priority: 1, DepartmentID: &dept, IsActive: true,
	}, "tester")
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	// noop
	if _, err := e.UpdateRule(ctx, rule, "tester"); err != nil {
		t.Fatalf("noop update: %v", err)
	}
	acts, err := e.Repo.ListActivities(ctx, "task_rule", rule.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(acts) != 1 {
		t.Fatalf("noop appended an activity: %+v", acts)
	}

	rule.Priority = 7
	rule.IsActive = false
	if _, err := e.UpdateRule(ctx, rule, "tester"); err != nil {
		t.Fatalf("update: %v", err)
	}
	acts, _ = e.Repo.ListActivities(ctx, "task_rule", rule.ID, 0)
	if len(acts) != 2 || acts[0].Action != domain.ActionEntityUpdate {
		t.Fatalf("unexpected activities: %+v", acts)
	}
}
