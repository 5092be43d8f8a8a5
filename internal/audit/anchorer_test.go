package audit_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"civicline/internal/audit"
	"civicline/internal/db"
	"civicline/internal/domain"
	"civicline/internal/migrate"
	"civicline/internal/repo"
)

// flakyLedger fails the first failures submissions, then confirms.
type flakyLedger struct {
	failures int32
	calls    atomic.Int32
}

func (l *flakyLedger) Submit(ctx context.Context, hash string) (string, error) {
	n := l.calls.Add(1)
	if n <= l.failures {
		return "", errors.New("node unavailable")
	}
	return "0x" + strings.Repeat("ab", 32), nil
}

func newAnchorTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func seedPendingRecord(t *testing.T, conn *sql.DB, id string) domain.BlockchainRecord {
	t.Helper()
	rec := domain.BlockchainRecord{
		ID:         id,
		EntityID:   "req-1",
		EntityType: "citizen_request",
		Action:     domain.ActionStatusChange,
		Hash:       audit.ContentHash("citizen_request", "req-1", domain.ActionStatusChange, `{}`, "2024-03-01T12:00:00Z"),
		Status:     domain.LedgerPending,
		CreatedAt:  "2024-03-01T12:00:00Z",
	}
	r := repo.Repo{DB: conn}
	if err := r.InsertBlockchainRecord(context.Background(), nil, rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return rec
}

func TestAnchorerConfirmsPendingRecord(t *testing.T) {
	conn := newAnchorTestDB(t)
	rec := seedPendingRecord(t, conn, "rec-1")

	a := audit.NewAnchorer(conn, &flakyLedger{}, 3, time.Millisecond)
	a.Enqueue(audit.AnchorJob{RecordID: rec.ID, Hash: rec.Hash})
	a.Wait()

	got, err := a.Repo.GetBlockchainRecord(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Status != domain.LedgerConfirmed {
		t.Fatalf("status = %s", got.Status)
	}
	if got.TransactionHash == nil || !strings.HasPrefix(*got.TransactionHash, "0x") {
		t.Fatalf("transaction hash missing: %+v", got)
	}
	if got.ConfirmedAt == nil {
		t.Fatal("confirmed_at missing")
	}

	acts, err := a.Repo.ListActivities(context.Background(), "citizen_request", "req-1", 0)
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	if len(acts) != 1 || acts[0].Action != domain.ActionBlockchainRecord {
		t.Fatalf("expected one blockchain_record activity, got %+v", acts)
	}
	if acts[0].ActorID != "ledger-anchorer" {
		t.Fatalf("actor = %s", acts[0].ActorID)
	}
}

func TestAnchorerRetriesThenConfirms(t *testing.T) {
	conn := newAnchorTestDB(t)
	rec := seedPendingRecord(t, conn, "rec-1")

	ledger := &flakyLedger{failures: 2}
	a := audit.NewAnchorer(conn, ledger, 3, time.Millisecond)
	a.Enqueue(audit.AnchorJob{RecordID: rec.ID, Hash: rec.Hash})
	a.Wait()

	if calls := ledger.calls.Load(); calls != 3 {
		t.Fatalf("expected 3 submit calls, got %d", calls)
	}
	got, _ := a.Repo.GetBlockchainRecord(context.Background(), rec.ID)
	if got.Status != domain.LedgerConfirmed {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestAnchorerMarksFailedAfterExhaustion(t *testing.T) {
	conn := newAnchorTestDB(t)
	rec := seedPendingRecord(t, conn, "rec-1")

	ledger := &flakyLedger{failures: 100}
	a := audit.NewAnchorer(conn, ledger, 2, time.Millisecond)
	a.Logger = log.New(io.Discard, "", 0)
	a.Enqueue(audit.AnchorJob{RecordID: rec.ID, Hash: rec.Hash})
	a.Wait()

	if calls := ledger.calls.Load(); calls != 2 {
		t.Fatalf("expected 2 submit calls, got %d", calls)
	}
	got, _ := a.Repo.GetBlockchainRecord(context.Background(), rec.ID)
	if got.Status != domain.LedgerFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if got.TransactionHash != nil || got.ConfirmedAt != nil {
		t.Fatalf("failed record carries confirmation data: %+v", got)
	}
}

func TestRecorderHandsJobsToAnchorerOnFlush(t *testing.T) {
	conn := newAnchorTestDB(t)
	ctx := context.Background()
	led := &flakyLedger{}
	a := audit.NewAnchorer(conn, led, 1, time.Millisecond)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	rec := audit.Recorder{Anchorer: a}
	if err := rec.Append(ctx, tx, "citizen_request", "req-1", "tester", audit.EntityDeleted{PriorStatus: domain.StatusNew}); err != nil {
		t.Fatalf("append: %v", err)
	}
	// nothing is submitted while the transaction is still open
	if calls := led.calls.Load(); calls != 0 {
		t.Fatalf("submit ran before flush: %d calls", calls)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	rec.Flush()
	a.Wait()

	recs, err := a.Repo.ListBlockchainRecords(ctx, "citizen_request", "req-1")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	if recs[0].Status != domain.LedgerConfirmed {
		t.Fatalf("record stuck at %s", recs[0].Status)
	}
}

func TestResolvedRecordNeverRegresses(t *testing.T) {
	conn := newAnchorTestDB(t)
	rec := seedPendingRecord(t, conn, "rec-1")
	ctx := context.Background()
	r := repo.Repo{DB: conn}

	tx := "0xdeadbeef"
	ts := "2024-03-01T12:00:05Z"
	if err := r.ResolveBlockchainRecord(ctx, rec.ID, domain.LedgerConfirmed, &tx, &ts); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// a second resolution finds no pending row
	err := r.ResolveBlockchainRecord(ctx, rec.ID, domain.LedgerFailed, nil, nil)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second resolve, got %v", err)
	}
	got, _ := r.GetBlockchainRecord(ctx, rec.ID)
	if got.Status != domain.LedgerConfirmed {
		t.Fatalf("record regressed to %s", got.Status)
	}
}
