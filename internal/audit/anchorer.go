package audit

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"civicline/internal/domain"
	"civicline/internal/ledger"
	"civicline/internal/repo"
)

// AnchorJob is one pending blockchain record awaiting ledger submission.
type AnchorJob struct {
	RecordID string
	Hash     string
}

// Anchorer submits activity hashes to the ledger with bounded exponential
// backoff. It owns the pending -> confirmed/failed transition of blockchain
// records. Anchoring is tamper-evidence, not a consistency gate: ledger
// outcomes are only ever observable through the record status.
type Anchorer struct {
	DB            *sql.DB
	Repo          repo.Repo
	Ledger        ledger.Ledger
	MaxAttempts   int
	BaseBackoff   time.Duration
	SubmitTimeout time.Duration
	Logger        *log.Logger
	Now           func() time.Time

	wg sync.WaitGroup
}

// NewAnchorer returns an anchorer with the given retry budget. attempts < 1
// and backoff <= 0 fall back to safe defaults.
func NewAnchorer(db *sql.DB, l ledger.Ledger, attempts int, backoff time.Duration) *Anchorer {
	if attempts < 1 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Anchorer{
		DB:            db,
		Repo:          repo.Repo{DB: db},
		Ledger:        l,
		MaxAttempts:   attempts,
		BaseBackoff:   backoff,
		SubmitTimeout: 10 * time.Second,
		Now:           time.Now,
	}
}

func (a *Anchorer) logger() *log.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return log.Default()
}

// Enqueue hands one job to a background worker and returns immediately.
func (a *Anchorer) Enqueue(job AnchorJob) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.process(job)
	}()
}

// Wait blocks until all enqueued jobs have reached a terminal state.
func (a *Anchorer) Wait() {
	a.wg.Wait()
}

func (a *Anchorer) process(job AnchorJob) {
	var lastErr error
	for attempt := 1; attempt <= a.MaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(a.backoff(attempt - 1))
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.SubmitTimeout)
		txHash, err := a.Ledger.Submit(ctx, job.Hash)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		if err := a.resolve(job, domain.LedgerConfirmed, &txHash); err != nil {
			lastErr = err
			continue
		}
		return
	}
	a.logger().Printf("ledger anchoring exhausted after %d attempts (record_id=%s): %v", a.MaxAttempts, job.RecordID, lastErr)
	if err := a.resolve(job, domain.LedgerFailed, nil); err != nil {
		a.logger().Printf("mark blockchain record failed (record_id=%s): %v", job.RecordID, err)
	}
}

func (a *Anchorer) backoff(n int) time.Duration {
	d := a.BaseBackoff << uint(n-1)
	if max := 30 * time.Second; d > max {
		d = max
	}
	return d
}

func (a *Anchorer) resolve(job AnchorJob, status string, txHash *string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var confirmedAt *string
	if status == domain.LedgerConfirmed {
		ts := a.Now().UTC().Format(time.RFC3339)
		confirmedAt = &ts
	}
	err := a.Repo.ResolveBlockchainRecord(ctx, job.RecordID, status, txHash, confirmedAt)
	if errors.Is(err, repo.ErrNotFound) {
		// The originating transaction rolled back or has not committed
		// yet; the record row is not visible. Nothing to resolve.
		return err
	}
	if err != nil {
		return err
	}
	a.appendAnchorActivity(ctx, job, status, txHash)
	return nil
}

// appendAnchorActivity records the terminal anchoring outcome as a
// blockchain_record activity. Best effort: a failure here is logged, never
// propagated.
func (a *Anchorer) appendAnchorActivity(ctx context.Context, job AnchorJob, status string, txHash *string) {
	rec, err := a.Repo.GetBlockchainRecord(ctx, job.RecordID)
	if err != nil {
		a.logger().Printf("load blockchain record %s: %v", job.RecordID, err)
		return
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		a.logger().Printf("begin anchor activity tx: %v", err)
		return
	}
	defer tx.Rollback()
	payload := LedgerAnchored{RecordID: rec.ID, Hash: rec.Hash, Status: status}
	if txHash != nil {
		payload.TransactionHash = *txHash
	}
	recorder := Recorder{Now: a.Now}
	if err := recorder.Append(ctx, tx, rec.EntityType, rec.EntityID, "ledger-anchorer", payload); err != nil {
		a.logger().Printf("append anchor activity: %v", err)
		return
	}
	if err := tx.Commit(); err != nil {
		a.logger().Printf("commit anchor activity: %v", err)
	}
}
