package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"civicline/internal/domain"
)

// Recorder appends audit activities inside the caller's transaction. An
// append failure must fail the whole operation: no mutation is ever
// committed without its activity row.
//
// Ledger-sensitive activities additionally get a pending blockchain record
// in the same transaction. The matching anchor job is only collected here;
// the caller hands it to the Anchorer via Flush after the transaction
// commits, so the anchorer never races an uncommitted record row.
type Recorder struct {
	Anchorer *Anchorer
	Now      func() time.Time

	jobs []AnchorJob
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Append writes one activity row. For ledger-sensitive payloads it also
// creates the pending blockchain record and collects the anchor job.
func (r *Recorder) Append(ctx context.Context, tx *sql.Tx, relatedType, relatedID, actorID string, payload Payload) error {
	ts := r.now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal activity payload: %w", err)
	}
	action := payload.Action()
	if _, err := tx.ExecContext(ctx, `INSERT INTO activities(action,related_id,related_type,actor_id,payload_json,ts) VALUES (?,?,?,?,?,?)`,
		action, nullable(relatedID), relatedType, actorID, string(data), ts); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	if !ledgerSensitive(payload) {
		return nil
	}

	rec := domain.BlockchainRecord{
		ID:         uuid.New().String(),
		EntityID:   relatedID,
		EntityType: relatedType,
		Action:     action,
		Hash:       ContentHash(relatedType, relatedID, action, string(data), ts),
		Status:     domain.LedgerPending,
		CreatedAt:  ts,
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO blockchain_records(id,entity_id,entity_type,action,hash,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		rec.ID, rec.EntityID, rec.EntityType, rec.Action, rec.Hash, rec.Status, rec.CreatedAt); err != nil {
		return fmt.Errorf("create blockchain record: %w", err)
	}
	r.jobs = append(r.jobs, AnchorJob{RecordID: rec.ID, Hash: rec.Hash})
	return nil
}

// Flush hands the collected anchor jobs to the anchorer. Call it only after
// the transaction that created the records has committed.
func (r *Recorder) Flush() {
	jobs := r.jobs
	r.jobs = nil
	if r.Anchorer == nil {
		return
	}
	for _, job := range jobs {
		r.Anchorer.Enqueue(job)
	}
}

// ContentHash computes the anchor hash over the activity's identity and
// content. The hash is what the ledger stores; the record keeps it so the
// activity can be re-verified later.
func ContentHash(entityType, entityID, action, payloadJSON, ts string) string {
	content, _ := json.Marshal(map[string]string{
		"entity_type": entityType,
		"entity_id":   entityID,
		"action":      action,
		"metadata":    payloadJSON,
		"timestamp":   ts,
	})
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
