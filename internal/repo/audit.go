package repo

import (
	"context"
	"database/sql"
	"fmt"

	"civicline/internal/domain"
)

// Activities and blockchain records are append-only. Activities are never
// updated; a blockchain record is updated exactly once, pending to a
// terminal status.

func (r Repo) ListActivities(ctx context.Context, relatedType, relatedID string, limit int) ([]domain.Activity, error) {
	query := `SELECT id,action,COALESCE(related_id,''),related_type,actor_id,payload_json,ts FROM activities`
	var args []any
	if relatedType != "" {
		query += ` WHERE related_type=?`
		args = append(args, relatedType)
		if relatedID != "" {
			query += ` AND related_id=?`
			args = append(args, relatedID)
		}
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Activity
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.Action, &a.RelatedID, &a.RelatedType, &a.ActorID, &a.Payload, &a.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r Repo) InsertBlockchainRecord(ctx context.Context, tx *sql.Tx, rec domain.BlockchainRecord) error {
	_, err := exec(ctx, r.DB, tx, `INSERT INTO blockchain_records(id,entity_id,entity_type,action,hash,transaction_hash,status,created_at,confirmed_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.EntityID, rec.EntityType, rec.Action, rec.Hash, rec.TransactionHash, rec.Status, rec.CreatedAt, rec.ConfirmedAt)
	return err
}

// ResolveBlockchainRecord moves a pending record to its terminal status.
// The WHERE guard keeps confirmed/failed records from ever regressing.
func (r Repo) ResolveBlockchainRecord(ctx context.Context, id, status string, transactionHash *string, confirmedAt *string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE blockchain_records SET status=?, transaction_hash=?, confirmed_at=? WHERE id=? AND status=?`,
		status, transactionHash, confirmedAt, id, domain.LedgerPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetBlockchainRecord(ctx context.Context, id string) (domain.BlockchainRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,entity_id,entity_type,action,hash,transaction_hash,status,created_at,confirmed_at FROM blockchain_records WHERE id=?`, id)
	return scanBlockchainRecord(row)
}

func (r Repo) ListBlockchainRecords(ctx context.Context, entityType, entityID string) ([]domain.BlockchainRecord, error) {
	query := `SELECT id,entity_id,entity_type,action,hash,transaction_hash,status,created_at,confirmed_at FROM blockchain_records`
	var args []any
	if entityType != "" {
		query += ` WHERE entity_type=?`
		args = append(args, entityType)
		if entityID != "" {
			query += ` AND entity_id=?`
			args = append(args, entityID)
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.BlockchainRecord
	for rows.Next() {
		rec, err := scanBlockchainRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanBlockchainRecord(row interface{ Scan(...any) error }) (domain.BlockchainRecord, error) {
	var rec domain.BlockchainRecord
	var txHash, confirmedAt sql.NullString
	err := row.Scan(&rec.ID, &rec.EntityID, &rec.EntityType, &rec.Action, &rec.Hash, &txHash, &rec.Status, &rec.CreatedAt, &confirmedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if txHash.Valid {
		rec.TransactionHash = &txHash.String
	}
	if confirmedAt.Valid {
		rec.ConfirmedAt = &confirmedAt.String
	}
	return rec, nil
}
