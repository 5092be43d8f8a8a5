package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"civicline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const requestColumns = `id,subject,COALESCE(description,''),COALESCE(full_name,''),COALESCE(contact_info,''),COALESCE(request_type,''),status,COALESCE(priority,''),assigned_department_id,assigned_position_id,ai_processed,COALESCE(ai_classification,''),COALESCE(ai_suggestion,''),COALESCE(summary,''),COALESCE(external_id,''),COALESCE(external_source,''),created_at,updated_at`

func scanRequest(row interface{ Scan(...any) error }) (domain.CitizenRequest, error) {
	var r domain.CitizenRequest
	var dept, pos sql.NullString
	var processed int
	err := row.Scan(&r.ID, &r.Subject, &r.Description, &r.FullName, &r.ContactInfo, &r.RequestType,
		&r.Status, &r.Priority, &dept, &pos, &processed, &r.AIClassification, &r.AISuggestion,
		&r.Summary, &r.ExternalID, &r.ExternalSource, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if dept.Valid {
		r.AssignedDepartmentID = &dept.String
	}
	if pos.Valid {
		r.AssignedPositionID = &pos.String
	}
	r.AIProcessed = processed != 0
	return r, nil
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, cr domain.CitizenRequest) error {
	_, err := exec(ctx, r.DB, tx, `INSERT INTO citizen_requests(id,subject,description,full_name,contact_info,request_type,status,priority,assigned_department_id,assigned_position_id,ai_processed,ai_classification,ai_suggestion,summary,external_id,external_source,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		cr.ID, cr.Subject, nullable(cr.Description), nullable(cr.FullName), nullable(cr.ContactInfo), nullable(cr.RequestType),
		cr.Status, nullable(cr.Priority), cr.AssignedDepartmentID, cr.AssignedPositionID, boolInt(cr.AIProcessed),
		nullable(cr.AIClassification), nullable(cr.AISuggestion), nullable(cr.Summary),
		nullable(cr.ExternalID), nullable(cr.ExternalSource), cr.CreatedAt, cr.UpdatedAt)
	return err
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.CitizenRequest, error) {
	return scanRequest(r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM citizen_requests WHERE id=?`, id))
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.CitizenRequest, error) {
	return scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM citizen_requests WHERE id=?`, id))
}

// UpdateRequest rewrites every mutable column from the given snapshot.
func (r Repo) UpdateRequest(ctx context.Context, tx *sql.Tx, cr domain.CitizenRequest) error {
	res, err := exec(ctx, r.DB, tx, `UPDATE citizen_requests SET subject=?,description=?,full_name=?,contact_info=?,request_type=?,status=?,priority=?,assigned_department_id=?,assigned_position_id=?,ai_processed=?,ai_classification=?,ai_suggestion=?,summary=?,external_id=?,external_source=?,updated_at=? WHERE id=?`,
		cr.Subject, nullable(cr.Description), nullable(cr.FullName), nullable(cr.ContactInfo), nullable(cr.RequestType),
		cr.Status, nullable(cr.Priority), cr.AssignedDepartmentID, cr.AssignedPositionID, boolInt(cr.AIProcessed),
		nullable(cr.AIClassification), nullable(cr.AISuggestion), nullable(cr.Summary),
		nullable(cr.ExternalID), nullable(cr.ExternalSource), cr.UpdatedAt, cr.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRequests returns requests, newest first, optionally filtered by status.
// Tombstoned requests are excluded unless their status is asked for.
func (r Repo) ListRequests(ctx context.Context, status string, limit int) ([]domain.CitizenRequest, error) {
	clauses := []string{}
	args := []any{}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	} else {
		clauses = append(clauses, "status<>?")
		args = append(args, domain.StatusDeleted)
	}
	query := `SELECT ` + requestColumns + ` FROM citizen_requests WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CitizenRequest
	for rows.Next() {
		cr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

// --- helpers shared across the repo files ---

func exec(ctx context.Context, db *sql.DB, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
