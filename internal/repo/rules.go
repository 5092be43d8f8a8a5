package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"civicline/internal/domain"
)

func scanRule(row interface{ Scan(...any) error }) (domain.TaskRule, error) {
	var t domain.TaskRule
	var keywords string
	var dept, pos sql.NullString
	var active int
	err := row.Scan(&t.ID, &t.Name, &t.Description, &keywords, &t.Priority, &dept, &pos, &active, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(keywords), &t.Keywords); err != nil {
		return t, fmt.Errorf("rule %s keywords: %w", t.ID, err)
	}
	if dept.Valid {
		t.DepartmentID = &dept.String
	}
	if pos.Valid {
		t.PositionID = &pos.String
	}
	t.IsActive = active != 0
	return t, nil
}

const ruleColumns = `id,name,COALESCE(description,''),keywords_json,priority,department_id,position_id,is_active,created_at,updated_at`

func (r Repo) InsertRule(ctx context.Context, tx *sql.Tx, t domain.TaskRule) error {
	keywords, err := json.Marshal(t.Keywords)
	if err != nil {
		return err
	}
	_, err = exec(ctx, r.DB, tx, `INSERT INTO task_rules(id,name,description,keywords_json,priority,department_id,position_id,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Name, nullable(t.Description), string(keywords), t.Priority, t.DepartmentID, t.PositionID, boolInt(t.IsActive), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateRule(ctx context.Context, tx *sql.Tx, t domain.TaskRule) error {
	keywords, err := json.Marshal(t.Keywords)
	if err != nil {
		return err
	}
	res, err := exec(ctx, r.DB, tx, `UPDATE task_rules SET name=?,description=?,keywords_json=?,priority=?,department_id=?,position_id=?,is_active=?,updated_at=? WHERE id=?`,
		t.Name, nullable(t.Description), string(keywords), t.Priority, t.DepartmentID, t.PositionID, boolInt(t.IsActive), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRule(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := exec(ctx, r.DB, tx, `DELETE FROM task_rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRule(ctx context.Context, id string) (domain.TaskRule, error) {
	return scanRule(r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM task_rules WHERE id=?`, id))
}

// GetRuleTx reads within the caller's transaction.
func (r Repo) GetRuleTx(ctx context.Context, tx *sql.Tx, id string) (domain.TaskRule, error) {
	return scanRule(tx.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM task_rules WHERE id=?`, id))
}

// ListRules returns every rule ordered by creation. Routing snapshots come
// from here; the engine filters inactive rules itself so the evaluation
// input is explicit.
func (r Repo) ListRules(ctx context.Context) ([]domain.TaskRule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM task_rules ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TaskRule
	for rows.Next() {
		t, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
