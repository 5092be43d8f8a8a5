package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"civicline/internal/domain"
)

const agentColumns = `id,name,type,config_json,is_active,created_at`

func scanAgent(row interface{ Scan(...any) error }) (domain.Agent, error) {
	var a domain.Agent
	var config string
	var active int
	err := row.Scan(&a.ID, &a.Name, &a.Type, &config, &active, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(config), &a.Config); err != nil {
		return a, fmt.Errorf("agent %s config: %w", a.ID, err)
	}
	a.IsActive = active != 0
	return a, nil
}

func (r Repo) InsertAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	config, err := json.Marshal(a.Config)
	if err != nil {
		return err
	}
	_, err = exec(ctx, r.DB, tx, `INSERT INTO agents(id,name,type,config_json,is_active,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.Name, a.Type, string(config), boolInt(a.IsActive), a.CreatedAt)
	return err
}

func (r Repo) UpdateAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	config, err := json.Marshal(a.Config)
	if err != nil {
		return err
	}
	res, err := exec(ctx, r.DB, tx, `UPDATE agents SET name=?,type=?,config_json=?,is_active=? WHERE id=?`,
		a.Name, a.Type, string(config), boolInt(a.IsActive), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return scanAgent(r.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id))
}

// GetAgentTx reads within the caller's transaction.
func (r Repo) GetAgentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Agent, error) {
	return scanAgent(tx.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id))
}

func (r Repo) ListAgents(ctx context.Context, onlyActive bool) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	if onlyActive {
		query += ` WHERE is_active=1`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertAgentResult appends one immutable invocation record. There is no
// update or delete path for agent_results.
func (r Repo) InsertAgentResult(ctx context.Context, tx *sql.Tx, res domain.AgentResult) error {
	_, err := exec(ctx, r.DB, tx, `INSERT INTO agent_results(id,agent_id,entity_id,entity_type,action_type,result_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		res.ID, res.AgentID, res.EntityID, res.EntityType, res.ActionType, res.Result, res.CreatedAt)
	return err
}

func (r Repo) ListAgentResults(ctx context.Context, entityType, entityID string) ([]domain.AgentResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,agent_id,entity_id,entity_type,action_type,result_json,created_at FROM agent_results WHERE entity_type=? AND entity_id=? ORDER BY created_at ASC, id ASC`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AgentResult
	for rows.Next() {
		var res domain.AgentResult
		if err := rows.Scan(&res.ID, &res.AgentID, &res.EntityID, &res.EntityType, &res.ActionType, &res.Result, &res.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
