package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"civicline/internal/audit"
	"civicline/internal/domain"
)

// Catalog operations: routing rules and agents. Mutations follow the same
// contract as requests, one activity per committed change.

func (e Engine) CreateRule(ctx context.Context, rule domain.TaskRule, actorID string) (domain.TaskRule, error) {
	if rule.Name == "" {
		return domain.TaskRule{}, errors.New("rule name is required")
	}
	if len(rule.Keywords) == 0 {
		return domain.TaskRule{}, errors.New("rule keywords are required")
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := e.nowString()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskRule{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRule(ctx, tx, rule); err != nil {
		return domain.TaskRule{}, fmt.Errorf("insert rule: %w", err)
	}
	if err := e.recorder().Append(ctx, tx, "task_rule", rule.ID, actorID, audit.EntityCreated{Subject: rule.Name}); err != nil {
		return domain.TaskRule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskRule{}, err
	}
	return rule, nil
}

func (e Engine) UpdateRule(ctx context.Context, rule domain.TaskRule, actorID string) (domain.TaskRule, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskRule{}, err
	}
	defer tx.Rollback()
	original, err := e.Repo.GetRuleTx(ctx, tx, rule.ID)
	if err != nil {
		return domain.TaskRule{}, err
	}
	changes := diffRule(original, rule)
	if len(changes) == 0 {
		return original, nil
	}
	rule.CreatedAt = original.CreatedAt
	rule.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateRule(ctx, tx, rule); err != nil {
		return original, err
	}
	if err := e.recorder().Append(ctx, tx, "task_rule", rule.ID, actorID, audit.EntityUpdated{Changes: changes}); err != nil {
		return original, err
	}
	if err := tx.Commit(); err != nil {
		return original, err
	}
	return rule, nil
}

func (e Engine) DeleteRule(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRule(ctx, tx, id); err != nil {
		return err
	}
	rec := e.recorder()
	if err := rec.Append(ctx, tx, "task_rule", id, actorID, audit.EntityDeleted{}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	rec.Flush()
	return nil
}

func (e Engine) CreateAgent(ctx context.Context, a domain.Agent, actorID string) (domain.Agent, error) {
	if a.Name == "" {
		return domain.Agent{}, errors.New("agent name is required")
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Type == "" {
		a.Type = "local"
	}
	a.CreatedAt = e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAgent(ctx, tx, a); err != nil {
		return domain.Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	if err := e.recorder().Append(ctx, tx, "agent", a.ID, actorID, audit.EntityCreated{Subject: a.Name}); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

func (e Engine) UpdateAgent(ctx context.Context, a domain.Agent, actorID string) (domain.Agent, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()
	original, err := e.Repo.GetAgentTx(ctx, tx, a.ID)
	if err != nil {
		return domain.Agent{}, err
	}
	changes := diffAgent(original, a)
	if len(changes) == 0 {
		return original, nil
	}
	a.CreatedAt = original.CreatedAt
	if err := e.Repo.UpdateAgent(ctx, tx, a); err != nil {
		return original, err
	}
	if err := e.recorder().Append(ctx, tx, "agent", a.ID, actorID, audit.EntityUpdated{Changes: changes}); err != nil {
		return original, err
	}
	if err := tx.Commit(); err != nil {
		return original, err
	}
	return a, nil
}

func diffRule(old, new domain.TaskRule) []audit.FieldChange {
	var changes []audit.FieldChange
	add := func(field, o, n string) {
		if o != n {
			changes = append(changes, audit.FieldChange{Field: field, Old: o, New: n})
		}
	}
	add("name", old.Name, new.Name)
	add("description", old.Description, new.Description)
	add("keywords", fmt.Sprintf("%v", old.Keywords), fmt.Sprintf("%v", new.Keywords))
	add("priority", fmt.Sprintf("%d", old.Priority), fmt.Sprintf("%d", new.Priority))
	add("department_id", deref(old.DepartmentID), deref(new.DepartmentID))
	add("position_id", deref(old.PositionID), deref(new.PositionID))
	add("is_active", boolString(old.IsActive), boolString(new.IsActive))
	return changes
}

func diffAgent(old, new domain.Agent) []audit.FieldChange {
	var changes []audit.FieldChange
	add := func(field, o, n string) {
		if o != n {
			changes = append(changes, audit.FieldChange{Field: field, Old: o, New: n})
		}
	}
	add("name", old.Name, new.Name)
	add("type", old.Type, new.Type)
	add("model", old.Config.Model, new.Config.Model)
	add("temperature", fmt.Sprintf("%g", old.Config.Temperature), fmt.Sprintf("%g", new.Config.Temperature))
	add("capabilities", fmt.Sprintf("%v", old.Config.Capabilities), fmt.Sprintf("%v", new.Config.Capabilities))
	add("is_active", boolString(old.IsActive), boolString(new.IsActive))
	return changes
}
