package repo

import (
	"context"
	"database/sql"

	"civicline/internal/domain"
)

// Organizational hierarchy. The routing engine only reads these; writes
// happen out-of-band through seeding or the CLI.

func (r Repo) InsertDepartment(ctx context.Context, tx *sql.Tx, d domain.Department) error {
	_, err := exec(ctx, r.DB, tx, `INSERT INTO departments(id,name,parent_id) VALUES (?,?,?)`, d.ID, d.Name, d.ParentID)
	return err
}

func (r Repo) GetDepartment(ctx context.Context, id string) (domain.Department, error) {
	var d domain.Department
	var parent sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,parent_id FROM departments WHERE id=?`, id).Scan(&d.ID, &d.Name, &parent)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if parent.Valid {
		d.ParentID = &parent.String
	}
	return d, err
}

func (r Repo) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,parent_id FROM departments ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Department
	for rows.Next() {
		var d domain.Department
		var parent sql.NullString
		if err := rows.Scan(&d.ID, &d.Name, &parent); err != nil {
			return nil, err
		}
		if parent.Valid {
			d.ParentID = &parent.String
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r Repo) InsertPosition(ctx context.Context, tx *sql.Tx, p domain.Position) error {
	_, err := exec(ctx, r.DB, tx, `INSERT INTO positions(id,department_id,title) VALUES (?,?,?)`, p.ID, p.DepartmentID, p.Title)
	return err
}

func (r Repo) ListPositions(ctx context.Context, departmentID string) ([]domain.Position, error) {
	query := `SELECT id,department_id,title FROM positions`
	var args []any
	if departmentID != "" {
		query += ` WHERE department_id=?`
		args = append(args, departmentID)
	}
	query += ` ORDER BY title ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.ID, &p.DepartmentID, &p.Title); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r Repo) InsertEmployee(ctx context.Context, tx *sql.Tx, e domain.Employee) error {
	_, err := exec(ctx, r.DB, tx, `INSERT INTO employees(id,full_name,position_id,email) VALUES (?,?,?,?)`,
		e.ID, e.FullName, e.PositionID, nullable(e.Email))
	return err
}

func (r Repo) ListEmployees(ctx context.Context, positionID string) ([]domain.Employee, error) {
	query := `SELECT id,full_name,position_id,COALESCE(email,'') FROM employees`
	var args []any
	if positionID != "" {
		query += ` WHERE position_id=?`
		args = append(args, positionID)
	}
	query += ` ORDER BY full_name ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Employee
	for rows.Next() {
		var e domain.Employee
		if err := rows.Scan(&e.ID, &e.FullName, &e.PositionID, &e.Email); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
