package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"taskbridge/internal/domain"
)

const taskColumns = `id,organization_id,title,COALESCE(description,''),required_skills_json,positions_total,positions_filled,status,
start_date,duration_weeks,weekly_hours,compensation,COALESCE(payroll_terms,''),rating,COALESCE(feedback,''),COALESCE(cancel_reason,''),
version,created_at,updated_at,completed_at`

func scanTask(row scanner) (domain.Task, error) {
	var (
		t                     domain.Task
		skills, status, start string
		created, updated      string
		rating                sql.NullInt64
		completed             sql.NullString
	)
	err := row.Scan(&t.ID, &t.OrganizationID, &t.Title, &t.Description, &skills, &t.PositionsTotal, &t.PositionsFilled, &status,
		&start, &t.DurationWeeks, &t.WeeklyHours, &t.Compensation, &t.PayrollTerms, &rating, &t.Feedback, &t.CancelReason,
		&t.Version, &created, &updated, &completed)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Status = domain.TaskStatus(status)
	if t.RequiredSkills, err = unmarshalStrings(skills); err != nil {
		return t, fmt.Errorf("task %s skills: %w", t.ID, err)
	}
	if rating.Valid {
		v := int(rating.Int64)
		t.Rating = &v
	}
	if t.StartDate, err = ParseTS(start); err != nil {
		return t, err
	}
	if t.CreatedAt, err = ParseTS(created); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = ParseTS(updated); err != nil {
		return t, err
	}
	t.CompletedAt, err = tsPtr(completed)
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, q Queryer, t domain.Task) error {
	skills, err := marshalStrings(t.RequiredSkills)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, q, `INSERT INTO tasks(id,organization_id,title,description,required_skills_json,positions_total,positions_filled,status,
start_date,duration_weeks,weekly_hours,compensation,payroll_terms,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrganizationID, t.Title, nullable(t.Description), skills, t.PositionsTotal, t.PositionsFilled, string(t.Status),
		FormatTS(t.StartDate), t.DurationWeeks, t.WeeklyHours, t.Compensation, nullable(t.PayrollTerms), t.Version,
		FormatTS(t.CreatedAt), FormatTS(t.UpdatedAt))
	return err
}

// UpdateTask writes the mutable task fields if the stored version still equals
// t.Version, and bumps it. It returns ErrVersionConflict otherwise.
func (r Repo) UpdateTask(ctx context.Context, q Queryer, t domain.Task) (domain.Task, error) {
	res, err := r.exec(ctx, q, `UPDATE tasks SET positions_filled=?, status=?, rating=?, feedback=?, cancel_reason=?, updated_at=?, completed_at=?, version=version+1
WHERE id=? AND version=?`,
		t.PositionsFilled, string(t.Status), nullableInt(t.Rating), nullable(t.Feedback), nullable(t.CancelReason),
		FormatTS(t.UpdatedAt), nullableTS(t.CompletedAt), t.ID, t.Version)
	if err != nil {
		return t, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return t, err
	}
	if n == 0 {
		return t, fmt.Errorf("task %s: %w", t.ID, ErrVersionConflict)
	}
	t.Version++
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, q Queryer, id string) (domain.Task, error) {
	return scanTask(r.queryRow(ctx, q, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	OrganizationID string
	Status         string
	Limit          int
}

func (r Repo) ListTasks(ctx context.Context, q Queryer, f TaskFilters) ([]domain.Task, error) {
	var (
		clauses []string
		args    []any
	)
	if f.OrganizationID != "" {
		clauses = append(clauses, "organization_id=?")
		args = append(args, f.OrganizationID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
