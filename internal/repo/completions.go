package repo

import (
	"context"
	"database/sql"
	"time"

	"taskbridge/internal/domain"
)

const factColumns = `id,task_id,organization_id,student_ids_json,compensation,duration_weeks,weekly_hours,COALESCE(payroll_terms,''),rating,completed_at,delivered_at,attempts,COALESCE(last_error,'')`

func scanFact(row scanner) (domain.CompletionFact, error) {
	var (
		f                  domain.CompletionFact
		students, complete string
		delivered          sql.NullString
	)
	err := row.Scan(&f.ID, &f.TaskID, &f.OrganizationID, &students, &f.Compensation, &f.DurationWeeks, &f.WeeklyHours,
		&f.PayrollTerms, &f.Rating, &complete, &delivered, &f.Attempts, &f.LastError)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	if f.StudentIDs, err = unmarshalStrings(students); err != nil {
		return f, err
	}
	if f.CompletedAt, err = ParseTS(complete); err != nil {
		return f, err
	}
	f.DeliveredAt, err = tsPtr(delivered)
	return f, err
}

// InsertCompletionFact queues a fact in the payout outbox. One fact per task.
func (r Repo) InsertCompletionFact(ctx context.Context, q Queryer, f domain.CompletionFact) error {
	students, err := marshalStrings(f.StudentIDs)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, q, `INSERT INTO completion_facts(task_id,organization_id,student_ids_json,compensation,duration_weeks,weekly_hours,payroll_terms,rating,completed_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		f.TaskID, f.OrganizationID, students, f.Compensation, f.DurationWeeks, f.WeeklyHours, nullable(f.PayrollTerms), f.Rating, FormatTS(f.CompletedAt))
	return err
}

func (r Repo) GetCompletionFactByTask(ctx context.Context, q Queryer, taskID string) (domain.CompletionFact, error) {
	return scanFact(r.queryRow(ctx, q, `SELECT `+factColumns+` FROM completion_facts WHERE task_id=?`, taskID))
}

// PendingCompletionFacts returns undelivered facts in insertion order.
func (r Repo) PendingCompletionFacts(ctx context.Context, q Queryer, limit int) ([]domain.CompletionFact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.query(ctx, q, `SELECT `+factColumns+` FROM completion_facts WHERE delivered_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CompletionFact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) MarkFactDelivered(ctx context.Context, q Queryer, id int64, at time.Time) error {
	_, err := r.exec(ctx, q, `UPDATE completion_facts SET delivered_at=?, attempts=attempts+1, last_error=NULL WHERE id=?`, FormatTS(at), id)
	return err
}

func (r Repo) MarkFactFailed(ctx context.Context, q Queryer, id int64, cause string) error {
	_, err := r.exec(ctx, q, `UPDATE completion_facts SET attempts=attempts+1, last_error=? WHERE id=?`, cause, id)
	return err
}
