package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"taskbridge/internal/domain"
)

const replacementColumns = `id,task_id,vacated_student_id,vacated_offer_id,reason,status,created_at,deadline,completed_at,filled_by_offer_id,overdue_flagged_at`

func scanReplacement(row scanner) (domain.ReplacementRequest, error) {
	var (
		rr                           domain.ReplacementRequest
		status, created, deadline    string
		completed, filledBy, flagged sql.NullString
	)
	err := row.Scan(&rr.ID, &rr.TaskID, &rr.VacatedStudentID, &rr.VacatedOfferID, &rr.Reason, &status, &created, &deadline,
		&completed, &filledBy, &flagged)
	if err == sql.ErrNoRows {
		return rr, ErrNotFound
	}
	if err != nil {
		return rr, err
	}
	rr.Status = domain.ReplacementStatus(status)
	if rr.CreatedAt, err = ParseTS(created); err != nil {
		return rr, err
	}
	if rr.Deadline, err = ParseTS(deadline); err != nil {
		return rr, err
	}
	if rr.CompletedAt, err = tsPtr(completed); err != nil {
		return rr, err
	}
	rr.FilledByOfferID = strPtr(filledBy)
	rr.OverdueFlaggedAt, err = tsPtr(flagged)
	return rr, err
}

func (r Repo) InsertReplacement(ctx context.Context, q Queryer, rr domain.ReplacementRequest) error {
	_, err := r.exec(ctx, q, `INSERT INTO replacement_requests(`+replacementColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		rr.ID, rr.TaskID, rr.VacatedStudentID, rr.VacatedOfferID, rr.Reason, string(rr.Status), FormatTS(rr.CreatedAt),
		FormatTS(rr.Deadline), nullableTS(rr.CompletedAt), nullableStr(rr.FilledByOfferID), nullableTS(rr.OverdueFlaggedAt))
	return err
}

// UpdateReplacement writes the lifecycle columns of rr. overdue_flagged_at is owned by
// MarkReplacementOverdue and is never written here.
func (r Repo) UpdateReplacement(ctx context.Context, q Queryer, rr domain.ReplacementRequest) error {
	res, err := r.exec(ctx, q, `UPDATE replacement_requests SET status=?, completed_at=?, filled_by_offer_id=? WHERE id=?`,
		string(rr.Status), nullableTS(rr.CompletedAt), nullableStr(rr.FilledByOfferID), rr.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkReplacementOverdue sets overdue_flagged_at on a still-open, unflagged request.
// It reports false when the request was completed or flagged in the meantime.
func (r Repo) MarkReplacementOverdue(ctx context.Context, q Queryer, id string, at time.Time) (bool, error) {
	res, err := r.exec(ctx, q, `UPDATE replacement_requests SET overdue_flagged_at=?
WHERE id=? AND overdue_flagged_at IS NULL AND status IN ('pending','replacement_sent')`, FormatTS(at), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) GetReplacement(ctx context.Context, q Queryer, id string) (domain.ReplacementRequest, error) {
	return scanReplacement(r.queryRow(ctx, q, `SELECT `+replacementColumns+` FROM replacement_requests WHERE id=?`, id))
}

// OpenReplacementForTask returns the pending or replacement_sent request of a task.
func (r Repo) OpenReplacementForTask(ctx context.Context, q Queryer, taskID string) (domain.ReplacementRequest, error) {
	return scanReplacement(r.queryRow(ctx, q, `SELECT `+replacementColumns+` FROM replacement_requests
WHERE task_id=? AND status IN ('pending','replacement_sent') ORDER BY created_at DESC LIMIT 1`, taskID))
}

type ReplacementFilters struct {
	TaskID string
	// OpenOnly limits to pending and replacement_sent requests.
	OpenOnly bool
	// OverdueAt, when set, limits to open requests whose deadline is before it.
	OverdueAt *time.Time
	// Unflagged limits to requests never flagged overdue.
	Unflagged bool
	Limit     int
}

func (r Repo) ListReplacements(ctx context.Context, q Queryer, f ReplacementFilters) ([]domain.ReplacementRequest, error) {
	var (
		clauses []string
		args    []any
	)
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.OpenOnly || f.OverdueAt != nil {
		clauses = append(clauses, "status IN ('pending','replacement_sent')")
	}
	if f.OverdueAt != nil {
		clauses = append(clauses, "deadline < ?")
		args = append(args, FormatTS(*f.OverdueAt))
	}
	if f.Unflagged {
		clauses = append(clauses, "overdue_flagged_at IS NULL")
	}
	query := `SELECT ` + replacementColumns + ` FROM replacement_requests`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY deadline, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReplacementRequest
	for rows.Next() {
		rr, err := scanReplacement(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rr)
	}
	return res, rows.Err()
}
