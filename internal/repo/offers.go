package repo

import (
	"context"
	"database/sql"
	"time"

	"taskbridge/internal/domain"
)

const offerColumns = `id,task_id,student_id,organization_id,status,sent_at,responded_at,expires_at,compensation,start_date,replacement_request_id,vacated_at`

func scanOffer(row scanner) (domain.Offer, error) {
	var (
		o                               domain.Offer
		status, sent, expires, start    string
		responded, replacement, vacated sql.NullString
	)
	err := row.Scan(&o.ID, &o.TaskID, &o.StudentID, &o.OrganizationID, &status, &sent, &responded, &expires,
		&o.Compensation, &start, &replacement, &vacated)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.Status = domain.OfferStatus(status)
	if o.SentAt, err = ParseTS(sent); err != nil {
		return o, err
	}
	if o.ExpiresAt, err = ParseTS(expires); err != nil {
		return o, err
	}
	if o.StartDate, err = ParseTS(start); err != nil {
		return o, err
	}
	if o.RespondedAt, err = tsPtr(responded); err != nil {
		return o, err
	}
	o.ReplacementRequestID = strPtr(replacement)
	o.VacatedAt, err = tsPtr(vacated)
	return o, err
}

func (r Repo) scanOffers(ctx context.Context, q Queryer, query string, args ...any) ([]domain.Offer, error) {
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) InsertOffer(ctx context.Context, q Queryer, o domain.Offer) error {
	_, err := r.exec(ctx, q, `INSERT INTO offers(`+offerColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.TaskID, o.StudentID, o.OrganizationID, string(o.Status), FormatTS(o.SentAt), nullableTS(o.RespondedAt),
		FormatTS(o.ExpiresAt), o.Compensation, FormatTS(o.StartDate), nullableStr(o.ReplacementRequestID), nullableTS(o.VacatedAt))
	return err
}

// UpdateOffer persists a status change. The row is only written while its stored
// status still equals from, so two resolutions of the same offer cannot both land.
func (r Repo) UpdateOffer(ctx context.Context, q Queryer, o domain.Offer, from domain.OfferStatus) (bool, error) {
	res, err := r.exec(ctx, q, `UPDATE offers SET status=?, responded_at=?, replacement_request_id=?, vacated_at=? WHERE id=? AND status=?`,
		string(o.Status), nullableTS(o.RespondedAt), nullableStr(o.ReplacementRequestID), nullableTS(o.VacatedAt), o.ID, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) GetOffer(ctx context.Context, q Queryer, id string) (domain.Offer, error) {
	return scanOffer(r.queryRow(ctx, q, `SELECT `+offerColumns+` FROM offers WHERE id=?`, id))
}

func (r Repo) ListOffersByTask(ctx context.Context, q Queryer, taskID string) ([]domain.Offer, error) {
	return r.scanOffers(ctx, q, `SELECT `+offerColumns+` FROM offers WHERE task_id=? ORDER BY sent_at, id`, taskID)
}

func (r Repo) ListOffersByStudent(ctx context.Context, q Queryer, studentID string) ([]domain.Offer, error) {
	return r.scanOffers(ctx, q, `SELECT `+offerColumns+` FROM offers WHERE student_id=? ORDER BY sent_at DESC, id`, studentID)
}

// ListOffersForPair returns every offer a student has had on a task, oldest first.
func (r Repo) ListOffersForPair(ctx context.Context, q Queryer, taskID, studentID string) ([]domain.Offer, error) {
	return r.scanOffers(ctx, q, `SELECT `+offerColumns+` FROM offers WHERE task_id=? AND student_id=? ORDER BY sent_at, id`, taskID, studentID)
}

// ListStaleSentOffers returns sent offers whose expiry lies strictly before now.
func (r Repo) ListStaleSentOffers(ctx context.Context, q Queryer, now time.Time) ([]domain.Offer, error) {
	return r.scanOffers(ctx, q, `SELECT `+offerColumns+` FROM offers WHERE status='sent' AND expires_at < ? ORDER BY expires_at, id`, FormatTS(now))
}
