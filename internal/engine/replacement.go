package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine/auth"
	"taskbridge/internal/events"
	"taskbridge/internal/matcher"
	"taskbridge/internal/repo"
)

// UnavailabilityReport names the assignee who dropped out of a task.
type UnavailabilityReport struct {
	TaskID    string
	StudentID string
	Reason    string
}

// ReportUnavailable vacates a student's assignment, frees its position and opens a
// replacement request with an SLA deadline.
func (e Engine) ReportUnavailable(ctx context.Context, actor domain.Actor, in UnavailabilityReport) (domain.ReplacementRequest, error) {
	if err := auth.Require(actor, auth.PermReportUnavailable); err != nil {
		return domain.ReplacementRequest{}, forbidden(err)
	}
	if in.TaskID == "" || in.StudentID == "" {
		return domain.ReplacementRequest{}, invalid("task and student are required")
	}
	var out domain.ReplacementRequest
	err := e.withTask(ctx, in.TaskID, func(tx *sql.Tx) error {
		t, err := e.loadTask(ctx, tx, in.TaskID)
		if err != nil {
			return err
		}
		if err := auth.RequireOrganization(actor, auth.PermReportUnavailable, t.OrganizationID); err != nil {
			return forbidden(err)
		}
		if t.Status.Terminal() {
			return ruleErr(KindTerminalState, ErrTerminalStateViolation.Message, map[string]any{"task_id": t.ID, "status": t.Status})
		}
		offers, err := e.Repo.ListOffersForPair(ctx, tx, t.ID, in.StudentID)
		if err != nil {
			return err
		}
		var assignment *domain.Offer
		for i := range offers {
			if offers[i].ActiveAssignment() {
				assignment = &offers[i]
				break
			}
		}
		if assignment == nil {
			return ruleErr(KindNoActiveAssignment, ErrNoActiveAssignment.Message, map[string]any{"task_id": t.ID, "student_id": in.StudentID})
		}
		if open, err := e.Repo.OpenReplacementForTask(ctx, tx, t.ID); err == nil {
			return ruleErr(KindReplacementAlreadyOpen, ErrReplacementAlreadyOpen.Message, map[string]any{"task_id": t.ID, "replacement_id": open.ID})
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		now := e.now()
		vacated := *assignment
		vacated.VacatedAt = &now
		ok, err := e.Repo.UpdateOffer(ctx, tx, vacated, domain.OfferAccepted)
		if err != nil {
			return err
		}
		if !ok {
			return ruleErr(KindNoActiveAssignment, ErrNoActiveAssignment.Message, map[string]any{"task_id": t.ID, "student_id": in.StudentID})
		}
		t.PositionsFilled--
		t.UpdatedAt = now
		if t, err = e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		rr := domain.ReplacementRequest{
			ID:               newID(),
			TaskID:           t.ID,
			VacatedStudentID: in.StudentID,
			VacatedOfferID:   vacated.ID,
			Reason:           strings.TrimSpace(in.Reason),
			Status:           domain.ReplacementPending,
			CreatedAt:        now,
			Deadline:         now.Add(e.Config.ReplacementSLA()),
		}
		if err := e.Repo.InsertReplacement(ctx, tx, rr); err != nil {
			return err
		}
		out = rr
		return e.emit(ctx, tx, events.ReplacementOpened, t.OrganizationID, "replacement", rr.ID, actor, events.EventPayload{
			"task_id":            t.ID,
			"vacated_student_id": rr.VacatedStudentID,
			"vacated_offer_id":   rr.VacatedOfferID,
			"reason":             rr.Reason,
			"deadline":           repo.FormatTS(rr.Deadline),
		})
	})
	return out, err
}

// ShortlistForReplacement ranks every student who is neither the vacating one nor
// already holding a live offer or assignment on the task.
func (e Engine) ShortlistForReplacement(ctx context.Context, actor domain.Actor, requestID string, limit int) ([]domain.Candidate, error) {
	if err := auth.Require(actor, auth.PermManageReplacement); err != nil {
		return nil, forbidden(err)
	}
	rr, err := e.Repo.GetReplacement(ctx, nil, requestID)
	if err != nil {
		return nil, notFound(err, "replacement", requestID)
	}
	t, err := e.loadTask(ctx, nil, rr.TaskID)
	if err != nil {
		return nil, err
	}
	offers, err := e.Repo.ListOffersByTask(ctx, nil, t.ID)
	if err != nil {
		return nil, err
	}
	exclude := map[string]struct{}{rr.VacatedStudentID: {}}
	now := e.now()
	for _, o := range offers {
		eff := o.Effective(now)
		if eff.Status == domain.OfferSent || eff.ActiveAssignment() {
			exclude[o.StudentID] = struct{}{}
		}
	}
	pool, err := e.Repo.ListStudents(ctx, nil)
	if err != nil {
		return nil, err
	}
	return matcher.Rank(t, pool, matcher.Options{Scale: e.Config.Matching.ScoreScale, Exclude: exclude, Limit: limit}), nil
}

// ReplacementOffers are parameters for backfilling a replacement request.
type ReplacementOffers struct {
	RequestID    string
	StudentIDs   []string
	Compensation int64
	StartDate    time.Time
}

// SendReplacementOffers issues one offer per student, tagged with the request. Either
// every offer is issued or none is.
func (e Engine) SendReplacementOffers(ctx context.Context, actor domain.Actor, in ReplacementOffers) ([]domain.Offer, domain.ReplacementRequest, error) {
	if err := auth.Require(actor, auth.PermManageReplacement); err != nil {
		return nil, domain.ReplacementRequest{}, forbidden(err)
	}
	if len(in.StudentIDs) == 0 {
		return nil, domain.ReplacementRequest{}, invalid("at least one student is required")
	}
	pre, err := e.Repo.GetReplacement(ctx, nil, in.RequestID)
	if err != nil {
		return nil, domain.ReplacementRequest{}, notFound(err, "replacement", in.RequestID)
	}
	var (
		sent []domain.Offer
		out  domain.ReplacementRequest
	)
	err = e.withTask(ctx, pre.TaskID, func(tx *sql.Tx) error {
		rr, err := e.Repo.GetReplacement(ctx, tx, in.RequestID)
		if err != nil {
			return notFound(err, "replacement", in.RequestID)
		}
		if !rr.Status.CanTransition(domain.ReplacementSent) {
			return ruleErr(KindInvalidTransition, "replacement request is "+string(rr.Status),
				map[string]any{"replacement_id": rr.ID, "status": rr.Status})
		}
		t, err := e.loadTask(ctx, tx, rr.TaskID)
		if err != nil {
			return err
		}
		seen := map[string]struct{}{}
		for _, sid := range in.StudentIDs {
			if _, dup := seen[sid]; dup {
				continue
			}
			seen[sid] = struct{}{}
			if sid == rr.VacatedStudentID {
				return ruleErr(KindDuplicateOffer, "student vacated this task", map[string]any{"student_id": sid, "replacement_id": rr.ID})
			}
			id := rr.ID
			o, err := e.issueOfferTx(ctx, tx, actor, t, OfferRequest{
				TaskID:       t.ID,
				StudentID:    sid,
				Compensation: in.Compensation,
				StartDate:    in.StartDate,
			}, &id)
			if err != nil {
				return err
			}
			sent = append(sent, o)
		}
		rr.Status = domain.ReplacementSent
		if err := e.Repo.UpdateReplacement(ctx, tx, rr); err != nil {
			return err
		}
		out = rr
		ids := make([]string, 0, len(sent))
		for _, o := range sent {
			ids = append(ids, o.ID)
		}
		return e.emit(ctx, tx, events.ReplacementSent, t.OrganizationID, "replacement", rr.ID, actor, events.EventPayload{
			"task_id":   t.ID,
			"offer_ids": ids,
		})
	})
	if err != nil {
		return nil, domain.ReplacementRequest{}, err
	}
	return sent, out, nil
}

// onOfferAccepted closes rr with an accepted offer that was sent for it.
func (e Engine) onOfferAccepted(ctx context.Context, tx *sql.Tx, actor domain.Actor, rr domain.ReplacementRequest, o domain.Offer, now time.Time) error {
	if o.ReplacementRequestID == nil || *o.ReplacementRequestID != rr.ID || !rr.Status.CanTransition(domain.ReplacementCompleted) {
		return nil
	}
	offerID := o.ID
	rr.Status = domain.ReplacementCompleted
	rr.CompletedAt = &now
	rr.FilledByOfferID = &offerID
	if err := e.Repo.UpdateReplacement(ctx, tx, rr); err != nil {
		return err
	}
	return e.emit(ctx, tx, events.ReplacementFilled, o.OrganizationID, "replacement", rr.ID, actor, events.EventPayload{
		"task_id":            rr.TaskID,
		"filled_by_offer_id": offerID,
		"student_id":         o.StudentID,
		"overdue":            now.After(rr.Deadline),
	})
}

// FlagOverdueReplacements marks each open request past its deadline once. It never
// cancels or escalates.
func (e Engine) FlagOverdueReplacements(ctx context.Context, actor domain.Actor, now time.Time) ([]domain.ReplacementRequest, error) {
	if err := auth.Require(actor, auth.PermSweep); err != nil {
		return nil, forbidden(err)
	}
	now = now.UTC()
	flagged := []domain.ReplacementRequest{}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		due, err := e.Repo.ListReplacements(ctx, tx, repo.ReplacementFilters{OverdueAt: &now, Unflagged: true})
		if err != nil {
			return err
		}
		for _, rr := range due {
			ok, err := e.Repo.MarkReplacementOverdue(ctx, tx, rr.ID, now)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			at := now
			rr.OverdueFlaggedAt = &at
			t, err := e.loadTask(ctx, tx, rr.TaskID)
			if err != nil {
				return err
			}
			if err := e.emit(ctx, tx, events.ReplacementOverdue, t.OrganizationID, "replacement", rr.ID, actor, events.EventPayload{
				"task_id":  rr.TaskID,
				"deadline": repo.FormatTS(rr.Deadline),
				"status":   rr.Status,
			}); err != nil {
				return err
			}
			flagged = append(flagged, rr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flagged, nil
}

func (e Engine) GetReplacement(ctx context.Context, actor domain.Actor, id string) (domain.ReplacementRequest, error) {
	if err := auth.Require(actor, auth.PermReadReplacement); err != nil {
		return domain.ReplacementRequest{}, forbidden(err)
	}
	rr, err := e.Repo.GetReplacement(ctx, nil, id)
	if err != nil {
		return rr, notFound(err, "replacement", id)
	}
	if actor.Role == domain.RoleOrganization {
		t, err := e.loadTask(ctx, nil, rr.TaskID)
		if err != nil {
			return domain.ReplacementRequest{}, err
		}
		if err := auth.RequireOrganization(actor, auth.PermReadReplacement, t.OrganizationID); err != nil {
			return domain.ReplacementRequest{}, forbidden(err)
		}
	}
	return rr, nil
}

// Overdue reports whether rr is past its SLA deadline at the engine's current time.
func (e Engine) Overdue(rr domain.ReplacementRequest) bool {
	return rr.IsOverdue(e.now())
}

// ReplacementQuery filters ListReplacements.
type ReplacementQuery struct {
	TaskID      string
	OpenOnly    bool
	OverdueOnly bool
	Limit       int
}

func (e Engine) ListReplacements(ctx context.Context, actor domain.Actor, q ReplacementQuery) ([]domain.ReplacementRequest, error) {
	if err := auth.Require(actor, auth.PermManageReplacement); err != nil {
		return nil, forbidden(err)
	}
	f := repo.ReplacementFilters{TaskID: q.TaskID, OpenOnly: q.OpenOnly, Limit: q.Limit}
	if q.OverdueOnly {
		now := e.now()
		f.OverdueAt = &now
	}
	return e.Repo.ListReplacements(ctx, nil, f)
}

// RankCandidates ranks every student profile against a task.
func (e Engine) RankCandidates(ctx context.Context, actor domain.Actor, taskID string, limit int) ([]domain.Candidate, error) {
	if err := auth.Require(actor, auth.PermRankCandidates); err != nil {
		return nil, forbidden(err)
	}
	t, err := e.loadTask(ctx, nil, taskID)
	if err != nil {
		return nil, err
	}
	pool, err := e.Repo.ListStudents(ctx, nil)
	if err != nil {
		return nil, err
	}
	return matcher.Rank(t, pool, matcher.Options{Scale: e.Config.Matching.ScoreScale, Limit: limit}), nil
}
