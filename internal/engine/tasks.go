package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine/auth"
	"taskbridge/internal/events"
	"taskbridge/internal/repo"
)

const rejectedAtReview = "rejected at review"

// TaskSubmission are parameters for submitting a task.
type TaskSubmission struct {
	ID             string
	OrganizationID string
	Title          string
	Description    string
	RequiredSkills []string
	PositionsTotal int
	StartDate      time.Time
	DurationWeeks  int
	WeeklyHours    int
	Compensation   int64
	PayrollTerms   string
}

// SubmitTask records a new task as pending review. Organization actors submit for
// themselves and OrganizationID defaults to the actor.
func (e Engine) SubmitTask(ctx context.Context, actor domain.Actor, in TaskSubmission) (domain.Task, error) {
	if in.OrganizationID == "" && actor.Role == domain.RoleOrganization {
		in.OrganizationID = actor.ID
	}
	if err := auth.RequireOrganization(actor, auth.PermSubmitTask, in.OrganizationID); err != nil {
		return domain.Task{}, forbidden(err)
	}
	in.Title = strings.TrimSpace(in.Title)
	switch {
	case in.OrganizationID == "":
		return domain.Task{}, invalid("organization is required")
	case in.Title == "":
		return domain.Task{}, invalid("title is required")
	case in.PositionsTotal < 1:
		return domain.Task{}, invalid("positions_total must be at least 1")
	case in.DurationWeeks < 0 || in.WeeklyHours < 0:
		return domain.Task{}, invalid("duration_weeks and weekly_hours must not be negative")
	case in.Compensation < 0:
		return domain.Task{}, invalid("compensation must not be negative")
	}
	now := e.now()
	if in.ID == "" {
		in.ID = newID()
	}
	if in.StartDate.IsZero() {
		in.StartDate = now
	}
	t := domain.Task{
		ID:             in.ID,
		OrganizationID: in.OrganizationID,
		Title:          in.Title,
		Description:    in.Description,
		RequiredSkills: domain.NormalizeSkills(in.RequiredSkills),
		PositionsTotal: in.PositionsTotal,
		Status:         domain.TaskPending,
		StartDate:      in.StartDate.UTC(),
		DurationWeeks:  in.DurationWeeks,
		WeeklyHours:    in.WeeklyHours,
		Compensation:   in.Compensation,
		PayrollTerms:   in.PayrollTerms,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetOrganization(ctx, tx, t.OrganizationID); err != nil {
			return notFound(err, "organization", t.OrganizationID)
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.TaskSubmitted, t.OrganizationID, "task", t.ID, actor, events.EventPayload{
			"title":           t.Title,
			"positions_total": t.PositionsTotal,
			"required_skills": t.RequiredSkills,
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ReviewTask approves a pending task into open, or rejects it into cancelled.
func (e Engine) ReviewTask(ctx context.Context, actor domain.Actor, taskID string, decision domain.ReviewDecision) (domain.Task, error) {
	if err := auth.Require(actor, auth.PermReviewTask); err != nil {
		return domain.Task{}, forbidden(err)
	}
	target := domain.TaskOpen
	switch decision {
	case domain.DecisionApprove:
	case domain.DecisionReject:
		target = domain.TaskCancelled
	default:
		return domain.Task{}, invalid("decision must be approve or reject")
	}
	var out domain.Task
	err := e.withTask(ctx, taskID, func(tx *sql.Tx) error {
		t, err := e.loadTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !t.Status.Terminal() && t.Status != domain.TaskPending {
			return ruleErr(KindInvalidTransition, "only pending tasks can be reviewed",
				map[string]any{"task_id": t.ID, "status": t.Status})
		}
		if err := transitionTask(&t, target); err != nil {
			return err
		}
		if target == domain.TaskCancelled {
			t.CancelReason = rejectedAtReview
		}
		t.UpdatedAt = e.now()
		if t, err = e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		out = t
		return e.emit(ctx, tx, events.TaskReviewed, t.OrganizationID, "task", t.ID, actor, events.EventPayload{
			"decision": decision,
			"status":   t.Status,
		})
	})
	return out, err
}

// CancelTask withdraws a pending or open task. Its sent offers are expired with it.
func (e Engine) CancelTask(ctx context.Context, actor domain.Actor, taskID, reason string) (domain.Task, error) {
	if err := auth.Require(actor, auth.PermCancelTask); err != nil {
		return domain.Task{}, forbidden(err)
	}
	var out domain.Task
	err := e.withTask(ctx, taskID, func(tx *sql.Tx) error {
		t, err := e.loadTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := auth.RequireOrganization(actor, auth.PermCancelTask, t.OrganizationID); err != nil {
			return forbidden(err)
		}
		if err := transitionTask(&t, domain.TaskCancelled); err != nil {
			return err
		}
		now := e.now()
		t.CancelReason = strings.TrimSpace(reason)
		t.UpdatedAt = now
		if t, err = e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		withdrawn, err := e.expireTaskOffers(ctx, tx, actor, t, now, "withdrawn")
		if err != nil {
			return err
		}
		out = t
		return e.emit(ctx, tx, events.TaskCancelled, t.OrganizationID, "task", t.ID, actor, events.EventPayload{
			"reason":           t.CancelReason,
			"withdrawn_offers": withdrawn,
		})
	})
	return out, err
}

// expireTaskOffers moves every stored sent offer of t to expired.
func (e Engine) expireTaskOffers(ctx context.Context, tx *sql.Tx, actor domain.Actor, t domain.Task, now time.Time, cause string) ([]string, error) {
	offers, err := e.Repo.ListOffersByTask(ctx, tx, t.ID)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for _, o := range offers {
		if o.Status != domain.OfferSent {
			continue
		}
		ok, err := e.expireOffer(ctx, tx, actor, o, now, cause)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, o.ID)
		}
	}
	return ids, nil
}

// expireOffer persists the expiry of a sent offer and records it.
func (e Engine) expireOffer(ctx context.Context, q repo.Queryer, actor domain.Actor, o domain.Offer, now time.Time, cause string) (bool, error) {
	o.Status = domain.OfferExpired
	ok, err := e.Repo.UpdateOffer(ctx, q, o, domain.OfferSent)
	if err != nil || !ok {
		return false, err
	}
	return true, e.emit(ctx, q, events.OfferExpired, o.OrganizationID, "offer", o.ID, actor, events.EventPayload{
		"task_id":    o.TaskID,
		"student_id": o.StudentID,
		"expires_at": repo.FormatTS(o.ExpiresAt),
		"cause":      cause,
		"expired_at": repo.FormatTS(now),
	})
}

// CompletionInput is the organization's sign-off on an active task.
type CompletionInput struct {
	Rating   *int
	Feedback string
}

// CompleteTask closes an active task. Every active assignee has its completion count and
// running rating updated, and a completion fact is queued for the payout ledger.
func (e Engine) CompleteTask(ctx context.Context, actor domain.Actor, taskID string, in CompletionInput) (domain.Task, error) {
	if err := auth.Require(actor, auth.PermCompleteTask); err != nil {
		return domain.Task{}, forbidden(err)
	}
	var out domain.Task
	err := e.withTask(ctx, taskID, func(tx *sql.Tx) error {
		t, err := e.loadTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := auth.RequireOrganization(actor, auth.PermCompleteTask, t.OrganizationID); err != nil {
			return forbidden(err)
		}
		if err := transitionTask(&t, domain.TaskCompleted); err != nil {
			return err
		}
		feedback := strings.TrimSpace(in.Feedback)
		if in.Rating == nil || *in.Rating < 1 || *in.Rating > 5 || feedback == "" {
			details := map[string]any{"task_id": t.ID, "feedback_present": feedback != ""}
			if in.Rating != nil {
				details["rating"] = *in.Rating
			}
			return ruleErr(KindRatingRequired, ErrRatingRequired.Message, details)
		}
		now := e.now()
		rating := *in.Rating
		t.Rating = &rating
		t.Feedback = feedback
		t.CompletedAt = &now
		t.UpdatedAt = now

		offers, err := e.Repo.ListOffersByTask(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		students := []string{}
		for _, o := range offers {
			if !o.ActiveAssignment() {
				continue
			}
			students = append(students, o.StudentID)
			if err := e.Repo.RecordStudentCompletion(ctx, tx, o.StudentID, rating, now); err != nil {
				return notFound(err, "student", o.StudentID)
			}
		}
		withdrawn, err := e.expireTaskOffers(ctx, tx, actor, t, now, "task completed")
		if err != nil {
			return err
		}
		if t, err = e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		if err := e.Repo.InsertCompletionFact(ctx, tx, domain.CompletionFact{
			TaskID:         t.ID,
			OrganizationID: t.OrganizationID,
			StudentIDs:     students,
			Compensation:   t.Compensation,
			DurationWeeks:  t.DurationWeeks,
			WeeklyHours:    t.WeeklyHours,
			PayrollTerms:   t.PayrollTerms,
			Rating:         rating,
			CompletedAt:    now,
		}); err != nil {
			return err
		}
		out = t
		return e.emit(ctx, tx, events.TaskCompleted, t.OrganizationID, "task", t.ID, actor, events.EventPayload{
			"rating":           rating,
			"student_ids":      students,
			"withdrawn_offers": withdrawn,
		})
	})
	return out, err
}

func (e Engine) GetTask(ctx context.Context, actor domain.Actor, id string) (domain.Task, error) {
	if err := auth.Require(actor, auth.PermReadTask); err != nil {
		return domain.Task{}, forbidden(err)
	}
	t, err := e.loadTask(ctx, nil, id)
	if err != nil {
		return t, err
	}
	if err := auth.RequireOrganization(actor, auth.PermReadTask, t.OrganizationID); err != nil {
		return domain.Task{}, forbidden(err)
	}
	return t, nil
}

// ListTasks lists tasks. Organization actors only ever see their own.
func (e Engine) ListTasks(ctx context.Context, actor domain.Actor, f repo.TaskFilters) ([]domain.Task, error) {
	if err := auth.Require(actor, auth.PermReadTask); err != nil {
		return nil, forbidden(err)
	}
	if actor.Role == domain.RoleOrganization {
		f.OrganizationID = actor.ID
	}
	if f.Status != "" && !domain.TaskStatus(f.Status).Valid() {
		return nil, invalid("unknown task status %q", f.Status)
	}
	return e.Repo.ListTasks(ctx, nil, f)
}
