package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine/auth"
	"taskbridge/internal/events"
	"taskbridge/internal/repo"
)

// OfferRequest are parameters for issuing an offer. Zero compensation and start date
// default to the task's values.
type OfferRequest struct {
	TaskID       string
	StudentID    string
	Compensation int64
	StartDate    time.Time
}

// IssueOffer sends a time-boxed offer for one position of a task to one student.
func (e Engine) IssueOffer(ctx context.Context, actor domain.Actor, req OfferRequest) (domain.Offer, error) {
	if err := auth.Require(actor, auth.PermIssueOffer); err != nil {
		return domain.Offer{}, forbidden(err)
	}
	if req.TaskID == "" || req.StudentID == "" {
		return domain.Offer{}, invalid("task and student are required")
	}
	if req.Compensation < 0 {
		return domain.Offer{}, invalid("compensation must not be negative")
	}
	var out domain.Offer
	err := e.withTask(ctx, req.TaskID, func(tx *sql.Tx) error {
		t, err := e.loadTask(ctx, tx, req.TaskID)
		if err != nil {
			return err
		}
		out, err = e.issueOfferTx(ctx, tx, actor, t, req, nil)
		return err
	})
	return out, err
}

// issueOfferTx applies the ledger rules for one new offer on t inside tx.
func (e Engine) issueOfferTx(ctx context.Context, tx *sql.Tx, actor domain.Actor, t domain.Task, req OfferRequest, replacementID *string) (domain.Offer, error) {
	if !t.Status.AcceptingOffers() {
		return domain.Offer{}, ruleErr(KindInvalidTransition, fmt.Sprintf("task %s is %s and not accepting offers", t.ID, t.Status),
			map[string]any{"task_id": t.ID, "status": t.Status})
	}
	if t.RemainingCapacity() == 0 {
		return domain.Offer{}, ruleErr(KindCapacityExceeded, ErrCapacityExceeded.Message,
			map[string]any{"task_id": t.ID, "positions_total": t.PositionsTotal, "positions_filled": t.PositionsFilled})
	}
	if _, err := e.Repo.GetStudent(ctx, tx, req.StudentID); err != nil {
		return domain.Offer{}, notFound(err, "student", req.StudentID)
	}
	now := e.now()
	existing, err := e.Repo.ListOffersForPair(ctx, tx, t.ID, req.StudentID)
	if err != nil {
		return domain.Offer{}, err
	}
	for _, o := range existing {
		eff := o.Effective(now)
		if eff.Status == domain.OfferSent || eff.ActiveAssignment() {
			return domain.Offer{}, ruleErr(KindDuplicateOffer, ErrDuplicateOffer.Message,
				map[string]any{"task_id": t.ID, "student_id": req.StudentID, "offer_id": o.ID, "status": eff.Status})
		}
		if o.Status == domain.OfferSent {
			if _, err := e.expireOffer(ctx, tx, actor, o, now, "lapsed"); err != nil {
				return domain.Offer{}, err
			}
		}
	}
	o := domain.Offer{
		ID:                   newID(),
		TaskID:               t.ID,
		StudentID:            req.StudentID,
		OrganizationID:       t.OrganizationID,
		Status:               domain.OfferSent,
		SentAt:               now,
		ExpiresAt:            now.Add(e.Config.OfferTTL()),
		Compensation:         req.Compensation,
		StartDate:            req.StartDate.UTC(),
		ReplacementRequestID: replacementID,
	}
	if o.Compensation == 0 {
		o.Compensation = t.Compensation
	}
	if req.StartDate.IsZero() {
		o.StartDate = t.StartDate
	}
	if err := e.Repo.InsertOffer(ctx, tx, o); err != nil {
		return domain.Offer{}, err
	}
	payload := events.EventPayload{
		"task_id":      o.TaskID,
		"student_id":   o.StudentID,
		"expires_at":   repo.FormatTS(o.ExpiresAt),
		"compensation": o.Compensation,
	}
	if replacementID != nil {
		payload["replacement_request_id"] = *replacementID
	}
	if err := e.emit(ctx, tx, events.OfferSent, o.OrganizationID, "offer", o.ID, actor, payload); err != nil {
		return domain.Offer{}, err
	}
	return o, nil
}

// ResolveOffer accepts or declines a sent offer on behalf of its student. Resolution is
// idempotent in effect: a second resolve fails with OfferAlreadyResolved and leaves
// every counter unchanged.
func (e Engine) ResolveOffer(ctx context.Context, actor domain.Actor, offerID string, action domain.ResolveAction) (domain.Offer, error) {
	if action != domain.ActionAccept && action != domain.ActionDecline {
		return domain.Offer{}, invalid("action must be accept or decline")
	}
	pre, err := e.Repo.GetOffer(ctx, nil, offerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Offer{}, ruleErr(KindOfferNotFound, ErrOfferNotFound.Message, map[string]any{"offer_id": offerID})
		}
		return domain.Offer{}, err
	}
	if err := auth.RequireStudent(actor, auth.PermResolveOffer, pre.StudentID); err != nil {
		return domain.Offer{}, forbidden(err)
	}
	var out domain.Offer
	err = e.withTask(ctx, pre.TaskID, func(tx *sql.Tx) error {
		o, err := e.Repo.GetOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		now := e.now()
		details := map[string]any{"offer_id": o.ID, "status": o.Status}
		switch o.Status {
		case domain.OfferAccepted, domain.OfferDeclined:
			return ruleErr(KindOfferAlreadyResolved, ErrOfferAlreadyResolved.Message, details)
		case domain.OfferExpired:
			return ruleErr(KindOfferExpired, ErrOfferExpired.Message, details)
		}
		if o.Effective(now).Status == domain.OfferExpired {
			if _, err := e.expireOffer(ctx, tx, actor, o, now, "lapsed"); err != nil {
				return err
			}
			details["expires_at"] = repo.FormatTS(o.ExpiresAt)
			return committed{err: ruleErr(KindOfferExpired, ErrOfferExpired.Message, details)}
		}
		o.RespondedAt = &now
		if action == domain.ActionDecline {
			o.Status = domain.OfferDeclined
			if err := e.updateOffer(ctx, tx, o); err != nil {
				return err
			}
			out = o
			return e.emit(ctx, tx, events.OfferDeclined, o.OrganizationID, "offer", o.ID, actor, events.EventPayload{
				"task_id":    o.TaskID,
				"student_id": o.StudentID,
			})
		}
		t, err := e.loadTask(ctx, tx, o.TaskID)
		if err != nil {
			return err
		}
		if !t.Status.AcceptingOffers() {
			return ruleErr(KindInvalidTransition, fmt.Sprintf("task %s is %s", t.ID, t.Status),
				map[string]any{"task_id": t.ID, "status": t.Status})
		}
		out, err = e.acceptOffer(ctx, tx, actor, t, o, now)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Offer{}, ruleErr(KindOfferNotFound, ErrOfferNotFound.Message, map[string]any{"offer_id": offerID})
	}
	return out, err
}

func (e Engine) acceptOffer(ctx context.Context, tx *sql.Tx, actor domain.Actor, t domain.Task, o domain.Offer, now time.Time) (domain.Offer, error) {
	if t.RemainingCapacity() == 0 {
		return domain.Offer{}, ruleErr(KindCapacityExceeded, ErrCapacityExceeded.Message,
			map[string]any{"task_id": t.ID, "offer_id": o.ID, "positions_total": t.PositionsTotal, "positions_filled": t.PositionsFilled})
	}
	// Only an offer sent for the open request closes it.
	var (
		rr             domain.ReplacementRequest
		hasReplacement bool
		err            error
	)
	if o.ReplacementRequestID != nil {
		rr, err = e.Repo.OpenReplacementForTask(ctx, tx, t.ID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return domain.Offer{}, err
		}
		hasReplacement = err == nil && rr.ID == *o.ReplacementRequestID
	}
	o.Status = domain.OfferAccepted
	if err := e.updateOffer(ctx, tx, o); err != nil {
		return domain.Offer{}, err
	}

	activated := t.Status == domain.TaskOpen
	if activated {
		if err := transitionTask(&t, domain.TaskActive); err != nil {
			return domain.Offer{}, err
		}
	}
	t.PositionsFilled++
	t.UpdatedAt = now
	if t, err = e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Offer{}, err
	}
	if err := e.emit(ctx, tx, events.OfferAccepted, o.OrganizationID, "offer", o.ID, actor, events.EventPayload{
		"task_id":          o.TaskID,
		"student_id":       o.StudentID,
		"positions_filled": t.PositionsFilled,
		"positions_total":  t.PositionsTotal,
	}); err != nil {
		return domain.Offer{}, err
	}
	if activated {
		if err := e.emit(ctx, tx, events.TaskActivated, t.OrganizationID, "task", t.ID, actor, events.EventPayload{
			"offer_id": o.ID,
		}); err != nil {
			return domain.Offer{}, err
		}
	}
	if hasReplacement {
		if err := e.onOfferAccepted(ctx, tx, actor, rr, o, now); err != nil {
			return domain.Offer{}, err
		}
	}
	return o, nil
}

// updateOffer moves a sent offer to o.Status. Losing the guard means another
// resolution landed first.
func (e Engine) updateOffer(ctx context.Context, tx *sql.Tx, o domain.Offer) error {
	ok, err := e.Repo.UpdateOffer(ctx, tx, o, domain.OfferSent)
	if err != nil {
		return err
	}
	if !ok {
		return ruleErr(KindOfferAlreadyResolved, ErrOfferAlreadyResolved.Message, map[string]any{"offer_id": o.ID})
	}
	return nil
}

// ExpireStaleOffers persists the expiry of every sent offer whose deadline lies before
// now and returns the batch. Running it again with the same now returns nothing.
func (e Engine) ExpireStaleOffers(ctx context.Context, actor domain.Actor, now time.Time) ([]domain.Offer, error) {
	if err := auth.Require(actor, auth.PermSweep); err != nil {
		return nil, forbidden(err)
	}
	now = now.UTC()
	expired := []domain.Offer{}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		stale, err := e.Repo.ListStaleSentOffers(ctx, tx, now)
		if err != nil {
			return err
		}
		for _, o := range stale {
			ok, err := e.expireOffer(ctx, tx, actor, o, now, "sweep")
			if err != nil {
				return err
			}
			if ok {
				o.Status = domain.OfferExpired
				expired = append(expired, o)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// GetOffer returns an offer with lazy expiry applied.
func (e Engine) GetOffer(ctx context.Context, actor domain.Actor, id string) (domain.Offer, error) {
	if err := auth.Require(actor, auth.PermReadOffers); err != nil {
		return domain.Offer{}, forbidden(err)
	}
	o, err := e.Repo.GetOffer(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return o, ruleErr(KindOfferNotFound, ErrOfferNotFound.Message, map[string]any{"offer_id": id})
		}
		return o, err
	}
	if err := authorizeOfferRead(actor, o); err != nil {
		return domain.Offer{}, err
	}
	return o.Effective(e.now()), nil
}

func authorizeOfferRead(actor domain.Actor, o domain.Offer) error {
	switch actor.Role {
	case domain.RoleStudent:
		return forbidden(auth.RequireStudent(actor, auth.PermReadOffers, o.StudentID))
	case domain.RoleOrganization:
		return forbidden(auth.RequireOrganization(actor, auth.PermReadOffers, o.OrganizationID))
	}
	return nil
}

func (e Engine) ListTaskOffers(ctx context.Context, actor domain.Actor, taskID string) ([]domain.Offer, error) {
	if err := auth.Require(actor, auth.PermReadOffers); err != nil {
		return nil, forbidden(err)
	}
	if actor.Role == domain.RoleStudent {
		return nil, forbidden(auth.ForbiddenError{ActorID: actor.ID, Role: actor.Role, Permission: auth.PermIssueOffer})
	}
	t, err := e.loadTask(ctx, nil, taskID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireOrganization(actor, auth.PermReadOffers, t.OrganizationID); err != nil {
		return nil, forbidden(err)
	}
	offers, err := e.Repo.ListOffersByTask(ctx, nil, taskID)
	if err != nil {
		return nil, err
	}
	return e.effective(offers), nil
}

func (e Engine) ListStudentOffers(ctx context.Context, actor domain.Actor, studentID string) ([]domain.Offer, error) {
	if err := auth.RequireStudent(actor, auth.PermReadOffers, studentID); err != nil {
		return nil, forbidden(err)
	}
	if actor.Role == domain.RoleOrganization {
		return nil, forbidden(auth.ForbiddenError{ActorID: actor.ID, Role: actor.Role, Permission: auth.PermReadCollaborators})
	}
	offers, err := e.Repo.ListOffersByStudent(ctx, nil, studentID)
	if err != nil {
		return nil, err
	}
	return e.effective(offers), nil
}

func (e Engine) effective(offers []domain.Offer) []domain.Offer {
	now := e.now()
	out := make([]domain.Offer, 0, len(offers))
	for _, o := range offers {
		out = append(out, o.Effective(now))
	}
	return out
}
