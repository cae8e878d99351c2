package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskbridge/internal/repo"
)

// Event types written by the engine.
const (
	OrganizationCreated = "organization.created"
	StudentUpserted     = "student.upserted"
	TaskSubmitted       = "task.submitted"
	TaskReviewed        = "task.reviewed"
	TaskActivated       = "task.activated"
	TaskCancelled       = "task.cancelled"
	TaskCompleted       = "task.completed"
	OfferSent           = "offer.sent"
	OfferAccepted       = "offer.accepted"
	OfferDeclined       = "offer.declined"
	OfferExpired        = "offer.expired"
	ReplacementOpened   = "replacement.opened"
	ReplacementSent     = "replacement.offers_sent"
	ReplacementFilled   = "replacement.completed"
	ReplacementOverdue  = "replacement.overdue"
)

type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

type EventPayload map[string]any

// Append writes one event row on q, normally the transaction of the mutation it records.
func (w Writer) Append(ctx context.Context, q repo.Queryer, evtType, orgID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return w.Repo.InsertEvent(ctx, q, repo.FormatTS(now()), evtType, orgID, entityKind, entityID, actorID, string(data))
}
