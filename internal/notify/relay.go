package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"taskbridge/internal/domain"
	"taskbridge/internal/repo"
)

const (
	defaultRelayInterval = time.Second
	defaultRelayBatch    = 100
)

// Envelope is the JSON frame written to websocket clients.
type Envelope struct {
	ID             int64           `json:"id"`
	Type           string          `json:"type"`
	OrganizationID string          `json:"organization_id,omitempty"`
	EntityKind     string          `json:"entity_kind"`
	EntityID       string          `json:"entity_id,omitempty"`
	ActorID        string          `json:"actor_id"`
	TS             string          `json:"ts"`
	Payload        json.RawMessage `json:"payload"`
}

// Relay tails the event log after a cursor and delivers each event through the Hub.
type Relay struct {
	Repo     repo.Repo
	Hub      *Hub
	Interval time.Duration
	Batch    int
	Logger   *slog.Logger

	cursor int64
	primed bool
}

func NewRelay(r repo.Repo, hub *Hub, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	return &Relay{Repo: r, Hub: hub, Interval: interval, Batch: defaultRelayBatch}
}

func (r *Relay) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Start begins after the newest stored event and polls until ctx is done.
func (r *Relay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger().Warn("notify relay poll failed", "err", err, "cursor", r.cursor)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SetCursor positions the relay after event id.
func (r *Relay) SetCursor(id int64) {
	r.cursor = id
	r.primed = true
}

// RunOnce delivers the events stored after the cursor and returns how many it read.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	if !r.primed {
		latest, err := r.Repo.LatestEventID(ctx)
		if err != nil {
			return 0, err
		}
		r.SetCursor(latest)
	}
	evts, err := r.Repo.EventsAfter(ctx, r.Batch, r.cursor)
	if err != nil {
		return 0, err
	}
	for _, evt := range evts {
		data, err := json.Marshal(envelopeFor(evt))
		if err != nil {
			return 0, err
		}
		if !r.Hub.Deliver(Recipients(evt), data) {
			return 0, ctx.Err()
		}
		r.cursor = evt.ID
	}
	return len(evts), nil
}

func envelopeFor(evt domain.Event) Envelope {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return Envelope{
		ID:             evt.ID,
		Type:           evt.Type,
		OrganizationID: evt.OrganizationID,
		EntityKind:     evt.EntityKind,
		EntityID:       evt.EntityID,
		ActorID:        evt.ActorID,
		TS:             evt.TS,
		Payload:        payload,
	}
}

// Recipients returns the organization of the event and the students it names.
func Recipients(evt domain.Event) []string {
	out := []string{}
	if evt.OrganizationID != "" {
		out = append(out, evt.OrganizationID)
	}
	if evt.EntityKind == "student" && evt.EntityID != "" {
		out = append(out, evt.EntityID)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(evt.Payload), &fields); err != nil {
		return out
	}
	for _, key := range []string{"student_id", "vacated_student_id"} {
		if id, ok := fields[key].(string); ok && id != "" {
			out = append(out, id)
		}
	}
	if ids, ok := fields["student_ids"].([]any); ok {
		for _, v := range ids {
			if id, ok := v.(string); ok && id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}
