package domain

import (
	"sort"
	"strings"
	"time"
)

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type StudentProfile struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Skills           []string  `json:"skills"`
	AvailabilityBand string    `json:"availability_band,omitempty"`
	Rating           float64   `json:"rating"`
	RatingsCount     int       `json:"ratings_count"`
	TasksCompleted   int       `json:"tasks_completed"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Task struct {
	ID              string     `json:"id"`
	OrganizationID  string     `json:"organization_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	RequiredSkills  []string   `json:"required_skills"`
	PositionsTotal  int        `json:"positions_total"`
	PositionsFilled int        `json:"positions_filled"`
	Status          TaskStatus `json:"status" enum:"pending,open,active,completed,cancelled"`
	StartDate       time.Time  `json:"start_date"`
	DurationWeeks   int        `json:"duration_weeks"`
	WeeklyHours     int        `json:"weekly_hours"`
	Compensation    int64      `json:"compensation"`
	PayrollTerms    string     `json:"payroll_terms,omitempty"`
	Rating          *int       `json:"rating,omitempty"`
	Feedback        string     `json:"feedback,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// RemainingCapacity is the number of positions not held by an accepted offer.
func (t Task) RemainingCapacity() int {
	if rem := t.PositionsTotal - t.PositionsFilled; rem > 0 {
		return rem
	}
	return 0
}

type Offer struct {
	ID                   string      `json:"id"`
	TaskID               string      `json:"task_id"`
	StudentID            string      `json:"student_id"`
	OrganizationID       string      `json:"organization_id"`
	Status               OfferStatus `json:"status" enum:"sent,accepted,declined,expired"`
	SentAt               time.Time   `json:"sent_at"`
	RespondedAt          *time.Time  `json:"responded_at,omitempty"`
	ExpiresAt            time.Time   `json:"expires_at"`
	Compensation         int64       `json:"compensation"`
	StartDate            time.Time   `json:"start_date"`
	ReplacementRequestID *string     `json:"replacement_request_id,omitempty"`
	VacatedAt            *time.Time  `json:"vacated_at,omitempty"`
}

// Effective applies lazy expiry: a sent offer past its deadline reads as expired.
func (o Offer) Effective(now time.Time) Offer {
	if o.Status == OfferSent && o.ExpiresAt.Before(now) {
		o.Status = OfferExpired
	}
	return o
}

// ActiveAssignment reports whether the offer currently holds a position.
func (o Offer) ActiveAssignment() bool {
	return o.Status == OfferAccepted && o.VacatedAt == nil
}

type ReplacementRequest struct {
	ID               string            `json:"id"`
	TaskID           string            `json:"task_id"`
	VacatedStudentID string            `json:"vacated_student_id"`
	VacatedOfferID   string            `json:"vacated_offer_id"`
	Reason           string            `json:"reason"`
	Status           ReplacementStatus `json:"status" enum:"pending,replacement_sent,completed"`
	CreatedAt        time.Time         `json:"created_at"`
	Deadline         time.Time         `json:"deadline"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	FilledByOfferID  *string           `json:"filled_by_offer_id,omitempty"`
	OverdueFlaggedAt *time.Time        `json:"overdue_flagged_at,omitempty"`
}

// IsOverdue reports whether the SLA deadline has passed without a filled replacement.
func (r ReplacementRequest) IsOverdue(now time.Time) bool {
	return now.After(r.Deadline) && r.Status != ReplacementCompleted
}

// Candidate is one shortlist entry produced by the matcher.
type Candidate struct {
	Student StudentProfile `json:"student"`
	Score   int            `json:"score"`
}

// CompletionFact is what the payout collaborator receives when a task completes.
type CompletionFact struct {
	ID             int64      `json:"id"`
	TaskID         string     `json:"task_id"`
	OrganizationID string     `json:"organization_id"`
	StudentIDs     []string   `json:"student_ids"`
	Compensation   int64      `json:"compensation"`
	DurationWeeks  int        `json:"duration_weeks"`
	WeeklyHours    int        `json:"weekly_hours"`
	PayrollTerms   string     `json:"payroll_terms,omitempty"`
	Rating         int        `json:"rating"`
	CompletedAt    time.Time  `json:"completed_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
}

type Event struct {
	ID             int64  `json:"id"`
	TS             string `json:"ts" format:"date-time"`
	Type           string `json:"type"`
	OrganizationID string `json:"organization_id,omitempty"`
	EntityKind     string `json:"entity_kind"`
	EntityID       string `json:"entity_id,omitempty"`
	ActorID        string `json:"actor_id"`
	Payload        string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// NormalizeSkills lower-cases, trims and de-duplicates a skill list, returning it sorted.
func NormalizeSkills(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
