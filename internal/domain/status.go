package domain

import "fmt"

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskOpen      TaskStatus = "open"
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskOpen, TaskActive, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// AcceptingOffers reports whether offers may be issued or accepted in this status.
func (s TaskStatus) AcceptingOffers() bool {
	return s == TaskOpen || s == TaskActive
}

// CanTransition holds the task state machine. Self-transitions are only legal for
// active (a further acceptance changes the counter, not the status).
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	switch s {
	case TaskPending:
		return to == TaskOpen || to == TaskCancelled
	case TaskOpen:
		return to == TaskActive || to == TaskCancelled
	case TaskActive:
		return to == TaskActive || to == TaskCompleted
	}
	return false
}

type OfferStatus string

const (
	OfferSent     OfferStatus = "sent"
	OfferAccepted OfferStatus = "accepted"
	OfferDeclined OfferStatus = "declined"
	OfferExpired  OfferStatus = "expired"
)

func (s OfferStatus) Valid() bool {
	switch s {
	case OfferSent, OfferAccepted, OfferDeclined, OfferExpired:
		return true
	}
	return false
}

// CanTransition: only a sent offer moves, and only once.
func (s OfferStatus) CanTransition(to OfferStatus) bool {
	return s == OfferSent && (to == OfferAccepted || to == OfferDeclined || to == OfferExpired)
}

type ReplacementStatus string

const (
	ReplacementPending   ReplacementStatus = "pending"
	ReplacementSent      ReplacementStatus = "replacement_sent"
	ReplacementCompleted ReplacementStatus = "completed"
)

func (s ReplacementStatus) Valid() bool {
	switch s {
	case ReplacementPending, ReplacementSent, ReplacementCompleted:
		return true
	}
	return false
}

func (s ReplacementStatus) Open() bool {
	return s == ReplacementPending || s == ReplacementSent
}

func (s ReplacementStatus) CanTransition(to ReplacementStatus) bool {
	switch s {
	case ReplacementPending:
		return to == ReplacementSent
	case ReplacementSent:
		return to == ReplacementSent || to == ReplacementCompleted
	}
	return false
}

type ResolveAction string

const (
	ActionAccept  ResolveAction = "accept"
	ActionDecline ResolveAction = "decline"
)

func ParseResolveAction(v string) (ResolveAction, error) {
	switch ResolveAction(v) {
	case ActionAccept, ActionDecline:
		return ResolveAction(v), nil
	}
	return "", fmt.Errorf("invalid action %q (want accept or decline)", v)
}

type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "approve"
	DecisionReject  ReviewDecision = "reject"
)

func ParseReviewDecision(v string) (ReviewDecision, error) {
	switch ReviewDecision(v) {
	case DecisionApprove, DecisionReject:
		return ReviewDecision(v), nil
	}
	return "", fmt.Errorf("invalid decision %q (want approve or reject)", v)
}

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleOrganization Role = "organization"
	RoleStudent      Role = "student"
)

func ParseRole(v string) (Role, error) {
	switch Role(v) {
	case RoleAdmin, RoleOrganization, RoleStudent:
		return Role(v), nil
	}
	return "", fmt.Errorf("invalid role %q", v)
}

// Actor is the request-scoped identity every engine operation receives. For
// organizations ID is the organization id, for students the student id.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
