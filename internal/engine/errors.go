package engine

import (
	"errors"
	"fmt"

	"taskbridge/internal/repo"
)

// Kind names a business rule violation. The server maps each kind to one HTTP status.
type Kind string

const (
	KindCapacityExceeded       Kind = "CapacityExceeded"
	KindDuplicateOffer         Kind = "DuplicateOffer"
	KindOfferNotFound          Kind = "OfferNotFound"
	KindOfferAlreadyResolved   Kind = "OfferAlreadyResolved"
	KindOfferExpired           Kind = "OfferExpired"
	KindNoActiveAssignment     Kind = "NoActiveAssignment"
	KindReplacementAlreadyOpen Kind = "ReplacementAlreadyOpen"
	KindRatingRequired         Kind = "RatingRequired"
	KindInvalidTransition      Kind = "InvalidTransition"
	KindTerminalState          Kind = "TerminalStateViolation"
	KindNotFound               Kind = "NotFound"
	KindInvalid                Kind = "Invalid"
	KindForbidden              Kind = "Forbidden"
)

// RuleError is returned for every rejected operation. errors.Is compares kinds only,
// so callers match against the exported sentinels.
type RuleError struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *RuleError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RuleError) Is(target error) bool {
	t, ok := target.(*RuleError)
	return ok && t.Kind == e.Kind
}

var (
	ErrCapacityExceeded       = &RuleError{Kind: KindCapacityExceeded, Message: "task has no remaining capacity"}
	ErrDuplicateOffer         = &RuleError{Kind: KindDuplicateOffer, Message: "student already has a live offer or assignment on this task"}
	ErrOfferNotFound          = &RuleError{Kind: KindOfferNotFound, Message: "offer not found"}
	ErrOfferAlreadyResolved   = &RuleError{Kind: KindOfferAlreadyResolved, Message: "offer already resolved"}
	ErrOfferExpired           = &RuleError{Kind: KindOfferExpired, Message: "offer expired"}
	ErrNoActiveAssignment     = &RuleError{Kind: KindNoActiveAssignment, Message: "student has no active assignment on this task"}
	ErrReplacementAlreadyOpen = &RuleError{Kind: KindReplacementAlreadyOpen, Message: "task already has an open replacement request"}
	ErrRatingRequired         = &RuleError{Kind: KindRatingRequired, Message: "rating between 1 and 5 and feedback are required"}
	ErrInvalidTransition      = &RuleError{Kind: KindInvalidTransition, Message: "transition not allowed"}
	ErrTerminalStateViolation = &RuleError{Kind: KindTerminalState, Message: "task is in a terminal state"}
	ErrNotFound               = &RuleError{Kind: KindNotFound, Message: "not found"}
	ErrInvalid                = &RuleError{Kind: KindInvalid, Message: "invalid input"}
	ErrForbidden              = &RuleError{Kind: KindForbidden, Message: "forbidden"}
)

// ErrConcurrentUpdate surfaces a lost compare-and-swap on a task row.
var ErrConcurrentUpdate = repo.ErrVersionConflict

func ruleErr(kind Kind, msg string, details map[string]any) *RuleError {
	return &RuleError{Kind: kind, Message: msg, Details: details}
}

func invalid(format string, args ...any) *RuleError {
	return ruleErr(KindInvalid, fmt.Sprintf(format, args...), nil)
}

// notFound translates repo.ErrNotFound into a NotFound rule error for entity.
func notFound(err error, entity, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ruleErr(KindNotFound, entity+" not found", map[string]any{"entity": entity, "id": id})
	}
	return err
}

// KindOf returns the rule kind carried by err, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// committed marks a rule error whose transaction must still commit: a lazily expired
// offer is persisted even though the resolution fails.
type committed struct {
	err error
}

func (c committed) Error() string { return c.err.Error() }
func (c committed) Unwrap() error { return c.err }
