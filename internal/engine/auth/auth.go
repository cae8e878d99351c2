package auth

import (
	"fmt"

	"taskbridge/internal/domain"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	ActorID    string
	Role       domain.Role
	Permission Permission
}

func (e ForbiddenError) Error() string {
	if e.ActorID == "" {
		return fmt.Sprintf("permission %s required", e.Permission)
	}
	return fmt.Sprintf("actor %s (%s) lacks permission %s", e.ActorID, e.Role, e.Permission)
}

// OwnershipError indicates an actor acting on a record owned by someone else.
type OwnershipError struct {
	ActorID string
	Kind    string
	OwnerID string
}

func (e OwnershipError) Error() string {
	return fmt.Sprintf("actor %s does not own %s of %s", e.ActorID, e.Kind, e.OwnerID)
}

type Permission string

const (
	PermManageCollaborators Permission = "collaborators.manage"
	PermReadCollaborators   Permission = "collaborators.read"
	PermSubmitTask          Permission = "task.submit"
	PermReviewTask          Permission = "task.review"
	PermCancelTask          Permission = "task.cancel"
	PermCompleteTask        Permission = "task.complete"
	PermReadTask            Permission = "task.read"
	PermRankCandidates      Permission = "task.rank"
	PermIssueOffer          Permission = "offer.issue"
	PermReadOffers          Permission = "offer.read"
	PermResolveOffer        Permission = "offer.resolve"
	PermReportUnavailable   Permission = "replacement.report"
	PermManageReplacement   Permission = "replacement.manage"
	PermReadReplacement     Permission = "replacement.read"
	PermSweep               Permission = "system.sweep"
	PermReadEvents          Permission = "events.read"
)

var rolePermissions = map[domain.Role][]Permission{
	domain.RoleAdmin: {
		PermManageCollaborators, PermReadCollaborators, PermSubmitTask, PermReviewTask, PermCancelTask,
		PermReadTask, PermRankCandidates, PermIssueOffer, PermReadOffers, PermResolveOffer,
		PermReportUnavailable, PermManageReplacement, PermReadReplacement, PermSweep, PermReadEvents,
	},
	domain.RoleOrganization: {
		PermSubmitTask, PermCancelTask, PermCompleteTask, PermReadTask, PermReadOffers,
		PermReportUnavailable, PermReadReplacement,
	},
	domain.RoleStudent: {
		PermReadTask, PermReadOffers, PermResolveOffer,
	},
}

// Allowed reports whether role carries perm.
func Allowed(role domain.Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// Permissions lists the permissions of role.
func Permissions(role domain.Role) []Permission {
	return append([]Permission(nil), rolePermissions[role]...)
}

// Require checks that actor is identified and its role carries perm.
func Require(actor domain.Actor, perm Permission) error {
	if actor.ID == "" {
		return ForbiddenError{Permission: perm}
	}
	if !Allowed(actor.Role, perm) {
		return ForbiddenError{ActorID: actor.ID, Role: actor.Role, Permission: perm}
	}
	return nil
}

// RequireOrganization is Require plus ownership: organization actors may only act on
// their own organization's records. Admins pass.
func RequireOrganization(actor domain.Actor, perm Permission, organizationID string) error {
	if err := Require(actor, perm); err != nil {
		return err
	}
	if actor.Role == domain.RoleOrganization && actor.ID != organizationID {
		return OwnershipError{ActorID: actor.ID, Kind: "organization", OwnerID: organizationID}
	}
	return nil
}

// RequireStudent is Require plus ownership for student-scoped records.
func RequireStudent(actor domain.Actor, perm Permission, studentID string) error {
	if err := Require(actor, perm); err != nil {
		return err
	}
	if actor.Role == domain.RoleStudent && actor.ID != studentID {
		return OwnershipError{ActorID: actor.ID, Kind: "student", OwnerID: studentID}
	}
	return nil
}
