package engine

import (
	"context"
	"database/sql"
	"strings"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine/auth"
	"taskbridge/internal/events"
)

func (e Engine) CreateOrganization(ctx context.Context, actor domain.Actor, id, name string) (domain.Organization, error) {
	if err := auth.Require(actor, auth.PermManageCollaborators); err != nil {
		return domain.Organization{}, forbidden(err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Organization{}, invalid("organization name is required")
	}
	if id == "" {
		id = newID()
	}
	o := domain.Organization{ID: id, Name: name, CreatedAt: e.now()}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertOrganization(ctx, tx, o); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.OrganizationCreated, o.ID, "organization", o.ID, actor, events.EventPayload{"name": o.Name})
	})
	if err != nil {
		return domain.Organization{}, err
	}
	return o, nil
}

func (e Engine) GetOrganization(ctx context.Context, actor domain.Actor, id string) (domain.Organization, error) {
	if err := auth.RequireOrganization(actor, auth.PermReadTask, id); err != nil {
		return domain.Organization{}, forbidden(err)
	}
	o, err := e.Repo.GetOrganization(ctx, nil, id)
	if err != nil {
		return o, notFound(err, "organization", id)
	}
	return o, nil
}

// StudentInput carries the collaborator-owned profile fields.
type StudentInput struct {
	ID               string
	Name             string
	Skills           []string
	AvailabilityBand string
}

// UpsertStudent creates or updates a profile. Rating and completion counters are kept.
func (e Engine) UpsertStudent(ctx context.Context, actor domain.Actor, in StudentInput) (domain.StudentProfile, error) {
	if err := auth.Require(actor, auth.PermManageCollaborators); err != nil {
		return domain.StudentProfile{}, forbidden(err)
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.StudentProfile{}, invalid("student name is required")
	}
	if in.ID == "" {
		in.ID = newID()
	}
	now := e.now()
	s := domain.StudentProfile{
		ID:               in.ID,
		Name:             in.Name,
		Skills:           domain.NormalizeSkills(in.Skills),
		AvailabilityBand: strings.TrimSpace(in.AvailabilityBand),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertStudent(ctx, tx, s); err != nil {
			return err
		}
		stored, err := e.Repo.GetStudent(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		s = stored
		return e.emit(ctx, tx, events.StudentUpserted, "", "student", s.ID, actor, events.EventPayload{
			"name":   s.Name,
			"skills": s.Skills,
		})
	})
	if err != nil {
		return domain.StudentProfile{}, err
	}
	return s, nil
}

func (e Engine) GetStudent(ctx context.Context, actor domain.Actor, id string) (domain.StudentProfile, error) {
	if actor.Role == domain.RoleStudent {
		if err := auth.RequireStudent(actor, auth.PermReadOffers, id); err != nil {
			return domain.StudentProfile{}, forbidden(err)
		}
	} else if err := auth.Require(actor, auth.PermReadCollaborators); err != nil {
		return domain.StudentProfile{}, forbidden(err)
	}
	s, err := e.Repo.GetStudent(ctx, nil, id)
	if err != nil {
		return s, notFound(err, "student", id)
	}
	return s, nil
}

func (e Engine) ListStudents(ctx context.Context, actor domain.Actor) ([]domain.StudentProfile, error) {
	if err := auth.Require(actor, auth.PermReadCollaborators); err != nil {
		return nil, forbidden(err)
	}
	return e.Repo.ListStudents(ctx, nil)
}
