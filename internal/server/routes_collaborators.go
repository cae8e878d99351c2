package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
)

type idPath struct {
	ID string `path:"id"`
}

func registerCollaborators(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "organization-create",
		Method:      http.MethodPost,
		Path:        "/organizations",
		Summary:     "Create an organization",
		Tags:        []string{"collaborators"},
	}, func(ctx context.Context, input *struct {
		Body CreateOrganizationRequest `json:"body"`
	}) (*struct {
		Body domain.Organization `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		org, err := e.CreateOrganization(ctx, actor, input.Body.ID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Organization `json:"body"`
		}{Body: org}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "organization-get",
		Method:      http.MethodGet,
		Path:        "/organizations/{id}",
		Summary:     "Get an organization",
		Tags:        []string{"collaborators"},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.Organization `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		org, err := e.GetOrganization(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Organization `json:"body"`
		}{Body: org}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "student-upsert",
		Method:      http.MethodPost,
		Path:        "/students",
		Summary:     "Create or update a student profile",
		Tags:        []string{"collaborators"},
	}, func(ctx context.Context, input *struct {
		Body UpsertStudentRequest `json:"body"`
	}) (*struct {
		Body domain.StudentProfile `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpsertStudent(ctx, actor, engine.StudentInput{
			ID:               input.Body.ID,
			Name:             input.Body.Name,
			Skills:           input.Body.Skills,
			AvailabilityBand: input.Body.AvailabilityBand,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StudentProfile `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "student-list",
		Method:      http.MethodGet,
		Path:        "/students",
		Summary:     "List student profiles",
		Tags:        []string{"collaborators"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []domain.StudentProfile `json:"items"`
		} `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListStudents(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.StudentProfile `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = nonNil(items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "student-get",
		Method:      http.MethodGet,
		Path:        "/students/{id}",
		Summary:     "Get a student profile",
		Tags:        []string{"collaborators"},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.StudentProfile `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.GetStudent(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StudentProfile `json:"body"`
		}{Body: s}, nil
	})
}
