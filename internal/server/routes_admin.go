package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
	"taskbridge/internal/repo"
)

func registerAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "admin-sweep",
		Method:      http.MethodPost,
		Path:        "/admin/sweep",
		Summary:     "Persist lazy offer expiry and flag overdue replacements now",
		Tags:        []string{"admin"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		now := e.Clock()
		expired, err := e.ExpireStaleOffers(ctx, actor, now)
		if err != nil {
			return nil, handleError(err)
		}
		flagged, err := e.FlagOverdueReplacements(ctx, actor, now)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse{
			ExpiredOffers:       nonNil(expired),
			OverdueReplacements: mapReplacements(e, flagged),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "events-list",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Read the event log",
		Tags:        []string{"admin"},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		After      int64  `query:"after" doc:"Return events after this id in ascending order"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body struct {
			Items []domain.Event `json:"items"`
		} `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListEvents(ctx, actor, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      normalizeLimit(input.Limit),
		}, input.After)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.Event `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = nonNil(items)
		return out, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	if !authCfg.AllowDevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Tags:        []string{"auth"},
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actorID := strings.TrimSpace(input.Body.ActorID)
		if actorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, domain.Actor{ID: actorID, Role: domain.Role(input.Body.Role)}, time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
