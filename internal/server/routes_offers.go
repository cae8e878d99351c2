package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
)

type offerResult struct {
	Body domain.Offer `json:"body"`
}

type offerList struct {
	Body struct {
		Items []domain.Offer `json:"items"`
	} `json:"body"`
}

func newOfferList(items []domain.Offer) *offerList {
	out := &offerList{}
	out.Body.Items = nonNil(items)
	return out
}

func registerOffers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "offer-create",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/offers",
		Summary:     "Send a time-boxed offer for one position",
		Tags:        []string{"offers"},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body CreateOfferRequest `json:"body"`
	}) (*offerResult, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req := engine.OfferRequest{
			TaskID:       input.ID,
			StudentID:    input.Body.StudentID,
			Compensation: input.Body.Compensation,
		}
		if input.Body.StartDate != nil {
			req.StartDate = *input.Body.StartDate
		}
		o, err := e.IssueOffer(ctx, actor, req)
		if err != nil {
			return nil, handleError(err)
		}
		return &offerResult{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "offer-list-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/offers",
		Summary:     "List the offers of a task",
		Tags:        []string{"offers"},
	}, func(ctx context.Context, input *idPath) (*offerList, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListTaskOffers(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return newOfferList(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "offer-list-student",
		Method:      http.MethodGet,
		Path:        "/students/{id}/offers",
		Summary:     "List the offers sent to a student",
		Tags:        []string{"offers"},
	}, func(ctx context.Context, input *idPath) (*offerList, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListStudentOffers(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return newOfferList(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "offer-get",
		Method:      http.MethodGet,
		Path:        "/offers/{id}",
		Summary:     "Get an offer; a sent offer past its deadline reads as expired",
		Tags:        []string{"offers"},
	}, func(ctx context.Context, input *idPath) (*offerResult, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.GetOffer(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &offerResult{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "offer-resolve",
		Method:      http.MethodPost,
		Path:        "/offers/{id}/resolve",
		Summary:     "Accept or decline an offer",
		Tags:        []string{"offers"},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ResolveOfferRequest `json:"body"`
	}) (*offerResult, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		action, err := domain.ParseResolveAction(input.Body.Action)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		o, err := e.ResolveOffer(ctx, actor, input.ID, action)
		if err != nil {
			return nil, handleError(err)
		}
		return &offerResult{Body: o}, nil
	})
}
