package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
)

type replacementResult struct {
	Body ReplacementResponse `json:"body"`
}

func registerReplacements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "replacement-report",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/replacements",
		Summary:     "Report an assignee unavailable and open a replacement request",
		Tags:        []string{"replacements"},
	}, func(ctx context.Context, input *struct {
		ID   string                   `path:"id"`
		Body ReportUnavailableRequest `json:"body"`
	}) (*replacementResult, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rr, err := e.ReportUnavailable(ctx, actor, engine.UnavailabilityReport{
			TaskID:    input.ID,
			StudentID: input.Body.StudentID,
			Reason:    input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &replacementResult{Body: replacementResponse(e, rr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replacement-list",
		Method:      http.MethodGet,
		Path:        "/replacements",
		Summary:     "List replacement requests",
		Tags:        []string{"replacements"},
	}, func(ctx context.Context, input *struct {
		TaskID  string `query:"task_id"`
		Open    bool   `query:"open" doc:"Only requests that are not completed"`
		Overdue bool   `query:"overdue" doc:"Only open requests past their deadline"`
		Limit   int    `query:"limit"`
	}) (*struct {
		Body struct {
			Items []ReplacementResponse `json:"items"`
		} `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListReplacements(ctx, actor, engine.ReplacementQuery{
			TaskID:      input.TaskID,
			OpenOnly:    input.Open,
			OverdueOnly: input.Overdue,
			Limit:       normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []ReplacementResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = mapReplacements(e, items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replacement-get",
		Method:      http.MethodGet,
		Path:        "/replacements/{id}",
		Summary:     "Get a replacement request and whether it is overdue",
		Tags:        []string{"replacements"},
	}, func(ctx context.Context, input *idPath) (*replacementResult, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rr, err := e.GetReplacement(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &replacementResult{Body: replacementResponse(e, rr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replacement-shortlist",
		Method:      http.MethodGet,
		Path:        "/replacements/{id}/shortlist",
		Summary:     "Rank candidates for a replacement, excluding the vacating student",
		Tags:        []string{"replacements"},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit"`
	}) (*struct {
		Body struct {
			Items []domain.Candidate `json:"items"`
		} `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ShortlistForReplacement(ctx, actor, input.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.Candidate `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = nonNil(items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replacement-send-offers",
		Method:      http.MethodPost,
		Path:        "/replacements/{id}/offers",
		Summary:     "Send replacement offers to shortlisted students",
		Tags:        []string{"replacements"},
	}, func(ctx context.Context, input *struct {
		ID   string                       `path:"id"`
		Body SendReplacementOffersRequest `json:"body"`
	}) (*struct {
		Body SendReplacementOffersResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := engine.ReplacementOffers{
			RequestID:    input.ID,
			StudentIDs:   input.Body.StudentIDs,
			Compensation: input.Body.Compensation,
		}
		if input.Body.StartDate != nil {
			in.StartDate = *input.Body.StartDate
		}
		offers, rr, err := e.SendReplacementOffers(ctx, actor, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SendReplacementOffersResponse `json:"body"`
		}{Body: SendReplacementOffersResponse{
			Replacement: replacementResponse(e, rr),
			Offers:      nonNil(offers),
		}}, nil
	})
}
