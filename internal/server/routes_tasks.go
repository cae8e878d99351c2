package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
	"taskbridge/internal/repo"
)

type taskResult struct {
	Body domain.Task `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "task-submit",
		Method:      http.MethodPost,
		Path:        "/tasks",
		Summary:     "Submit a task for review",
		Tags:        []string{"tasks"},
	}, func(ctx context.Context, input *struct {
		Body SubmitTaskRequest `json:"body"`
	}) (*taskResult, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SubmitTask(ctx, actor, input.Body.submission())
		if err != nil {
			return nil, handleError(err)
		}
		return &taskResult{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-list",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Tags:        []string{"tasks"},
	}, func(ctx context.Context, input *struct {
		OrganizationID string `query:"organization_id"`
		Status         string `query:"status" doc:"pending, open, active, completed or cancelled"`
		Limit          int    `query:"limit"`
	}) (*struct {
		Body struct {
			Items []domain.Task `json:"items"`
		} `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListTasks(ctx, actor, repo.TaskFilters{
			OrganizationID: input.OrganizationID,
			Status:         input.Status,
			Limit:          normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.Task `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = nonNil(items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-get",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get a task",
		Tags:        []string{"tasks"},
	}, func(ctx context.Context, input *idPath) (*taskResult, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskResult{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-review",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/review",
		Summary:     "Approve or reject a pending task",
		Tags:        []string{"tasks"},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body ReviewTaskRequest `json:"body"`
	}) (*taskResult, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		decision, err := domain.ParseReviewDecision(input.Body.Decision)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		t, err := e.ReviewTask(ctx, actor, input.ID, decision)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskResult{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-cancel",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/cancel",
		Summary:     "Cancel a task and withdraw its outstanding offers",
		Tags:        []string{"tasks"},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body CancelTaskRequest `json:"body" required:"false"`
	}) (*taskResult, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CancelTask(ctx, actor, input.ID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskResult{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-complete",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Complete an active task with a rating",
		Tags:        []string{"tasks"},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CompleteTaskRequest `json:"body"`
	}) (*taskResult, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CompleteTask(ctx, actor, input.ID, engine.CompletionInput{
			Rating:   input.Body.Rating,
			Feedback: input.Body.Feedback,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskResult{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-candidates",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/candidates",
		Summary:     "Rank students against a task's required skills",
		Tags:        []string{"tasks"},
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
		items, err := e.RankCandidates(ctx, actor, input.ID, input.Limit)
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
}
