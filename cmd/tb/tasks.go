package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
	"taskbridge/internal/repo"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskSubmitCmd())
	task.AddCommand(taskReviewCmd())
	task.AddCommand(taskCancelCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCandidatesCmd())
	return task
}

func taskSubmitCmd() *cobra.Command {
	var (
		in        engine.TaskSubmission
		startDate string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDate(startDate)
			if err != nil {
				return err
			}
			in.StartDate = start
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.SubmitTask(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSONOrValue(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&in.OrganizationID, "org", "", "organization id (defaults to the acting organization)")
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringSliceVar(&in.RequiredSkills, "skill", nil, "required skill (repeatable or comma separated)")
	cmd.Flags().IntVar(&in.PositionsTotal, "positions", 1, "number of positions")
	cmd.Flags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&in.DurationWeeks, "weeks", 0, "duration in weeks")
	cmd.Flags().IntVar(&in.WeeklyHours, "hours", 0, "weekly hours")
	cmd.Flags().Int64Var(&in.Compensation, "compensation", 0, "compensation in minor currency units")
	cmd.Flags().StringVar(&in.PayrollTerms, "payroll-terms", "", "payroll terms")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskReviewCmd() *cobra.Command {
	var decision string
	cmd := &cobra.Command{
		Use:   "review <task-id>",
		Short: "Approve or reject a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := domain.ParseReviewDecision(decision)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.ReviewTask(ctx, actor, args[0], d)
				if err != nil {
					return err
				}
				return printJSONOrValue(t)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", string(domain.DecisionApprove), "approve or reject")
	return cmd
}

func taskCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task and withdraw its outstanding offers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.CancelTask(ctx, actor, args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrValue(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var (
		rating   int
		feedback string
	)
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Complete an active task with a rating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in engine.CompletionInput
			if cmd.Flags().Changed("rating") {
				in.Rating = &rating
			}
			in.Feedback = feedback
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.CompleteTask(ctx, actor, args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrValue(t)
			})
		},
	}
	cmd.Flags().IntVar(&rating, "rating", 0, "rating from 1 to 5")
	cmd.Flags().StringVar(&feedback, "feedback", "", "feedback for the assignees")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.GetTask(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrValue(t)
			})
		},
	}
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				tasks, err := e.ListTasks(ctx, actor, f)
				if err != nil {
					return err
				}
				return renderTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&f.OrganizationID, "org", "", "organization filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func taskCandidatesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "candidates <task-id>",
		Short: "Rank students against a task's required skills",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.RankCandidates(ctx, actor, args[0], limit)
				if err != nil {
					return err
				}
				return renderCandidates(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum candidates (0 for all)")
	return cmd
}
