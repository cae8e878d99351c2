package main

import (
	"context"

	"github.com/spf13/cobra"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
)

func replacementCmd() *cobra.Command {
	rep := &cobra.Command{Use: "replacement", Short: "Manage replacement requests"}
	rep.AddCommand(replacementReportCmd())
	rep.AddCommand(replacementShortlistCmd())
	rep.AddCommand(replacementSendCmd())
	rep.AddCommand(replacementListCmd())
	return rep
}

func replacementReportCmd() *cobra.Command {
	var in engine.UnavailabilityReport
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report an assignee unavailable and open a replacement request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				rr, err := e.ReportUnavailable(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSONOrValue(rr)
			})
		},
	}
	cmd.Flags().StringVar(&in.TaskID, "task", "", "task id")
	cmd.Flags().StringVar(&in.StudentID, "student", "", "student who dropped out")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "reason")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

func replacementShortlistCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "shortlist <request-id>",
		Short: "Rank candidates for a replacement request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.ShortlistForReplacement(ctx, actor, args[0], limit)
				if err != nil {
					return err
				}
				return renderCandidates(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum candidates (0 for all)")
	return cmd
}

func replacementSendCmd() *cobra.Command {
	var (
		in        engine.ReplacementOffers
		startDate string
	)
	cmd := &cobra.Command{
		Use:   "send <request-id>",
		Short: "Send replacement offers to shortlisted students",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDate(startDate)
			if err != nil {
				return err
			}
			in.RequestID = args[0]
			in.StartDate = start
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				offers, rr, err := e.SendReplacementOffers(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSONOrValue(map[string]any{"replacement": rr, "offers": offers})
			})
		},
	}
	cmd.Flags().StringSliceVar(&in.StudentIDs, "student", nil, "student id (repeatable)")
	cmd.Flags().Int64Var(&in.Compensation, "compensation", 0, "compensation (defaults to the task's)")
	cmd.Flags().StringVar(&startDate, "start", "", "start date (defaults to the task's)")
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

func replacementListCmd() *cobra.Command {
	var q engine.ReplacementQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List replacement requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.ListReplacements(ctx, actor, q)
				if err != nil {
					return err
				}
				return renderReplacements(e, items)
			})
		},
	}
	cmd.Flags().StringVar(&q.TaskID, "task", "", "task filter")
	cmd.Flags().BoolVar(&q.OpenOnly, "open", false, "only requests that are not completed")
	cmd.Flags().BoolVar(&q.OverdueOnly, "overdue", false, "only open requests past their deadline")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "maximum rows")
	return cmd
}
