package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
)

func offerCmd() *cobra.Command {
	offer := &cobra.Command{Use: "offer", Short: "Manage offers"}
	offer.AddCommand(offerCreateCmd())
	offer.AddCommand(offerResolveCmd())
	offer.AddCommand(offerListCmd())
	offer.AddCommand(offerExpireCmd())
	return offer
}

func offerCreateCmd() *cobra.Command {
	var (
		req       engine.OfferRequest
		startDate string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Send an offer for one position of a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDate(startDate)
			if err != nil {
				return err
			}
			req.StartDate = start
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				o, err := e.IssueOffer(ctx, actor, req)
				if err != nil {
					return err
				}
				return printJSONOrValue(o)
			})
		},
	}
	cmd.Flags().StringVar(&req.TaskID, "task", "", "task id")
	cmd.Flags().StringVar(&req.StudentID, "student", "", "student id")
	cmd.Flags().Int64Var(&req.Compensation, "compensation", 0, "compensation (defaults to the task's)")
	cmd.Flags().StringVar(&startDate, "start", "", "start date (defaults to the task's)")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

func offerResolveCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "resolve <offer-id>",
		Short: "Accept or decline an offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := domain.ParseResolveAction(action)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				o, err := e.ResolveOffer(ctx, actor, args[0], a)
				if err != nil {
					return err
				}
				return printJSONOrValue(o)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "accept or decline")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func offerListCmd() *cobra.Command {
	var taskID, studentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List offers of a task or a student",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (taskID == "") == (studentID == "") {
				return fmt.Errorf("exactly one of --task or --student is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				var (
					offers []domain.Offer
					err    error
				)
				if taskID != "" {
					offers, err = e.ListTaskOffers(ctx, actor, taskID)
				} else {
					offers, err = e.ListStudentOffers(ctx, actor, studentID)
				}
				if err != nil {
					return err
				}
				return renderOffers(offers)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&studentID, "student", "", "student id")
	return cmd
}

func offerExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Persist expiry of every sent offer past its deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				expired, err := e.ExpireStaleOffers(ctx, actor, e.Clock())
				if err != nil {
					return err
				}
				return renderOffers(expired)
			})
		},
	}
}
