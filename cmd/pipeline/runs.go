package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	apppipeline "github.com/loanpurchase/backend/internal/application/pipeline"
	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/infrastructure/persistence"
	"github.com/spf13/cobra"
)

func runsCmd(flags *globalFlags) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant id")
	_ = cmd.MarkPersistentFlagRequired("tenant")

	var (
		status string
		period string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := pipeline.RunFilter{}
			if status != "" {
				s := pipeline.RunStatus(status)
				filter.Status = &s
			}
			if period != "" {
				p, err := parseDate(period)
				if err != nil {
					return fmt.Errorf("invalid --period: %w", err)
				}
				filter.Period = &p
			}

			return withRunService(cmd.Context(), flags, func(svc *apppipeline.RunService) error {
				runs, err := svc.List(cmd.Context(), tenantID, filter, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), runs)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "only runs in this status")
	list.Flags().StringVar(&period, "period", "", "only runs for this period (YYYY-MM-DD)")
	list.Flags().IntVar(&limit, "limit", persistence.DefaultRunListLimit, "maximum runs to list")

	get := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}
			return withRunService(cmd.Context(), flags, func(svc *apppipeline.RunService) error {
				run, err := svc.Get(cmd.Context(), tenantID, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), run)
			})
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}

func withRunService(ctx context.Context, flags *globalFlags, fn func(*apppipeline.RunService) error) error {
	a, err := newApp(ctx, flags)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	return fn(apppipeline.NewRunService(nil, a.runs, nil))
}
