package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	apppipeline "github.com/loanpurchase/backend/internal/application/pipeline"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func runCmd(flags *globalFlags) *cobra.Command {
	var (
		tenantID string
		period   string
		today    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the pipeline for one tenant and period",
		Long: `Execute every phase for one tenant and period and print the resulting run.

The run is rejected if the tenant already has a run in progress. An
interrupt stops the run before its next phase.

Examples:
  pipeline run --tenant acme --period 2026-01-15
  pipeline run --tenant acme --period 2026-01-15 --today 2026-01-15`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := parseDate(period)
			if err != nil {
				return fmt.Errorf("invalid --period: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			cal, err := a.calendar(today)
			if err != nil {
				return err
			}
			orch, err := a.orchestrator(ctx, cal)
			if err != nil {
				return err
			}
			rec, err := a.reconciler()
			if err != nil {
				return err
			}

			svc := apppipeline.NewRunService(orch, a.runs, rec)
			run, err := svc.Start(ctx, tenantID, p)
			if errors.Is(err, shared.ErrRunInProgress) {
				return &exitError{code: 2, msg: fmt.Sprintf("tenant %s already has a run in progress", tenantID)}
			}
			if err != nil {
				return err
			}

			if err := printJSON(cmd.OutOrStdout(), run); err != nil {
				return err
			}
			if run.Status != "completed" {
				a.log.Error("Pipeline run failed", zap.String("run_id", run.ID.String()), zap.String("error", run.Error))
				return &exitError{code: 1, msg: "run failed: " + run.Error}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&period, "period", "", "batch period (YYYY-MM-DD)")
	cmd.Flags().StringVar(&today, "today", "", "business date to evaluate as (YYYY-MM-DD), for replays")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func parseDate(s string) (time.Time, error) {
	return shared.ParseDate(s)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
