package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loanpurchase/backend/internal/infrastructure/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func reconcileCmd(flags *globalFlags) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Fail runs that have been running past the stale threshold",
		Long: `Mark every run that has been running longer than pipeline.stale_after
as failed and free its tenant's registry entry.

With --watch the sweep repeats every --interval until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			rec, err := a.reconciler()
			if err != nil {
				return err
			}

			if !watch {
				n, err := rec.ReconcileStale(ctx, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d stale run(s)\n", n)
				return nil
			}

			if interval <= 0 {
				interval = a.cfg.Pipeline.ReconcileInterval
			}
			sweeper, err := scheduler.NewStaleSweeper(
				scheduler.SweeperConfig{Interval: interval, RunOnStart: true},
				rec, time.Now, a.log,
			)
			if err != nil {
				return err
			}
			if err := sweeper.Start(ctx); err != nil {
				return err
			}
			a.log.Info("Watching for stale runs", zap.Duration("interval", interval))

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return sweeper.Stop(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep sweeping until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "sweep interval with --watch (default: pipeline.reconcile_interval)")
	return cmd
}
