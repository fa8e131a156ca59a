package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Reconciler fails runs that have been running past the staleness
// threshold, most likely because their process died mid-phase.
type Reconciler struct {
	runs       pipeline.RunRepository
	registry   pipeline.RunRegistry
	staleAfter time.Duration
	metrics    Metrics
	logger     *zap.Logger
}

// NewReconciler creates a Reconciler
func NewReconciler(runs pipeline.RunRepository, registry pipeline.RunRegistry, staleAfter time.Duration, metrics Metrics, logger *zap.Logger) (*Reconciler, error) {
	if runs == nil || registry == nil {
		return nil, errors.New("pipeline: reconciler needs a run repository and registry")
	}
	if staleAfter <= 0 {
		return nil, fmt.Errorf("pipeline: stale threshold must be positive, got %s", staleAfter)
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		runs:       runs,
		registry:   registry,
		staleAfter: staleAfter,
		metrics:    metrics,
		logger:     logger.Named("reconciler"),
	}, nil
}

// ReconcileStale marks every run started more than the threshold before now
// as failed with StaleRunError and frees its tenant's registry entry.
// last_phase is left as the run recorded it. A run that moved on
// concurrently is skipped.
func (r *Reconciler) ReconcileStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := r.runs.FindRunningStartedBefore(ctx, now.Add(-r.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("find stale runs: %w", err)
	}
	if len(stale) == 0 {
		r.logger.Debug("No stale runs found")
		return 0, nil
	}

	reconciled := 0
	for _, run := range stale {
		if err := ctx.Err(); err != nil {
			return reconciled, err
		}
		if !run.IsStale(now, r.staleAfter) {
			continue
		}
		if err := run.Fail(pipeline.StaleRunError, now); err != nil {
			return reconciled, err
		}
		if err := r.runs.Save(ctx, run); err != nil {
			if errors.Is(err, shared.ErrConcurrencyConflict) {
				r.logger.Info("Run changed while reconciling, skipped",
					zap.String("tenant_id", run.TenantID),
					zap.String("run_id", run.ID.String()),
				)
				continue
			}
			return reconciled, fmt.Errorf("fail stale run %s: %w", run.ID, err)
		}
		if err := r.registry.Release(ctx, run.TenantID, run.ID); err != nil {
			r.logger.Error("Failed to release registry entry of stale run",
				zap.String("tenant_id", run.TenantID),
				zap.String("run_id", run.ID.String()),
				zap.Error(err),
			)
		}
		reconciled++
		r.metrics.RunFinished(ctx, run.TenantID, string(run.Status))
		r.logger.Warn("Stale run marked failed",
			zap.String("tenant_id", run.TenantID),
			zap.String("run_id", run.ID.String()),
			zap.String("last_phase", string(run.LastPhase)),
			zap.Duration("running_for", run.Duration(now)),
		)
	}

	r.metrics.StaleRunsReconciled(ctx, reconciled)
	return reconciled, nil
}
