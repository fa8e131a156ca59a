package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when a metrics set is built without a meter
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// phaseDurationBuckets covers sub-second reference loads up to multi-minute exports.
var phaseDurationBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 15, 30, 60, 180}

// PipelineMetrics holds the run-level instruments.
type PipelineMetrics struct {
	runsStarted   *Counter
	runsFinished  *Counter
	staleRuns     *Counter
	loans         *Counter
	phaseDuration *Histogram
}

// NewPipelineMetrics creates the pipeline instruments on meter.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	pm := &PipelineMetrics{}
	var err error

	if pm.runsStarted, err = NewCounter(meter,
		"pipeline_runs_started_total", "Pipeline runs started", "{runs}"); err != nil {
		return nil, err
	}
	if pm.runsFinished, err = NewCounter(meter,
		"pipeline_runs_finished_total", "Pipeline runs that reached a terminal status", "{runs}"); err != nil {
		return nil, err
	}
	if pm.staleRuns, err = NewCounter(meter,
		"pipeline_stale_runs_reconciled_total", "Running runs failed by the stale-run reconciler", "{runs}"); err != nil {
		return nil, err
	}
	if pm.loans, err = NewCounter(meter,
		"pipeline_loans_total", "Loans by final disposition and rejection reason", "{loans}"); err != nil {
		return nil, err
	}
	if pm.phaseDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "pipeline_phase_duration_seconds",
		Description: "Wall time of each pipeline phase",
		Unit:        "s",
		Boundaries:  phaseDurationBuckets,
	}); err != nil {
		return nil, err
	}

	return pm, nil
}

// RunStarted counts a run moving to running.
func (pm *PipelineMetrics) RunStarted(ctx context.Context, tenantID string) {
	pm.runsStarted.Inc(ctx, AttrTenantID.String(tenantID))
}

// RunFinished counts a run reaching completed or failed.
func (pm *PipelineMetrics) RunFinished(ctx context.Context, tenantID, status string) {
	pm.runsFinished.Inc(ctx, AttrTenantID.String(tenantID), AttrStatus.String(status))
}

// StaleRunsReconciled counts runs failed by the reconciler.
func (pm *PipelineMetrics) StaleRunsReconciled(ctx context.Context, n int) {
	if n > 0 {
		pm.staleRuns.Add(ctx, int64(n))
	}
}

// PhaseCompleted records one phase's duration and outcome.
func (pm *PipelineMetrics) PhaseCompleted(ctx context.Context, phase string, d time.Duration, failed bool) {
	status := "ok"
	if failed {
		status = "failed"
	}
	pm.phaseDuration.RecordDuration(ctx, d, AttrPhase.String(phase), AttrStatus.String(status))
}

// LoansDisposed counts n loans with a disposition and (for rejections) a reason.
func (pm *PipelineMetrics) LoansDisposed(ctx context.Context, tenantID, disposition, reason string, n int) {
	if n <= 0 {
		return
	}
	attrs := []attribute.KeyValue{AttrTenantID.String(tenantID), AttrDisposition.String(disposition)}
	if reason != "" {
		attrs = append(attrs, AttrReason.String(reason))
	}
	pm.loans.Add(ctx, int64(n), attrs...)
}
