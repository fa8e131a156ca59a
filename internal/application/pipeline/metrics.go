package pipeline

import (
	"context"
	"time"
)

// Metrics receives run lifecycle measurements. telemetry.PipelineMetrics
// satisfies it.
type Metrics interface {
	RunStarted(ctx context.Context, tenantID string)
	RunFinished(ctx context.Context, tenantID, status string)
	StaleRunsReconciled(ctx context.Context, n int)
	PhaseCompleted(ctx context.Context, phase string, d time.Duration, failed bool)
	LoansDisposed(ctx context.Context, tenantID, disposition, reason string, n int)
}

type nopMetrics struct{}

func (nopMetrics) RunStarted(context.Context, string) {}
func (nopMetrics) RunFinished(context.Context, string, string) {}
func (nopMetrics) StaleRunsReconciled(context.Context, int) {}
func (nopMetrics) PhaseCompleted(context.Context, string, time.Duration, bool) {}
func (nopMetrics) LoansDisposed(context.Context, string, string, string, int) {}
