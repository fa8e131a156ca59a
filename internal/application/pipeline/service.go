package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/domain/shared"
)

// Runner starts runs. *Orchestrator implements it.
type Runner interface {
	Start(ctx context.Context, tenantID string, period time.Time) (*pipeline.Run, error)
}

// RunService is the operator-facing run API
type RunService struct {
	runner     Runner
	runs       pipeline.RunRepository
	reconciler *Reconciler
}

// NewRunService creates a RunService. reconciler may be nil when stale run
// handling is done elsewhere.
func NewRunService(runner Runner, runs pipeline.RunRepository, reconciler *Reconciler) *RunService {
	return &RunService{runner: runner, runs: runs, reconciler: reconciler}
}

// Start executes a run for the tenant and period
func (s *RunService) Start(ctx context.Context, tenantID string, period time.Time) (*RunDTO, error) {
	run, err := s.runner.Start(ctx, tenantID, period)
	if err != nil {
		return nil, err
	}
	return ToRunDTO(run), nil
}

// Get returns one run of a tenant
func (s *RunService) Get(ctx context.Context, tenantID string, id uuid.UUID) (*RunDTO, error) {
	run, err := s.runs.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return ToRunDTO(run), nil
}

// List returns a tenant's runs, newest first
func (s *RunService) List(ctx context.Context, tenantID string, filter pipeline.RunFilter, limit int) ([]RunDTO, error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, shared.NewDomainError("INVALID_STATUS", "Unknown run status: "+string(*filter.Status))
	}
	runs, err := s.runs.FindAll(ctx, tenantID, filter, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunDTO, 0, len(runs))
	for _, r := range runs {
		out = append(out, *ToRunDTO(r))
	}
	return out, nil
}

// MarkStale fails every stale running run and returns how many changed
func (s *RunService) MarkStale(ctx context.Context, now time.Time) (int, error) {
	if s.reconciler == nil {
		return 0, shared.NewDomainError("RECONCILER_UNAVAILABLE", "Stale run reconciliation is not configured")
	}
	return s.reconciler.ReconcileStale(ctx, now)
}
