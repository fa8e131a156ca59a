package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunFilter narrows a run listing
type RunFilter struct {
	Status *RunStatus
	Period *time.Time
}

// RunRepository persists pipeline runs
type RunRepository interface {
	// FindByID finds a run by ID within a tenant
	FindByID(ctx context.Context, tenantID string, id uuid.UUID) (*Run, error)

	// FindAll lists a tenant's runs, newest first
	FindAll(ctx context.Context, tenantID string, filter RunFilter, limit int) ([]*Run, error)

	// FindRunningStartedBefore returns running runs of every tenant whose
	// StartedAt is older than the cutoff
	FindRunningStartedBefore(ctx context.Context, cutoff time.Time) ([]*Run, error)

	// Save creates or updates a run. Updates use optimistic locking on Version.
	Save(ctx context.Context, run *Run) error
}

// RunRegistry holds the per-tenant in-flight run entry. Acquire must be
// atomic: of two concurrent callers for one tenant exactly one succeeds and
// the other gets shared.ErrRunInProgress.
type RunRegistry interface {
	Acquire(ctx context.Context, tenantID string, runID uuid.UUID) error
	Release(ctx context.Context, tenantID string, runID uuid.UUID) error
	Current(ctx context.Context, tenantID string) (uuid.UUID, bool, error)
}

// Calendar supplies "today" and business-day arithmetic. It is always
// injected so a replayed run sees the same dates.
type Calendar interface {
	Now() time.Time
	Today() time.Time
	IsBusinessDay(d time.Time) bool
	AddBusinessDays(d time.Time, n int) time.Time
}
