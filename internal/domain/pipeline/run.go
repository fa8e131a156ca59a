// Package pipeline holds the PipelineRun aggregate and the contracts the run
// orchestrator needs from its collaborators.
package pipeline

import (
	"fmt"
	"time"

	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// RunStatus is the lifecycle status of a pipeline run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsValid checks if the status is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true for completed and failed
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// StaleRunError is the failure message recorded by the stale-run reconciler
const StaleRunError = "stale run reconciled"

// RunCounts are the aggregate counts folded in by the disposition resolver
type RunCounts struct {
	Processed             int             `json:"loans_processed"`
	Rejected              int             `json:"loans_rejected"`
	Projected             int             `json:"loans_projected"`
	Purchased             int             `json:"loans_purchased"`
	DataQualityExceptions int             `json:"data_quality_exceptions"`
	TotalBalance          decimal.Decimal `json:"total_balance"`
}

// Run is one execution of the pipeline for a tenant and period. Only the
// orchestrator (and the stale-run reconciler) change its state.
type Run struct {
	shared.TenantAggregateRoot
	Period      time.Time  `json:"period"`
	Status      RunStatus  `json:"status"`
	LastPhase   Phase      `json:"last_phase,omitempty"`
	Counts      RunCounts  `json:"counts"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRun creates a pending run
func NewRun(tenantID string, period time.Time, now time.Time) (*Run, error) {
	if tenantID == "" {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if period.IsZero() {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Period cannot be empty")
	}
	return &Run{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID, now),
		Period:              shared.DateOf(period),
		Status:              RunStatusPending,
	}, nil
}

// Start moves a pending run to running
func (r *Run) Start(now time.Time) error {
	if r.Status != RunStatusPending {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot start run from state: %s", r.Status))
	}
	r.Status = RunStatusRunning
	r.StartedAt = &now
	r.Touch(now)
	return nil
}

// Advance records a committed phase. Phases must commit in order.
func (r *Run) Advance(phase Phase, now time.Time) error {
	if r.Status != RunStatusRunning {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot advance run in state: %s", r.Status))
	}
	if !phase.IsValid() {
		return shared.NewDomainError("INVALID_PHASE", fmt.Sprintf("Unknown phase: %s", phase))
	}
	if phase.Index() != r.LastPhase.Index()+1 {
		return shared.NewDomainError("INVALID_PHASE", fmt.Sprintf("Phase %s cannot follow %q", phase, r.LastPhase))
	}
	r.LastPhase = phase
	r.Touch(now)
	return nil
}

// NextPhase returns the phase after the last committed one, if any
func (r *Run) NextPhase() (Phase, bool) {
	phases := Phases()
	next := r.LastPhase.Index() + 1
	if next >= len(phases) {
		return "", false
	}
	return phases[next], true
}

// Complete moves a running run to completed with its aggregate counts
func (r *Run) Complete(counts RunCounts, now time.Time) error {
	if r.Status != RunStatusRunning {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot complete run from state: %s", r.Status))
	}
	r.Status = RunStatusCompleted
	r.Counts = counts
	r.CompletedAt = &now
	r.Touch(now)
	return nil
}

// Fail moves a running run to failed. LastPhase is left untouched so it
// names the last phase that committed before the failure.
func (r *Run) Fail(message string, now time.Time) error {
	if r.Status != RunStatusRunning {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot fail run from state: %s", r.Status))
	}
	r.Status = RunStatusFailed
	r.Error = message
	r.CompletedAt = &now
	r.Touch(now)
	return nil
}

// IsStale reports whether a running run started before the threshold
func (r *Run) IsStale(now time.Time, staleAfter time.Duration) bool {
	if r.Status != RunStatusRunning || r.StartedAt == nil {
		return false
	}
	return now.Sub(*r.StartedAt) > staleAfter
}

// Duration returns how long the run took or has been running
func (r *Run) Duration(now time.Time) time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(*r.StartedAt)
	}
	return now.Sub(*r.StartedAt)
}
