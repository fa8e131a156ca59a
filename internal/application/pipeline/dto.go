package pipeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/domain/shared"
)

// RunDTO is the printable view of a run
type RunDTO struct {
	ID                    uuid.UUID  `json:"id"`
	TenantID              string     `json:"tenant_id"`
	Period                string     `json:"period"`
	Status                string     `json:"status"`
	LastPhase             string     `json:"last_phase,omitempty"`
	LoansProcessed        int        `json:"loans_processed"`
	LoansPurchased        int        `json:"loans_purchased"`
	LoansProjected        int        `json:"loans_projected"`
	LoansRejected         int        `json:"loans_rejected"`
	DataQualityExceptions int        `json:"data_quality_exceptions"`
	TotalBalance          string     `json:"total_balance"`
	Error                 string     `json:"error,omitempty"`
	Version               int        `json:"version"`
	CreatedAt             time.Time  `json:"created_at"`
	StartedAt             *time.Time `json:"started_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

// ToRunDTO converts a run to its DTO
func ToRunDTO(r *pipeline.Run) *RunDTO {
	return &RunDTO{
		ID:                    r.ID,
		TenantID:              r.TenantID,
		Period:                shared.FormatDate(r.Period),
		Status:                string(r.Status),
		LastPhase:             string(r.LastPhase),
		LoansProcessed:        r.Counts.Processed,
		LoansPurchased:        r.Counts.Purchased,
		LoansProjected:        r.Counts.Projected,
		LoansRejected:         r.Counts.Rejected,
		DataQualityExceptions: r.Counts.DataQualityExceptions,
		TotalBalance:          r.Counts.TotalBalance.StringFixed(2),
		Error:                 r.Error,
		Version:               r.Version,
		CreatedAt:             r.CreatedAt,
		StartedAt:             r.StartedAt,
		CompletedAt:           r.CompletedAt,
	}
}
