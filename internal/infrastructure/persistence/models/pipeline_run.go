package models

import (
	"time"

	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// PipelineRunModel is the persistence model for the PipelineRun aggregate.
type PipelineRunModel struct {
	TenantAggregateModel
	Period                time.Time          `gorm:"type:date;not null;index"`
	Status                pipeline.RunStatus `gorm:"type:varchar(20);not null;index"`
	LastPhase             pipeline.Phase     `gorm:"type:varchar(40);not null;default:''"`
	LoansProcessed        int                `gorm:"not null;default:0"`
	LoansRejected         int                `gorm:"not null;default:0"`
	LoansProjected        int                `gorm:"not null;default:0"`
	LoansPurchased        int                `gorm:"not null;default:0"`
	DataQualityExceptions int                `gorm:"not null;default:0"`
	TotalBalance          decimal.Decimal    `gorm:"type:decimal(18,2);not null;default:0"`
	Error                 string             `gorm:"type:text"`
	StartedAt             *time.Time         `gorm:"index"`
	CompletedAt           *time.Time
}

// TableName returns the table name for GORM
func (PipelineRunModel) TableName() string {
	return "pipeline_runs"
}

// ToDomain converts the persistence model to a domain Run
func (m *PipelineRunModel) ToDomain() *pipeline.Run {
	run := &pipeline.Run{
		Period:    shared.DateOf(m.Period),
		Status:    m.Status,
		LastPhase: m.LastPhase,
		Counts: pipeline.RunCounts{
			Processed:             m.LoansProcessed,
			Rejected:              m.LoansRejected,
			Projected:             m.LoansProjected,
			Purchased:             m.LoansPurchased,
			DataQualityExceptions: m.DataQualityExceptions,
			TotalBalance:          m.TotalBalance,
		},
		Error:       m.Error,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}
	m.PopulateTenantAggregateRoot(&run.TenantAggregateRoot)
	return run
}

// FromDomain populates the persistence model from a domain Run
func (m *PipelineRunModel) FromDomain(run *pipeline.Run) {
	m.FromDomainTenantAggregateRoot(run.TenantAggregateRoot)
	m.Period = shared.DateOf(run.Period)
	m.Status = run.Status
	m.LastPhase = run.LastPhase
	m.LoansProcessed = run.Counts.Processed
	m.LoansRejected = run.Counts.Rejected
	m.LoansProjected = run.Counts.Projected
	m.LoansPurchased = run.Counts.Purchased
	m.DataQualityExceptions = run.Counts.DataQualityExceptions
	m.TotalBalance = run.Counts.TotalBalance
	m.Error = run.Error
	m.StartedAt = run.StartedAt
	m.CompletedAt = run.CompletedAt
}

// PipelineRunModelFromDomain creates a new persistence model from a domain Run
func PipelineRunModelFromDomain(run *pipeline.Run) *PipelineRunModel {
	m := &PipelineRunModel{}
	m.FromDomain(run)
	return m
}
