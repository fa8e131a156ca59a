package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/loanpurchase/backend/internal/infrastructure/persistence/models"
	"github.com/loanpurchase/backend/internal/infrastructure/persistence/tenant"
	"gorm.io/gorm"
)

// DefaultRunListLimit caps FindAll when the caller passes no limit
const DefaultRunListLimit = 50

// GormPipelineRunRepository implements pipeline.RunRepository using GORM
type GormPipelineRunRepository struct {
	db *gorm.DB
}

// NewGormPipelineRunRepository creates a new GormPipelineRunRepository
func NewGormPipelineRunRepository(db *gorm.DB) *GormPipelineRunRepository {
	return &GormPipelineRunRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormPipelineRunRepository) WithTx(tx *gorm.DB) *GormPipelineRunRepository {
	return &GormPipelineRunRepository{db: tx}
}

// FindByID finds a run by ID within a tenant
func (r *GormPipelineRunRepository) FindByID(ctx context.Context, tenantID string, id uuid.UUID) (*pipeline.Run, error) {
	var model models.PipelineRunModel
	if err := r.db.WithContext(ctx).Scopes(tenant.Scope(tenantID)).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists a tenant's runs, newest first
func (r *GormPipelineRunRepository) FindAll(ctx context.Context, tenantID string, filter pipeline.RunFilter, limit int) ([]*pipeline.Run, error) {
	if limit <= 0 {
		limit = DefaultRunListLimit
	}

	query := r.db.WithContext(ctx).Model(&models.PipelineRunModel{}).Scopes(tenant.Scope(tenantID))
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Period != nil {
		query = query.Where("period = ?", shared.DateOf(*filter.Period))
	}

	var rows []models.PipelineRunModel
	if err := query.Order("created_at DESC").Order("id").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainRuns(rows), nil
}

// FindRunningStartedBefore returns running runs of every tenant started before the cutoff
func (r *GormPipelineRunRepository) FindRunningStartedBefore(ctx context.Context, cutoff time.Time) ([]*pipeline.Run, error) {
	var rows []models.PipelineRunModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", pipeline.RunStatusRunning, cutoff).
		Order("started_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDomainRuns(rows), nil
}

// Save creates the run if it was never persisted, otherwise updates it with
// optimistic locking on Version. A second running run of a tenant violates
// uq_pipeline_runs_tenant_running and is reported as shared.ErrRunInProgress.
func (r *GormPipelineRunRepository) Save(ctx context.Context, run *pipeline.Run) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.PipelineRunModel{}).Where("id = ?", run.ID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		err := r.db.WithContext(ctx).Create(models.PipelineRunModelFromDomain(run)).Error
		if isUniqueViolation(err) {
			return shared.ErrRunInProgress
		}
		return err
	}
	return r.update(ctx, run)
}

func (r *GormPipelineRunRepository) update(ctx context.Context, run *pipeline.Run) error {
	currentVersion := run.Version
	run.IncrementVersion()

	model := models.PipelineRunModelFromDomain(run)
	result := r.db.WithContext(ctx).
		Model(&models.PipelineRunModel{}).
		Where("id = ? AND version = ?", run.ID, currentVersion).
		Updates(map[string]any{
			"status":                  model.Status,
			"last_phase":              model.LastPhase,
			"loans_processed":         model.LoansProcessed,
			"loans_rejected":          model.LoansRejected,
			"loans_projected":         model.LoansProjected,
			"loans_purchased":         model.LoansPurchased,
			"data_quality_exceptions": model.DataQualityExceptions,
			"total_balance":           model.TotalBalance,
			"error":                   model.Error,
			"started_at":              model.StartedAt,
			"completed_at":            model.CompletedAt,
			"version":                 model.Version,
			"updated_at":              model.UpdatedAt,
		})

	if result.Error != nil {
		run.Version = currentVersion
		if isUniqueViolation(result.Error) {
			return shared.ErrRunInProgress
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		run.Version = currentVersion
		return shared.NewDomainError(shared.ErrConcurrencyConflict.Code, "Pipeline run was modified by another process")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func toDomainRuns(rows []models.PipelineRunModel) []*pipeline.Run {
	runs := make([]*pipeline.Run, len(rows))
	for i := range rows {
		runs[i] = rows[i].ToDomain()
	}
	return runs
}
