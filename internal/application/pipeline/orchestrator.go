// Package pipeline drives one loan-purchase run through its phases and owns
// every state transition of the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loanpurchase/backend/internal/application/disposition"
	"github.com/loanpurchase/backend/internal/application/evaluation"
	"github.com/loanpurchase/backend/internal/application/export"
	"github.com/loanpurchase/backend/internal/application/normalize"
	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/domain/reference"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/loanpurchase/backend/internal/infrastructure/logger"
	"github.com/loanpurchase/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Dependencies are the collaborators an Orchestrator needs
type Dependencies struct {
	Runs       pipeline.RunRepository
	Registry   pipeline.RunRegistry
	Calendar   pipeline.Calendar
	References reference.Source
	Batches    loan.BatchSource
	Store      export.ArtifactStore
}

func (d Dependencies) validate() error {
	switch {
	case d.Runs == nil:
		return errors.New("pipeline: run repository is required")
	case d.Registry == nil:
		return errors.New("pipeline: run registry is required")
	case d.Calendar == nil:
		return errors.New("pipeline: calendar is required")
	case d.References == nil:
		return errors.New("pipeline: reference source is required")
	case d.Batches == nil:
		return errors.New("pipeline: batch source is required")
	case d.Store == nil:
		return errors.New("pipeline: artifact store is required")
	}
	return nil
}

// Settings are the business parameters of every run
type Settings struct {
	Evaluation         evaluation.Config
	PurchaseWindowDays int
	ParallelEvaluators bool
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the base logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithNormalizer replaces the default normalizer
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.normalizer = n
		}
	}
}

// Orchestrator runs the phase sequence of a pipeline run
type Orchestrator struct {
	deps       Dependencies
	settings   Settings
	suite      *evaluation.Suite
	resolver   *disposition.Resolver
	archiver   *export.Archiver
	normalizer *normalize.Normalizer
	metrics    Metrics
	logger     *zap.Logger
	phases     []phaseStep
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(deps Dependencies, settings Settings, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if err := settings.Evaluation.Cutoffs.Validate(); err != nil {
		return nil, err
	}
	if settings.PurchaseWindowDays < 0 {
		return nil, fmt.Errorf("pipeline: purchase window must not be negative, got %d", settings.PurchaseWindowDays)
	}

	o := &Orchestrator{
		deps:     deps,
		settings: settings,
		suite:    evaluation.NewSuite(settings.Evaluation),
		resolver: disposition.NewResolver(deps.Calendar, settings.PurchaseWindowDays),
		archiver: export.NewArchiver(deps.Store),
		metrics:  nopMetrics{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.normalizer == nil {
		o.normalizer = normalize.New(o.logger)
	}
	o.phases = o.steps()
	return o, nil
}

// runState carries phase outputs from one phase to the next
type runState struct {
	run        *pipeline.Run
	set        *reference.Set
	normalized *normalize.Result
	results    *evaluation.Results
	resolution *disposition.Resolution
	artifacts  []export.Artifact
	archived   []string
}

func (s *runState) meta(today time.Time) export.RunMeta {
	return export.RunMeta{
		RunID:    s.run.ID,
		TenantID: s.run.TenantID,
		Period:   s.run.Period,
		Today:    today,
	}
}

type phaseStep struct {
	phase pipeline.Phase
	run   func(ctx context.Context, st *runState) error
}

func (o *Orchestrator) steps() []phaseStep {
	return []phaseStep{
		{pipeline.PhaseReferenceLoad, o.loadReferences},
		{pipeline.PhaseNormalize, o.normalize},
		{pipeline.PhasePurchasePrice, o.evaluatePrice},
		{pipeline.PhaseUnderwriting, o.evaluateUnderwriting},
		{pipeline.PhaseComplianceMatrix, o.evaluateComap},
		{pipeline.PhaseEligibilityAggregate, o.aggregate},
		{pipeline.PhaseExport, o.render},
		{pipeline.PhaseArchive, o.archive},
	}
}

// Start executes a run for a tenant and period to a terminal state.
//
// A conflicting in-flight run yields shared.ErrRunInProgress before any run
// row is written. The run store is checked as well as the registry, since
// a registry may only see runs of its own process. A phase failure is not
// an error of Start: the returned run is failed and carries the message.
// Errors are returned only when the run could not be recorded.
func (o *Orchestrator) Start(ctx context.Context, tenantID string, period time.Time) (*pipeline.Run, error) {
	run, err := pipeline.NewRun(tenantID, period, o.deps.Calendar.Now())
	if err != nil {
		return nil, err
	}

	if err := o.checkNoRunningRun(ctx, tenantID); err != nil {
		return nil, err
	}
	if err := o.deps.Registry.Acquire(ctx, tenantID, run.ID); err != nil {
		return nil, err
	}
	defer o.release(context.WithoutCancel(ctx), run)

	ctx, log := logger.WithRun(ctx, o.logger, tenantID, run.ID.String())
	ctx, span := telemetry.StartSpan(ctx, "pipeline.run",
		telemetry.AttrTenantID.String(tenantID),
		telemetry.AttrRunID.String(run.ID.String()),
		telemetry.AttrPeriod.String(run.Period.Format("2006-01-02")),
	)
	defer span.End()

	// The run is first persisted as running; losing the race on the
	// per-tenant unique index leaves no row behind.
	if err := run.Start(o.deps.Calendar.Now()); err != nil {
		return nil, err
	}
	if err := o.deps.Runs.Save(ctx, run); err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, shared.ErrRunInProgress) {
			log.Info("Another run of the tenant is already recorded as running")
			return nil, shared.ErrRunInProgress
		}
		return nil, fmt.Errorf("create run: %w", err)
	}

	o.metrics.RunStarted(ctx, tenantID)
	log.Info("Pipeline run started", zap.Time("period", run.Period))

	err = o.execute(ctx, run)
	o.metrics.RunFinished(ctx, tenantID, string(run.Status))
	span.SetAttributes(telemetry.AttrStatus.String(string(run.Status)))
	if run.Status == pipeline.RunStatusFailed {
		telemetry.RecordError(span, errors.New(run.Error))
	} else if err == nil {
		telemetry.SetOK(span)
	}
	return run, err
}

func (o *Orchestrator) checkNoRunningRun(ctx context.Context, tenantID string) error {
	running := pipeline.RunStatusRunning
	runs, err := o.deps.Runs.FindAll(ctx, tenantID, pipeline.RunFilter{Status: &running}, 1)
	if err != nil {
		return fmt.Errorf("check running runs: %w", err)
	}
	if len(runs) > 0 {
		o.logger.Info("Run already in progress",
			zap.String("tenant_id", tenantID),
			zap.String("running_run_id", runs[0].ID.String()),
		)
		return shared.ErrRunInProgress
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, run *pipeline.Run) error {
	log := logger.L(ctx)
	st := &runState{run: run}
	bookkeeping := context.WithoutCancel(ctx)

	for _, step := range o.phases {
		if err := ctx.Err(); err != nil {
			log.Warn("Pipeline run cancelled", zap.String("phase", string(step.phase)), zap.Error(err))
			return o.fail(bookkeeping, run, fmt.Sprintf("cancelled before %s", step.phase))
		}

		if err := o.runPhase(ctx, st, step); err != nil {
			log.Error("Pipeline phase failed", zap.String("phase", string(step.phase)), zap.Error(err))
			return o.fail(bookkeeping, run, fmt.Sprintf("%s: %v", step.phase, err))
		}

		if err := run.Advance(step.phase, o.deps.Calendar.Now()); err != nil {
			return o.fail(bookkeeping, run, fmt.Sprintf("%s: %v", step.phase, err))
		}
		if err := o.deps.Runs.Save(bookkeeping, run); err != nil {
			return fmt.Errorf("persist phase %s: %w", step.phase, err)
		}
	}

	counts := st.resolution.Counts
	if err := run.Complete(counts, o.deps.Calendar.Now()); err != nil {
		return err
	}
	if err := o.deps.Runs.Save(bookkeeping, run); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	o.recordDispositions(ctx, run.TenantID, st.resolution)

	log.Info("Pipeline run completed",
		zap.Int("loans_processed", counts.Processed),
		zap.Int("loans_purchased", counts.Purchased),
		zap.Int("loans_projected", counts.Projected),
		zap.Int("loans_rejected", counts.Rejected),
		zap.Int("data_quality_exceptions", counts.DataQualityExceptions),
		zap.String("total_balance", counts.TotalBalance.StringFixed(2)),
		zap.Int("artifacts", len(st.archived)),
		zap.Duration("duration", run.Duration(o.deps.Calendar.Now())),
	)
	return nil
}

func (o *Orchestrator) runPhase(ctx context.Context, st *runState, step phaseStep) error {
	ctx, span := telemetry.StartPhaseSpan(ctx, string(step.phase), st.run.TenantID, st.run.ID.String())
	defer span.End()

	log := logger.L(ctx).With(zap.String("phase", string(step.phase)))
	log.Debug("Phase started")
	began := time.Now()

	err := step.run(ctx, st)
	elapsed := time.Since(began)
	o.metrics.PhaseCompleted(ctx, string(step.phase), elapsed, err != nil)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	telemetry.SetOK(span)
	log.Info("Phase completed", zap.Duration("duration", elapsed))
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, run *pipeline.Run, message string) error {
	if err := run.Fail(message, o.deps.Calendar.Now()); err != nil {
		return err
	}
	if err := o.deps.Runs.Save(ctx, run); err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return nil
}

func (o *Orchestrator) release(ctx context.Context, run *pipeline.Run) {
	if err := o.deps.Registry.Release(ctx, run.TenantID, run.ID); err != nil {
		o.logger.Error("Failed to release run registry entry",
			zap.String("tenant_id", run.TenantID),
			zap.String("run_id", run.ID.String()),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) recordDispositions(ctx context.Context, tenantID string, res *disposition.Resolution) {
	type key struct {
		disposition loan.Disposition
		reason      loan.RejectionReason
	}
	counts := make(map[key]int)
	for _, d := range res.Decisions {
		counts[key{d.Disposition, d.Reason}]++
	}
	for k, n := range counts {
		o.metrics.LoansDisposed(ctx, tenantID, string(k.disposition), string(k.reason), n)
	}
}

func (o *Orchestrator) loadReferences(ctx context.Context, st *runState) error {
	set, err := reference.Load(ctx, o.deps.References)
	if err != nil {
		return err
	}
	st.set = set
	logger.L(ctx).Debug("Reference grids loaded", zap.Int("grids", len(set.Headers())))
	return nil
}

func (o *Orchestrator) normalize(ctx context.Context, st *runState) error {
	raw, err := o.deps.Batches.Fetch(ctx, st.run.TenantID, st.run.Period)
	if err != nil {
		return err
	}
	res, err := o.normalizer.Normalize(ctx, raw, st.set.Mapping())
	if err != nil {
		return err
	}
	st.normalized = res
	logger.L(ctx).Info("Batch normalized",
		zap.Int("rows_read", res.RowsRead),
		zap.Int("records", res.Batch.Len()),
		zap.Int("exceptions", len(res.Exceptions)),
	)
	return nil
}

// results returns the evaluator output cache, running every evaluator at
// once on first use when parallel evaluation is enabled.
func (o *Orchestrator) results(ctx context.Context, st *runState) (*evaluation.Results, error) {
	if st.results != nil {
		return st.results, nil
	}
	if !o.settings.ParallelEvaluators {
		st.results = &evaluation.Results{}
		return st.results, nil
	}
	res, err := o.suite.RunAll(ctx, st.normalized.Batch, st.set)
	if err != nil {
		return nil, err
	}
	st.results = res
	return res, nil
}

func (o *Orchestrator) evaluatePrice(ctx context.Context, st *runState) error {
	res, err := o.results(ctx, st)
	if err != nil {
		return err
	}
	if res.Price == nil {
		if res.Price, err = o.suite.Price.Evaluate(st.normalized.Batch, st.set); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) evaluateUnderwriting(ctx context.Context, st *runState) error {
	res, err := o.results(ctx, st)
	if err != nil {
		return err
	}
	if res.Underwriting == nil {
		if res.Underwriting, err = o.suite.Underwriting.Evaluate(st.normalized.Batch, st.set); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) evaluateComap(ctx context.Context, st *runState) error {
	res, err := o.results(ctx, st)
	if err != nil {
		return err
	}
	if res.Comap == nil {
		if res.Comap, err = o.suite.Comap.Evaluate(st.normalized.Batch, st.set); err != nil {
			return err
		}
	}
	return nil
}

// aggregate runs the portfolio checks and folds every finding into the
// per-loan dispositions.
func (o *Orchestrator) aggregate(ctx context.Context, st *runState) error {
	res, err := o.results(ctx, st)
	if err != nil {
		return err
	}
	if res.Eligibility == nil {
		res.Eligibility = o.suite.Eligibility.Aggregate(st.normalized.Batch)
	}
	st.resolution = o.resolver.Resolve(st.normalized.Batch, res, st.normalized.Exceptions)
	return nil
}

func (o *Orchestrator) render(_ context.Context, st *runState) error {
	artifacts, err := export.Render(st.meta(o.deps.Calendar.Today()), st.resolution)
	if err != nil {
		return err
	}
	st.artifacts = artifacts
	return nil
}

func (o *Orchestrator) archive(ctx context.Context, st *runState) error {
	keys, err := o.archiver.Archive(ctx, st.meta(o.deps.Calendar.Today()), st.artifacts)
	if err != nil {
		return err
	}
	st.archived = keys
	return nil
}
