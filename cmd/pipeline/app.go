package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/loanpurchase/backend/internal/application/evaluation"
	apppipeline "github.com/loanpurchase/backend/internal/application/pipeline"
	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/domain/reference"
	"github.com/loanpurchase/backend/internal/infrastructure/batch"
	"github.com/loanpurchase/backend/internal/infrastructure/cache"
	"github.com/loanpurchase/backend/internal/infrastructure/calendar"
	"github.com/loanpurchase/backend/internal/infrastructure/config"
	"github.com/loanpurchase/backend/internal/infrastructure/logger"
	"github.com/loanpurchase/backend/internal/infrastructure/persistence"
	"github.com/loanpurchase/backend/internal/infrastructure/refdata"
	"github.com/loanpurchase/backend/internal/infrastructure/storage"
	"github.com/loanpurchase/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// app holds the process-wide infrastructure shared by every command
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *persistence.Database
	runs     *persistence.GormPipelineRunRepository
	registry pipeline.RunRegistry
	metrics  apppipeline.Metrics
	closers  []func(context.Context) error
}

func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := config.LoadFile(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, func(context.Context) error { return logger.Sync(log) })

	if err := a.initTelemetry(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	if err := a.initDatabase(); err != nil {
		a.close(ctx)
		return nil, err
	}

	registry, err := cache.NewRunRegistryFactory(cfg.Redis, cache.WithLogger(log)).
		Create(cfg.Pipeline.RegistryBackend, cfg.Pipeline.StaleAfter)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.registry = registry
	if c, ok := registry.(io.Closer); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}

	log.Info("Pipeline initialized",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("database", a.db.Driver()),
		zap.String("registry", cfg.Pipeline.RegistryBackend),
	)
	return a, nil
}

func (a *app) initTelemetry(ctx context.Context) error {
	tcfg := telemetry.ConfigFrom(a.cfg.Telemetry)

	tp, err := telemetry.NewTracerProvider(ctx, tcfg, a.log)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	a.closers = append(a.closers, tp.Shutdown)

	mp, err := telemetry.NewMeterProvider(ctx, tcfg, a.log)
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}
	a.closers = append(a.closers, mp.Shutdown)

	pm, err := telemetry.NewPipelineMetrics(mp.Meter(telemetry.TracerName))
	if err != nil {
		return fmt.Errorf("register pipeline metrics: %w", err)
	}
	a.metrics = pm
	return nil
}

func (a *app) initDatabase() error {
	db, err := persistence.NewDatabase(&a.cfg.Database,
		persistence.WithLogger(a.log, logger.MapGormLogLevel(a.cfg.Log.Level)),
		persistence.WithTelemetry(a.cfg.Telemetry),
	)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	// postgres is migrated by cmd/migrate; a local sqlite file is created in place
	if db.Driver() == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate sqlite schema: %w", err)
		}
	}
	a.runs = persistence.NewGormPipelineRunRepository(db.DB)
	return nil
}

// close releases resources in reverse order of acquisition
func (a *app) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil && a.log != nil {
		a.log.Warn("Errors during shutdown", zap.Error(err))
	}
}

func (a *app) calendar(today string) (*calendar.BusinessCalendar, error) {
	if today == "" {
		return calendar.New(calendar.WithHolidays(a.cfg.Pipeline.Holidays...)), nil
	}
	d, err := parseDate(today)
	if err != nil {
		return nil, fmt.Errorf("invalid --today: %w", err)
	}
	return calendar.Fixed(d, a.cfg.Pipeline.Holidays...), nil
}

func (a *app) orchestrator(ctx context.Context, cal pipeline.Calendar) (*apppipeline.Orchestrator, error) {
	store, err := storage.New(ctx, &a.cfg.Storage, a.log)
	if err != nil {
		return nil, fmt.Errorf("initialize artifact store: %w", err)
	}

	p := a.cfg.Pipeline
	return apppipeline.NewOrchestrator(
		apppipeline.Dependencies{
			Runs:       a.runs,
			Registry:   a.registry,
			Calendar:   cal,
			References: refdata.NewFileSource(p.ReferenceDir, a.log),
			Batches:    batch.NewFileSource(p.BatchDir, a.log),
			Store:      store,
		},
		apppipeline.Settings{
			Evaluation: evaluation.Config{
				Cutoffs: reference.CutoffPolicy{
					EarlyCutoff:  p.EarlyCutoff,
					LateCutoff:   p.LateCutoff,
					VariantSplit: p.VariantSplit,
				},
				CarryoverCutoff:    p.CarryoverCutoff,
				UnderwritingExempt: p.UnderwritingExempt,
			},
			PurchaseWindowDays: p.PurchaseWindowDays,
			ParallelEvaluators: p.ParallelEvaluators,
		},
		apppipeline.WithLogger(a.log),
		apppipeline.WithMetrics(a.metrics),
	)
}

func (a *app) reconciler() (*apppipeline.Reconciler, error) {
	return apppipeline.NewReconciler(a.runs, a.registry, a.cfg.Pipeline.StaleAfter, a.metrics, a.log)
}
