// Package scheduler runs periodic background work for the pipeline, such as
// failing runs that have been stuck in running for too long.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StaleReconciler fails running runs that started before now minus the
// stale threshold and reports how many it changed.
type StaleReconciler interface {
	ReconcileStale(ctx context.Context, now time.Time) (int, error)
}

// SweeperConfig holds configuration for the stale-run sweeper
type SweeperConfig struct {
	// Interval is how often the reconciler is invoked
	Interval time.Duration
	// RunOnStart invokes the reconciler once before the first tick
	RunOnStart bool
}

// StaleSweeper invokes a StaleReconciler on a ticker until stopped.
type StaleSweeper struct {
	config     SweeperConfig
	reconciler StaleReconciler
	clock      func() time.Time
	logger     *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	sweeps    int
}

// NewStaleSweeper creates a sweeper. clock supplies "now" for each sweep.
func NewStaleSweeper(cfg SweeperConfig, reconciler StaleReconciler, clock func() time.Time, logger *zap.Logger) (*StaleSweeper, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if reconciler == nil {
		return nil, fmt.Errorf("%w: reconciler is required", ErrInvalidConfig)
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaleSweeper{
		config:     cfg,
		reconciler: reconciler,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Start launches the sweep loop. It returns immediately.
func (s *StaleSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Stale run sweeper started", zap.Duration("interval", s.config.Interval))
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep, bounded by ctx.
func (s *StaleSweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Stale run sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweeps returns how many sweeps have completed
func (s *StaleSweeper) Sweeps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweeps
}

func (s *StaleSweeper) runLoop(ctx context.Context) {
	defer s.wg.Done()

	if s.config.RunOnStart {
		s.sweep(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one reconciliation. Errors are logged; the loop keeps going.
func (s *StaleSweeper) sweep(ctx context.Context) {
	n, err := s.reconciler.ReconcileStale(ctx, s.clock())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Stale run sweep failed", zap.Error(err))
		}
	} else if n > 0 {
		s.logger.Info("Stale runs reconciled", zap.Int("count", n))
	}

	s.mu.Lock()
	s.sweeps++
	s.mu.Unlock()
}
