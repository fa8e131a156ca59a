package pipeline

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loanpurchase/backend/internal/application/evaluation"
	"github.com/loanpurchase/backend/internal/application/export"
	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/domain/reference"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/loanpurchase/backend/internal/infrastructure/batch"
	"github.com/loanpurchase/backend/internal/infrastructure/cache"
	"github.com/loanpurchase/backend/internal/infrastructure/calendar"
	"github.com/loanpurchase/backend/internal/infrastructure/refdata"
	"github.com/loanpurchase/backend/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenant = "acme"

type snapshot struct {
	Status    pipeline.RunStatus
	LastPhase pipeline.Phase
}

// memRuns is a RunRepository that remembers every saved state
type memRuns struct {
	mu      sync.Mutex
	runs    map[uuid.UUID]pipeline.Run
	history map[uuid.UUID][]snapshot
	saveErr error
}

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[uuid.UUID]pipeline.Run), history: make(map[uuid.UUID][]snapshot)}
}

func (m *memRuns) FindByID(_ context.Context, tenantID string, id uuid.UUID) (*pipeline.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || r.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return &r, nil
}

func (m *memRuns) FindAll(_ context.Context, tenantID string, filter pipeline.RunFilter, limit int) ([]*pipeline.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*pipeline.Run
	for _, r := range m.runs {
		if r.TenantID != tenantID || (filter.Status != nil && r.Status != *filter.Status) {
			continue
		}
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRuns) FindRunningStartedBefore(_ context.Context, cutoff time.Time) ([]*pipeline.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*pipeline.Run
	for _, r := range m.runs {
		if r.Status == pipeline.RunStatusRunning && r.StartedAt != nil && r.StartedAt.Before(cutoff) {
			r := r
			out = append(out, &r)
		}
	}
	return out, nil
}

func (m *memRuns) Save(_ context.Context, run *pipeline.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.runs[run.ID] = *run
	m.history[run.ID] = append(m.history[run.ID], snapshot{run.Status, run.LastPhase})
	return nil
}

func (m *memRuns) saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.history {
		n += len(h)
	}
	return n
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (s *memStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && strings.HasSuffix(key, s.failOn) {
		return errors.New("bucket unavailable")
	}
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStore) find(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.objects {
		if strings.HasSuffix(k, "/"+name) {
			return v
		}
	}
	return nil
}

// hookMetrics records phase completions and runs a hook after each one
type hookMetrics struct {
	nopMetrics
	mu         sync.Mutex
	phases     []string
	finished   []string
	disposed   map[string]int
	afterPhase func(phase string)
}

func (h *hookMetrics) PhaseCompleted(_ context.Context, phase string, _ time.Duration, _ bool) {
	h.mu.Lock()
	h.phases = append(h.phases, phase)
	hook := h.afterPhase
	h.mu.Unlock()
	if hook != nil {
		hook(phase)
	}
}

func (h *hookMetrics) RunFinished(_ context.Context, _ string, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, status)
}

func (h *hookMetrics) LoansDisposed(_ context.Context, _ string, disposition, reason string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed == nil {
		h.disposed = make(map[string]int)
	}
	h.disposed[disposition+"/"+reason] += n
}

type fixture struct {
	runs     *memRuns
	registry *cache.InMemoryRunRegistry
	batches  *batch.MemorySource
	store    *memStore
	metrics  *hookMetrics
	deps     Dependencies
	settings Settings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		runs:     newMemRuns(),
		registry: cache.NewInMemoryRunRegistry(2 * time.Hour),
		batches:  batch.NewMemorySource(),
		store:    newMemStore(),
		metrics:  &hookMetrics{},
	}
	f.batches.Put(tenant, testutil.Today, loan.RawPartition{
		Format: loan.SourceOriginationV2,
		Name:   "origination_v2.csv",
		Data:   testutil.MixedTape(),
	})
	f.deps = Dependencies{
		Runs:       f.runs,
		Registry:   f.registry,
		Calendar:   calendar.Fixed(testutil.Today),
		References: testutil.ReferenceSource(t),
		Batches:    f.batches,
		Store:      f.store,
	}
	f.settings = Settings{
		Evaluation:         evaluation.Config{Cutoffs: reference.DefaultCutoffPolicy()},
		PurchaseWindowDays: 2,
	}
	return f
}

func (f *fixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(f.deps, f.settings, WithMetrics(f.metrics))
	require.NoError(t, err)
	return o
}

func TestNewOrchestrator_Validation(t *testing.T) {
	f := newFixture(t)

	deps := f.deps
	deps.Store = nil
	_, err := NewOrchestrator(deps, f.settings)
	assert.Error(t, err)

	settings := f.settings
	settings.Evaluation.Cutoffs = reference.CutoffPolicy{}
	_, err = NewOrchestrator(f.deps, settings)
	assert.Error(t, err)

	settings = f.settings
	settings.PurchaseWindowDays = -1
	_, err = NewOrchestrator(f.deps, settings)
	assert.Error(t, err)
}

func TestOrchestrator_CompletesRun(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		name := "sequential"
		if parallel {
			name = "parallel"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.settings.ParallelEvaluators = parallel

			run, err := f.orchestrator(t).Start(context.Background(), tenant, testutil.Today)
			require.NoError(t, err)

			assert.Equal(t, pipeline.RunStatusCompleted, run.Status)
			assert.Equal(t, pipeline.PhaseArchive, run.LastPhase)
			assert.Empty(t, run.Error)
			assert.Equal(t, 3, run.Counts.Processed)
			assert.Equal(t, 1, run.Counts.Purchased)
			assert.Equal(t, 1, run.Counts.Projected)
			assert.Equal(t, 1, run.Counts.Rejected)
			assert.Equal(t, "60000", run.Counts.TotalBalance.String())

			// created running, one save per phase, completed
			history := f.runs.history[run.ID]
			require.Len(t, history, 1+len(pipeline.Phases())+1)
			assert.Equal(t, snapshot{pipeline.RunStatusRunning, ""}, history[0])
			for i, phase := range pipeline.Phases() {
				assert.Equal(t, snapshot{pipeline.RunStatusRunning, phase}, history[1+i])
			}
			assert.Equal(t, snapshot{pipeline.RunStatusCompleted, pipeline.PhaseArchive}, history[len(history)-1])

			assert.Len(t, f.store.objects, 6)
			assert.NotNil(t, f.store.find(export.RunManifest))

			_, held, err := f.registry.Current(context.Background(), tenant)
			require.NoError(t, err)
			assert.False(t, held)

			assert.Equal(t, []string{"completed"}, f.metrics.finished)
			assert.Len(t, f.metrics.phases, len(pipeline.Phases()))
			assert.Equal(t, 1, f.metrics.disposed["to_purchase/"])
			assert.Equal(t, 1, f.metrics.disposed["projected/"])
		})
	}
}

func TestOrchestrator_ParallelMatchesSequential(t *testing.T) {
	tapes := make([][]byte, 0, 2)
	for _, parallel := range []bool{false, true} {
		f := newFixture(t)
		f.settings.ParallelEvaluators = parallel
		_, err := f.orchestrator(t).Start(context.Background(), tenant, testutil.Today)
		require.NoError(t, err)
		tapes = append(tapes, f.store.find(export.RejectionReport))
	}
	require.NotEmpty(t, tapes[0])
	assert.Equal(t, tapes[0], tapes[1])
}

func TestOrchestrator_RunInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.registry.Acquire(ctx, tenant, uuid.New()))

	run, err := f.orchestrator(t).Start(ctx, tenant, testutil.Today)
	assert.Nil(t, run)
	assert.ErrorIs(t, err, shared.ErrRunInProgress)
	assert.Zero(t, f.runs.saves())
	assert.Empty(t, f.metrics.phases)

	// another tenant is unaffected
	f.batches.Put("other", testutil.Today, loan.RawPartition{
		Format: loan.SourceOriginationV2, Name: "origination_v2.csv", Data: testutil.MixedTape(),
	})
	run, err = f.orchestrator(t).Start(ctx, "other", testutil.Today)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusCompleted, run.Status)
}

func TestOrchestrator_RunInProgressAcrossRegistries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A second process shares the run store but not the registry.
	other := *f
	other.registry = cache.NewInMemoryRunRegistry(2 * time.Hour)
	other.deps.Registry = other.registry
	other.metrics = &hookMetrics{}
	second := other.orchestrator(t)

	var (
		secondRun *pipeline.Run
		secondErr error
	)
	f.metrics.afterPhase = func(phase string) {
		if phase == string(pipeline.PhaseNormalize) {
			secondRun, secondErr = second.Start(ctx, tenant, testutil.Today)
		}
	}

	first, err := f.orchestrator(t).Start(ctx, tenant, testutil.Today)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusCompleted, first.Status)

	assert.Nil(t, secondRun)
	assert.ErrorIs(t, secondErr, shared.ErrRunInProgress)
	assert.Empty(t, other.metrics.phases)
	assert.Len(t, f.runs.history, 1)

	_, held, err := other.registry.Current(ctx, tenant)
	require.NoError(t, err)
	assert.False(t, held)

	// once the first run is terminal the tenant can run again
	again, err := second.Start(ctx, tenant, testutil.Today)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusCompleted, again.Status)
}

func TestOrchestrator_LostRaceOnRunStore(t *testing.T) {
	f := newFixture(t)
	f.runs.saveErr = shared.ErrRunInProgress

	run, err := f.orchestrator(t).Start(context.Background(), tenant, testutil.Today)
	assert.Nil(t, run)
	assert.ErrorIs(t, err, shared.ErrRunInProgress)
	assert.Zero(t, f.runs.saves())
	assert.Empty(t, f.metrics.phases)

	_, held, err := f.registry.Current(context.Background(), tenant)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestOrchestrator_ReplayUsesWallClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reconciler, err := NewReconciler(f.runs, f.registry, time.Hour, nil, nil)
	require.NoError(t, err)

	reconciled := -1
	f.metrics.afterPhase = func(phase string) {
		if phase == string(pipeline.PhaseNormalize) {
			reconciled, err = reconciler.ReconcileStale(ctx, time.Now())
		}
	}

	run, startErr := f.orchestrator(t).Start(ctx, tenant, testutil.Today)
	require.NoError(t, startErr)
	require.NoError(t, err)
	assert.Zero(t, reconciled)
	assert.Equal(t, pipeline.RunStatusCompleted, run.Status)

	require.NotNil(t, run.StartedAt)
	assert.WithinDuration(t, time.Now(), *run.StartedAt, time.Minute)
	assert.WithinDuration(t, time.Now(), run.CreatedAt, time.Minute)
	assert.True(t, run.Period.Equal(testutil.Today))
}

func TestOrchestrator_StructuralFailures(t *testing.T) {
	t.Run("missing reference grid", func(t *testing.T) {
		f := newFixture(t)
		f.deps.References = refdata.NewMemorySource()

		run, err := f.orchestrator(t).Start(context.Background(), tenant, testutil.Today)
		require.NoError(t, err)
		assert.Equal(t, pipeline.RunStatusFailed, run.Status)
		assert.Equal(t, pipeline.Phase(""), run.LastPhase)
		assert.True(t, strings.HasPrefix(run.Error, "reference_load: "), run.Error)
		assert.Contains(t, run.Error, reference.ErrMissingGrid.Error())
	})

	t.Run("missing batch", func(t *testing.T) {
		f := newFixture(t)
		f.batches = batch.NewMemorySource()
		f.deps.Batches = f.batches

		run, err := f.orchestrator(t).Start(context.Background(), tenant, testutil.Today)
		require.NoError(t, err)
		assert.Equal(t, pipeline.RunStatusFailed, run.Status)
		assert.Equal(t, pipeline.PhaseReferenceLoad, run.LastPhase)
		assert.True(t, strings.HasPrefix(run.Error, "normalize: batch not found"), run.Error)
	})

	t.Run("missing column", func(t *testing.T) {
		f := newFixture(t)
		f.batches.Put(tenant, testutil.Today, loan.RawPartition{
			Format: loan.SourceOriginationV2,
			Name:   "origination_v2.csv",
			Data:   []byte("seller_loan_number,product_code\nX-1,PRI\n"),
		})

		run, err := f.orchestrator(t).Start(context.Background(), tenant, testutil.Today)
		require.NoError(t, err)
		assert.Equal(t, pipeline.RunStatusFailed, run.Status)
		assert.Equal(t, pipeline.PhaseReferenceLoad, run.LastPhase)
		assert.Contains(t, run.Error, "required column missing")
	})

	t.Run("archive store down", func(t *testing.T) {
		f := newFixture(t)
		f.store.failOn = export.PurchaseTape

		run, err := f.orchestrator(t).Start(context.Background(), tenant, testutil.Today)
		require.NoError(t, err)
		assert.Equal(t, pipeline.RunStatusFailed, run.Status)
		assert.Equal(t, pipeline.PhaseExport, run.LastPhase)
		assert.True(t, strings.HasPrefix(run.Error, "archive: "), run.Error)
		assert.Zero(t, run.Counts.Processed)

		_, held, err := f.registry.Current(context.Background(), tenant)
		require.NoError(t, err)
		assert.False(t, held)
		assert.Equal(t, []string{"failed"}, f.metrics.finished)
	})
}

func TestOrchestrator_CancelledBetweenPhases(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.metrics.afterPhase = func(phase string) {
		if phase == string(pipeline.PhaseUnderwriting) {
			cancel()
		}
	}

	run, err := f.orchestrator(t).Start(ctx, tenant, testutil.Today)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusFailed, run.Status)
	assert.Equal(t, pipeline.PhaseUnderwriting, run.LastPhase)
	assert.Equal(t, "cancelled before compliance_matrix", run.Error)

	stored, err := f.runs.FindByID(context.Background(), tenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusFailed, stored.Status)

	_, held, err := f.registry.Current(context.Background(), tenant)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestOrchestrator_TerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t)
	f.deps.References = refdata.NewMemorySource()

	failed, err := f.orchestrator(t).Start(context.Background(), tenant, testutil.Today)
	require.NoError(t, err)

	now := testutil.Today.Add(time.Hour)
	assert.Error(t, failed.Start(now))
	assert.Error(t, failed.Complete(pipeline.RunCounts{}, now))
	assert.Error(t, failed.Fail("again", now))
	assert.Error(t, failed.Advance(pipeline.PhaseReferenceLoad, now))
}

func TestOrchestrator_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.runs.saveErr = errors.New("database is down")

	run, err := f.orchestrator(t).Start(context.Background(), tenant, testutil.Today)
	assert.Nil(t, run)
	assert.ErrorContains(t, err, "create run")

	_, held, err := f.registry.Current(context.Background(), tenant)
	require.NoError(t, err)
	assert.False(t, held)
}
