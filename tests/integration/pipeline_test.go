package integration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loanpurchase/backend/internal/application/evaluation"
	"github.com/loanpurchase/backend/internal/application/export"
	apppipeline "github.com/loanpurchase/backend/internal/application/pipeline"
	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/domain/reference"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/loanpurchase/backend/internal/infrastructure/batch"
	"github.com/loanpurchase/backend/internal/infrastructure/cache"
	"github.com/loanpurchase/backend/internal/infrastructure/calendar"
	"github.com/loanpurchase/backend/internal/infrastructure/persistence"
	"github.com/loanpurchase/backend/internal/infrastructure/refdata"
	"github.com/loanpurchase/backend/internal/infrastructure/storage"
	"github.com/loanpurchase/backend/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// pipelineEnv lays out reference grids and a batch tape on disk and wires
// the orchestrator to PostgreSQL, Redis and a local artifact store.
type pipelineEnv struct {
	runs     *persistence.GormPipelineRunRepository
	registry *cache.RedisRunRegistry
	store    *storage.LocalArtifactStore
	svc      *apppipeline.RunService
}

func newPipelineEnv(t *testing.T, tenantID string) *pipelineEnv {
	t.Helper()

	root := t.TempDir()
	refDir := filepath.Join(root, "reference")
	require.NoError(t, os.MkdirAll(refDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(refDir, "grids.yaml"), []byte(testutil.ReferenceYAML), 0o644))

	newDir := filepath.Join(root, "batches", tenantID, shared.FormatDate(testutil.Today), batch.NewDir)
	require.NoError(t, os.MkdirAll(newDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(newDir, "origination_v2.csv"), testutil.MixedTape(), 0o644))

	store, err := storage.NewLocalArtifactStore(filepath.Join(root, "artifacts"))
	require.NoError(t, err)

	tdb := NewSharedTestDB(t)
	env := &pipelineEnv{
		runs:     persistence.NewGormPipelineRunRepository(tdb.DB),
		registry: cache.NewRedisRunRegistryWithClient(NewSharedRedis(t), "it:e2e:", 2*time.Hour),
		store:    store,
	}

	log := zap.NewNop()
	orch, err := apppipeline.NewOrchestrator(
		apppipeline.Dependencies{
			Runs:       env.runs,
			Registry:   env.registry,
			Calendar:   calendar.Fixed(testutil.Today),
			References: refdata.NewFileSource(refDir, log),
			Batches:    batch.NewFileSource(filepath.Join(root, "batches"), log),
			Store:      store,
		},
		apppipeline.Settings{
			Evaluation:         evaluation.Config{Cutoffs: reference.DefaultCutoffPolicy()},
			PurchaseWindowDays: 2,
			ParallelEvaluators: true,
		},
		apppipeline.WithLogger(log),
	)
	require.NoError(t, err)

	rec, err := apppipeline.NewReconciler(env.runs, env.registry, 2*time.Hour, nil, log)
	require.NoError(t, err)
	env.svc = apppipeline.NewRunService(orch, env.runs, rec)
	return env
}

func TestPipeline_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	const tenantID = "e2e-acme"
	env := newPipelineEnv(t, tenantID)
	ctx := context.Background()

	dto, err := env.svc.Start(ctx, tenantID, testutil.Today)
	require.NoError(t, err)

	assert.Equal(t, string(pipeline.RunStatusCompleted), dto.Status)
	assert.Equal(t, string(pipeline.PhaseArchive), dto.LastPhase)
	assert.Equal(t, 3, dto.LoansProcessed)
	assert.Equal(t, 1, dto.LoansPurchased)
	assert.Equal(t, 1, dto.LoansProjected)
	assert.Equal(t, 1, dto.LoansRejected)
	assert.Equal(t, "60000.00", dto.TotalBalance)

	persisted, err := env.svc.Get(ctx, tenantID, dto.ID)
	require.NoError(t, err)
	assert.Equal(t, dto.Status, persisted.Status)
	assert.Equal(t, dto.LoansPurchased, persisted.LoansPurchased)

	_, held, err := env.registry.Current(ctx, tenantID)
	require.NoError(t, err)
	assert.False(t, held, "registry entry must be released after the run")

	prefix := tenantID + "/" + shared.FormatDate(testutil.Today) + "/" + dto.ID.String() + "/"
	for _, name := range []string{
		export.PurchaseTape,
		export.ProjectedTape,
		export.RejectionReport,
		export.ExceptionLog,
		export.EligibilitySummary,
		export.RunManifest,
	} {
		ok, err := env.store.Exists(ctx, prefix+name)
		require.NoError(t, err)
		assert.True(t, ok, "missing artifact %s", name)
	}

	raw, err := env.store.Get(ctx, prefix+export.RunManifest)
	require.NoError(t, err)
	var manifest map[string]any
	require.NoError(t, json.Unmarshal(raw, &manifest))
	assert.Equal(t, dto.ID.String(), manifest["run_id"])

	runs, err := env.svc.List(ctx, tenantID, pipeline.RunFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, dto.ID, runs[0].ID)
}

func TestPipeline_StaleRunIsReconciled(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	const tenantID = "e2e-stale"
	env := newPipelineEnv(t, tenantID)
	ctx := context.Background()

	// a run whose process died mid-flight: running in the store, held in the registry
	startedAt := time.Now().Add(-3 * time.Hour)
	crashed, err := pipeline.NewRun(tenantID, testutil.Today, startedAt)
	require.NoError(t, err)
	require.NoError(t, crashed.Start(startedAt))
	require.NoError(t, crashed.Advance(pipeline.PhaseReferenceLoad, startedAt))
	require.NoError(t, env.runs.Save(ctx, crashed))
	require.NoError(t, env.registry.Acquire(ctx, tenantID, crashed.ID))

	_, err = env.svc.Start(ctx, tenantID, testutil.Today)
	assert.ErrorIs(t, err, shared.ErrRunInProgress)

	n, err := env.svc.MarkStale(ctx, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	failed, err := env.svc.Get(ctx, tenantID, crashed.ID)
	require.NoError(t, err)
	assert.Equal(t, string(pipeline.RunStatusFailed), failed.Status)
	assert.Equal(t, pipeline.StaleRunError, failed.Error)
	assert.Equal(t, string(pipeline.PhaseReferenceLoad), failed.LastPhase)

	dto, err := env.svc.Start(ctx, tenantID, testutil.Today)
	require.NoError(t, err)
	assert.Equal(t, string(pipeline.RunStatusCompleted), dto.Status)
}

func TestPipeline_RunningRunInStoreBlocksStart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	const tenantID = "e2e-other-process"
	env := newPipelineEnv(t, tenantID)
	ctx := context.Background()

	// running in the store but unknown to this process's registry
	startedAt := time.Now().Add(-time.Minute)
	elsewhere, err := pipeline.NewRun(tenantID, testutil.Today, startedAt)
	require.NoError(t, err)
	require.NoError(t, elsewhere.Start(startedAt))
	require.NoError(t, env.runs.Save(ctx, elsewhere))

	_, err = env.svc.Start(ctx, tenantID, testutil.Today)
	assert.ErrorIs(t, err, shared.ErrRunInProgress)

	running := pipeline.RunStatusRunning
	runs, err := env.svc.List(ctx, tenantID, pipeline.RunFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, elsewhere.ID, runs[0].ID)

	_, held, err := env.registry.Current(ctx, tenantID)
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, elsewhere.Complete(pipeline.RunCounts{}, time.Now()))
	require.NoError(t, env.runs.Save(ctx, elsewhere))

	dto, err := env.svc.Start(ctx, tenantID, testutil.Today)
	require.NoError(t, err)
	assert.Equal(t, string(pipeline.RunStatusCompleted), dto.Status)

	stillRunning, err := env.svc.List(ctx, tenantID, pipeline.RunFilter{Status: &running}, 10)
	require.NoError(t, err)
	assert.Empty(t, stillRunning)
}
