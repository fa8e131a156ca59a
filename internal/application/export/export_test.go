package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loanpurchase/backend/internal/application/disposition"
	"github.com/loanpurchase/backend/internal/application/evaluation"
	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/reference"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/loanpurchase/backend/internal/infrastructure/calendar"
	"github.com/loanpurchase/backend/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	order   []string
	failOn  string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (s *memoryStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && strings.HasSuffix(key, s.failOn) {
		return errors.New("bucket unavailable")
	}
	s.objects[key] = data
	s.order = append(s.order, key)
	return nil
}

func (s *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

var meta = RunMeta{
	RunID:    uuid.MustParse("00000000-0000-0000-0000-000000000042"),
	TenantID: "tenant-east",
	Period:   shared.Date(2026, time.January, 15),
	Today:    testutil.Today,
}

func resolution(t *testing.T) *disposition.Resolution {
	t.Helper()
	set := testutil.ReferenceSet(t)
	batch := testutil.Batch(
		testutil.NewRecord("L-1"),
		testutil.NewRecord("L-2", testutil.WithLenderPrice("101.99"), testutil.WithScore(610)),
		testutil.NewRecord("L-3", testutil.WithPurchaseDate(shared.Date(2026, time.February, 2))),
	)
	results, err := evaluation.NewSuite(evaluation.Config{Cutoffs: reference.DefaultCutoffPolicy()}).
		RunAll(context.Background(), batch, set)
	require.NoError(t, err)

	exceptions := []loan.Exception{{
		SellerLoanNumber: "L-0", SourceFormat: loan.SourceOriginationV1, Source: "v1.csv",
		Line: 4, Column: "credit_score", Code: "ERR_TAPE_INVALID_TYPE", Message: "expected int", Value: "abc",
	}}
	return disposition.NewResolver(calendar.Fixed(testutil.Today), 2).Resolve(batch, results, exceptions)
}

func readCSV(t *testing.T, a Artifact) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(a.Data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func byName(artifacts []Artifact) map[string]Artifact {
	out := make(map[string]Artifact, len(artifacts))
	for _, a := range artifacts {
		out[a.Name] = a
	}
	return out
}

func TestRender(t *testing.T) {
	artifacts, err := Render(meta, resolution(t))
	require.NoError(t, err)
	require.Len(t, artifacts, 6)
	assert.Equal(t, RunManifest, artifacts[5].Name)

	all := byName(artifacts)

	purchase := readCSV(t, all[PurchaseTape])
	require.Len(t, purchase, 2)
	assert.Equal(t, recordHeader, purchase[0])
	assert.Equal(t, "L-1", purchase[1][0])
	assert.Equal(t, "60000.00", purchase[1][5])

	projected := readCSV(t, all[ProjectedTape])
	require.Len(t, projected, 2)
	assert.Equal(t, "L-3", projected[1][0])

	rejections := readCSV(t, all[RejectionReport])
	require.Len(t, rejections, 2)
	assert.Equal(t, []string{"L-2", "primary", "standard", "60000.00", "purchase_price_mismatch", "purchase_price", "modeled 102.00 lender 101.99"}, rejections[1])

	exceptions := readCSV(t, all[ExceptionLog])
	// L-0 normalization exception, then L-2 price and underwriting failures
	// (its comap result is gated by the price failure)
	require.Len(t, exceptions, 4)
	assert.Equal(t, "L-0", exceptions[1][0])
	assert.Equal(t, "data_quality", exceptions[1][1])
	assert.Equal(t, "v1.csv", exceptions[1][5])
	assert.Equal(t, "purchase_price", exceptions[2][1])
	assert.Equal(t, "underwriting", exceptions[3][1])
	assert.Equal(t, 3, all[ExceptionLog].Rows)

	summary := readCSV(t, all[EligibilitySummary])
	assert.Len(t, summary, 1+len(evaluation.PrimaryChecks())+len(evaluation.SecondaryChecks()))
}

func TestRender_Manifest(t *testing.T) {
	artifacts, err := Render(meta, resolution(t))
	require.NoError(t, err)

	var m Manifest
	require.NoError(t, json.Unmarshal(byName(artifacts)[RunManifest].Data, &m))
	assert.Equal(t, meta.RunID.String(), m.RunID)
	assert.Equal(t, "2026-01-15", m.Period)
	assert.Equal(t, "2026-01-19", m.WindowEnd)
	assert.Equal(t, 3, m.Counts.Processed)
	assert.Equal(t, 1, m.Counts.Rejected)
	require.Len(t, m.Artifacts, 5)
	for i, entry := range m.Artifacts {
		assert.Equal(t, artifacts[i].Name, entry.Name)
		assert.Equal(t, artifacts[i].SHA256(), entry.SHA256)
		assert.Len(t, entry.SHA256, 64)
	}
}

func TestRender_ByteIdentical(t *testing.T) {
	first, err := Render(meta, resolution(t))
	require.NoError(t, err)
	second, err := Render(meta, resolution(t))
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Data, second[i].Data, first[i].Name)
	}
}

func TestArchiver(t *testing.T) {
	artifacts, err := Render(meta, resolution(t))
	require.NoError(t, err)

	store := newMemoryStore()
	keys, err := NewArchiver(store).Archive(context.Background(), meta, artifacts)
	require.NoError(t, err)
	require.Len(t, keys, 6)

	prefix := "tenant-east/2026-01-15/00000000-0000-0000-0000-000000000042/"
	assert.Equal(t, prefix+PurchaseTape, keys[0])
	assert.Equal(t, prefix+RunManifest, store.order[len(store.order)-1])

	ok, err := store.Exists(context.Background(), prefix+ExceptionLog)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestArchiver_StoreFailure(t *testing.T) {
	artifacts, err := Render(meta, resolution(t))
	require.NoError(t, err)

	store := newMemoryStore()
	store.failOn = ExceptionLog
	keys, err := NewArchiver(store).Archive(context.Background(), meta, artifacts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive exception_log.csv")
	assert.Len(t, keys, 3)

	ok, _ := store.Exists(context.Background(), meta.Prefix()+"/"+RunManifest)
	assert.False(t, ok)
}
