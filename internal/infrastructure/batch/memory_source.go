package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/shared"
)

// MemorySource serves batches registered in memory. Used by tests and
// for replaying a captured batch.
type MemorySource struct {
	mu      sync.RWMutex
	batches map[string]*loan.RawBatch
}

// NewMemorySource creates an empty in-memory batch source
func NewMemorySource() *MemorySource {
	return &MemorySource{batches: make(map[string]*loan.RawBatch)}
}

func memoryKey(tenantID string, period time.Time) string {
	return tenantID + "/" + shared.FormatDate(period)
}

// Put registers partitions for a tenant and period, replacing earlier ones
func (s *MemorySource) Put(tenantID string, period time.Time, parts ...loan.RawPartition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[memoryKey(tenantID, period)] = &loan.RawBatch{
		TenantID:   tenantID,
		Period:     shared.DateOf(period),
		Partitions: append([]loan.RawPartition(nil), parts...),
	}
}

// Fetch implements loan.BatchSource
func (s *MemorySource) Fetch(ctx context.Context, tenantID string, period time.Time) (*loan.RawBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[memoryKey(tenantID, period)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, memoryKey(tenantID, period))
	}
	out := *b
	out.Partitions = append([]loan.RawPartition(nil), b.Partitions...)
	return &out, nil
}

var _ loan.BatchSource = (*MemorySource)(nil)
