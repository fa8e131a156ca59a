package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/domain/shared"
)

type registryEntry struct {
	runID     uuid.UUID
	expiresAt time.Time
}

// InMemoryRunRegistry implements pipeline.RunRegistry with a mutex-guarded
// map. Entries expire after the TTL so a crashed run cannot block a tenant
// forever. Suitable for single-process deployments and tests.
type InMemoryRunRegistry struct {
	mu      sync.Mutex
	entries map[string]registryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryRunRegistry creates an in-memory registry. A non-positive ttl
// means entries never expire.
func NewInMemoryRunRegistry(ttl time.Duration) *InMemoryRunRegistry {
	return &InMemoryRunRegistry{
		entries: make(map[string]registryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Acquire registers runID as the tenant's in-flight run
func (r *InMemoryRunRegistry) Acquire(ctx context.Context, tenantID string, runID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.live(tenantID); ok && e.runID != runID {
		return shared.ErrRunInProgress
	}

	e := registryEntry{runID: runID}
	if r.ttl > 0 {
		e.expiresAt = r.now().Add(r.ttl)
	}
	r.entries[tenantID] = e
	return nil
}

// Release removes the tenant's entry if it still belongs to runID
func (r *InMemoryRunRegistry) Release(ctx context.Context, tenantID string, runID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[tenantID]; ok && e.runID == runID {
		delete(r.entries, tenantID)
	}
	return nil
}

// Current returns the tenant's in-flight run, if any
func (r *InMemoryRunRegistry) Current(ctx context.Context, tenantID string) (uuid.UUID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live(tenantID)
	if !ok {
		return uuid.Nil, false, nil
	}
	return e.runID, true, nil
}

// live returns the unexpired entry for a tenant, dropping an expired one.
// Callers hold mu.
func (r *InMemoryRunRegistry) live(tenantID string) (registryEntry, bool) {
	e, ok := r.entries[tenantID]
	if !ok {
		return registryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !r.now().Before(e.expiresAt) {
		delete(r.entries, tenantID)
		return registryEntry{}, false
	}
	return e, true
}

// Size returns the number of live entries
func (r *InMemoryRunRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for tenant := range r.entries {
		if _, ok := r.live(tenant); ok {
			n++
		}
	}
	return n
}

var _ pipeline.RunRegistry = (*InMemoryRunRegistry)(nil)
