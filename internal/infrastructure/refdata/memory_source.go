package refdata

import (
	"context"
	"sync"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/reference"
)

// MemorySource serves grids held in memory
type MemorySource struct {
	mu    sync.RWMutex
	grids []reference.Grid
}

// NewMemorySource creates a source over the given grids
func NewMemorySource(grids ...reference.Grid) *MemorySource {
	return &MemorySource{grids: grids}
}

// Add appends grid versions
func (s *MemorySource) Add(grids ...reference.Grid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grids = append(s.grids, grids...)
}

// Fetch implements reference.Source
func (s *MemorySource) Fetch(_ context.Context, kind reference.Kind, program loan.Program) ([]reference.Grid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []reference.Grid
	for _, g := range s.grids {
		if h := g.Meta(); h.Kind == kind && h.Program == program {
			out = append(out, g)
		}
	}
	return out, nil
}
