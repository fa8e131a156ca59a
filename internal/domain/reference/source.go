package reference

import (
	"context"
	"fmt"

	"github.com/loanpurchase/backend/internal/domain/loan"
)

// Source is the keyed, versioned reference-data collaborator. Fetch returns
// every version and variant stored for the kind and program; an empty
// result is not an error.
type Source interface {
	Fetch(ctx context.Context, kind Kind, program loan.Program) ([]Grid, error)
}

// Load fetches every required grid plus the optional comap variants and
// builds a validated Set.
func Load(ctx context.Context, src Source) (*Set, error) {
	var grids []Grid
	for _, req := range RequiredGrids() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fetched, err := src.Fetch(ctx, req.Kind, req.Program)
		if err != nil {
			return nil, fmt.Errorf("fetch %s/%s: %w", req.Kind, req.Program, err)
		}
		for _, g := range fetched {
			h := g.Meta()
			if h.Kind != req.Kind || h.Program != req.Program {
				return nil, fmt.Errorf("%w: fetch %s/%s returned %s", ErrInvalidGrid, req.Kind, req.Program, h.Slot())
			}
		}
		grids = append(grids, fetched...)
	}
	return NewSet(grids)
}
