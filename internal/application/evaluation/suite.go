package evaluation

import (
	"context"
	"time"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/reference"
	"golang.org/x/sync/errgroup"
)

// Config parameterizes the evaluators of a run
type Config struct {
	Cutoffs            reference.CutoffPolicy
	CarryoverCutoff    time.Time
	UnderwritingExempt []string
}

// Results collects every evaluator's output for one batch
type Results struct {
	Price        []loan.Finding
	Underwriting []loan.Finding
	Comap        []loan.Finding
	Eligibility  *EligibilityReport
}

// Suite bundles the four evaluators of a run
type Suite struct {
	Price        *PriceEvaluator
	Underwriting *UnderwritingEvaluator
	Comap        *ComapEvaluator
	Eligibility  *EligibilityAggregator
}

// NewSuite builds the evaluators from a run configuration. A zero carryover
// cutoff defaults to the late cutoff of the policy.
func NewSuite(cfg Config) *Suite {
	carryover := cfg.CarryoverCutoff
	if carryover.IsZero() {
		carryover = cfg.Cutoffs.LateCutoff
	}
	return &Suite{
		Price:        NewPriceEvaluator(carryover),
		Underwriting: NewUnderwritingEvaluator(cfg.UnderwritingExempt),
		Comap:        NewComapEvaluator(cfg.Cutoffs),
		Eligibility:  NewEligibilityAggregator(),
	}
}

// RunAll evaluates the batch with every evaluator concurrently. The
// evaluators share nothing but read-only inputs.
func (s *Suite) RunAll(ctx context.Context, batch *loan.Batch, set *reference.Set) (*Results, error) {
	res := &Results{}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		f, err := s.Price.Evaluate(batch, set)
		res.Price = f
		return err
	})
	g.Go(func() error {
		f, err := s.Underwriting.Evaluate(batch, set)
		res.Underwriting = f
		return err
	})
	g.Go(func() error {
		f, err := s.Comap.Evaluate(batch, set)
		res.Comap = f
		return err
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Eligibility = s.Eligibility.Aggregate(batch)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
