package reference

import (
	"errors"
	"time"

	"github.com/loanpurchase/backend/internal/domain/shared"
)

// CutoffPolicy holds the submit-date cutoffs that choose a compliance-matrix
// variant. The policy is injected so selection never reads the clock.
type CutoffPolicy struct {
	EarlyCutoff  time.Time
	LateCutoff   time.Time
	VariantSplit time.Time
}

// DefaultCutoffPolicy returns the production cutoffs
func DefaultCutoffPolicy() CutoffPolicy {
	return CutoffPolicy{
		EarlyCutoff:  shared.Date(2025, time.June, 1),
		LateCutoff:   shared.Date(2025, time.October, 1),
		VariantSplit: shared.Date(2026, time.January, 1),
	}
}

// Validate checks the cutoffs are ordered
func (p CutoffPolicy) Validate() error {
	if p.EarlyCutoff.IsZero() || p.LateCutoff.IsZero() || p.VariantSplit.IsZero() {
		return errors.New("cutoff policy: all cutoffs are required")
	}
	if !p.EarlyCutoff.Before(p.LateCutoff) {
		return errors.New("cutoff policy: early cutoff must precede late cutoff")
	}
	if p.VariantSplit.Before(p.LateCutoff) {
		return errors.New("cutoff policy: variant split must not precede late cutoff")
	}
	return nil
}

// VariantFor picks the preferred variant for a submit date:
//
//	submit >  late            -> late_b when submit >= split, else late_a
//	early <= submit <= late   -> intermediate
//	submit <  early           -> base
func (p CutoffPolicy) VariantFor(submit time.Time) Variant {
	d := shared.DateOf(submit)
	switch {
	case d.After(p.LateCutoff):
		if !d.Before(p.VariantSplit) {
			return VariantLateB
		}
		return VariantLateA
	case !d.Before(p.EarlyCutoff):
		return VariantIntermediate
	default:
		return VariantBase
	}
}

// FallbackChain lists the variants tried, in order, when v is preferred
func FallbackChain(v Variant) []Variant {
	switch v {
	case VariantLateB:
		return []Variant{VariantLateB, VariantLateA, VariantIntermediate, VariantBase}
	case VariantLateA:
		return []Variant{VariantLateA, VariantIntermediate, VariantBase}
	case VariantIntermediate:
		return []Variant{VariantIntermediate, VariantBase}
	default:
		return []Variant{VariantBase}
	}
}
