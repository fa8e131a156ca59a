package reference

import (
	"fmt"
	"sort"
	"time"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/shared"
)

// Requirement names a (kind, program) pair whose base variant must be loaded
type Requirement struct {
	Kind    Kind
	Program loan.Program
}

// RequiredGrids lists every grid the evaluators consult
func RequiredGrids() []Requirement {
	return []Requirement{
		{KindTypeMapping, ""},
		{KindPricing, loan.ProgramPrimary},
		{KindPricing, loan.ProgramSecondary},
		{KindPricing, loan.ProgramNotes},
		{KindUnderwriting, loan.ProgramPrimary},
		{KindUnderwriting, loan.ProgramSecondary},
		{KindUnderwriting, loan.ProgramNotes},
		{KindComap, loan.ProgramPrimary},
		{KindComap, loan.ProgramSecondary},
		{KindComapNotes, loan.ProgramNotes},
	}
}

// Set is a validated, immutable collection of grid versions. Selection on a
// Set is a pure function of program and submit date.
type Set struct {
	slots   map[string][]Grid
	mapping *TypeMapping
}

// NewSet validates every grid and the cross-version invariants: no overlap
// inside a slot, contiguous unbounded base coverage for every required pair,
// and a single type mapping.
func NewSet(grids []Grid) (*Set, error) {
	s := &Set{slots: make(map[string][]Grid)}
	for _, g := range grids {
		if g == nil {
			continue
		}
		if err := g.Validate(); err != nil {
			return nil, err
		}
		h := g.Meta()
		s.slots[h.Slot()] = append(s.slots[h.Slot()], g)
	}

	for slot, versions := range s.slots {
		sortVersions(versions)
		for i := 1; i < len(versions); i++ {
			prev, cur := versions[i-1].Meta(), versions[i].Meta()
			if prev.Overlaps(cur) {
				return nil, fmt.Errorf("%w: %s: versions %s and %s overlap", ErrAmbiguousGrid, slot, prev.Version, cur.Version)
			}
		}
	}

	for _, req := range RequiredGrids() {
		slot := Header{Kind: req.Kind, Program: req.Program, Variant: VariantBase}.Slot()
		versions := s.slots[slot]
		if len(versions) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingGrid, slot)
		}
		if err := checkCoverage(slot, versions); err != nil {
			return nil, err
		}
	}

	mappings := s.slots[Header{Kind: KindTypeMapping, Variant: VariantBase}.Slot()]
	if len(mappings) > 1 {
		return nil, fmt.Errorf("%w: %d type mapping versions loaded, expected one", ErrAmbiguousGrid, len(mappings))
	}
	mapping, ok := mappings[0].(*TypeMapping)
	if !ok {
		return nil, fmt.Errorf("%w: type mapping slot holds %T", ErrInvalidGrid, mappings[0])
	}
	s.mapping = mapping
	return s, nil
}

// Mapping returns the type/program mapping table
func (s *Set) Mapping() *TypeMapping {
	return s.mapping
}

// Pricing selects the pricing grid for a program and submit date
func (s *Set) Pricing(p loan.Program, submit time.Time) (*PricingGrid, error) {
	g, err := s.pick(KindPricing, p, VariantBase, submit)
	if err != nil {
		return nil, err
	}
	return g.(*PricingGrid), nil
}

// Underwriting selects the underwriting grid for a program and submit date
func (s *Set) Underwriting(p loan.Program, submit time.Time) (*UnderwritingGrid, error) {
	g, err := s.pick(KindUnderwriting, p, VariantBase, submit)
	if err != nil {
		return nil, err
	}
	return g.(*UnderwritingGrid), nil
}

// NotesComap selects the notes compliance grid for a submit date
func (s *Set) NotesComap(submit time.Time) (*NotesComapGrid, error) {
	g, err := s.pick(KindComapNotes, loan.ProgramNotes, VariantBase, submit)
	if err != nil {
		return nil, err
	}
	return g.(*NotesComapGrid), nil
}

// Comap selects the compliance matrix for an origin program and submit date,
// walking the variant fallback chain until a loaded version covers the date.
func (s *Set) Comap(p loan.Program, submit time.Time, policy CutoffPolicy) (*ComapGrid, error) {
	for _, v := range FallbackChain(policy.VariantFor(submit)) {
		g := s.find(KindComap, p, v, submit)
		if g != nil {
			return g.(*ComapGrid), nil
		}
	}
	return nil, fmt.Errorf("%w: comap/%s on %s", ErrMissingGrid, p, shared.FormatDate(submit))
}

// Headers returns every loaded version ordered by slot then effective date
func (s *Set) Headers() []Header {
	slots := make([]string, 0, len(s.slots))
	for slot := range s.slots {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	var out []Header
	for _, slot := range slots {
		for _, g := range s.slots[slot] {
			out = append(out, g.Meta())
		}
	}
	return out
}

func (s *Set) pick(k Kind, p loan.Program, v Variant, submit time.Time) (Grid, error) {
	g := s.find(k, p, v, submit)
	if g == nil {
		return nil, fmt.Errorf("%w: %s/%s/%s on %s", ErrMissingGrid, k, p, v, shared.FormatDate(submit))
	}
	return g, nil
}

// find returns the single version covering the date; overlap was rejected
// at construction so at most one can match.
func (s *Set) find(k Kind, p loan.Program, v Variant, submit time.Time) Grid {
	d := shared.DateOf(submit)
	for _, g := range s.slots[Header{Kind: k, Program: p, Variant: v}.Slot()] {
		if g.Meta().Covers(d) {
			return g
		}
	}
	return nil
}

func sortVersions(versions []Grid) {
	sort.SliceStable(versions, func(i, j int) bool {
		a, b := versions[i].Meta().EffectiveFrom, versions[j].Meta().EffectiveFrom
		if a.IsZero() != b.IsZero() {
			return a.IsZero()
		}
		return a.Before(b)
	})
}

// checkCoverage requires sorted, non-overlapping versions to tile the whole
// timeline with no gap.
func checkCoverage(slot string, versions []Grid) error {
	first := versions[0].Meta()
	if !first.EffectiveFrom.IsZero() {
		return fmt.Errorf("%w: %s: no version covers dates before %s", ErrGridCoverage, slot, shared.FormatDate(first.EffectiveFrom))
	}
	for i := 1; i < len(versions); i++ {
		prev, cur := versions[i-1].Meta(), versions[i].Meta()
		if !prev.EffectiveTo.Equal(cur.EffectiveFrom) {
			return fmt.Errorf("%w: %s: gap between versions %s and %s", ErrGridCoverage, slot, prev.Version, cur.Version)
		}
	}
	last := versions[len(versions)-1].Meta()
	if !last.EffectiveTo.IsZero() {
		return fmt.Errorf("%w: %s: no version covers dates from %s", ErrGridCoverage, slot, shared.FormatDate(last.EffectiveTo))
	}
	return nil
}
