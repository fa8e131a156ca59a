package reference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(kind Kind, program loan.Program, variant Variant, version string, from, to time.Time) Header {
	return Header{Kind: kind, Program: program, Variant: variant, Version: version, EffectiveFrom: from, EffectiveTo: to}
}

func comapGrid(program loan.Program, variant Variant, version string, ceiling int64) *ComapGrid {
	return &ComapGrid{
		Header:    header(KindComap, program, variant, version, time.Time{}, time.Time{}),
		TermBands: []int{120, 180},
		Rows: []ComapRow{
			{MinScore: 300, MaxScore: 699, Cells: map[int]decimal.Decimal{120: decimal.NewFromInt(ceiling / 2)}},
			{MinScore: 700, MaxScore: 850, Cells: map[int]decimal.Decimal{120: decimal.NewFromInt(ceiling), 180: decimal.NewFromInt(ceiling)}},
		},
	}
}

func minimalGrids() []Grid {
	uwRows := []UnderwritingRow{{LoanType: AnyLoanType, MinCreditScore: 600, MaxApproval: decimal.NewFromInt(50000), MaxDTI: decimal.RequireFromString("0.45")}}
	priceRows := []PricingRow{{MinTerm: 1, MaxTerm: 480, BasePrice: decimal.NewFromInt(1)}}
	grids := []Grid{
		&TypeMapping{
			Header:  header(KindTypeMapping, "", VariantBase, "1", time.Time{}, time.Time{}),
			Entries: []MappingEntry{{ProductCode: "PRI", SourceType: "standard", Program: loan.ProgramPrimary, LoanType: loan.LoanTypeStandard}},
		},
		comapGrid(loan.ProgramPrimary, VariantBase, "1", 50000),
		comapGrid(loan.ProgramSecondary, VariantBase, "1", 40000),
		&NotesComapGrid{
			Header: header(KindComapNotes, loan.ProgramNotes, VariantBase, "1", time.Time{}, time.Time{}),
			Bands:  []NotesBand{{MinScore: 300, MaxScore: 850, Eligible: true}},
		},
	}
	for _, p := range []loan.Program{loan.ProgramPrimary, loan.ProgramSecondary, loan.ProgramNotes} {
		grids = append(grids,
			&UnderwritingGrid{Header: header(KindUnderwriting, p, VariantBase, "1", time.Time{}, time.Time{}), Rows: uwRows},
			&PricingGrid{Header: header(KindPricing, p, VariantBase, "1", time.Time{}, time.Time{}), Rows: priceRows},
		)
	}
	return grids
}

type stubSource struct {
	grids []Grid
	err   error
}

func (s *stubSource) Fetch(_ context.Context, kind Kind, program loan.Program) ([]Grid, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []Grid
	for _, g := range s.grids {
		if g.Meta().Kind == kind && g.Meta().Program == program {
			out = append(out, g)
		}
	}
	return out, nil
}

func TestNewSet_Minimal(t *testing.T) {
	set, err := NewSet(minimalGrids())
	require.NoError(t, err)

	entry, ok := set.Mapping().Lookup("pri", "STANDARD")
	require.True(t, ok)
	assert.Equal(t, loan.ProgramPrimary, entry.Program)

	g, err := set.Underwriting(loan.ProgramNotes, shared.Date(2020, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, loan.ProgramNotes, g.Program)
	assert.NotEmpty(t, set.Headers())
}

func TestNewSet_MissingRequiredGrid(t *testing.T) {
	var grids []Grid
	for _, g := range minimalGrids() {
		if g.Meta().Kind == KindComapNotes {
			continue
		}
		grids = append(grids, g)
	}
	_, err := NewSet(grids)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingGrid))
	assert.Contains(t, err.Error(), "comap_notes/notes/base")
}

func TestNewSet_OverlappingVersions(t *testing.T) {
	grids := minimalGrids()
	split := shared.Date(2025, 1, 1)
	extra := comapGrid(loan.ProgramPrimary, VariantLateA, "a1", 1)
	extra.EffectiveTo = split.AddDate(0, 1, 0)
	extra2 := comapGrid(loan.ProgramPrimary, VariantLateA, "a2", 1)
	extra2.EffectiveFrom = split
	grids = append(grids, extra, extra2)

	_, err := NewSet(grids)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAmbiguousGrid))
}

func TestNewSet_CoverageGap(t *testing.T) {
	grids := minimalGrids()
	for i, g := range grids {
		if pg, ok := g.(*PricingGrid); ok && pg.Program == loan.ProgramSecondary {
			early := *pg
			early.Version = "old"
			early.EffectiveTo = shared.Date(2025, 1, 1)
			late := *pg
			late.Version = "new"
			late.EffectiveFrom = shared.Date(2025, 2, 1)
			grids[i] = &early
			grids = append(grids, &late)
			break
		}
	}
	_, err := NewSet(grids)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGridCoverage))
}

func TestNewSet_ContiguousVersionsSelectByDate(t *testing.T) {
	grids := minimalGrids()
	boundary := shared.Date(2025, 1, 1)
	for i, g := range grids {
		if pg, ok := g.(*PricingGrid); ok && pg.Program == loan.ProgramSecondary {
			early := *pg
			early.Version = "old"
			early.EffectiveTo = boundary
			late := *pg
			late.Version = "new"
			late.EffectiveFrom = boundary
			grids[i] = &early
			grids = append(grids, &late)
			break
		}
	}
	set, err := NewSet(grids)
	require.NoError(t, err)

	g, err := set.Pricing(loan.ProgramSecondary, boundary.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, "old", g.Version)

	g, err = set.Pricing(loan.ProgramSecondary, boundary)
	require.NoError(t, err)
	assert.Equal(t, "new", g.Version)
}

func TestNewSet_DuplicateMappingKey(t *testing.T) {
	grids := minimalGrids()
	m := grids[0].(*TypeMapping)
	m.Entries = append(m.Entries, MappingEntry{ProductCode: "PRI ", SourceType: "Standard", Program: loan.ProgramSecondary, LoanType: loan.LoanTypeStandard})

	_, err := NewSet(grids)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGrid))
	assert.Contains(t, err.Error(), "duplicate key PRI|standard")
}

func TestComapGrid_Validate(t *testing.T) {
	t.Run("overlapping score bands", func(t *testing.T) {
		g := comapGrid(loan.ProgramPrimary, VariantBase, "1", 100)
		g.Rows[1].MinScore = 690
		err := g.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "overlap")
	})

	t.Run("missing required column", func(t *testing.T) {
		g := comapGrid(loan.ProgramPrimary, VariantBase, "1", 100)
		g.TermBands = []int{120}
		g.Rows[1].Cells = map[int]decimal.Decimal{120: decimal.NewFromInt(1)}
		err := g.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing column term_180")
	})

	t.Run("optional columns may be absent", func(t *testing.T) {
		g := comapGrid(loan.ProgramPrimary, VariantBase, "1", 100)
		require.NoError(t, g.Validate())
		band, ok := g.BandFor(150)
		assert.True(t, ok)
		assert.Equal(t, 180, band)
		_, ok = g.BandFor(200)
		assert.False(t, ok)
	})

	t.Run("variants only on comap", func(t *testing.T) {
		g := &PricingGrid{
			Header: header(KindPricing, loan.ProgramPrimary, VariantLateA, "1", time.Time{}, time.Time{}),
			Rows:   []PricingRow{{MinTerm: 1, MaxTerm: 10, BasePrice: decimal.NewFromInt(1)}},
		}
		require.ErrorIs(t, g.Validate(), ErrInvalidGrid)
	})
}

func TestHeader_CoversAndOverlaps(t *testing.T) {
	from := shared.Date(2025, 1, 1)
	to := shared.Date(2025, 6, 1)
	h := header(KindPricing, loan.ProgramPrimary, VariantBase, "1", from, to)

	assert.False(t, h.Covers(from.AddDate(0, 0, -1)))
	assert.True(t, h.Covers(from))
	assert.True(t, h.Covers(to.AddDate(0, 0, -1)))
	assert.False(t, h.Covers(to))

	open := header(KindPricing, loan.ProgramPrimary, VariantBase, "2", to, time.Time{})
	assert.False(t, h.Overlaps(open))
	assert.True(t, h.Overlaps(header(KindPricing, loan.ProgramPrimary, VariantBase, "3", time.Time{}, from.AddDate(0, 0, 1))))
}

func TestLoad(t *testing.T) {
	t.Run("builds set", func(t *testing.T) {
		set, err := Load(context.Background(), &stubSource{grids: minimalGrids()})
		require.NoError(t, err)
		assert.NotNil(t, set.Mapping())
	})

	t.Run("source error is wrapped", func(t *testing.T) {
		boom := errors.New("bucket unreachable")
		_, err := Load(context.Background(), &stubSource{err: boom})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "fetch type_mapping/")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Load(ctx, &stubSource{grids: minimalGrids()})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
