package reference

import (
	"testing"
	"time"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCutoffPolicy_VariantFor(t *testing.T) {
	p := DefaultCutoffPolicy()
	early := p.EarlyCutoff
	late := p.LateCutoff
	split := p.VariantSplit

	tests := []struct {
		name   string
		submit time.Time
		want   Variant
	}{
		{"day before early cutoff", early.AddDate(0, 0, -1), VariantBase},
		{"on early cutoff is inclusive", early, VariantIntermediate},
		{"day after early cutoff", early.AddDate(0, 0, 1), VariantIntermediate},
		{"on late cutoff stays intermediate", late, VariantIntermediate},
		{"day after late cutoff", late.AddDate(0, 0, 1), VariantLateA},
		{"day before split", split.AddDate(0, 0, -1), VariantLateA},
		{"on split", split, VariantLateB},
		{"long after split", split.AddDate(2, 0, 0), VariantLateB},
		{"time of day ignored", late.Add(23 * time.Hour), VariantIntermediate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.VariantFor(tt.submit))
		})
	}
}

func TestCutoffPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultCutoffPolicy().Validate())

	p := DefaultCutoffPolicy()
	p.EarlyCutoff = p.LateCutoff
	assert.Error(t, p.Validate())

	p = DefaultCutoffPolicy()
	p.VariantSplit = p.LateCutoff.AddDate(0, 0, -1)
	assert.Error(t, p.Validate())

	assert.Error(t, CutoffPolicy{}.Validate())
}

func TestSet_ComapFallback(t *testing.T) {
	grids := minimalGrids()
	grids = append(grids, comapGrid(loan.ProgramPrimary, VariantLateA, "late-a", 90000))
	set, err := NewSet(grids)
	require.NoError(t, err)
	p := DefaultCutoffPolicy()

	tests := []struct {
		name    string
		program loan.Program
		submit  time.Time
		want    Variant
	}{
		{"late_b absent falls back to late_a", loan.ProgramPrimary, p.VariantSplit.AddDate(0, 1, 0), VariantLateA},
		{"late_a present", loan.ProgramPrimary, p.LateCutoff.AddDate(0, 0, 1), VariantLateA},
		{"intermediate absent falls back to base", loan.ProgramPrimary, p.EarlyCutoff, VariantBase},
		{"secondary has only base", loan.ProgramSecondary, p.LateCutoff.AddDate(0, 0, 1), VariantBase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := set.Comap(tt.program, tt.submit, p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Variant)
		})
	}
}

func TestSet_ComapSelectionIsDeterministic(t *testing.T) {
	grids := minimalGrids()
	grids = append(grids,
		comapGrid(loan.ProgramPrimary, VariantLateA, "late-a", 90000),
		comapGrid(loan.ProgramPrimary, VariantLateB, "late-b", 95000),
		comapGrid(loan.ProgramPrimary, VariantIntermediate, "mid", 70000),
	)
	set, err := NewSet(grids)
	require.NoError(t, err)
	p := DefaultCutoffPolicy()

	for d := shared.Date(2025, 5, 1); d.Before(shared.Date(2026, 2, 1)); d = d.AddDate(0, 0, 1) {
		first, err := set.Comap(loan.ProgramPrimary, d, p)
		require.NoError(t, err)
		second, err := set.Comap(loan.ProgramPrimary, d, p)
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.Equal(t, p.VariantFor(d), first.Variant)
	}
}
