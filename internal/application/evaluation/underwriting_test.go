package evaluation

import (
	"testing"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/tests/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnderwritingEvaluator(t *testing.T) {
	set := testutil.ReferenceSet(t)

	tests := []struct {
		name    string
		opts    []testutil.RecordOption
		outcome loan.Outcome
		detail  string
		reason  loan.RejectionReason
	}{
		{
			name:    "income band approves",
			outcome: loan.OutcomePass,
			detail:  PathIncomeBand,
		},
		{
			name:    "low income high score approved by pti fallback",
			opts:    []testutil.RecordOption{testutil.WithScore(720), testutil.WithIncome(40000, 400)},
			outcome: loan.OutcomePass,
			detail:  PathPTIFallback,
		},
		{
			name:    "score at tier boundary gets no fallback",
			opts:    []testutil.RecordOption{testutil.WithScore(700), testutil.WithIncome(40000, 400)},
			outcome: loan.OutcomeFail,
			reason:  loan.ReasonUnderwritingPrimary,
		},
		{
			name:    "pti at ceiling approved",
			opts:    []testutil.RecordOption{testutil.WithScore(720), testutil.WithIncome(40000, 500)},
			outcome: loan.OutcomePass,
			detail:  PathPTIFallback,
		},
		{
			name:    "pti over ceiling rejected",
			opts:    []testutil.RecordOption{testutil.WithScore(720), testutil.WithIncome(40000, 501)},
			outcome: loan.OutcomeFail,
			reason:  loan.ReasonUnderwritingPrimary,
		},
		{
			name:    "dti above every row fails the band path",
			opts:    []testutil.RecordOption{testutil.WithScore(690), func(r *loan.Record) { r.DebtToIncome = r.DebtToIncome.Add(r.DebtToIncome) }},
			outcome: loan.OutcomeFail,
			reason:  loan.ReasonUnderwritingPrimary,
		},
		{
			name:    "fallback ignores dti",
			opts:    []testutil.RecordOption{testutil.WithScore(720), testutil.WithIncome(40000, 400), func(r *loan.Record) { r.DebtToIncome = r.DebtToIncome.Add(r.DebtToIncome) }},
			outcome: loan.OutcomePass,
			detail:  PathPTIFallback,
		},
		{
			name:    "balance above max approval",
			opts:    []testutil.RecordOption{testutil.WithBalance(150001)},
			outcome: loan.OutcomeFail,
			reason:  loan.ReasonUnderwritingPrimary,
		},
		{
			name:    "balance at max approval",
			opts:    []testutil.RecordOption{testutil.WithBalance(150000)},
			outcome: loan.OutcomePass,
			detail:  PathIncomeBand,
		},
		{
			name:    "secondary reason",
			opts:    []testutil.RecordOption{testutil.Secondary(), testutil.WithScore(610), testutil.WithIncome(40000, 400)},
			outcome: loan.OutcomeFail,
			reason:  loan.ReasonUnderwritingSecondary,
		},
		{
			name:    "notes reason",
			opts:    []testutil.RecordOption{testutil.Notes(), testutil.WithScore(610), testutil.WithIncome(40000, 400)},
			outcome: loan.OutcomeFail,
			reason:  loan.ReasonUnderwritingNotes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := testutil.Batch(testutil.NewRecord("L1", tt.opts...))
			findings, err := NewUnderwritingEvaluator(nil).Evaluate(batch, set)
			require.NoError(t, err)
			require.Len(t, findings, 1)

			f := findings[0]
			assert.Equal(t, loan.FamilyUnderwriting, f.Family)
			assert.Equal(t, tt.outcome, f.Outcome)
			assert.Equal(t, tt.reason, f.Reason)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, f.Detail)
			}
		})
	}
}

func TestUnderwritingEvaluator_CheckNames(t *testing.T) {
	set := testutil.ReferenceSet(t)
	batch := testutil.Batch(testutil.NewRecord("L1"), testutil.NewRecord("L2", testutil.Notes()))

	findings, err := NewUnderwritingEvaluator(nil).Evaluate(batch, set)
	require.NoError(t, err)
	assert.Equal(t, CheckUnderwritingStandard, findings[0].Check)
	assert.Equal(t, CheckUnderwritingNotes, findings[1].Check)
}

func TestUnderwritingEvaluator_Exempt(t *testing.T) {
	set := testutil.ReferenceSet(t)
	batch := testutil.Batch(
		testutil.NewRecord("L1", testutil.WithScore(500)),
		testutil.NewRecord("L2", testutil.WithScore(500)),
	)

	findings, err := NewUnderwritingEvaluator([]string{"L1"}).Evaluate(batch, set)
	require.NoError(t, err)
	assert.Equal(t, loan.OutcomeExempt, findings[0].Outcome)
	assert.Empty(t, findings[0].Reason)
	assert.Equal(t, loan.OutcomeFail, findings[1].Outcome)
}

func TestUnderwrite_NonPositiveBalance(t *testing.T) {
	set := testutil.ReferenceSet(t)
	r := testutil.NewRecord("L1", testutil.WithBalance(1000))
	r.ItemizedFees = r.OriginalBalance

	grid, err := set.Underwriting(r.Program, r.SubmitDate)
	require.NoError(t, err)

	f := Underwrite(grid, r, CheckUnderwritingStandard)
	assert.Equal(t, loan.OutcomeFail, f.Outcome)
	assert.True(t, f.DataQuality)
	assert.Contains(t, f.Detail, "not positive")
}

func TestUnderwrite_ItemizedFeesReduceBalance(t *testing.T) {
	set := testutil.ReferenceSet(t)
	r := testutil.NewRecord("L1", testutil.WithBalance(151000))
	grid, err := set.Underwriting(r.Program, r.SubmitDate)
	require.NoError(t, err)

	assert.Equal(t, loan.OutcomeFail, Underwrite(grid, r, CheckUnderwritingStandard).Outcome)

	r.ItemizedFees = decimal.NewFromInt(2000)
	assert.Equal(t, loan.OutcomePass, Underwrite(grid, r, CheckUnderwritingStandard).Outcome)
}
