package disposition

import (
	"testing"
	"time"

	"github.com/loanpurchase/backend/internal/application/evaluation"
	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/reference"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/loanpurchase/backend/internal/infrastructure/calendar"
	"github.com/loanpurchase/backend/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolve(t *testing.T, exceptions []loan.Exception, records ...*loan.Record) *Resolution {
	t.Helper()
	set := testutil.ReferenceSet(t)
	batch := testutil.Batch(records...)
	suite := evaluation.NewSuite(evaluation.Config{Cutoffs: reference.DefaultCutoffPolicy()})

	results, err := suite.RunAll(testutil.ContextWithTimeout(t, 5*time.Second), batch, set)
	require.NoError(t, err)
	return NewResolver(calendar.Fixed(testutil.Today), 2).Resolve(batch, results, exceptions)
}

func decisionOf(t *testing.T, res *Resolution, seller string) Decision {
	t.Helper()
	for _, d := range res.Decisions {
		if d.Record.SellerLoanNumber == seller {
			return d
		}
	}
	t.Fatalf("no decision for %s", seller)
	return Decision{}
}

func TestResolver_Scenarios(t *testing.T) {
	res := resolve(t, nil,
		// one day after the late cutoff, 710, 60k, 150 months, matching price
		testutil.NewRecord("A-1", testutil.WithSubmitDate(shared.Date(2025, time.October, 2))),
		// 101.99 quoted against a modeled 102.00
		testutil.NewRecord("A-2", testutil.WithLenderPrice("101.99")),
		// score 705 passing underwriting through the pti fallback
		testutil.NewRecord("A-3", testutil.WithScore(705), testutil.WithIncome(40000, 400)),
	)

	assert.Equal(t, loan.DispositionToPurchase, decisionOf(t, res, "A-1").Disposition)
	assert.Empty(t, decisionOf(t, res, "A-1").Reason)

	a2 := decisionOf(t, res, "A-2")
	assert.Equal(t, loan.DispositionRejected, a2.Disposition)
	assert.Equal(t, loan.ReasonPurchasePriceMismatch, a2.Reason)

	assert.Equal(t, loan.DispositionToPurchase, decisionOf(t, res, "A-3").Disposition)
	for _, f := range res.Findings {
		if f.SellerLoanNumber == "A-3" && f.Family == loan.FamilyUnderwriting {
			assert.Equal(t, evaluation.PathPTIFallback, f.Detail)
		}
	}
}

func TestResolver_Precedence(t *testing.T) {
	res := resolve(t, nil,
		// fails price, underwriting and (ungated, secondary) comap
		testutil.NewRecord("P-1", testutil.Secondary(), testutil.WithLenderPrice("99.00"), testutil.WithScore(610)),
		// fails underwriting and comap
		testutil.NewRecord("P-2", testutil.Secondary(), testutil.WithScore(610)),
		// fails comap only
		testutil.NewRecord("P-3", testutil.Secondary(), testutil.WithBalance(72000)),
	)

	assert.Equal(t, loan.ReasonPurchasePriceMismatch, decisionOf(t, res, "P-1").Reason)
	assert.Equal(t, loan.ReasonUnderwritingSecondary, decisionOf(t, res, "P-2").Reason)
	assert.Equal(t, loan.ReasonComapSecondary, decisionOf(t, res, "P-3").Reason)

	var p1 []loan.Family
	for _, f := range res.Failures() {
		if f.SellerLoanNumber == "P-1" {
			p1 = append(p1, f.Family)
		}
	}
	assert.Equal(t, []loan.Family{loan.FamilyPurchasePrice, loan.FamilyUnderwriting, loan.FamilyComap}, p1)
}

func TestResolver_PrimaryComapGatedByPrice(t *testing.T) {
	res := resolve(t, nil,
		testutil.NewRecord("G-1", testutil.WithLenderPrice("99.00"), testutil.WithBalance(76000)),
		testutil.NewRecord("G-2", testutil.WithBalance(76000)),
	)

	for _, f := range res.Findings {
		if f.Family != loan.FamilyComap {
			continue
		}
		switch f.SellerLoanNumber {
		case "G-1":
			assert.Equal(t, loan.OutcomeNotEvaluated, f.Outcome)
		case "G-2":
			assert.Equal(t, loan.OutcomeFail, f.Outcome)
		}
	}
	assert.Equal(t, loan.ReasonPurchasePriceMismatch, decisionOf(t, res, "G-1").Reason)
	assert.Equal(t, loan.ReasonComapPrimary, decisionOf(t, res, "G-2").Reason)
}

func TestResolver_EligibilityExclusion(t *testing.T) {
	var records []*loan.Record
	for _, id := range []string{"E-01", "E-02", "E-03", "E-04", "E-05", "E-06", "E-07", "E-08", "E-09"} {
		records = append(records, testutil.NewRecord(id))
	}
	records = append(records, testutil.NewRecord("E-10", testutil.WithType(loan.LoanTypeSpecialAsset)))

	res := resolve(t, nil, records...)
	e10 := decisionOf(t, res, "E-10")
	assert.Equal(t, loan.DispositionRejected, e10.Disposition)
	assert.Equal(t, loan.ReasonEligibilityPrimary, e10.Reason)
	assert.Equal(t, evaluation.CheckSpecialAssetLimit, e10.Check)
}

func TestResolver_ProjectedWindow(t *testing.T) {
	// Today is Thursday 2026-01-15; two business days ends Monday the 19th.
	res := resolve(t, nil,
		testutil.NewRecord("W-1", testutil.WithPurchaseDate(shared.Date(2026, time.January, 19))),
		testutil.NewRecord("W-2", testutil.WithPurchaseDate(shared.Date(2026, time.January, 20))),
		testutil.NewRecord("W-3", testutil.WithPurchaseDate(shared.Date(2026, time.January, 20)), testutil.WithLenderPrice("99.00")),
	)

	assert.Equal(t, shared.Date(2026, time.January, 19), res.WindowEnd)
	assert.Equal(t, loan.DispositionToPurchase, decisionOf(t, res, "W-1").Disposition)
	assert.Equal(t, loan.DispositionProjected, decisionOf(t, res, "W-2").Disposition)
	assert.Equal(t, loan.DispositionRejected, decisionOf(t, res, "W-3").Disposition)
	assert.Len(t, res.ByDisposition(loan.DispositionProjected), 1)
}

func TestResolver_ExemptIsNotRejected(t *testing.T) {
	set := testutil.ReferenceSet(t)
	batch := testutil.Batch(testutil.NewRecord("X-1", testutil.WithScore(720), testutil.WithIncome(40000, 1000)))
	suite := evaluation.NewSuite(evaluation.Config{Cutoffs: reference.DefaultCutoffPolicy(), UnderwritingExempt: []string{"X-1"}})

	results, err := suite.RunAll(testutil.ContextWithTimeout(t, 5*time.Second), batch, set)
	require.NoError(t, err)
	res := NewResolver(calendar.Fixed(testutil.Today), 0).Resolve(batch, results, nil)

	assert.Equal(t, loan.DispositionToPurchase, res.Decisions[0].Disposition)
}

func TestResolver_ZeroWindowAdmitsOnlyToday(t *testing.T) {
	set := testutil.ReferenceSet(t)
	batch := testutil.Batch(
		testutil.NewRecord("W-1"),
		testutil.NewRecord("W-2", testutil.WithPurchaseDate(shared.Date(2026, time.January, 16))),
	)
	suite := evaluation.NewSuite(evaluation.Config{Cutoffs: reference.DefaultCutoffPolicy()})
	results, err := suite.RunAll(testutil.ContextWithTimeout(t, 5*time.Second), batch, set)
	require.NoError(t, err)

	sameDay := NewResolver(calendar.Fixed(testutil.Today), 0).Resolve(batch, results, nil)
	assert.Equal(t, testutil.Today, sameDay.WindowEnd)
	assert.Equal(t, loan.DispositionToPurchase, sameDay.Decisions[0].Disposition)
	assert.Equal(t, loan.DispositionProjected, sameDay.Decisions[1].Disposition)

	defaulted := NewResolver(calendar.Fixed(testutil.Today), -1).Resolve(batch, results, nil)
	assert.Equal(t, loan.DispositionToPurchase, defaulted.Decisions[1].Disposition)
}

func TestResolver_InvariantsAndCounts(t *testing.T) {
	exceptions := []loan.Exception{{SellerLoanNumber: "BAD", Code: "ERR_TAPE_INVALID_TYPE", Line: 3}}
	res := resolve(t, exceptions,
		testutil.NewRecord("C-1"),
		testutil.NewRecord("C-2", testutil.WithLenderPrice("99.00")),
		testutil.NewRecord("C-3", testutil.WithPurchaseDate(shared.Date(2026, time.February, 2))),
		testutil.NewRecord("C-4", testutil.WithTerm(600)),
	)

	for _, d := range res.Decisions {
		assert.True(t, d.Disposition.IsValid())
		if d.Disposition == loan.DispositionRejected {
			assert.True(t, d.Reason.IsValid(), d.Record.SellerLoanNumber)
		} else {
			assert.Empty(t, d.Reason, d.Record.SellerLoanNumber)
		}
	}

	assert.Equal(t, 4, res.Counts.Processed)
	assert.Equal(t, 2, res.Counts.Rejected)
	assert.Equal(t, 1, res.Counts.Projected)
	assert.Equal(t, 1, res.Counts.Purchased)
	assert.Equal(t, "60000", res.Counts.TotalBalance.String())
	// one normalization exception plus C-4's unpriceable term
	assert.Equal(t, 2, res.Counts.DataQualityExceptions)
	assert.Equal(t, exceptions, res.Exceptions)
}

func TestResolver_Deterministic(t *testing.T) {
	build := func() []*loan.Record {
		return []*loan.Record{
			testutil.NewRecord("D-1"),
			testutil.NewRecord("D-2", testutil.WithLenderPrice("101.99")),
			testutil.NewRecord("D-3", testutil.Secondary(), testutil.WithScore(610)),
			testutil.NewRecord("D-4", testutil.WithType(loan.LoanTypeSpecialAsset), testutil.WithBalance(90000)),
		}
	}
	first := resolve(t, nil, build()...)
	second := resolve(t, nil, build()...)

	assert.Equal(t, first.Findings, second.Findings)
	require.Len(t, second.Decisions, len(first.Decisions))
	for i := range first.Decisions {
		assert.Equal(t, first.Decisions[i].Disposition, second.Decisions[i].Disposition)
		assert.Equal(t, first.Decisions[i].Reason, second.Decisions[i].Reason)
	}
}
