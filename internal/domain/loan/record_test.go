package loan

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProgram(t *testing.T) {
	tests := []struct {
		program Program
		valid   bool
		origin  bool
	}{
		{ProgramPrimary, true, true},
		{ProgramSecondary, true, true},
		{ProgramNotes, true, false},
		{Program("tertiary"), false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.program), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.program.IsValid())
			assert.Equal(t, tt.origin, tt.program.IsOrigin())
		})
	}
}

func TestRecord_DerivedValues(t *testing.T) {
	r := &Record{
		OriginalBalance: decimal.NewFromInt(60000),
		ItemizedFees:    decimal.NewFromInt(1500),
		AnnualIncome:    decimal.NewFromInt(48000),
		MonthlyPayment:  decimal.NewFromInt(600),
		DealerFee:       decimal.RequireFromString("0.025"),
	}
	assert.True(t, decimal.NewFromInt(58500).Equal(r.FinancedBalance()))
	assert.True(t, decimal.RequireFromString("0.15").Equal(r.PaymentToIncome()))
	assert.True(t, decimal.NewFromInt(1500).Equal(r.DealerFeeAmount()))

	r.AnnualIncome = decimal.Zero
	assert.True(t, r.PaymentToIncome().IsZero())
}

func TestBatch_Partitions(t *testing.T) {
	b := &Batch{Records: []*Record{
		{SellerLoanNumber: "A", Program: ProgramPrimary, OriginProgram: ProgramPrimary},
		{SellerLoanNumber: "B", Program: ProgramNotes, OriginProgram: ProgramPrimary, Restructured: true, CarriedOver: true},
		{SellerLoanNumber: "C", Program: ProgramSecondary, OriginProgram: ProgramSecondary},
	}}

	assert.Len(t, b.ByProgram(ProgramPrimary), 1)
	assert.Len(t, b.ByOrigin(ProgramPrimary), 2)
	originated, carried := b.Partition()
	assert.Len(t, originated, 2)
	assert.Len(t, carried, 1)
	assert.Equal(t, 3, b.Len())
}

func TestRejectionReasons(t *testing.T) {
	assert.Len(t, AllRejectionReasons(), 9)
	for _, r := range AllRejectionReasons() {
		assert.True(t, r.IsValid(), r)
	}
	assert.False(t, RejectionReason("data_quality").IsValid())

	assert.Equal(t, ReasonUnderwritingNotes, UnderwritingReason(ProgramNotes))
	assert.Equal(t, ReasonComapSecondary, ComapReason(ProgramSecondary))
	assert.Equal(t, ReasonEligibilityPrimary, EligibilityReason(ProgramPrimary))
	assert.Panics(t, func() { EligibilityReason(ProgramNotes) })
}

func TestFamily_Precedence(t *testing.T) {
	ordered := []Family{FamilyPurchasePrice, FamilyUnderwriting, FamilyComap, FamilyEligibility, FamilyDataQuality}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1].Precedence(), ordered[i].Precedence())
	}
}
