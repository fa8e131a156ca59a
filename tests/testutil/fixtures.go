package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/reference"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/loanpurchase/backend/internal/infrastructure/refdata"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Today is the injected business date used across pipeline tests
// (a Thursday with no holiday nearby).
var Today = shared.Date(2026, time.January, 15)

// ReferenceYAML is the canonical reference fixture.
//
// Pricing: modeled price = 1.0 + (apr - 0.05) * 0.5 - promo * 0.001 - fee * 0.1,
// so APR 0.09 prices at 102.00 and APR 0.0898 at 101.99.
// CoMAP primary has base, late_a and late_b variants but no intermediate one;
// secondary has base only.
const ReferenceYAML = `
kind: type_mapping
version: "2025.1"
rows:
  - {product_code: PRI, loan_type: standard, program: primary, mapped_type: standard}
  - {product_code: PRI, loan_type: hybrid, program: primary, mapped_type: hybrid}
  - {product_code: PRI, loan_type: special_asset, program: primary, mapped_type: special_asset}
  - {product_code: PRI, loan_type: no_income_proof, program: primary, mapped_type: no_income_proof}
  - {product_code: SEC, loan_type: standard, program: secondary, mapped_type: standard}
  - {product_code: SEC, loan_type: hybrid, program: secondary, mapped_type: hybrid}
  - {product_code: SEC, loan_type: no_income_proof, program: secondary, mapped_type: no_income_proof}
  - {product_code: SEC, loan_type: special_asset, program: secondary, mapped_type: special_asset}
---
kind: pricing
program: primary
version: "2025.1"
rows:
  - {min_term: "1", max_term: "480", base_price: "1.0", base_rate: "0.05", rate_multiplier: "0.5", promo_cost_per_month: "0.001", fee_passthrough: "0.1"}
---
kind: pricing
program: secondary
version: "2025.1"
rows:
  - {min_term: "1", max_term: "480", base_price: "1.0", base_rate: "0.05", rate_multiplier: "0.5", promo_cost_per_month: "0.001", fee_passthrough: "0.1"}
---
kind: pricing
program: notes
version: "2025.1"
rows:
  - {min_term: "1", max_term: "480", base_price: "1.0", base_rate: "0.05", rate_multiplier: "0.5", promo_cost_per_month: "0.001", fee_passthrough: "0.1"}
---
kind: underwriting
program: primary
version: "2025.1"
rows:
  - {loan_type: "*", min_income: "50000", min_credit_score: "650", max_approval: "75000", max_dti: "0.45"}
  - {loan_type: "*", min_income: "100000", min_credit_score: "700", max_approval: "150000", max_dti: "0.50"}
  - {loan_type: "*", min_income: "0", min_credit_score: "600", max_approval: "25000", max_dti: "0.40"}
---
kind: underwriting
program: secondary
version: "2025.1"
rows:
  - {loan_type: "*", min_income: "50000", min_credit_score: "650", max_approval: "75000", max_dti: "0.45"}
  - {loan_type: "*", min_income: "100000", min_credit_score: "700", max_approval: "150000", max_dti: "0.50"}
  - {loan_type: "*", min_income: "0", min_credit_score: "600", max_approval: "25000", max_dti: "0.40"}
---
kind: underwriting
program: notes
version: "2025.1"
rows:
  - {loan_type: "*", min_income: "50000", min_credit_score: "650", max_approval: "75000", max_dti: "0.45"}
  - {loan_type: "*", min_income: "100000", min_credit_score: "700", max_approval: "150000", max_dti: "0.50"}
  - {loan_type: "*", min_income: "0", min_credit_score: "600", max_approval: "25000", max_dti: "0.40"}
---
kind: comap
program: primary
variant: base
version: "2025.1"
rows:
  - {min_score: "300", max_score: "639", term_120: "0", term_180: "0", term_240: "0", term_300: "0"}
  - {min_score: "640", max_score: "699", term_120: "40000", term_180: "30000", term_240: "", term_300: ""}
  - {min_score: "700", max_score: "749", term_120: "80000", term_180: "70000", term_240: "60000", term_300: ""}
  - {min_score: "750", max_score: "850", term_120: "100000", term_180: "90000", term_240: "80000", term_300: "70000"}
---
kind: comap
program: primary
variant: late_a
version: "2025.4"
rows:
  - {min_score: "300", max_score: "699", term_120: "0", term_180: "0"}
  - {min_score: "700", max_score: "749", term_120: "90000", term_180: "75000"}
  - {min_score: "750", max_score: "850", term_120: "110000", term_180: "95000"}
---
kind: comap
program: primary
variant: late_b
version: "2026.1"
rows:
  - {min_score: "300", max_score: "699", term_120: "0", term_180: "0"}
  - {min_score: "700", max_score: "749", term_120: "95000", term_180: "80000"}
  - {min_score: "750", max_score: "850", term_120: "120000", term_180: "100000"}
---
kind: comap
program: secondary
variant: base
version: "2025.1"
rows:
  - {min_score: "300", max_score: "639", term_120: "0", term_180: "0", term_240: "0", term_300: "0"}
  - {min_score: "640", max_score: "699", term_120: "40000", term_180: "30000", term_240: "", term_300: ""}
  - {min_score: "700", max_score: "749", term_120: "80000", term_180: "70000", term_240: "60000", term_300: ""}
  - {min_score: "750", max_score: "850", term_120: "100000", term_180: "90000", term_240: "80000", term_300: "70000"}
---
kind: comap_notes
program: notes
version: "2025.1"
rows:
  - {min_score: "300", max_score: "599", eligible: "false"}
  - {min_score: "600", max_score: "699", eligible: "true", max_balance: "30000"}
  - {min_score: "700", max_score: "850", eligible: "true", max_balance: ""}
`

// ReferenceGrids parses the canonical fixture into typed grids.
func ReferenceGrids(t testing.TB) []reference.Grid {
	t.Helper()
	docs, err := refdata.ParseDocuments([]byte(ReferenceYAML))
	require.NoError(t, err)
	grids := make([]reference.Grid, 0, len(docs))
	for _, d := range docs {
		g, err := d.Grid()
		require.NoError(t, err)
		grids = append(grids, g)
	}
	return grids
}

// ReferenceSource returns an in-memory source over the canonical fixture.
func ReferenceSource(t testing.TB) *refdata.MemorySource {
	t.Helper()
	return refdata.NewMemorySource(ReferenceGrids(t)...)
}

// ReferenceSet loads the canonical fixture into a validated set.
func ReferenceSet(t testing.TB) *reference.Set {
	t.Helper()
	set, err := reference.Load(context.Background(), ReferenceSource(t))
	require.NoError(t, err)
	return set
}

// RecordOption customizes a record built by NewRecord.
type RecordOption func(*loan.Record)

// NewRecord builds a primary standard loan that passes every per-loan check
// against the canonical fixture: score 710, balance 60,000, term 150,
// submitted 2025-10-02, priced at 102.00 with APR 0.09.
func NewRecord(seller string, opts ...RecordOption) *loan.Record {
	r := &loan.Record{
		SellerLoanNumber: seller,
		Program:          loan.ProgramPrimary,
		OriginProgram:    loan.ProgramPrimary,
		LoanType:         loan.LoanTypeStandard,
		OriginalBalance:  decimal.NewFromInt(60000),
		ItemizedFees:     decimal.Zero,
		CreditScore:      710,
		TermMonths:       150,
		SubmitDate:       shared.Date(2025, time.October, 2),
		PurchaseDate:     Today,
		LenderPrice:      decimal.RequireFromString("102.00"),
		DealerFee:        decimal.Zero,
		APR:              decimal.RequireFromString("0.09"),
		PromoTermMonths:  0,
		Jurisdiction:     "TX",
		AnnualIncome:     decimal.NewFromInt(120000),
		DebtToIncome:     decimal.RequireFromString("0.30"),
		MonthlyPayment:   decimal.NewFromInt(1200),
		SourceFormat:     loan.SourceOriginationV2,
		SourceLine:       2,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Secondary moves the record to the secondary program.
func Secondary() RecordOption {
	return func(r *loan.Record) {
		r.Program = loan.ProgramSecondary
		r.OriginProgram = loan.ProgramSecondary
	}
}

// Notes marks the record as a note conversion of its origin program.
func Notes() RecordOption {
	return func(r *loan.Record) {
		r.Program = loan.ProgramNotes
		r.Restructured = true
		r.SourceFormat = loan.SourceNotesConversion
	}
}

// WithType sets the loan type.
func WithType(t loan.LoanType) RecordOption {
	return func(r *loan.Record) { r.LoanType = t }
}

// WithBalance sets the original balance.
func WithBalance(v int64) RecordOption {
	return func(r *loan.Record) { r.OriginalBalance = decimal.NewFromInt(v) }
}

// WithScore sets the credit score.
func WithScore(score int) RecordOption {
	return func(r *loan.Record) { r.CreditScore = score }
}

// WithTerm sets the term in months.
func WithTerm(months int) RecordOption {
	return func(r *loan.Record) { r.TermMonths = months }
}

// WithSubmitDate sets the submit date.
func WithSubmitDate(d time.Time) RecordOption {
	return func(r *loan.Record) { r.SubmitDate = d }
}

// WithPurchaseDate sets the purchase date.
func WithPurchaseDate(d time.Time) RecordOption {
	return func(r *loan.Record) { r.PurchaseDate = d }
}

// WithLenderPrice sets the lender-quoted price in percent.
func WithLenderPrice(p string) RecordOption {
	return func(r *loan.Record) { r.LenderPrice = decimal.RequireFromString(p) }
}

// WithAPR sets the APR as a fraction.
func WithAPR(apr string) RecordOption {
	return func(r *loan.Record) { r.APR = decimal.RequireFromString(apr) }
}

// WithIncome sets annual income and monthly payment.
func WithIncome(annual, monthlyPayment int64) RecordOption {
	return func(r *loan.Record) {
		r.AnnualIncome = decimal.NewFromInt(annual)
		r.MonthlyPayment = decimal.NewFromInt(monthlyPayment)
	}
}

// WithPromo sets the promotional term.
func WithPromo(months int) RecordOption {
	return func(r *loan.Record) { r.PromoTermMonths = months }
}

// WithJurisdiction sets the property state.
func WithJurisdiction(state string) RecordOption {
	return func(r *loan.Record) { r.Jurisdiction = state }
}

// CarriedOver marks the record as previously originated.
func CarriedOver() RecordOption {
	return func(r *loan.Record) { r.CarriedOver = true }
}

// Batch wraps records in a batch without reordering them.
func Batch(records ...*loan.Record) *loan.Batch {
	return &loan.Batch{Records: records}
}

// V2TapeHeader is the header row of an origination_v2 tape.
const V2TapeHeader = "seller_loan_number,product_code,loan_type,original_balance,itemized_fees,credit_score,term_months,submit_date,purchase_date,lender_price,dealer_fee,apr,promo_term_months,jurisdiction,repurchase,new_program,annual_income,debt_to_income,monthly_payment"

// V2Row renders an origination_v2 row for a primary standard loan shaped
// like NewRecord, with the given lender price fraction and purchase date.
func V2Row(seller, price, purchaseDate string) string {
	return seller + ",PRI,standard,60000,0,710,150,2025-10-02," + purchaseDate + "," + price + ",0,0.09,0,TX,false,false,120000,0.30,1200"
}

// V2Tape joins rows under the origination_v2 header.
func V2Tape(rows ...string) []byte {
	out := V2TapeHeader + "\n"
	for _, r := range rows {
		out += r + "\n"
	}
	return []byte(out)
}

// MixedTape is a three-loan tape resolving to one purchase (P-1), one
// price rejection (P-2) and one projected loan (P-3) against Today.
func MixedTape() []byte {
	return V2Tape(
		V2Row("P-1", "1.02", "2026-01-15"),
		V2Row("P-2", "0.99", "2026-01-15"),
		V2Row("P-3", "1.02", "2026-02-02"),
	)
}
