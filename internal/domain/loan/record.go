// Package loan holds the canonical loan record produced by normalization and
// the closed vocabularies (programs, loan types, dispositions, rejection
// reasons) shared by every rule evaluator.
package loan

import (
	"time"

	"github.com/shopspring/decimal"
)

// Program is the loan category that selects which grids and thresholds apply
type Program string

const (
	ProgramPrimary   Program = "primary"
	ProgramSecondary Program = "secondary"
	ProgramNotes     Program = "notes"
)

// IsValid checks if the program is part of the closed set
func (p Program) IsValid() bool {
	switch p {
	case ProgramPrimary, ProgramSecondary, ProgramNotes:
		return true
	}
	return false
}

// IsOrigin reports whether the program is an origination channel (not notes)
func (p Program) IsOrigin() bool {
	return p == ProgramPrimary || p == ProgramSecondary
}

// OriginPrograms returns the origination programs in evaluation order
func OriginPrograms() []Program {
	return []Program{ProgramPrimary, ProgramSecondary}
}

// LoanType is the product subtype after the notes suffix has been stripped
type LoanType string

const (
	LoanTypeStandard      LoanType = "standard"
	LoanTypeHybrid        LoanType = "hybrid"
	LoanTypeNoIncomeProof LoanType = "no_income_proof"
	LoanTypeSpecialAsset  LoanType = "special_asset"
)

// IsValid checks if the loan type is known
func (t LoanType) IsValid() bool {
	switch t {
	case LoanTypeStandard, LoanTypeHybrid, LoanTypeNoIncomeProof, LoanTypeSpecialAsset:
		return true
	}
	return false
}

// SourceFormat identifies which tape layout a record arrived in
type SourceFormat string

const (
	SourceOriginationV1   SourceFormat = "origination_v1"
	SourceOriginationV2   SourceFormat = "origination_v2"
	SourceNotesConversion SourceFormat = "notes_conversion"
)

// IsValid checks if the source format is one of the declared tape layouts
func (f SourceFormat) IsValid() bool {
	switch f {
	case SourceOriginationV1, SourceOriginationV2, SourceNotesConversion:
		return true
	}
	return false
}

// AllSourceFormats returns the declared tape layouts in a fixed order
func AllSourceFormats() []SourceFormat {
	return []SourceFormat{SourceOriginationV1, SourceOriginationV2, SourceNotesConversion}
}

// Record is the canonical loan record. It is immutable once normalized;
// evaluators receive pointers but must never write through them.
type Record struct {
	SellerLoanNumber string          `json:"seller_loan_number" validate:"required,max=64"`
	Program          Program         `json:"program" validate:"required,oneof=primary secondary notes"`
	OriginProgram    Program         `json:"origin_program" validate:"required,oneof=primary secondary"`
	LoanType         LoanType        `json:"loan_type" validate:"required,oneof=standard hybrid no_income_proof special_asset"`
	Restructured     bool            `json:"restructured"`
	OriginalBalance  decimal.Decimal `json:"original_balance" validate:"gt=0"`
	ItemizedFees     decimal.Decimal `json:"itemized_fees" validate:"gte=0"`
	CreditScore      int             `json:"credit_score" validate:"gte=300,lte=850"`
	TermMonths       int             `json:"term_months" validate:"gt=0,lte=480"`
	SubmitDate       time.Time       `json:"submit_date"`
	PurchaseDate     time.Time       `json:"purchase_date"`
	LenderPrice      decimal.Decimal `json:"lender_price" validate:"gt=0"`
	DealerFee        decimal.Decimal `json:"dealer_fee" validate:"gte=0"`
	APR              decimal.Decimal `json:"apr" validate:"gte=0"`
	PromoTermMonths  int             `json:"promo_term_months" validate:"gte=0"`
	Jurisdiction     string          `json:"jurisdiction" validate:"required,len=2,alpha"`
	Repurchase       bool            `json:"repurchase"`
	NewProgram       bool            `json:"new_program"`
	AnnualIncome     decimal.Decimal `json:"annual_income" validate:"gt=0"`
	DebtToIncome     decimal.Decimal `json:"debt_to_income" validate:"gte=0"`
	MonthlyPayment   decimal.Decimal `json:"monthly_payment" validate:"gt=0"`
	SourceFormat     SourceFormat    `json:"source_format" validate:"required"`
	CarriedOver      bool            `json:"carried_over"`
	SourceLine       int             `json:"source_line"`
}

// FinancedBalance is the original balance net of itemized fee deductions
func (r *Record) FinancedBalance() decimal.Decimal {
	return r.OriginalBalance.Sub(r.ItemizedFees)
}

// PaymentToIncome is the monthly payment over monthly income, computed as
// annualized payment over annual income. Zero income yields zero;
// normalization guarantees income is positive.
func (r *Record) PaymentToIncome() decimal.Decimal {
	if !r.AnnualIncome.IsPositive() {
		return decimal.Zero
	}
	return r.MonthlyPayment.Mul(decimal.NewFromInt(12)).Div(r.AnnualIncome)
}

// DealerFeeAmount is the dealer fee expressed in currency
func (r *Record) DealerFeeAmount() decimal.Decimal {
	return r.OriginalBalance.Mul(r.DealerFee)
}

// Batch is a normalized set of records ordered by seller loan number
type Batch struct {
	Records []*Record
}

// ByProgram returns the records whose evaluation program matches
func (b *Batch) ByProgram(p Program) []*Record {
	out := make([]*Record, 0, len(b.Records))
	for _, r := range b.Records {
		if r.Program == p {
			out = append(out, r)
		}
	}
	return out
}

// ByOrigin returns the records originated under the given channel,
// restructured ones included
func (b *Batch) ByOrigin(p Program) []*Record {
	out := make([]*Record, 0, len(b.Records))
	for _, r := range b.Records {
		if r.OriginProgram == p {
			out = append(out, r)
		}
	}
	return out
}

// Partition splits the batch into newly originated and carried-over records
func (b *Batch) Partition() (originated, carriedOver []*Record) {
	for _, r := range b.Records {
		if r.CarriedOver {
			carriedOver = append(carriedOver, r)
		} else {
			originated = append(originated, r)
		}
	}
	return originated, carriedOver
}

// Len returns the number of records in the batch
func (b *Batch) Len() int {
	return len(b.Records)
}
