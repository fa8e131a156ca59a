package normalize

import (
	"github.com/loanpurchase/backend/internal/domain/loan"
	csvimport "github.com/loanpurchase/backend/internal/infrastructure/import"
	"github.com/shopspring/decimal"
)

// Canonical tape columns. Every source schema maps its headers onto these.
const (
	ColSellerLoanNumber = "seller_loan_number"
	ColProductCode      = "product_code"
	ColLoanType         = "loan_type"
	ColOriginalBalance  = "original_balance"
	ColItemizedFees     = "itemized_fees"
	ColCreditScore      = "credit_score"
	ColTermMonths       = "term_months"
	ColSubmitDate       = "submit_date"
	ColPurchaseDate     = "purchase_date"
	ColLenderPrice      = "lender_price"
	ColDealerFee        = "dealer_fee"
	ColAPR              = "apr"
	ColPromoTermMonths  = "promo_term_months"
	ColJurisdiction     = "jurisdiction"
	ColRepurchase       = "repurchase"
	ColNewProgram       = "new_program"
	ColAnnualIncome     = "annual_income"
	ColDebtToIncome     = "debt_to_income"
	ColMonthlyPayment   = "monthly_payment"
)

// SourceSchema is the declared layout of one tape format
type SourceSchema struct {
	Format     loan.SourceFormat
	Aliases    map[string]string
	DateLayout string
	// PriceScale converts the tape's lender price into a percentage
	PriceScale decimal.Decimal
	// HasItemizedFees requires the itemized_fees column; other layouts
	// carry no fee deduction at all
	HasItemizedFees bool
	// Restructured marks every record of the tape as a note conversion
	Restructured bool
}

// Rules returns the column rules of the schema
func (s SourceSchema) Rules() []csvimport.FieldRule {
	fees := csvimport.Field(ColItemizedFees).Decimal()
	if s.HasItemizedFees {
		fees = fees.Required()
	} else {
		fees = fees.OptionalColumn()
	}

	return []csvimport.FieldRule{
		csvimport.Field(ColSellerLoanNumber).Required().Length(1, 64).Build(),
		csvimport.Field(ColProductCode).Required().Length(1, 16).Build(),
		csvimport.Field(ColLoanType).Required().Build(),
		csvimport.Field(ColOriginalBalance).Required().Decimal().Build(),
		fees.Build(),
		csvimport.Field(ColCreditScore).Required().Int().Build(),
		csvimport.Field(ColTermMonths).Required().Int().Build(),
		csvimport.Field(ColSubmitDate).Required().Date(s.DateLayout).Build(),
		csvimport.Field(ColPurchaseDate).Required().Date(s.DateLayout).Build(),
		csvimport.Field(ColLenderPrice).Required().Decimal().Build(),
		csvimport.Field(ColDealerFee).Required().Decimal().Build(),
		csvimport.Field(ColAPR).Required().Decimal().Build(),
		csvimport.Field(ColPromoTermMonths).Required().Int().Build(),
		csvimport.Field(ColJurisdiction).Required().Build(),
		csvimport.Field(ColRepurchase).Required().Bool().Build(),
		csvimport.Field(ColNewProgram).Required().Bool().Build(),
		csvimport.Field(ColAnnualIncome).Required().Decimal().Build(),
		csvimport.Field(ColDebtToIncome).Required().Decimal().Build(),
		csvimport.Field(ColMonthlyPayment).Required().Decimal().Build(),
	}
}

// tape returns the csvimport schema for a named partition
func (s SourceSchema) tape(name string) csvimport.Schema {
	return csvimport.Schema{
		Name:    name,
		Aliases: s.Aliases,
		Rules:   s.Rules(),
	}
}

// OriginationV1 is the legacy origination tape: title-case headers, US dates,
// price already in percent
func OriginationV1() SourceSchema {
	return SourceSchema{
		Format: loan.SourceOriginationV1,
		Aliases: map[string]string{
			"Seller Loan #":   ColSellerLoanNumber,
			"Product Code":    ColProductCode,
			"Loan Type":       ColLoanType,
			"Orig Balance":    ColOriginalBalance,
			"FICO":            ColCreditScore,
			"Term":            ColTermMonths,
			"Submit Date":     ColSubmitDate,
			"Purchase Date":   ColPurchaseDate,
			"Lender Price":    ColLenderPrice,
			"Dealer Fee":      ColDealerFee,
			"APR":             ColAPR,
			"Promo Term":      ColPromoTermMonths,
			"State":           ColJurisdiction,
			"Repurchase":      ColRepurchase,
			"New Program":     ColNewProgram,
			"Annual Income":   ColAnnualIncome,
			"DTI":             ColDebtToIncome,
			"Monthly Payment": ColMonthlyPayment,
		},
		DateLayout: "01/02/2006",
		PriceScale: decimal.NewFromInt(1),
	}
}

// OriginationV2 is the current origination tape: canonical snake_case
// headers, ISO dates, price as a fraction and an itemized fee column
func OriginationV2() SourceSchema {
	return SourceSchema{
		Format:          loan.SourceOriginationV2,
		DateLayout:      "2006-01-02",
		PriceScale:      decimal.NewFromInt(100),
		HasItemizedFees: true,
	}
}

// NotesConversion is the restructured-loan tape. Every row is a note
// conversion and loan types carry the notes suffix.
func NotesConversion() SourceSchema {
	return SourceSchema{
		Format: loan.SourceNotesConversion,
		Aliases: map[string]string{
			"loan_number":    ColSellerLoanNumber,
			"product":        ColProductCode,
			"note_type":      ColLoanType,
			"note_balance":   ColOriginalBalance,
			"fico_score":     ColCreditScore,
			"remaining_term": ColTermMonths,
			"submitted_on":   ColSubmitDate,
			"purchase_on":    ColPurchaseDate,
			"price_pct":      ColLenderPrice,
			"promo_term":     ColPromoTermMonths,
			"state":          ColJurisdiction,
			"income":         ColAnnualIncome,
			"dti":            ColDebtToIncome,
			"payment":        ColMonthlyPayment,
		},
		DateLayout:   "2006-01-02",
		PriceScale:   decimal.NewFromInt(1),
		Restructured: true,
	}
}

// Schemas returns the declared schemas keyed by source format
func Schemas() map[loan.SourceFormat]SourceSchema {
	out := make(map[loan.SourceFormat]SourceSchema, 3)
	for _, s := range []SourceSchema{OriginationV1(), OriginationV2(), NotesConversion()} {
		out[s.Format] = s
	}
	return out
}
