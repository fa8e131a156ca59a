package evaluation

import (
	"fmt"
	"time"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/reference"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// CheckPurchasePrice is the check name of the purchase-price finding
const CheckPurchasePrice = "purchase_price"

var hundred = decimal.NewFromInt(100)

// PriceEvaluator compares the modeled purchase price against the lender
// quote. Newly originated loans are always priced; carried-over loans only
// when their purchase date is after the carryover cutoff.
type PriceEvaluator struct {
	carryoverCutoff time.Time
}

// NewPriceEvaluator creates a PriceEvaluator
func NewPriceEvaluator(carryoverCutoff time.Time) *PriceEvaluator {
	return &PriceEvaluator{carryoverCutoff: shared.DateOf(carryoverCutoff)}
}

// Family implements Evaluator
func (e *PriceEvaluator) Family() loan.Family { return loan.FamilyPurchasePrice }

// Evaluate implements Evaluator. Both partitions go through the same check;
// findings come back in batch order.
func (e *PriceEvaluator) Evaluate(batch *loan.Batch, set *reference.Set) ([]loan.Finding, error) {
	originated, carriedOver := batch.Partition()
	byLoan := make(map[string]loan.Finding, batch.Len())

	for _, r := range originated {
		f, err := e.check(r, set)
		if err != nil {
			return nil, err
		}
		byLoan[r.SellerLoanNumber] = f
	}
	for _, r := range carriedOver {
		if !shared.DateOf(r.PurchaseDate).After(e.carryoverCutoff) {
			byLoan[r.SellerLoanNumber] = skipped(r, loan.FamilyPurchasePrice, CheckPurchasePrice, loan.OutcomeNotEvaluated,
				fmt.Sprintf("carried over, purchase date on or before %s", shared.FormatDate(e.carryoverCutoff)))
			continue
		}
		f, err := e.check(r, set)
		if err != nil {
			return nil, err
		}
		byLoan[r.SellerLoanNumber] = f
	}

	out := make([]loan.Finding, 0, batch.Len())
	for _, r := range batch.Records {
		out = append(out, byLoan[r.SellerLoanNumber])
	}
	return out, nil
}

func (e *PriceEvaluator) check(r *loan.Record, set *reference.Set) (loan.Finding, error) {
	grid, err := set.Pricing(r.Program, r.SubmitDate)
	if err != nil {
		return loan.Finding{}, err
	}
	row, ok := grid.RowFor(r.TermMonths)
	if !ok {
		return dataQuality(r, loan.FamilyPurchasePrice, CheckPurchasePrice, loan.ReasonPurchasePriceMismatch,
			"term %d outside pricing grid %s %s", r.TermMonths, grid.Program, grid.Version), nil
	}

	modeled := ModeledPrice(row, r)
	quoted := r.LenderPrice.Round(2)
	detail := fmt.Sprintf("modeled %s lender %s", modeled.StringFixed(2), quoted.StringFixed(2))
	if !modeled.Equal(quoted) {
		return fail(r, loan.FamilyPurchasePrice, CheckPurchasePrice, loan.ReasonPurchasePriceMismatch, detail), nil
	}
	return pass(r, loan.FamilyPurchasePrice, CheckPurchasePrice, detail), nil
}

// ModeledPrice returns the model price as a percentage rounded to two places:
//
//	base_price + (apr - base_rate) * rate_multiplier
//	  - promo_months * promo_cost_per_month - dealer_fee * fee_passthrough
func ModeledPrice(row reference.PricingRow, r *loan.Record) decimal.Decimal {
	price := row.BasePrice.
		Add(r.APR.Sub(row.BaseRate).Mul(row.RateMultiplier)).
		Sub(decimal.NewFromInt(int64(r.PromoTermMonths)).Mul(row.PromoCostPerMonth)).
		Sub(r.DealerFee.Mul(row.FeePassthrough))
	return price.Mul(hundred).Round(2)
}
