package evaluation

import (
	"fmt"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/reference"
	"github.com/shopspring/decimal"
)

// Underwriting check names, one per grid variant
const (
	CheckUnderwritingStandard = "underwriting_standard"
	CheckUnderwritingNotes    = "underwriting_notes"
)

// Pass paths recorded on passing underwriting findings
const (
	PathIncomeBand  = "income_band"
	PathPTIFallback = "pti_fallback"
)

// HighTierScore is the credit score above which the payment-to-income
// fallback is tried
const HighTierScore = 700

// PTICeiling is the maximum payment-to-income ratio on the fallback path
var PTICeiling = decimal.RequireFromString("0.15")

// UnderwritingEvaluator matches loans against the underwriting grid of their
// program. Standard loans use the primary/secondary grids, restructured loans
// the notes grid; the algorithm is the same.
type UnderwritingEvaluator struct {
	exempt map[string]bool
}

// NewUnderwritingEvaluator creates an evaluator that skips the listed seller
// loan numbers
func NewUnderwritingEvaluator(exempt []string) *UnderwritingEvaluator {
	set := make(map[string]bool, len(exempt))
	for _, id := range exempt {
		set[id] = true
	}
	return &UnderwritingEvaluator{exempt: set}
}

// Family implements Evaluator
func (e *UnderwritingEvaluator) Family() loan.Family { return loan.FamilyUnderwriting }

// Evaluate implements Evaluator
func (e *UnderwritingEvaluator) Evaluate(batch *loan.Batch, set *reference.Set) ([]loan.Finding, error) {
	out := make([]loan.Finding, 0, batch.Len())
	for _, r := range batch.Records {
		check := CheckUnderwritingStandard
		if r.Restructured {
			check = CheckUnderwritingNotes
		}
		if e.exempt[r.SellerLoanNumber] {
			out = append(out, skipped(r, loan.FamilyUnderwriting, check, loan.OutcomeExempt, "configured exemption"))
			continue
		}

		grid, err := set.Underwriting(r.Program, r.SubmitDate)
		if err != nil {
			return nil, err
		}
		out = append(out, Underwrite(grid, r, check))
	}
	return out, nil
}

// Underwrite evaluates one loan against one grid
func Underwrite(grid *reference.UnderwritingGrid, r *loan.Record, check string) loan.Finding {
	reason := loan.UnderwritingReason(r.Program)
	balance := r.FinancedBalance()
	if !balance.IsPositive() {
		return dataQuality(r, loan.FamilyUnderwriting, check, reason,
			"financed balance %s is not positive", balance.StringFixed(2))
	}
	if !r.AnnualIncome.IsPositive() {
		return dataQuality(r, loan.FamilyUnderwriting, check, reason,
			"annual income %s is not positive", r.AnnualIncome.String())
	}

	for _, row := range grid.Rows {
		if !row.MatchesType(r.LoanType) || row.MinCreditScore > r.CreditScore || row.MinIncome.GreaterThan(r.AnnualIncome) {
			continue
		}
		if row.MaxApproval.GreaterThanOrEqual(balance) && r.DebtToIncome.LessThanOrEqual(row.MaxDTI) {
			return pass(r, loan.FamilyUnderwriting, check, PathIncomeBand)
		}
	}

	if r.CreditScore > HighTierScore {
		pti := r.PaymentToIncome()
		if pti.LessThanOrEqual(PTICeiling) {
			for _, row := range grid.Rows {
				if !row.MatchesType(r.LoanType) || row.MinCreditScore > r.CreditScore {
					continue
				}
				if row.MaxApproval.GreaterThanOrEqual(balance) {
					return pass(r, loan.FamilyUnderwriting, check, PathPTIFallback)
				}
			}
		}
		return fail(r, loan.FamilyUnderwriting, check, reason,
			fmt.Sprintf("no row approves balance %s at score %d (pti %s)", balance.StringFixed(2), r.CreditScore, pti.StringFixed(4)))
	}

	return fail(r, loan.FamilyUnderwriting, check, reason,
		fmt.Sprintf("no row approves balance %s at score %d, income %s, dti %s",
			balance.StringFixed(2), r.CreditScore, r.AnnualIncome.StringFixed(0), r.DebtToIncome.String()))
}
