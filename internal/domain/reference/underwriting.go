package reference

import (
	"fmt"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/shopspring/decimal"
)

// AnyLoanType matches every loan type in an underwriting row
const AnyLoanType = "*"

// UnderwritingRow is one approval threshold row
type UnderwritingRow struct {
	LoanType       string
	MinIncome      decimal.Decimal
	MinCreditScore int
	MaxApproval    decimal.Decimal
	MaxDTI         decimal.Decimal
}

// MatchesType reports whether the row applies to the loan type
func (r UnderwritingRow) MatchesType(t loan.LoanType) bool {
	return r.LoanType == AnyLoanType || r.LoanType == string(t)
}

// UnderwritingGrid holds balance/DTI/score/income approval thresholds
type UnderwritingGrid struct {
	Header
	Rows []UnderwritingRow
}

// Meta implements Grid
func (g *UnderwritingGrid) Meta() Header { return g.Header }

// Validate implements Grid
func (g *UnderwritingGrid) Validate() error {
	if err := g.Header.validate(); err != nil {
		return err
	}
	if len(g.Rows) == 0 {
		return fmt.Errorf("%w: %s: no rows", ErrInvalidGrid, g.Header)
	}
	for i, r := range g.Rows {
		if r.LoanType != AnyLoanType && !loan.LoanType(r.LoanType).IsValid() {
			return fmt.Errorf("%w: %s row %d: unknown loan type %q", ErrInvalidGrid, g.Header, i+1, r.LoanType)
		}
		if r.MinIncome.IsNegative() {
			return fmt.Errorf("%w: %s row %d: min_income must be >= 0", ErrInvalidGrid, g.Header, i+1)
		}
		if r.MinCreditScore < 0 || r.MinCreditScore > 850 {
			return fmt.Errorf("%w: %s row %d: min_credit_score out of range", ErrInvalidGrid, g.Header, i+1)
		}
		if !r.MaxApproval.IsPositive() {
			return fmt.Errorf("%w: %s row %d: max_approval must be > 0", ErrInvalidGrid, g.Header, i+1)
		}
		if !r.MaxDTI.IsPositive() {
			return fmt.Errorf("%w: %s row %d: max_dti must be > 0", ErrInvalidGrid, g.Header, i+1)
		}
	}
	return nil
}
