// Package evaluation holds the per-loan rule evaluators and the portfolio
// eligibility aggregator. Every evaluator is a pure function of the
// normalized batch and the reference set: none keeps state between calls and
// none depends on another's output.
package evaluation

import (
	"fmt"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/reference"
)

// Evaluator produces one finding per applicable loan
type Evaluator interface {
	Family() loan.Family
	Evaluate(batch *loan.Batch, set *reference.Set) ([]loan.Finding, error)
}

func pass(r *loan.Record, family loan.Family, check, detail string) loan.Finding {
	return loan.Finding{
		SellerLoanNumber: r.SellerLoanNumber,
		Family:           family,
		Check:            check,
		Outcome:          loan.OutcomePass,
		Detail:           detail,
	}
}

func fail(r *loan.Record, family loan.Family, check string, reason loan.RejectionReason, detail string) loan.Finding {
	return loan.Finding{
		SellerLoanNumber: r.SellerLoanNumber,
		Family:           family,
		Check:            check,
		Outcome:          loan.OutcomeFail,
		Reason:           reason,
		Detail:           detail,
	}
}

// dataQuality is a failed check caused by an unusable field value rather
// than by the rule itself
func dataQuality(r *loan.Record, family loan.Family, check string, reason loan.RejectionReason, format string, args ...any) loan.Finding {
	f := fail(r, family, check, reason, fmt.Sprintf(format, args...))
	f.DataQuality = true
	return f
}

func skipped(r *loan.Record, family loan.Family, check string, outcome loan.Outcome, detail string) loan.Finding {
	return loan.Finding{
		SellerLoanNumber: r.SellerLoanNumber,
		Family:           family,
		Check:            check,
		Outcome:          outcome,
		Detail:           detail,
	}
}
