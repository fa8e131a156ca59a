// Package disposition folds the evaluators' findings into one final
// disposition per loan and the run's aggregate counts.
package disposition

import (
	"sort"
	"time"

	"github.com/loanpurchase/backend/internal/application/evaluation"
	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// DefaultPurchaseWindowDays is the business-day horizon of the purchase window
const DefaultPurchaseWindowDays = 2

// Decision is the resolved outcome of one loan
type Decision struct {
	Record      *loan.Record
	Disposition loan.Disposition
	Reason      loan.RejectionReason
	Check       string
	Detail      string
}

// Resolution is the complete output of a run's evaluation
type Resolution struct {
	Decisions   []Decision
	Findings    []loan.Finding
	Exceptions  []loan.Exception
	Eligibility *evaluation.EligibilityReport
	WindowEnd   time.Time
	Counts      pipeline.RunCounts
}

// ByDisposition returns the decisions with the given disposition in batch order
func (r *Resolution) ByDisposition(d loan.Disposition) []Decision {
	var out []Decision
	for _, dec := range r.Decisions {
		if dec.Disposition == d {
			out = append(out, dec)
		}
	}
	return out
}

// Failures returns every failing finding, the full audit trail behind the
// single stored reason
func (r *Resolution) Failures() []loan.Finding {
	var out []loan.Finding
	for _, f := range r.Findings {
		if f.Failed() {
			out = append(out, f)
		}
	}
	return out
}

// Resolver applies the fixed family precedence
// (purchase price > underwriting > compliance matrix > eligibility)
type Resolver struct {
	calendar   pipeline.Calendar
	windowDays int
}

// NewResolver creates a resolver. A zero window admits only today's
// purchases; a negative window uses the default.
func NewResolver(calendar pipeline.Calendar, windowDays int) *Resolver {
	if windowDays < 0 {
		windowDays = DefaultPurchaseWindowDays
	}
	return &Resolver{calendar: calendar, windowDays: windowDays}
}

// Resolve produces the run's dispositions. The output depends only on its
// inputs and the calendar's Today.
func (r *Resolver) Resolve(batch *loan.Batch, results *evaluation.Results, exceptions []loan.Exception) *Resolution {
	windowEnd := r.calendar.AddBusinessDays(r.calendar.Today(), r.windowDays)

	eligibility := results.Eligibility
	if eligibility == nil {
		eligibility = &evaluation.EligibilityReport{}
	}

	perLoan := make(map[string][]loan.Finding, batch.Len())
	collect := func(fs []loan.Finding) {
		for _, f := range fs {
			perLoan[f.SellerLoanNumber] = append(perLoan[f.SellerLoanNumber], f)
		}
	}
	collect(results.Price)
	collect(results.Underwriting)
	collect(gateComap(batch, results.Price, results.Comap))
	collect(eligibility.Findings())

	res := &Resolution{
		Exceptions:  exceptions,
		Eligibility: eligibility,
		WindowEnd:   windowEnd,
	}
	res.Counts.TotalBalance = decimal.Zero
	res.Counts.DataQualityExceptions = len(exceptions)

	for _, rec := range batch.Records {
		findings := perLoan[rec.SellerLoanNumber]
		sortFindings(findings)
		res.Findings = append(res.Findings, findings...)

		dec := Decision{Record: rec}
		if winner, ok := firstFailure(findings); ok {
			dec.Disposition = loan.DispositionRejected
			dec.Reason = winner.Reason
			dec.Check = winner.Check
			dec.Detail = winner.Detail
		} else if shared.DateOf(rec.PurchaseDate).After(windowEnd) {
			dec.Disposition = loan.DispositionProjected
		} else {
			dec.Disposition = loan.DispositionToPurchase
		}
		res.Decisions = append(res.Decisions, dec)

		for _, f := range findings {
			if f.Failed() && f.DataQuality {
				res.Counts.DataQualityExceptions++
			}
		}
		res.Counts.Processed++
		switch dec.Disposition {
		case loan.DispositionRejected:
			res.Counts.Rejected++
		case loan.DispositionProjected:
			res.Counts.Projected++
		case loan.DispositionToPurchase:
			res.Counts.Purchased++
			res.Counts.TotalBalance = res.Counts.TotalBalance.Add(rec.OriginalBalance)
		}
	}
	return res
}

// gateComap replaces compliance-matrix failures of primary loans that failed
// the price check with not_evaluated findings
func gateComap(batch *loan.Batch, price, comap []loan.Finding) []loan.Finding {
	priceFailed := make(map[string]bool, len(price))
	for _, f := range price {
		if f.Failed() {
			priceFailed[f.SellerLoanNumber] = true
		}
	}
	primary := make(map[string]bool, batch.Len())
	for _, rec := range batch.Records {
		if rec.Program == loan.ProgramPrimary {
			primary[rec.SellerLoanNumber] = true
		}
	}

	out := make([]loan.Finding, len(comap))
	for i, f := range comap {
		if primary[f.SellerLoanNumber] && priceFailed[f.SellerLoanNumber] {
			f = loan.Finding{
				SellerLoanNumber: f.SellerLoanNumber,
				Family:           f.Family,
				Check:            f.Check,
				Outcome:          loan.OutcomeNotEvaluated,
				Detail:           "purchase price check failed",
			}
		}
		out[i] = f
	}
	return out
}

func sortFindings(fs []loan.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if pi, pj := fs[i].Family.Precedence(), fs[j].Family.Precedence(); pi != pj {
			return pi < pj
		}
		return fs[i].Check < fs[j].Check
	})
}

func firstFailure(sorted []loan.Finding) (loan.Finding, bool) {
	for _, f := range sorted {
		if f.Failed() {
			return f, true
		}
	}
	return loan.Finding{}, false
}
