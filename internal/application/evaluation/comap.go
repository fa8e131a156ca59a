package evaluation

import (
	"fmt"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/reference"
)

// Compliance-matrix check names
const (
	CheckComap      = "comap"
	CheckComapNotes = "comap_notes"
)

// ComapEvaluator checks loans against the compliance matrix selected by their
// own submit date. It evaluates every loan; gating on the purchase-price
// result is applied by the resolver.
type ComapEvaluator struct {
	policy reference.CutoffPolicy
}

// NewComapEvaluator creates a ComapEvaluator
func NewComapEvaluator(policy reference.CutoffPolicy) *ComapEvaluator {
	return &ComapEvaluator{policy: policy}
}

// Family implements Evaluator
func (e *ComapEvaluator) Family() loan.Family { return loan.FamilyComap }

// Evaluate implements Evaluator
func (e *ComapEvaluator) Evaluate(batch *loan.Batch, set *reference.Set) ([]loan.Finding, error) {
	out := make([]loan.Finding, 0, batch.Len())
	for _, r := range batch.Records {
		if r.Restructured {
			grid, err := set.NotesComap(r.SubmitDate)
			if err != nil {
				return nil, err
			}
			out = append(out, CheckNotes(grid, r))
			continue
		}
		grid, err := set.Comap(r.Program, r.SubmitDate, e.policy)
		if err != nil {
			return nil, err
		}
		out = append(out, CheckMatrix(grid, r))
	}
	return out, nil
}

// CheckMatrix evaluates a primary or secondary loan. Only term columns
// present in the grid are consulted.
func CheckMatrix(grid *reference.ComapGrid, r *loan.Record) loan.Finding {
	reason := loan.ComapReason(r.Program)
	where := fmt.Sprintf("%s %s", grid.Variant, grid.Version)

	row, ok := grid.RowFor(r.CreditScore)
	if !ok {
		return fail(r, loan.FamilyComap, CheckComap, reason,
			fmt.Sprintf("%s: no band for score %d", where, r.CreditScore))
	}
	band, ok := grid.BandFor(r.TermMonths)
	if !ok {
		return fail(r, loan.FamilyComap, CheckComap, reason,
			fmt.Sprintf("%s: no term column covers %d months", where, r.TermMonths))
	}
	ceiling, ok := row.Cells[band]
	detail := fmt.Sprintf("%s: band %d-%d term_%d", where, row.MinScore, row.MaxScore, band)
	if !ok || !ceiling.IsPositive() {
		return fail(r, loan.FamilyComap, CheckComap, reason, detail+" ineligible")
	}
	detail = fmt.Sprintf("%s ceiling %s", detail, ceiling.StringFixed(0))
	if r.OriginalBalance.GreaterThan(ceiling) {
		return fail(r, loan.FamilyComap, CheckComap, reason,
			fmt.Sprintf("%s exceeded by balance %s", detail, r.OriginalBalance.StringFixed(2)))
	}
	return pass(r, loan.FamilyComap, CheckComap, detail)
}

// CheckNotes evaluates a restructured loan against the score-band grid
func CheckNotes(grid *reference.NotesComapGrid, r *loan.Record) loan.Finding {
	band, ok := grid.BandFor(r.CreditScore)
	if !ok {
		return fail(r, loan.FamilyComap, CheckComapNotes, loan.ReasonComapNotes,
			fmt.Sprintf("%s: no band for score %d", grid.Version, r.CreditScore))
	}
	detail := fmt.Sprintf("%s: band %d-%d", grid.Version, band.MinScore, band.MaxScore)
	if !band.Eligible {
		return fail(r, loan.FamilyComap, CheckComapNotes, loan.ReasonComapNotes, detail+" ineligible")
	}
	if band.MaxBalance.IsPositive() && r.OriginalBalance.GreaterThan(band.MaxBalance) {
		return fail(r, loan.FamilyComap, CheckComapNotes, loan.ReasonComapNotes,
			fmt.Sprintf("%s ceiling %s exceeded by balance %s", detail, band.MaxBalance.StringFixed(0), r.OriginalBalance.StringFixed(2)))
	}
	return pass(r, loan.FamilyComap, CheckComapNotes, detail)
}
