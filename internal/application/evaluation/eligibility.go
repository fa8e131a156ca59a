package evaluation

import (
	"fmt"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/shopspring/decimal"
)

// CheckSpecialAssetLimit is the limit check whose excess loans are rejected
const CheckSpecialAssetLimit = "special_asset_balance_limit"

func creditScore(r *loan.Record) decimal.Decimal { return decimal.NewFromInt(int64(r.CreditScore)) }
func termMonths(r *loan.Record) decimal.Decimal  { return decimal.NewFromInt(int64(r.TermMonths)) }
func balance(r *loan.Record) decimal.Decimal     { return r.OriginalBalance }
func apr(r *loan.Record) decimal.Decimal         { return r.APR }
func dti(r *loan.Record) decimal.Decimal         { return r.DebtToIncome }
func dealerFee(r *loan.Record) decimal.Decimal   { return r.DealerFee }
func one(*loan.Record) decimal.Decimal           { return decimal.NewFromInt(1) }

func jurisdiction(r *loan.Record) string { return r.Jurisdiction }
func loanType(r *loan.Record) string     { return string(r.LoanType) }
func termBand(r *loan.Record) string {
	switch {
	case r.TermMonths <= 120:
		return "000-120"
	case r.TermMonths <= 180:
		return "121-180"
	case r.TermMonths <= 240:
		return "181-240"
	}
	return "241+"
}

func ofType(t loan.LoanType) Predicate {
	return func(r *loan.Record) bool { return r.LoanType == t }
}

func scoreBelow(s int) Predicate {
	return func(r *loan.Record) bool { return r.CreditScore < s }
}

func termAbove(m int) Predicate {
	return func(r *loan.Record) bool { return r.TermMonths > m }
}

func promoAbove(m int) Predicate {
	return func(r *loan.Record) bool { return r.PromoTermMonths > m }
}

func dtiAbove(v string) Predicate {
	limit := decimal.RequireFromString(v)
	return func(r *loan.Record) bool { return r.DebtToIncome.GreaterThan(limit) }
}

func both(a, b Predicate) Predicate {
	return func(r *loan.Record) bool { return a(r) && b(r) }
}

func restructured(r *loan.Record) bool { return r.Restructured }
func repurchase(r *loan.Record) bool   { return r.Repurchase }
func newProgram(r *loan.Record) bool   { return r.NewProgram }

// PrimaryChecks is the portfolio check table of the primary program
func PrimaryChecks() []Check {
	return []Check{
		Info("loan_count", one, nil),
		Info("total_balance", balance, nil),
		Info("jurisdiction_distribution", nil, jurisdiction),
		Info("loan_type_distribution", nil, loanType),
		Info("term_distribution", nil, termBand),
		WeightedMean("weighted_avg_credit_score", creditScore, CompareGTE, "700"),
		Mean("avg_credit_score", creditScore, CompareGTE, "690"),
		Min("min_credit_score", creditScore, "600"),
		WeightedMean("weighted_avg_term", termMonths, CompareLTE, "180"),
		Max("max_term", termMonths, "300"),
		Max("max_balance", balance, "150000"),
		Mean("avg_balance", balance, CompareLTE, "80000"),
		WeightedMean("weighted_avg_apr", apr, CompareGTE, "0.04"),
		WeightedMean("weighted_avg_dti", dti, CompareLTE, "0.45"),
		Ratio("low_score_ratio", BasisBalance, scoreBelow(660), CompareLT, "0.15"),
		Ratio("high_dti_ratio", BasisCount, dtiAbove("0.45"), CompareLTE, "0.10"),
		Ratio("long_term_ratio", BasisBalance, termAbove(180), CompareLTE, "0.25"),
		Ratio("promo_ratio", BasisCount, promoAbove(0), CompareLTE, "0.40"),
		Ratio("long_promo_ratio", BasisCount, promoAbove(12), CompareLT, "0.10"),
		Ratio("hybrid_ratio", BasisBalance, ofType(loan.LoanTypeHybrid), CompareLTE, "0.30"),
		Ratio("no_income_proof_ratio", BasisBalance, ofType(loan.LoanTypeNoIncomeProof), CompareLTE, "0.10"),
		Ratio("restructured_ratio", BasisBalance, restructured, CompareLTE, "0.15"),
		Ratio("repurchase_ratio", BasisCount, repurchase, CompareLT, "0.02"),
		Ratio("new_program_ratio", BasisBalance, newProgram, CompareLTE, "0.20"),
		Concentration("jurisdiction_concentration", jurisdiction, "0.50"),
		Limit(CheckSpecialAssetLimit, ofType(loan.LoanTypeSpecialAsset), "0.05"),
	}
}

// SecondaryChecks is the portfolio check table of the secondary program
func SecondaryChecks() []Check {
	nip := ofType(loan.LoanTypeNoIncomeProof)
	return []Check{
		Info("loan_count", one, nil),
		Info("total_balance", balance, nil),
		Info("jurisdiction_distribution", nil, jurisdiction),
		Info("loan_type_distribution", nil, loanType),
		Info("term_distribution", nil, termBand),
		WeightedMean("weighted_avg_credit_score", creditScore, CompareGTE, "660"),
		Mean("avg_credit_score", creditScore, CompareGTE, "650"),
		Min("min_credit_score", creditScore, "560"),
		WeightedMean("weighted_avg_term", termMonths, CompareLTE, "200"),
		Max("max_term", termMonths, "300"),
		Max("max_balance", balance, "100000"),
		Mean("avg_balance", balance, CompareLTE, "65000"),
		WeightedMean("weighted_avg_dealer_fee", dealerFee, CompareLTE, "0.15"),
		WeightedMean("weighted_avg_dti", dti, CompareLTE, "0.50"),
		Ratio("low_score_ratio", BasisBalance, scoreBelow(620), CompareLT, "0.20"),
		Ratio("high_dti_ratio", BasisCount, dtiAbove("0.50"), CompareLTE, "0.10"),
		Ratio("long_term_ratio", BasisBalance, termAbove(180), CompareLTE, "0.35"),
		Ratio("promo_ratio", BasisCount, promoAbove(0), CompareLTE, "0.50"),
		Ratio("no_income_proof_ratio", BasisBalance, nip, CompareLTE, "0.25"),
		Ratio("no_income_proof_long_promo_ratio", BasisCount, both(nip, promoAbove(12)), CompareLT, "0.05"),
		Ratio("restructured_ratio", BasisBalance, restructured, CompareLTE, "0.20"),
		Ratio("repurchase_ratio", BasisCount, repurchase, CompareLT, "0.03"),
		Ratio("new_program_ratio", BasisBalance, newProgram, CompareLTE, "0.25"),
		Concentration("jurisdiction_concentration", jurisdiction, "0.60"),
		Limit(CheckSpecialAssetLimit, ofType(loan.LoanTypeSpecialAsset), "0.08"),
	}
}

// ProgramReport is the eligibility outcome of one origin program
type ProgramReport struct {
	Program loan.Program  `json:"program"`
	Loans   int           `json:"loans"`
	Checks  []CheckResult `json:"checks"`
}

// Failed returns the checks that did not pass
func (p ProgramReport) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range p.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// EligibilityReport is the portfolio-level outcome of a batch
type EligibilityReport struct {
	Programs []ProgramReport `json:"programs"`
}

// Program returns the report of one origin program
func (r *EligibilityReport) Program(p loan.Program) (ProgramReport, bool) {
	for _, pr := range r.Programs {
		if pr.Program == p {
			return pr, true
		}
	}
	return ProgramReport{}, false
}

// Check returns a named check result of one program
func (r *EligibilityReport) Check(p loan.Program, name string) (CheckResult, bool) {
	pr, ok := r.Program(p)
	if !ok {
		return CheckResult{}, false
	}
	for _, c := range pr.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Findings converts limit-check exclusions into per-loan eligibility
// failures. A loan excluded by several checks gets one finding per check.
func (r *EligibilityReport) Findings() []loan.Finding {
	var out []loan.Finding
	for _, pr := range r.Programs {
		for _, c := range pr.Checks {
			for _, id := range c.Excluded {
				out = append(out, loan.Finding{
					SellerLoanNumber: id,
					Family:           loan.FamilyEligibility,
					Check:            c.Name,
					Outcome:          loan.OutcomeFail,
					Reason:           loan.EligibilityReason(pr.Program),
					Detail:           fmt.Sprintf("%s share %s exceeds %s", c.Name, c.Value.String(), c.Threshold.String()),
				})
			}
		}
	}
	return out
}

// EligibilityAggregator computes the portfolio checks of each origin
// program. Restructured loans count toward their origin program.
type EligibilityAggregator struct {
	tables map[loan.Program][]Check
}

// NewEligibilityAggregator creates an aggregator with the standard tables
func NewEligibilityAggregator() *EligibilityAggregator {
	return &EligibilityAggregator{tables: map[loan.Program][]Check{
		loan.ProgramPrimary:   PrimaryChecks(),
		loan.ProgramSecondary: SecondaryChecks(),
	}}
}

// WithChecks replaces the table of one program
func (a *EligibilityAggregator) WithChecks(p loan.Program, checks []Check) *EligibilityAggregator {
	a.tables[p] = checks
	return a
}

// Aggregate runs every table over the batch
func (a *EligibilityAggregator) Aggregate(batch *loan.Batch) *EligibilityReport {
	report := &EligibilityReport{}
	for _, p := range loan.OriginPrograms() {
		records := batch.ByOrigin(p)
		pr := ProgramReport{Program: p, Loans: len(records)}
		for _, c := range a.tables[p] {
			pr.Checks = append(pr.Checks, c.evaluate(p, records))
		}
		report.Programs = append(report.Programs, pr)
	}
	return report
}
