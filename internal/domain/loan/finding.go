package loan

// Family groups checks by the evaluator that produced them. The order of the
// constants is the precedence used when several families fail for one loan.
type Family string

const (
	FamilyPurchasePrice Family = "purchase_price"
	FamilyUnderwriting  Family = "underwriting"
	FamilyComap         Family = "compliance_matrix"
	FamilyEligibility   Family = "eligibility"
	FamilyDataQuality   Family = "data_quality"
)

// Precedence returns the resolution rank of the family; lower wins.
func (f Family) Precedence() int {
	switch f {
	case FamilyPurchasePrice:
		return 0
	case FamilyUnderwriting:
		return 1
	case FamilyComap:
		return 2
	case FamilyEligibility:
		return 3
	default:
		return 4
	}
}

// Outcome is the result of one check for one loan
type Outcome string

const (
	OutcomePass         Outcome = "pass"
	OutcomeFail         Outcome = "fail"
	OutcomeExempt       Outcome = "exempt"
	OutcomeNotEvaluated Outcome = "not_evaluated"
)

// Finding is a single check result against a single loan
type Finding struct {
	SellerLoanNumber string          `json:"seller_loan_number"`
	Family           Family          `json:"family"`
	Check            string          `json:"check"`
	Outcome          Outcome         `json:"outcome"`
	Reason           RejectionReason `json:"reason,omitempty"`
	Detail           string          `json:"detail,omitempty"`
	DataQuality      bool            `json:"data_quality,omitempty"`
}

// Failed reports whether the finding is a failing check
func (f Finding) Failed() bool {
	return f.Outcome == OutcomeFail
}

// Exception is a data-quality problem found while normalizing a source row.
// The offending row never becomes a Record.
type Exception struct {
	SellerLoanNumber string       `json:"seller_loan_number,omitempty"`
	SourceFormat     SourceFormat `json:"source_format"`
	Source           string       `json:"source,omitempty"`
	Line             int          `json:"line"`
	Column           string       `json:"column,omitempty"`
	Code             string       `json:"code"`
	Message          string       `json:"message"`
	Value            string       `json:"value,omitempty"`
}
