package loan

import "fmt"

// Disposition is the final per-loan classification of a run
type Disposition string

const (
	DispositionToPurchase Disposition = "to_purchase"
	DispositionRejected   Disposition = "rejected"
	DispositionProjected  Disposition = "projected"
)

// IsValid checks if the disposition is one of the three outcomes
func (d Disposition) IsValid() bool {
	switch d {
	case DispositionToPurchase, DispositionRejected, DispositionProjected:
		return true
	}
	return false
}

// RejectionReason is the canonical, closed-set reason stored on a rejected loan
type RejectionReason string

const (
	ReasonPurchasePriceMismatch RejectionReason = "purchase_price_mismatch"
	ReasonUnderwritingPrimary   RejectionReason = "underwriting_primary"
	ReasonUnderwritingSecondary RejectionReason = "underwriting_secondary"
	ReasonUnderwritingNotes     RejectionReason = "underwriting_notes"
	ReasonComapPrimary          RejectionReason = "comap_primary"
	ReasonComapSecondary        RejectionReason = "comap_secondary"
	ReasonComapNotes            RejectionReason = "comap_notes"
	ReasonEligibilityPrimary    RejectionReason = "eligibility_primary"
	ReasonEligibilitySecondary  RejectionReason = "eligibility_secondary"
)

// AllRejectionReasons returns the full taxonomy
func AllRejectionReasons() []RejectionReason {
	return []RejectionReason{
		ReasonPurchasePriceMismatch,
		ReasonUnderwritingPrimary,
		ReasonUnderwritingSecondary,
		ReasonUnderwritingNotes,
		ReasonComapPrimary,
		ReasonComapSecondary,
		ReasonComapNotes,
		ReasonEligibilityPrimary,
		ReasonEligibilitySecondary,
	}
}

// IsValid checks membership in the closed taxonomy
func (r RejectionReason) IsValid() bool {
	for _, known := range AllRejectionReasons() {
		if r == known {
			return true
		}
	}
	return false
}

// UnderwritingReason returns the underwriting reason for a program
func UnderwritingReason(p Program) RejectionReason {
	switch p {
	case ProgramPrimary:
		return ReasonUnderwritingPrimary
	case ProgramSecondary:
		return ReasonUnderwritingSecondary
	case ProgramNotes:
		return ReasonUnderwritingNotes
	}
	panic(fmt.Sprintf("loan: no underwriting reason for program %q", p))
}

// ComapReason returns the compliance-matrix reason for a program
func ComapReason(p Program) RejectionReason {
	switch p {
	case ProgramPrimary:
		return ReasonComapPrimary
	case ProgramSecondary:
		return ReasonComapSecondary
	case ProgramNotes:
		return ReasonComapNotes
	}
	panic(fmt.Sprintf("loan: no comap reason for program %q", p))
}

// EligibilityReason returns the portfolio-eligibility reason for an origin program
func EligibilityReason(p Program) RejectionReason {
	switch p {
	case ProgramPrimary:
		return ReasonEligibilityPrimary
	case ProgramSecondary:
		return ReasonEligibilitySecondary
	}
	panic(fmt.Sprintf("loan: no eligibility reason for program %q", p))
}
