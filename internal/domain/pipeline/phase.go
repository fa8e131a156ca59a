package pipeline

// Phase is one committed step of a pipeline run
type Phase string

const (
	PhaseReferenceLoad        Phase = "reference_load"
	PhaseNormalize            Phase = "normalize"
	PhasePurchasePrice        Phase = "purchase_price"
	PhaseUnderwriting         Phase = "underwriting"
	PhaseComplianceMatrix     Phase = "compliance_matrix"
	PhaseEligibilityAggregate Phase = "eligibility_aggregate"
	PhaseExport               Phase = "export"
	PhaseArchive              Phase = "archive"
)

// Phases returns every phase in execution order
func Phases() []Phase {
	return []Phase{
		PhaseReferenceLoad,
		PhaseNormalize,
		PhasePurchasePrice,
		PhaseUnderwriting,
		PhaseComplianceMatrix,
		PhaseEligibilityAggregate,
		PhaseExport,
		PhaseArchive,
	}
}

// IsValid checks if the phase is declared
func (p Phase) IsValid() bool {
	return p.Index() >= 0
}

// Index returns the position of the phase in execution order, or -1
func (p Phase) Index() int {
	for i, known := range Phases() {
		if p == known {
			return i
		}
	}
	return -1
}
