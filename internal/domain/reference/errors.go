package reference

import "errors"

// Structural reference-data errors. They abort the run at the phase that
// detects them and are surfaced verbatim to the operator.
var (
	ErrMissingGrid   = errors.New("reference grid missing")
	ErrAmbiguousGrid = errors.New("reference grid ambiguous")
	ErrGridCoverage  = errors.New("reference grid coverage incomplete")
	ErrInvalidGrid   = errors.New("reference grid invalid")
)
