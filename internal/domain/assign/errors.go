package assign

import "errors"

// Sentinel kinds for assignment errors.
var (
	// ErrExperimentNotActive signals an assignment request against an
	// experiment that is not accepting new assignments. Callers should
	// serve the accompanying control assignment rather than fail.
	ErrExperimentNotActive = errors.New("experiment not active")
)
