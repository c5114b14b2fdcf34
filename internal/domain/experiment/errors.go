package experiment

import "errors"

// Sentinel kinds for registry errors.
var (
	ErrNotFound              = errors.New("experiment not found")
	ErrValidation            = errors.New("invalid experiment configuration")
	ErrIllegalTransition     = errors.New("illegal lifecycle transition")
	ErrConflictingExperiment = errors.New("conflicting experiment")
)
