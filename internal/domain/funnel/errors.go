package funnel

import "errors"

// Sentinel kinds for funnel analysis errors.
var (
	// ErrAnalysisAborted wraps a cancelled analysis; the accompanying
	// report carries the steps measured so far.
	ErrAnalysisAborted = errors.New("funnel analysis aborted")
)
