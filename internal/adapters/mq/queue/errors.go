package queue

import "errors"

// Sentinel kinds for buffer errors.
var (
	ErrClosed = errors.New("buffer closed")
)
