// Package repository defines the assignment record store interface and errors.
//
// Assignment records are the stability guarantee of the engine: once a
// subject is bucketed into a variant, that mapping never changes for the
// life of the experiment.
package repository

import (
	"context"
	"time"
)

// Record is one immutable (experiment, subject) -> variant mapping.
type Record struct {
	ExperimentID string
	SubjectID    string
	VariantID    string
	AssignedAt   time.Time
}

// Store provides write-once access to assignment records.
type Store interface {
	// Get returns the record for (experimentID, subjectID).
	// Returns ErrNotFound if the pair was never assigned.
	Get(ctx context.Context, experimentID, subjectID string) (Record, error)

	// PutIfAbsent stores rec unless a record already exists for its key.
	// It returns the authoritative record and true when rec was stored,
	// false when an earlier record won the race. The check-then-act is
	// atomic per key.
	PutIfAbsent(ctx context.Context, rec Record) (Record, bool)

	// Count returns the number of records tracked across all experiments.
	Count(ctx context.Context) int
}
