// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// Kind enumerates the behavioral event types accepted by the engine.
type Kind string

// Event kinds accepted on ingestion.
const (
	KindPageView   Kind = "page_view"
	KindFunnelStep Kind = "funnel_step"
	KindExposure   Kind = "exposure"
	KindConversion Kind = "conversion"
)

// Valid reports whether k is one of the accepted event kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPageView, KindFunnelStep, KindExposure, KindConversion:
		return true
	default:
		return false
	}
}

// Event represents a behavioral event submitted by clients.
// Fields mirror the JSON schema for POST /events.
type Event struct {
	EventID      string    // unique id for idempotency
	SubjectID    string    // visitor/session identifier
	Kind         Kind      // page_view, funnel_step, exposure, conversion
	ExperimentID string    // set for exposure/conversion events
	StepID       string    // set for funnel_step events
	TS           time.Time // event timestamp
}

// DerivedID returns the event id, synthesizing a deterministic one from the
// event content when the caller did not provide any. Deterministic ids keep
// dedupe meaningful for producers that cannot mint ids themselves.
func (e Event) DerivedID() string {
	if e.EventID != "" {
		return e.EventID
	}
	return fmt.Sprintf("%s_%s_%s_%s_%d", e.SubjectID, e.Kind, e.ExperimentID, e.StepID, e.TS.UnixMilli())
}

// RecordOutcome classifies the result of submitting one event for
// ingestion.
type RecordOutcome int

// Ingestion outcomes.
const (
	RecordAccepted RecordOutcome = iota
	RecordDuplicate
	RecordInvalid
	RecordRejected
)

// VariantCounts carries the per-variant totals consumed by the significance
// engine.
type VariantCounts struct {
	VariantID   string
	Visitors    int64
	Conversions int64
}

// ConversionRate returns conversions/visitors, 0 when there are no visitors.
func (v VariantCounts) ConversionRate() float64 {
	if v.Visitors == 0 {
		return 0
	}
	return float64(v.Conversions) / float64(v.Visitors)
}
