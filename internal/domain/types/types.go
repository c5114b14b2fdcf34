// Package types contains common read-model types used across the application.
package types

import "time"

// Severity classifies alerts and recommendations.
type Severity string

// Severity levels, lowest to highest.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// rank orders severities for tie-breaking; unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// StepSnapshot is one immutable funnel stage measurement.
// DropOffRate is nil when undefined (first step, or no data upstream);
// this is distinct from a drop-off of zero.
type StepSnapshot struct {
	StepID            string   `json:"step_id"`
	Ordinal           int      `json:"ordinal"`
	Visitors          int64    `json:"visitors"`
	Conversions       int64    `json:"conversions"`
	ConversionRate    float64  `json:"conversion_rate"`
	DropOffRate       *float64 `json:"drop_off_rate,omitempty"`
	AverageTimeOnStep float64  `json:"average_time_on_step_seconds"`
	FrictionPoints    []string `json:"friction_points,omitempty"`
}

// FunnelReport is an immutable per-window funnel snapshot.
type FunnelReport struct {
	Window  string         `json:"window"`
	TakenAt time.Time      `json:"taken_at"`
	Partial bool           `json:"partial,omitempty"`
	Steps   []StepSnapshot `json:"steps"`
}

// VariantReport is the per-variant slice of an experiment report.
type VariantReport struct {
	VariantID         string         `json:"variant_id"`
	Name              string         `json:"name"`
	TrafficShare      float64        `json:"traffic_share"`
	Changes           map[string]any `json:"changes,omitempty"`
	Visitors          int64          `json:"visitors"`
	Conversions       int64          `json:"conversions"`
	ConversionRate    float64        `json:"conversion_rate"`
	ConfidencePercent float64        `json:"confidence_percent"`
	LiftPercent       float64        `json:"lift_percent"`
	IsControl         bool           `json:"is_control"`
}

// ExperimentReport is the dashboard feed for one experiment.
type ExperimentReport struct {
	ExperimentID    string          `json:"experiment_id"`
	Name            string          `json:"name"`
	GoalMetric      string          `json:"goal_metric"`
	Status          string          `json:"status"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	Variants        []VariantReport `json:"variants"`
	IsSignificant   bool            `json:"is_significant"`
	WinnerVariantID string          `json:"winner_variant_id,omitempty"`
	TakenAt         time.Time       `json:"taken_at"`
}

// Alert is the outbound notification shape.
type Alert struct {
	Kind      string    `json:"kind"`
	Scope     string    `json:"scope"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Recommendation is one entry of the prioritized findings list.
// Score is Impact multiplied by Confidence; ties break on severity.
type Recommendation struct {
	Source     string   `json:"source"` // "funnel" or "experiment"
	Scope      string   `json:"scope"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity"`
	Impact     float64  `json:"impact"`
	Confidence float64  `json:"confidence"`
	Score      float64  `json:"score"`
}
