package simtraffic

import (
	"context"
	"fmt"
	"log"

	"github.com/upliftlab/uplift/pkg/logger"
)

// stabilitySampleSize caps how many subjects get re-assigned during verification.
const stabilitySampleSize = 200

// funnelReport mirrors the GET /reports/funnel response body.
type funnelReport struct {
	Window  string `json:"window"`
	Partial bool   `json:"partial,omitempty"`
	Steps   []struct {
		StepID            string   `json:"step_id"`
		Visitors          int64    `json:"visitors"`
		Conversions       int64    `json:"conversions"`
		ConversionRate    float64  `json:"conversion_rate"`
		AverageTimeOnStep float64  `json:"average_time_on_step_seconds"`
		FrictionPoints    []string `json:"friction_points,omitempty"`
	} `json:"steps"`
}

// experimentReport mirrors the GET /experiments/{id}/report response body.
type experimentReport struct {
	ExperimentID  string `json:"experiment_id"`
	Status        string `json:"status"`
	IsSignificant bool   `json:"is_significant"`
	Winner        string `json:"winner_variant_id,omitempty"`
	Variants      []struct {
		VariantID         string  `json:"variant_id"`
		Visitors          int64   `json:"visitors"`
		Conversions       int64   `json:"conversions"`
		ConversionRate    float64 `json:"conversion_rate"`
		ConfidencePercent float64 `json:"confidence_percent"`
		LiftPercent       float64 `json:"lift_percent"`
		IsControl         bool    `json:"is_control"`
	} `json:"variants"`
}

// verifyAssignmentStability re-requests assignments for a sample of
// subjects and checks each gets the same variant it got the first time.
func verifyAssignmentStability(ctx context.Context, config *Config, assignments map[string]Assignment, stats *Stats) error {
	log.Println("🔍 Verifying assignment stability...")

	if len(assignments) == 0 {
		return fmt.Errorf("no assignments to verify")
	}

	client := newHTTPClient(config.Timeout)

	checked := 0
	breaks := 0
	for subjectID, original := range assignments {
		if checked >= stabilitySampleSize {
			break
		}
		checked++

		replay, err := retrieveAssignment(ctx, client, config.BaseURL, config.ExperimentID, subjectID)
		if err != nil {
			return fmt.Errorf("stability check failed for %s: %w", subjectID, err)
		}

		if replay.VariantID != original.VariantID {
			breaks++
			log.Printf("⚠️  Assignment drift for %s: %s became %s",
				subjectID, original.VariantID, replay.VariantID)
		}
	}

	stats.StabilityChecks = checked
	stats.StabilityBreaks = breaks

	if breaks > 0 {
		return fmt.Errorf("%d of %d subjects changed variant on replay", breaks, checked)
	}

	log.Printf("✅ Assignment stability verified: %d subjects replayed identically", checked)
	return nil
}

// verifyReports fetches the funnel and experiment reports and sanity
// checks them against what the simulator submitted.
func verifyReports(ctx context.Context, config *Config, journeys []journey, stats *Stats) error {
	log.Println("🔍 Verifying reports...")

	client := newHTTPClient(config.Timeout)

	// Funnel report over a window wide enough to cover the whole run.
	resp, err := client.Get(ctx, config.BaseURL+"/reports/funnel?window=1d")
	if err != nil {
		return fmt.Errorf("failed to fetch funnel report: %w", err)
	}
	var funnel funnelReport
	if err := decodeResponse(resp, &funnel); err != nil {
		return fmt.Errorf("failed to decode funnel report: %w", err)
	}

	expected := expectedStepCounts(journeys)
	for _, step := range funnel.Steps {
		want := expected[step.StepID]
		log.Printf("   %s: %d visitors (submitted %d), conversion rate %.3f",
			step.StepID, step.Visitors, want, step.ConversionRate)
		if step.Visitors < want {
			log.Printf("⚠️  Step %s reports fewer visitors (%d) than submitted (%d); events may still be draining",
				step.StepID, step.Visitors, want)
		}
	}

	// Experiment report.
	resp, err = client.Get(ctx, config.BaseURL+"/experiments/"+config.ExperimentID+"/report")
	if err != nil {
		return fmt.Errorf("failed to fetch experiment report: %w", err)
	}
	var report experimentReport
	if err := decodeResponse(resp, &report); err != nil {
		return fmt.Errorf("failed to decode experiment report: %w", err)
	}

	log.Printf("🧪 Experiment %s (%s): significant=%v winner=%q",
		report.ExperimentID, report.Status, report.IsSignificant, report.Winner)
	for _, v := range report.Variants {
		log.Printf("   %s: %d visitors, %d conversions (%.3f), confidence %.1f%%, lift %+.1f%%",
			v.VariantID, v.Visitors, v.Conversions, v.ConversionRate, v.ConfidencePercent, v.LiftPercent)
	}

	log.Println("✅ Report verification completed")
	return nil
}

// expectedStepCounts tallies distinct subjects per funnel step from the
// generated journeys.
func expectedStepCounts(journeys []journey) map[string]int64 {
	counts := make(map[string]int64, len(funnelSteps))
	for _, j := range journeys {
		for _, step := range j.Steps {
			counts[step]++
		}
	}
	return counts
}

// displayFinalStats prints the final simulation statistics.
func displayFinalStats(stats *Stats) {
	var successRate, eventsPerSecond float64

	if stats.EventsSubmitted > 0 {
		successRate = float64(stats.EventsAccepted) / float64(stats.EventsSubmitted) * PercentageMultiplier
	}

	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("subjectsSimulated", stats.SubjectsSimulated),
		logger.Int("eventsSubmitted", stats.EventsSubmitted),
		logger.Int("eventsAccepted", stats.EventsAccepted),
		logger.Int("eventsDuplicate", stats.EventsDuplicate),
		logger.Int("eventsFailed", stats.EventsFailed),
		logger.Int("assignmentsMade", stats.AssignmentsMade),
		logger.Int("stabilityChecks", stats.StabilityChecks),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("successRate", successRate),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
