package simtraffic

import (
	"context"
	"fmt"
	"time"

	"github.com/upliftlab/uplift/pkg/logger"
)

// journeyBackdate pushes simulated journeys into the recent past so
// every generated timestamp lands inside the default report window.
const journeyBackdate = time.Hour

// stepSpacing is the simulated dwell time between consecutive funnel steps.
const stepSpacing = 45 * time.Second

// Run executes the complete traffic simulation.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime: time.Now(),
	}

	logger.Get().Info(ctx, "starting uplift traffic simulation",
		logger.String("baseURL", config.BaseURL),
		logger.Int("subjects", config.Subjects),
		logger.Int("workers", config.Workers),
		logger.String("timeout", config.Timeout.String()),
		logger.String("experiment", config.ExperimentID),
		logger.String("logFile", config.LogFile),
		logger.Any("verbose", config.Verbose))

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Provision the experiment
	if err := provisionExperiment(ctx, config); err != nil {
		return fmt.Errorf("experiment provisioning failed: %w", err)
	}

	// Step 3: Generate journeys
	journeys, err := generateJourneys(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("journey generation failed: %w", err)
	}

	// Step 4: Assign exposed subjects so conversion behavior can follow
	// the variant each subject actually sees
	assignments, err := assignSubjects(ctx, config, journeys, stats)
	if err != nil {
		return fmt.Errorf("subject assignment failed: %w", err)
	}

	// Step 5: Submit events concurrently
	events := buildEvents(config, journeys, assignments)
	if err := submitEvents(ctx, config, events, stats); err != nil {
		return fmt.Errorf("event submission failed: %w", err)
	}

	// Step 6: Wait for the aggregator to drain
	logger.Get().Info(ctx, "waiting for events to be aggregated")
	time.Sleep(AggregationDelay)

	// Step 7: Verify assignment stability under replay
	if err := verifyAssignmentStability(ctx, config, assignments, stats); err != nil {
		return fmt.Errorf("assignment stability verification failed: %w", err)
	}

	// Step 8: Verify the reports reflect submitted traffic
	if err := verifyReports(ctx, config, journeys, stats); err != nil {
		return fmt.Errorf("report verification failed: %w", err)
	}

	// Final statistics
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	displayFinalStats(stats)

	logger.Get().Info(ctx, "simulation completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "checking service health")

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/healthz"

	resp, err := client.Get(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if _, err := readResponseBody(resp); err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}

	// Accept any 200 response as healthy (the service returns Prometheus metrics)
	if resp.StatusCode != StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// provisionExperiment creates and starts the experiment the simulator
// drives traffic into. An already-registered experiment is reused.
func provisionExperiment(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "provisioning experiment", logger.String("experiment", config.ExperimentID))

	client := newHTTPClient(config.Timeout)

	payload := map[string]interface{}{
		"id":                 config.ExperimentID,
		"name":               "Simulated checkout experiment",
		"goal_metric":        "purchase",
		"traffic_allocation": 100,
		"variants": []map[string]interface{}{
			{
				"id":            "control",
				"name":          "Current checkout",
				"traffic_share": 50,
			},
			{
				"id":            "one-click",
				"name":          "One-click checkout",
				"traffic_share": 50,
				"changes":       map[string]interface{}{"checkout": "one_click"},
			},
		},
	}

	resp, err := client.Post(ctx, config.BaseURL+"/experiments", payload)
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}
	if _, err := readResponseBody(resp); err != nil {
		return fmt.Errorf("failed to read create response: %w", err)
	}

	switch resp.StatusCode {
	case StatusCreated:
		logger.Get().Info(ctx, "experiment created")
	case 409:
		// A previous run already registered it, which is fine.
		logger.Get().Info(ctx, "experiment already exists, reusing it")
	default:
		return fmt.Errorf("experiment creation failed with status: %d", resp.StatusCode)
	}

	resp, err = client.Post(ctx, config.BaseURL+"/experiments/"+config.ExperimentID+"/start", nil)
	if err != nil {
		return fmt.Errorf("failed to start experiment: %w", err)
	}
	if _, err := readResponseBody(resp); err != nil {
		return fmt.Errorf("failed to read start response: %w", err)
	}

	switch resp.StatusCode {
	case StatusOK:
		logger.Get().Info(ctx, "experiment started")
	case 409:
		logger.Get().Info(ctx, "experiment already running")
	default:
		return fmt.Errorf("experiment start failed with status: %d", resp.StatusCode)
	}

	return nil
}

// buildEvents turns journeys and assignments into the event stream the
// engine ingests. Event IDs are derived from subject and step, so a
// rerun over the same journeys deduplicates instead of double counting.
func buildEvents(config *Config, journeys []journey, assignments map[string]Assignment) []Event {
	base := time.Now().Add(-journeyBackdate)

	events := make([]Event, 0, len(journeys)*2)
	for _, j := range journeys {
		for i, step := range j.Steps {
			events = append(events, Event{
				EventID:   j.SubjectID + ":" + step,
				SubjectID: j.SubjectID,
				Kind:      "funnel_step",
				StepID:    step,
				TS:        base.Add(time.Duration(i) * stepSpacing).UTC().Format(time.RFC3339),
			})
		}

		if !j.Exposed {
			continue
		}

		events = append(events, Event{
			EventID:      j.SubjectID + ":exposure",
			SubjectID:    j.SubjectID,
			Kind:         "exposure",
			ExperimentID: config.ExperimentID,
			TS:           base.Add(stepSpacing).UTC().Format(time.RFC3339),
		})

		assignment, ok := assignments[j.SubjectID]
		if !ok || assignment.Fallback {
			continue
		}

		if getRandomFloat() < conversionRateFor(assignment.VariantID) {
			events = append(events, Event{
				EventID:      j.SubjectID + ":conversion",
				SubjectID:    j.SubjectID,
				Kind:         "conversion",
				ExperimentID: config.ExperimentID,
				TS:           base.Add(time.Duration(len(j.Steps)) * stepSpacing).UTC().Format(time.RFC3339),
			})
		}
	}

	return events
}
