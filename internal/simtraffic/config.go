package simtraffic

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL      string        // Base URL of the service
	Subjects     int           // Number of subjects to simulate
	Workers      int           // Number of concurrent workers
	Timeout      time.Duration // HTTP request timeout
	ExperimentID string        // Experiment to provision and drive traffic into
	LogFile      string        // Log file for simulation output
	Verbose      bool          // Enable verbose logging
}

// Event mirrors the POST /events request body.
type Event struct {
	EventID      string `json:"event_id,omitempty"`
	SubjectID    string `json:"subject_id"`
	Kind         string `json:"kind"`
	ExperimentID string `json:"experiment_id,omitempty"`
	StepID       string `json:"step_id,omitempty"`
	TS           string `json:"ts,omitempty"`
}

// Assignment mirrors the GET /assign response body.
type Assignment struct {
	ExperimentID string                 `json:"experiment_id"`
	SubjectID    string                 `json:"subject_id"`
	VariantID    string                 `json:"variant_id"`
	Changes      map[string]interface{} `json:"changes,omitempty"`
	Fallback     bool                   `json:"fallback"`
}

// AckResponse represents the response from event submission.
type AckResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// journey is one subject's simulated walk through the funnel.
type journey struct {
	SubjectID string
	Steps     []string // funnel steps reached, in order
	Exposed   bool     // saw the experiment surface
}

// Stats holds simulation statistics.
type Stats struct {
	SubjectsSimulated int
	EventsSubmitted   int
	EventsAccepted    int
	EventsDuplicate   int
	EventsFailed      int
	AssignmentsMade   int
	StabilityChecks   int
	StabilityBreaks   int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
