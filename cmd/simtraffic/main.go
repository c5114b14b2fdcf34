package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/upliftlab/uplift/internal/simtraffic"
)

// Default configuration constants.
const (
	defaultSubjects   = 5000
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultTimeout    = 30 * time.Second
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL      = flag.String("url", "http://localhost:9080", "Base URL of the service")
		subjects     = flag.Int("subjects", defaultSubjects, "Number of subjects to simulate")
		experimentID = flag.String("experiment", "sim-checkout", "Experiment ID to provision and drive")
		workers      = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout      = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		logFile      = flag.String("log", "", "Log file for simulation output (default: sim_log_TIMESTAMP.log)")
		verbose      = flag.Bool("verbose", false, "Enable verbose logging")
		help         = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simtraffic.ShowHelp()
		return
	}

	// Setup logging
	if err := simtraffic.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	// Create simulation configuration
	config := &simtraffic.Config{
		BaseURL:      *baseURL,
		Subjects:     *subjects,
		Workers:      *workers,
		Timeout:      *timeout,
		ExperimentID: *experimentID,
		LogFile:      *logFile,
		Verbose:      *verbose,
	}

	// Run the simulation
	if err := simtraffic.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		return
	}
}
