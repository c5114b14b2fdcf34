package simtraffic

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/upliftlab/uplift/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string) error {
	// Initialize the logger first
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "sim_log_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	multiWriter := io.MultiWriter(os.Stdout, file)
	log.SetOutput(multiWriter)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the traffic simulator.
func ShowHelp() {
	os.Stdout.WriteString(`Uplift Traffic Simulator
========================

A concurrent tool for driving synthetic funnel and experiment traffic
through a running Uplift engine and verifying what it reports back.

Usage:
  go run cmd/simtraffic/main.go [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -subjects int
        Number of subjects to simulate (default 5000)
  -experiment string
        Experiment ID to provision and drive (default "sim-checkout")
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -log string
        Log file for simulation output (default: sim_log_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Simulate with default settings
  go run cmd/simtraffic/main.go

  # Heavier run against a local engine
  go run cmd/simtraffic/main.go -subjects 50000 -workers 16 -url http://localhost:8080

  # Simulate with verbose output
  go run cmd/simtraffic/main.go -verbose -subjects 10000
`)
}
