package simtraffic

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/upliftlab/uplift/pkg/logger"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
)

// Funnel steps replayed by the simulator, in order. These match the
// service's default funnel so reports line up out of the box.
var funnelSteps = []string{"landing", "signup", "activation", "purchase"}

// Per-transition continuation probabilities. Index i is the chance a
// subject on funnelSteps[i] reaches funnelSteps[i+1].
var continueRates = []float64{0.70, 0.80, 0.55}

// Per-variant conversion rates used once a subject is assigned. The
// challenger converts noticeably better so significance shows up at
// realistic subject counts.
const (
	controlConversionRate    = 0.06
	challengerConversionRate = 0.11
)

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// conversionRateFor picks the simulated goal rate for a variant.
func conversionRateFor(variantID string) float64 {
	if variantID == "control" {
		return controlConversionRate
	}
	return challengerConversionRate
}

// generateJourneys creates one funnel walk per subject with unique subject IDs.
func generateJourneys(ctx context.Context, config *Config, stats *Stats) ([]journey, error) {
	logger.Get().Info(ctx, "generating journeys with unique subject IDs", logger.Int("subjects", config.Subjects))

	journeys := make([]journey, config.Subjects)

	type journeyResult struct {
		index   int
		journey journey
		err     error
	}

	resultChan := make(chan journeyResult, config.Subjects)

	// Use worker pool for journey generation
	workerCount := minInt(config.Workers, config.Subjects)
	perWorker := config.Subjects / workerCount

	for worker := 0; worker < workerCount; worker++ {
		start := worker * perWorker
		end := start + perWorker
		if worker == workerCount-1 {
			end = config.Subjects // Last worker gets remaining subjects
		}

		go func(start, end int) {
			for i := start; i < end; i++ {
				select {
				case <-ctx.Done():
					resultChan <- journeyResult{index: i, err: ctx.Err()}
					return
				default:
					resultChan <- journeyResult{index: i, journey: generateSingleJourney()}
				}
			}
		}(start, end)
	}

	// Collect results
	for i := 0; i < config.Subjects; i++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during journey generation: %w", ctx.Err())
		case result := <-resultChan:
			if result.err != nil {
				return nil, fmt.Errorf("failed to generate journey %d: %w", result.index, result.err)
			}
			journeys[result.index] = result.journey
		}
	}

	stats.SubjectsSimulated = len(journeys)
	logger.Get().Info(ctx, "generated journeys successfully", logger.Int("count", len(journeys)))

	return journeys, nil
}

// generateSingleJourney walks one subject down the funnel. Every
// subject lands; each later step is reached with the configured
// continuation probability. Subjects that reach the signup surface are
// exposed to the experiment.
func generateSingleJourney() journey {
	j := journey{
		SubjectID: uuid.New().String(),
		Steps:     []string{funnelSteps[0]},
	}

	for i, rate := range continueRates {
		if getRandomFloat() >= rate {
			break
		}
		j.Steps = append(j.Steps, funnelSteps[i+1])
	}

	// The experiment surface sits on the signup step.
	j.Exposed = len(j.Steps) >= 2
	return j
}

// minInt returns the minimum of two integers.
func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
