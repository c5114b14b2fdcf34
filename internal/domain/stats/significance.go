// Package stats implements the frequentist significance engine used to judge
// experiment outcomes. Evaluation is read-only and side-effect-free.
package stats

import (
	"math"

	"github.com/upliftlab/uplift/internal/domain/model"
)

// Default decision gates.
const (
	defaultSignificanceThreshold = 95.0 // confidence percent
	defaultMinimumSampleSize     = 100  // visitors per variant
)

// Counts aliases the per-variant totals evaluated by the engine.
type Counts = model.VariantCounts

// Result is the outcome of comparing a challenger variant against control.
type Result struct {
	ZScore            float64
	PValue            float64 // two-sided
	ConfidencePercent float64
	IsSignificant     bool
	WinnerVariantID   string  // empty when no winner can be declared
	LiftPercent       float64 // challenger rate relative to control rate
}

// Engine evaluates two-proportion z-tests under configurable decision gates.
type Engine struct {
	significanceThreshold float64
	minimumSampleSize     int64
}

// NewEngine creates a significance engine with configuration options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		significanceThreshold: defaultSignificanceThreshold,
		minimumSampleSize:     defaultMinimumSampleSize,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Evaluate runs a pooled two-proportion z-test of challenger against control.
//
// Significance requires both gates: the two-sided confidence must reach the
// configured threshold AND both variants must reach the minimum sample size.
// The sample-size gate exists to keep thin data from producing false winners.
func (e *Engine) Evaluate(control, challenger Counts) Result {
	res := Result{
		LiftPercent: liftPercent(control, challenger),
	}

	if control.Visitors == 0 || challenger.Visitors == 0 {
		// No data on one side; nothing to test.
		res.PValue = 1
		return res
	}

	rateA := control.ConversionRate()
	rateB := challenger.ConversionRate()

	pooled := float64(control.Conversions+challenger.Conversions) /
		float64(control.Visitors+challenger.Visitors)
	se := math.Sqrt(pooled * (1 - pooled) *
		(1/float64(control.Visitors) + 1/float64(challenger.Visitors)))

	if se == 0 {
		// All subjects converted, or none did: the rates are equal by
		// construction and there is no observable difference to test.
		res.PValue = 1
		return res
	}

	z := (rateB - rateA) / se
	res.ZScore = z
	res.ConfidencePercent = (2*normalCDF(math.Abs(z)) - 1) * 100
	res.PValue = 2 * (1 - normalCDF(math.Abs(z)))

	gatesHold := res.ConfidencePercent >= e.significanceThreshold &&
		min64(control.Visitors, challenger.Visitors) >= e.minimumSampleSize
	if !gatesHold || rateA == rateB {
		return res
	}

	res.IsSignificant = true
	if rateB > rateA {
		res.WinnerVariantID = challenger.VariantID
	} else {
		res.WinnerVariantID = control.VariantID
	}
	return res
}

// EvaluateAll compares every challenger pairwise against the control (first
// variant) and returns the per-challenger results plus the best significant
// winner, if any. If several challengers beat control significantly, the one
// with the highest conversion rate wins; a significant result in control's
// favor never overrides a challenger win.
func (e *Engine) EvaluateAll(variants []Counts) (map[string]Result, string) {
	if len(variants) < 2 {
		return nil, ""
	}

	control := variants[0]
	results := make(map[string]Result, len(variants)-1)

	winner := ""
	winnerRate := control.ConversionRate()
	controlWins := 0
	significantPairs := 0

	for _, challenger := range variants[1:] {
		res := e.Evaluate(control, challenger)
		results[challenger.VariantID] = res

		if !res.IsSignificant {
			continue
		}
		significantPairs++
		if res.WinnerVariantID == challenger.VariantID && challenger.ConversionRate() > winnerRate {
			winner = challenger.VariantID
			winnerRate = challenger.ConversionRate()
		}
		if res.WinnerVariantID == control.VariantID {
			controlWins++
		}
	}

	// Control is only the declared winner when it significantly beats every
	// challenger; otherwise the experiment stays undecided.
	if winner == "" && significantPairs > 0 && controlWins == len(variants)-1 {
		winner = control.VariantID
	}
	return results, winner
}

func liftPercent(control, challenger Counts) float64 {
	rateA := control.ConversionRate()
	if rateA == 0 {
		return 0
	}
	return (challenger.ConversionRate() - rateA) / rateA * 100
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// normalCDF approximates the cumulative distribution function of the
// standard normal distribution using Abramowitz and Stegun formula 7.1.26.
func normalCDF(x float64) float64 {
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt2

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}
