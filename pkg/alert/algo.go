// Package alert implements the two statistical algorithms alert
// commands evaluate on every tick.
package alert

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Algo selects the evaluation algorithm for an alert command.
type Algo string

const (
	CumulativeDifference Algo = "cumulative_difference"
	ConsistentVariation  Algo = "consistent_variation"
)

// DefaultVariationSensitivity applies when an alert setup names no
// threshold.
const DefaultVariationSensitivity = 75

// Sample is one observed data point. Alert handlers return a series of
// these.
type Sample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Evaluation is one tick's verdict.
type Evaluation struct {
	Fired bool
	// Difference is the raw or percentage delta (cumulative difference).
	Difference float64
	// Percentage is the variation spread (consistent variation).
	Percentage int
}

// Sensitivity is a parsed alert threshold. A trailing "%" on the source
// token switches cumulative difference to percentage mode.
type Sensitivity struct {
	Value   float64
	Percent bool
}

// ParseSensitivity parses a threshold token like "30" or "12.5%". An
// empty token yields the default variation sensitivity.
func ParseSensitivity(tok string) (Sensitivity, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return Sensitivity{Value: DefaultVariationSensitivity}, nil
	}
	s := Sensitivity{Percent: strings.HasSuffix(tok, "%")}
	v, err := strconv.ParseFloat(strings.TrimSuffix(tok, "%"), 64)
	if err != nil {
		return Sensitivity{}, fmt.Errorf("alert: sensitivity %q: %w", tok, err)
	}
	s.Value = v
	return s, nil
}

// EvaluateCumulativeDifference compares the current series against the
// previous tick's baseline and returns the verdict plus the series to
// store as the next baseline.
//
// The first call seeds the baseline from the current series itself, so
// the first tick can never alert. That is deliberate baseline seeding,
// not a defect. The alert only fires when the current series' last
// timestamp is strictly after the baseline's, which keeps a stalled
// data source from re-firing on the same sample.
func EvaluateCumulativeDifference(current, previous []Sample, sens Sensitivity) (Evaluation, []Sample) {
	if len(current) == 0 {
		return Evaluation{}, previous
	}
	current = append([]Sample(nil), current...)
	sort.Slice(current, func(i, j int) bool {
		return current[i].Time.Before(current[j].Time)
	})

	if previous == nil {
		return Evaluation{}, current
	}

	first := current[0]
	last := current[len(current)-1]
	diff := last.Value - first.Value
	if sens.Percent && last.Value != 0 {
		diff = diff / last.Value * 100
	}

	prevLast := previous[len(previous)-1]
	fired := math.Abs(diff) > sens.Value && last.Time.After(prevLast.Time)

	return Evaluation{Fired: fired, Difference: diff}, current
}

// EvaluateConsistentVariation splits the series into two equal halves,
// compares their standard deviations, and fires when the spread
// percentage exceeds the sensitivity. Each half's deviation is
// quantized to two decimals before the spread is taken, so e.g.
// 1,2,3 vs 10,20,30 compares 0.82 against 8.16 and yields 89, not the
// raw ratio's 90. Degenerate inputs (odd or empty length, either
// half's quantized deviation zero) yield no verdict; the second return
// is false.
func EvaluateConsistentVariation(values []float64, sensitivity float64) (Evaluation, bool) {
	n := len(values)
	if n == 0 || n%2 != 0 {
		return Evaluation{}, false
	}
	sdA := roundCents(stdDev(values[:n/2]))
	sdB := roundCents(stdDev(values[n/2:]))
	if sdA == 0 || sdB == 0 {
		return Evaluation{}, false
	}
	pct := int(math.Floor(math.Abs(sdA-sdB) / math.Max(sdA, sdB) * 100))
	return Evaluation{Fired: float64(pct) > sensitivity, Percentage: pct}, true
}

// roundCents quantizes to two decimals.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Values projects a sample series onto its values for the variation
// algorithm.
func Values(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

// stdDev is the population standard deviation.
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}
