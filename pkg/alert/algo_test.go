package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(base time.Time, values ...float64) []Sample {
	out := make([]Sample, len(values))
	for i, v := range values {
		out[i] = Sample{Time: base.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return out
}

func TestParseSensitivity(t *testing.T) {
	tests := []struct {
		name    string
		tok     string
		want    Sensitivity
		wantErr bool
	}{
		{name: "absolute", tok: "30", want: Sensitivity{Value: 30}},
		{name: "percent", tok: "12.5%", want: Sensitivity{Value: 12.5, Percent: true}},
		{name: "empty defaults", tok: "", want: Sensitivity{Value: DefaultVariationSensitivity}},
		{name: "garbage", tok: "lots", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSensitivity(tt.tok)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// The first call seeds the baseline from the current series itself, so
// the first tick can never alert.
func TestCumulativeDifferenceFirstTickNeverAlerts(t *testing.T) {
	now := time.Now()
	current := series(now, 1, 1000)

	eval, baseline := EvaluateCumulativeDifference(current, nil, Sensitivity{Value: 1})

	assert.False(t, eval.Fired)
	require.Len(t, baseline, 2)
	assert.Equal(t, current, baseline)
}

func TestCumulativeDifferenceFiresOnFreshSwing(t *testing.T) {
	now := time.Now()
	previous := series(now, 10, 12)
	current := series(now.Add(time.Hour), 10, 60)

	eval, next := EvaluateCumulativeDifference(current, previous, Sensitivity{Value: 30})

	assert.True(t, eval.Fired)
	assert.InDelta(t, 50, eval.Difference, 1e-9)
	assert.Equal(t, current, next)
}

func TestCumulativeDifferenceStaleSeriesDoesNotFire(t *testing.T) {
	now := time.Now()
	previous := series(now, 10, 60)

	// Same last timestamp as the baseline: the source stalled.
	eval, _ := EvaluateCumulativeDifference(previous, previous, Sensitivity{Value: 5})
	assert.False(t, eval.Fired)
}

func TestCumulativeDifferencePercentMode(t *testing.T) {
	now := time.Now()
	previous := series(now, 100, 100)
	current := series(now.Add(time.Hour), 100, 125)

	// (125-100)/125*100 = 20%
	eval, _ := EvaluateCumulativeDifference(current, previous, Sensitivity{Value: 15, Percent: true})
	assert.True(t, eval.Fired)
	assert.InDelta(t, 20, eval.Difference, 1e-9)

	eval, _ = EvaluateCumulativeDifference(current, previous, Sensitivity{Value: 25, Percent: true})
	assert.False(t, eval.Fired)
}

func TestCumulativeDifferenceSortsByTime(t *testing.T) {
	now := time.Now()
	previous := series(now, 5, 5)
	// Shuffled arrival order; sorted, the newest sample is 50.
	current := []Sample{
		{Time: now.Add(2 * time.Hour), Value: 50},
		{Time: now.Add(time.Hour), Value: 5},
	}

	eval, next := EvaluateCumulativeDifference(current, previous, Sensitivity{Value: 10})
	assert.True(t, eval.Fired)
	assert.InDelta(t, 45, eval.Difference, 1e-9)
	assert.True(t, next[0].Time.Before(next[1].Time))
}

func TestConsistentVariationFires(t *testing.T) {
	// Halves [1,2,3] and [10,20,30] compare as the quantized 0.82 vs
	// 8.16, spreading to 89. The raw deviations sit in an exact 10×
	// ratio and would spread to 90; the two-decimal quantization is
	// what pins this at 89.
	eval, ok := EvaluateConsistentVariation([]float64{1, 2, 3, 10, 20, 30}, DefaultVariationSensitivity)

	require.True(t, ok)
	assert.Equal(t, 89, eval.Percentage)
	assert.True(t, eval.Fired)
}

func TestConsistentVariationDegenerateInputs(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
	}{
		{name: "empty", values: nil},
		{name: "odd length", values: []float64{1, 2, 3}},
		{name: "zero deviation halves", values: []float64{10, 10, 10, 50, 50, 50}},
		{name: "near-zero deviation quantizes away", values: []float64{10, 10.001, 1, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := EvaluateConsistentVariation(tt.values, DefaultVariationSensitivity)
			assert.False(t, ok)
		})
	}
}

func TestConsistentVariationBelowSensitivity(t *testing.T) {
	eval, ok := EvaluateConsistentVariation([]float64{1, 2, 3, 2, 4, 6}, DefaultVariationSensitivity)

	require.True(t, ok)
	assert.False(t, eval.Fired)
}

func TestValues(t *testing.T) {
	got := Values(series(time.Now(), 1, 2, 3))
	assert.Equal(t, []float64{1, 2, 3}, got)
}
