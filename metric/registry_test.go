package metric_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshforest/shatter/metric"
)

func mustRegistry(t *testing.T) *metric.Registry {
	t.Helper()
	reg, err := metric.NewDefaultRegistry()
	require.NoError(t, err)
	return reg
}

func compute(t *testing.T, reg *metric.Registry, name string, data []float64) float64 {
	t.Helper()
	d, err := reg.Get(name)
	require.NoError(t, err)

	deps := make(map[string]float64, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		deps[dep] = compute(t, reg, dep, data)
	}
	return d.Fn(data, deps)
}

func TestRegistryContainsFullCatalog(t *testing.T) {
	reg := mustRegistry(t)
	for _, name := range []string{
		"count", "mean", "median", "min", "max", "mode", "stddev", "variance",
		"cv", "abovemean", "abovemode", "skewness", "kurtosis", "aad",
		"madmedian", "madmean", "madmode", "iq", "90m10", "95m05", "crr",
		"sqmean", "cumean", "l1", "l2", "l3", "l4", "lcv", "lskewness",
		"lkurtosis", "p01", "p50", "p99", "allcover", "profilearea",
	} {
		_, err := reg.Get(name)
		assert.NoError(t, err, "missing metric %s", name)
	}
}

func TestRegistryUnknownMetric(t *testing.T) {
	reg := mustRegistry(t)
	_, err := reg.Get("not-a-metric")
	assert.ErrorIs(t, err, metric.ErrUnknownMetric)
}

func TestCountAndMean(t *testing.T) {
	reg := mustRegistry(t)
	data := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 5.0, compute(t, reg, "count", data))
	assert.Equal(t, 3.0, compute(t, reg, "mean", data))
}

func TestMedianOddEven(t *testing.T) {
	reg := mustRegistry(t)
	assert.Equal(t, 3.0, compute(t, reg, "median", []float64{1, 2, 3, 4, 5}))
	assert.Equal(t, 2.5, compute(t, reg, "median", []float64{1, 2, 3, 4}))
}

func TestPercentileMonotonicity(t *testing.T) {
	reg := mustRegistry(t)
	data := []float64{5, 1, 9, 3, 7, 2, 8, 4, 6, 0}
	prior := math.Inf(-1)
	for _, p := range []string{"p01", "p05", "p10", "p20", "p25", "p30", "p40", "p50", "p60", "p70", "p75", "p80", "p90", "p95", "p99"} {
		v := compute(t, reg, p, data)
		assert.GreaterOrEqual(t, v, prior, "percentile %s must not decrease", p)
		prior = v
	}
}

func TestSmallSampleSentinelsForHighMoments(t *testing.T) {
	reg := mustRegistry(t)
	data := []float64{1, 2, 3} // len < 4

	for _, name := range []string{"skewness", "kurtosis", "l1", "l2", "l3", "l4", "lcv", "lskewness", "lkurtosis"} {
		assert.Equal(t, metric.Sentinel, compute(t, reg, name, data), "metric %s should sentinel below 4 samples", name)
	}
}

func TestCVZeroMeanSentinel(t *testing.T) {
	reg := mustRegistry(t)
	data := []float64{-1, 0, 1}
	assert.Equal(t, metric.Sentinel, compute(t, reg, "cv", data))
}

func TestCRRFlatDataSentinel(t *testing.T) {
	reg := mustRegistry(t)
	data := []float64{5, 5, 5, 5}
	assert.Equal(t, metric.Sentinel, compute(t, reg, "crr", data))
}

func TestModeUsesHistogramArgmaxNotRawArgmax(t *testing.T) {
	reg := mustRegistry(t)
	// a cluster near 1.0 outweighs a single repeated raw value at 9.0,
	// the redesigned histogram-argmax mode must land in the low cluster.
	data := []float64{1.0, 1.05, 1.1, 1.15, 1.2, 9.0, 9.0}
	got := compute(t, reg, "mode", data)
	assert.Less(t, got, 5.0)
}

func TestAbovemeanUsesMeanDependency(t *testing.T) {
	reg := mustRegistry(t)
	data := []float64{1, 2, 3, 4, 5} // mean = 3, above mean: 4,5 => 2/5
	assert.InDelta(t, 0.4, compute(t, reg, "abovemean", data), 1e-9)
}

func TestAllcoverThreshold(t *testing.T) {
	reg := mustRegistry(t)
	data := []float64{0.5, 1.5, 2.5, 3.5} // threshold 2.0: 2.5, 3.5 above => 2/4
	assert.InDelta(t, 0.5, compute(t, reg, "allcover", data), 1e-9)
}

func TestFilteredMeanOnSingleReturnPoints(t *testing.T) {
	// variant of spec scenario 6 (which averages NumberOfReturns itself):
	// mean(Z) filtered to NumberOfReturns == 1
	returns := []float64{1, 1, 2, 1, 3}
	z := []float64{10, 20, 999, 30, 999}
	attrs := map[string][]float64{"NumberOfReturns": returns, "Z": z}

	filter := metric.EqualsFilter("NumberOfReturns", 1)
	filtered := make([]float64, 0, len(z))
	for i, v := range z {
		if filter(i, attrs) {
			filtered = append(filtered, v)
		}
	}

	reg := mustRegistry(t)
	assert.Equal(t, 20.0, compute(t, reg, "mean", filtered))
}
