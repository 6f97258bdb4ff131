package metricgraph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshforest/shatter/metric"
	"github.com/meshforest/shatter/metricgraph"
)

func mustRegistry(t *testing.T) *metric.Registry {
	t.Helper()
	reg, err := metric.NewDefaultRegistry()
	require.NoError(t, err)
	return reg
}

func TestExecutorComputesDependenciesOnce(t *testing.T) {
	reg := mustRegistry(t)
	ex, err := metricgraph.NewExecutor(reg, []metricgraph.Request{
		{Attr: "Z", Metrics: []string{"cv", "mean", "stddev"}},
	})
	require.NoError(t, err)

	cellAttrs := map[string][]float64{"Z": {1, 2, 3, 4, 5}}
	results, err := ex.Evaluate(context.Background(), cellAttrs)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "Z", results[0].Attr)
	assert.InDelta(t, 3.0, results[0].Values["mean"], 1e-9)
	assert.Contains(t, results[0].Values, "cv")
	assert.Contains(t, results[0].Values, "stddev")
}

func TestExecutorUnknownMetricFailsFast(t *testing.T) {
	reg := mustRegistry(t)
	_, err := metricgraph.NewExecutor(reg, []metricgraph.Request{
		{Attr: "Z", Metrics: []string{"not-a-real-metric"}},
	})
	require.Error(t, err)
	var mgErr *metricgraph.MetricGraphError
	require.ErrorAs(t, err, &mgErr)
}

func TestExecutorMultipleAttributesIndependent(t *testing.T) {
	reg := mustRegistry(t)
	ex, err := metricgraph.NewExecutor(reg, []metricgraph.Request{
		{Attr: "Z", Metrics: []string{"mean", "max"}},
		{Attr: "Intensity", Metrics: []string{"mean"}},
	})
	require.NoError(t, err)

	cellAttrs := map[string][]float64{
		"Z":         {1, 2, 3},
		"Intensity": {10, 20, 30},
	}
	results, err := ex.Evaluate(context.Background(), cellAttrs)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byAttr := map[string]metricgraph.CellResult{}
	for _, r := range results {
		byAttr[r.Attr] = r
	}
	assert.InDelta(t, 2.0, byAttr["Z"].Values["mean"], 1e-9)
	assert.InDelta(t, 20.0, byAttr["Intensity"].Values["mean"], 1e-9)
}

func TestExecutorFilteredRequest(t *testing.T) {
	reg := mustRegistry(t)
	ex, err := metricgraph.NewExecutor(reg, []metricgraph.Request{
		{Attr: "Z", Metrics: []string{"mean"}, Filter: metric.EqualsFilter("NumberOfReturns", 1)},
	})
	require.NoError(t, err)

	cellAttrs := map[string][]float64{
		"Z":               {10, 20, 999, 30, 999},
		"NumberOfReturns": {1, 1, 2, 1, 3},
	}
	results, err := ex.Evaluate(context.Background(), cellAttrs)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, results[0].Values["mean"], 1e-9)
}

func TestExecutorMissingAttributeErrors(t *testing.T) {
	reg := mustRegistry(t)
	ex, err := metricgraph.NewExecutor(reg, []metricgraph.Request{
		{Attr: "GpsTime", Metrics: []string{"mean"}},
	})
	require.NoError(t, err)

	_, err = ex.Evaluate(context.Background(), map[string][]float64{"Z": {1, 2, 3}})
	require.Error(t, err)
}
