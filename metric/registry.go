// Package metric catalogs the named per-cell reduction functions (spec
// §4.4): pure attr-vector -> scalar functions with a declared output dtype,
// optional dependencies on other metrics, and an optional row filter.
package metric

import (
	"errors"
	"fmt"
	"math"
)

var ErrUnknownMetric = errors.New("metric: unknown name")
var ErrUnknownAttr = errors.New("metric: unknown attribute in filter")

// Filter is a row-level predicate evaluated against a cell's raw attribute
// vectors before a metric sees its filtered input vector (spec §4.4,
// scenario 6: `mean` on `NumberOfReturns` filtered by `NumberOfReturns==1`).
type Filter func(row int, cellAttrs map[string][]float64) bool

// Fn computes a metric's scalar output from the (possibly filtered) data
// vector for one attribute in one cell. deps carries the already-computed
// values of this metric's declared dependencies, keyed by metric name.
type Fn func(data []float64, deps map[string]float64) float64

// Descriptor is the catalog entry for one named metric.
type Descriptor struct {
	Name         string
	Dtype        string // tiledb-style dtype tag: "float32", "int64", ...
	Dependencies []string
	Filter       Filter
	Fn           Fn
}

// Registry is a read-only, process-wide catalog of metric descriptors. It
// is safe for concurrent use once built; nothing mutates it after startup.
type Registry struct {
	entries map[string]Descriptor
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (Descriptor, error) {
	d, ok := r.entries[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}
	return d, nil
}

// Names returns every metric name in the registry, in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Subset returns a new Registry restricted to the named metrics (and,
// transitively, nothing else — dependency inclusion is the Metric Graph
// Executor's job, not the registry's).
func (r *Registry) Subset(names []string) (*Registry, error) {
	sub := &Registry{entries: make(map[string]Descriptor, len(names))}
	for _, n := range names {
		d, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		sub.entries[n] = d
	}
	return sub, nil
}

// guardShort returns Sentinel when data has fewer than min elements,
// otherwise runs fn.
func guardShort(min int, fn func([]float64) float64) func([]float64) float64 {
	return func(data []float64) float64 {
		if len(data) < min {
			return Sentinel
		}
		return fn(data)
	}
}

// EqualsFilter constructs a filter that keeps only rows where attr's
// value equals want, used by callers building metric sets with predicates
// equivalent to spec §8 scenario 6 (`NumberOfReturns == 1`).
func EqualsFilter(attr string, want float64) Filter {
	return func(row int, cellAttrs map[string][]float64) bool {
		vec, ok := cellAttrs[attr]
		if !ok || row >= len(vec) {
			return false
		}
		return vec[row] == want
	}
}

// NewDefaultRegistry builds the full curated "grid_metrics" catalog (spec
// §4.4, supplemented per SPEC_FULL.md §4.4.1 from the original source's
// complete metric.py catalog).
func NewDefaultRegistry() (*Registry, error) {
	dtypes, err := dtypeTable()
	if err != nil {
		return nil, err
	}

	reg := &Registry{entries: make(map[string]Descriptor, len(dtypes))}

	def := func(name string, deps []string, fn Fn) {
		reg.entries[name] = Descriptor{
			Name:         name,
			Dtype:        dtypes[name],
			Dependencies: deps,
			Fn:           fn,
		}
	}
	plain := func(name string, fn func([]float64) float64) {
		def(name, nil, func(data []float64, _ map[string]float64) float64 { return fn(data) })
	}

	plain("count", func(d []float64) float64 { return float64(len(d)) })
	plain("mean", mean)
	plain("median", median)
	plain("min", func(d []float64) float64 { lo, _ := minMax(d); return lo })
	plain("max", func(d []float64) float64 { _, hi := minMax(d); return hi })
	plain("mode", histogramMode)
	plain("stddev", func(d []float64) float64 { return math.Sqrt(variance(d)) })
	plain("variance", variance)

	def("cv", []string{"mean", "stddev"}, func(data []float64, deps map[string]float64) float64 {
		if deps["mean"] == 0 {
			return Sentinel
		}
		return deps["stddev"] / deps["mean"]
	})

	def("abovemean", []string{"mean"}, func(data []float64, deps map[string]float64) float64 {
		return fracAbove(data, deps["mean"])
	})
	def("abovemode", []string{"mode"}, func(data []float64, deps map[string]float64) float64 {
		return fracAbove(data, deps["mode"])
	})

	plain("skewness", guardShort(4, skewness))
	plain("kurtosis", guardShort(4, kurtosis))

	plain("aad", func(data []float64) float64 {
		m := mean(data)
		sum := 0.0
		for _, v := range data {
			sum += math.Abs(v - m)
		}
		return sum / float64(len(data))
	})

	plain("madmedian", func(data []float64) float64 { return medianAbsDeviation(data, median(data)) })
	def("madmean", []string{"mean"}, func(data []float64, deps map[string]float64) float64 {
		return medianAbsDeviation(data, deps["mean"])
	})
	def("madmode", []string{"mode"}, func(data []float64, deps map[string]float64) float64 {
		return medianAbsDeviation(data, deps["mode"])
	})

	plain("iq", func(data []float64) float64 { return percentile(data, 75) - percentile(data, 25) })
	plain("90m10", func(data []float64) float64 { return percentile(data, 90) - percentile(data, 10) })
	plain("95m05", func(data []float64) float64 { return percentile(data, 95) - percentile(data, 5) })

	def("crr", []string{"mean", "min", "max"}, func(data []float64, deps map[string]float64) float64 {
		if deps["min"] == deps["max"] {
			return Sentinel
		}
		return (deps["mean"] - deps["min"]) / (deps["max"] - deps["min"])
	})

	plain("sqmean", func(data []float64) float64 {
		sum := 0.0
		for _, v := range data {
			sum += v * v
		}
		return math.Sqrt(sum / float64(len(data)))
	})
	plain("cumean", func(data []float64) float64 {
		sum := 0.0
		for _, v := range data {
			a := math.Abs(v)
			sum += a * a * a
		}
		return math.Cbrt(sum / float64(len(data)))
	})

	plain("l1", guardShort(4, func(data []float64) float64 { return mean(data) }))
	plain("l2", guardShort(4, func(data []float64) float64 { return lmoments(data)[1] }))
	plain("l3", guardShort(4, func(data []float64) float64 { return lmoments(data)[2] }))
	plain("l4", guardShort(4, func(data []float64) float64 { return lmoments(data)[3] }))

	def("lcv", []string{"l1", "l2"}, func(data []float64, deps map[string]float64) float64 {
		if len(data) < 4 || deps["l1"] == 0 {
			return Sentinel
		}
		return deps["l2"] / deps["l1"]
	})
	def("lskewness", []string{"l2", "l3"}, func(data []float64, deps map[string]float64) float64 {
		if len(data) < 4 || deps["l2"] == 0 {
			return Sentinel
		}
		return deps["l3"] / deps["l2"]
	})
	def("lkurtosis", []string{"l2", "l4"}, func(data []float64, deps map[string]float64) float64 {
		if len(data) < 4 || deps["l2"] == 0 {
			return Sentinel
		}
		return deps["l4"] / deps["l2"]
	})

	for _, p := range []float64{1, 5, 10, 20, 25, 30, 40, 50, 60, 70, 75, 80, 90, 95, 99} {
		p := p
		name := fmt.Sprintf("p%02d", int(p))
		plain(name, func(data []float64) float64 { return percentile(data, p) })
	}

	plain("allcover", func(data []float64) float64 {
		const threshold = 2.0
		return fracAbove(data, threshold)
	})

	plain("profilearea", profileArea)

	return reg, nil
}

func fracAbove(data []float64, threshold float64) float64 {
	n := 0
	for _, v := range data {
		if v > threshold {
			n++
		}
	}
	return float64(n) / float64(len(data))
}

// profileArea integrates the 1..99 percentile profile normalized by the
// 99th percentile using composite trapezoidal integration (spec §4.5).
func profileArea(data []float64) float64 {
	_, max := minMax(data)
	if max <= 0 {
		return Sentinel
	}

	p := make([]float64, 99)
	for i := 1; i <= 99; i++ {
		p[i-1] = percentile(data, float64(i))
	}
	min, _ := minMax(data)
	p0 := math.Max(min, 0.0)
	p99 := p[98]

	if p99 <= 0.0 {
		return Sentinel
	}

	pa := p0 / p99
	for _, ip := range p[:98] {
		pa += 2.0 * ip / p99
	}
	pa += 1.0

	return pa * 0.5
}
