// Package metricgraph implements the Metric Graph Executor (spec §4.5): it
// takes a set of requested metrics per attribute, expands each into its
// transitive dependency closure against the metric Registry, topologically
// orders the closure, and evaluates it once per cell without recomputing a
// shared dependency twice.
package metricgraph

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/meshforest/shatter/metric"
)

// MetricGraphError reports a malformed metric request: an unknown metric
// name or a dependency cycle in the registry (spec §4.5, §7).
type MetricGraphError struct {
	Attr string
	Path []string
	Err  error
}

func (e *MetricGraphError) Error() string {
	return fmt.Sprintf("metricgraph: attr %s: %s: %v", e.Attr, pathString(e.Path), e.Err)
}

func (e *MetricGraphError) Unwrap() error { return e.Err }

func pathString(path []string) string {
	s := ""
	for i, p := range path {
		if i > 0 {
			s += "->"
		}
		s += p
	}
	return s
}

var ErrCycle = errors.New("cycle detected in metric dependencies")

// Request names the metrics to compute for one attribute's per-cell vector,
// along with an optional row filter applied before any metric sees the data
// (spec §4.4 scenario 6).
type Request struct {
	Attr    string
	Metrics []string
	Filter  metric.Filter
}

// attrPlan is the precomputed, topologically ordered evaluation plan for one
// attribute's requested metric set, including every transitive dependency.
type attrPlan struct {
	attr    string
	order   []string // topological order, dependencies before dependents
	wanted  map[string]bool
	filter  metric.Filter
}

// Executor evaluates a fixed set of per-attribute metric requests against
// cell data. Building an Executor resolves and validates the dependency
// graph once; Evaluate is then safe to call per cell without repeating
// graph work.
type Executor struct {
	registry *metric.Registry
	plans    []attrPlan
}

// NewExecutor builds an Executor for the given requests against reg. It
// fails fast with a MetricGraphError if any requested or transitively
// depended-upon metric is unknown, or if the dependency graph contains a
// cycle.
func NewExecutor(reg *metric.Registry, requests []Request) (*Executor, error) {
	ex := &Executor{registry: reg, plans: make([]attrPlan, 0, len(requests))}

	for _, req := range requests {
		order, err := topoSort(reg, req.Attr, req.Metrics)
		if err != nil {
			return nil, err
		}
		wanted := make(map[string]bool, len(req.Metrics))
		for _, m := range req.Metrics {
			wanted[m] = true
		}
		ex.plans = append(ex.plans, attrPlan{attr: req.Attr, order: order, wanted: wanted, filter: req.Filter})
	}

	return ex, nil
}

// topoSort returns the dependency-closed, dependency-ordered metric list
// needed to compute names, using depth-first traversal with cycle
// detection via an on-stack marker set.
func topoSort(reg *metric.Registry, attr string, names []string) ([]string, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)
	order := make([]string, 0, len(names)*2)

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return &MetricGraphError{Attr: attr, Path: append(path, name), Err: ErrCycle}
		}

		d, err := reg.Get(name)
		if err != nil {
			return &MetricGraphError{Attr: attr, Path: append(path, name), Err: err}
		}

		state[name] = visiting
		for _, dep := range d.Dependencies {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, n := range names {
		if err := visit(n, nil); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// CellResult holds one attribute's computed metric values for one cell.
type CellResult struct {
	Attr   string
	Values map[string]float64
}

// Evaluate computes every plan's wanted metrics (plus whatever
// dependencies they need internally) against cellAttrs, which must contain
// every attribute named by the executor's requests. Independent attribute
// plans are evaluated concurrently.
func (ex *Executor) Evaluate(ctx context.Context, cellAttrs map[string][]float64) ([]CellResult, error) {
	results := make([]CellResult, len(ex.plans))

	g, ctx := errgroup.WithContext(ctx)
	for i, plan := range ex.plans {
		i, plan := i, plan
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			data, err := filterData(plan.attr, plan.filter, cellAttrs)
			if err != nil {
				return err
			}

			computed := make(map[string]float64, len(plan.order))
			for _, name := range plan.order {
				d, err := ex.registry.Get(name)
				if err != nil {
					return &MetricGraphError{Attr: plan.attr, Path: []string{name}, Err: err}
				}
				deps := make(map[string]float64, len(d.Dependencies))
				for _, dep := range d.Dependencies {
					deps[dep] = computed[dep]
				}
				computed[name] = d.Fn(data, deps)
			}

			values := make(map[string]float64, len(plan.wanted))
			for name := range plan.wanted {
				values[name] = computed[name]
			}
			results[i] = CellResult{Attr: plan.attr, Values: values}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func filterData(attr string, filter metric.Filter, cellAttrs map[string][]float64) ([]float64, error) {
	vec, ok := cellAttrs[attr]
	if !ok {
		return nil, &MetricGraphError{Attr: attr, Err: fmt.Errorf("missing attribute vector")}
	}
	if filter == nil {
		return vec, nil
	}

	out := make([]float64, 0, len(vec))
	for i, v := range vec {
		if filter(i, cellAttrs) {
			out = append(out, v)
		}
	}
	return out, nil
}
