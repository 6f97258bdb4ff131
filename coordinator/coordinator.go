// Package coordinator implements the Shatter Coordinator (spec §4.7): it
// drives the Read -> Arrange -> Metric -> Write pipeline across a run's
// leaf tiles, tracks the state machine INIT -> READY -> RUNNING ->
// FINALIZING -> DONE/CANCELLED/CONSOLIDATED, and accumulates a global
// point count plus per-tile failures.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond"

	"github.com/meshforest/shatter/arrange"
	"github.com/meshforest/shatter/extent"
	"github.com/meshforest/shatter/internal/runlog"
	"github.com/meshforest/shatter/metric"
	"github.com/meshforest/shatter/metricgraph"
	"github.com/meshforest/shatter/pointsrc"
	"github.com/meshforest/shatter/storage"
)

var ErrConfig = errors.New("coordinator: invalid configuration")
var ErrCancelled = errors.New("coordinator: run cancelled")

// State is one point in the coordinator's run-level state machine (spec
// §4.7 diagram).
type State int

const (
	StateInit State = iota
	StateReady
	StateRunning
	StateFinalizing
	StateDone
	StateCancelled
	StateConsolidated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateFinalizing:
		return "FINALIZING"
	case StateDone:
		return "DONE"
	case StateCancelled:
		return "CANCELLED"
	case StateConsolidated:
		return "CONSOLIDATED"
	default:
		return "UNKNOWN"
	}
}

// TileFailure records a per-tile pipeline failure that did not abort the
// run (spec §7: ReaderError/ArrangeError are per-tile, not fatal).
type TileFailure struct {
	Rect extent.Rect
	Err  error
}

// Options configures a coordinator run beyond what ShatterConfig persists:
// the worker pool size, a process concern rather than run metadata.
type Options struct {
	Workers int // pool size; 1 forces the sequential fallback
}

// Coordinator drives one shatter run end to end.
type Coordinator struct {
	reader   *pointsrc.Adapter
	store    *storage.Store
	registry *metric.Registry
	executor *metricgraph.Executor
	log      *runlog.Logger

	mu    sync.Mutex
	state State

	pointCount int64
	failures   []TileFailure
}

// New builds a Coordinator. attrs and the requested metric names are used
// to build the metricgraph.Executor once up front (spec §4.7 step 0,
// implicit: the graph must be valid before any tile runs).
func New(reader *pointsrc.Adapter, store *storage.Store, registry *metric.Registry, requests []metricgraph.Request, log *runlog.Logger) (*Coordinator, error) {
	executor, err := metricgraph.NewExecutor(registry, requests)
	if err != nil {
		return nil, errors.Join(ErrConfig, err)
	}
	if log == nil {
		var lerr error
		log, lerr = runlog.New()
		if lerr != nil {
			return nil, errors.Join(ErrConfig, lerr)
		}
	}
	return &Coordinator{reader: reader, store: store, registry: registry, executor: executor, log: log, state: StateInit}, nil
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State reports the coordinator's current run state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failures returns the per-tile failures accumulated so far.
func (c *Coordinator) Failures() []TileFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TileFailure, len(c.failures))
	copy(out, c.failures)
	return out
}

func (c *Coordinator) addFailure(rect extent.Rect, err error) {
	c.mu.Lock()
	c.failures = append(c.failures, TileFailure{Rect: rect, Err: err})
	c.mu.Unlock()
}

// Run executes the full state machine for cfg (spec §4.7 steps 1-6). ctx
// cancellation (typically wired from signal.NotifyContext in cmd/shatter)
// drives the CANCELLED transition: outstanding tile work is abandoned,
// completed tiles' writes stand, and metadata is persisted with
// finished=false before consolidation.
func (c *Coordinator) Run(ctx context.Context, cfg ShatterConfig, opts Options) (ShatterConfig, error) {
	c.setState(StateInit)

	root, err := c.resolveBounds(ctx, cfg)
	if err != nil {
		return cfg, errors.Join(ErrConfig, err)
	}
	cfg.Bounds = &root

	c.setState(StateReady)

	if cfg.TimeSlot == UnreservedTimeSlot {
		slot, err := c.store.ReserveTimeSlot(ctx)
		if err != nil {
			return cfg, errors.Join(ErrConfig, err)
		}
		cfg.TimeSlot = slot
	}
	cfg.StartTime = time.Now()

	log := c.log.WithTimeSlot(cfg.TimeSlot)
	log.Infow("shatter run starting", "run_id", cfg.RunID, "filename", cfg.Filename)

	leaves := c.enumerateLeaves(root, cfg)

	handle, err := c.store.Open(ctx, storage.ModeWrite, cfg.TimeSlot)
	if err != nil {
		return cfg, errors.Join(ErrConfig, err)
	}
	defer handle.Close()

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	pool := pond.New(workers, 0, pond.MinWorkers(workers), pond.Context(ctx))

	c.setState(StateRunning)

	var cancelled atomic.Bool
	var mbrMu sync.Mutex
	mbrs := make([]extent.Rect, 0, len(leaves))

	for _, leaf := range leaves {
		leaf := leaf
		pool.Submit(func() {
			select {
			case <-ctx.Done():
				cancelled.Store(true)
				return
			default:
			}

			n, err := c.runTile(ctx, root, leaf, cfg, handle)
			if err != nil {
				log.Warnw("tile failed", "rect", leaf, "error", err)
				c.addFailure(leaf, err)
				return
			}

			atomic.AddInt64(&c.pointCount, int64(n))
			mbrMu.Lock()
			mbrs = append(mbrs, leaf)
			mbrMu.Unlock()
		})
	}

	pool.StopAndWait()

	c.setState(StateFinalizing)

	cfg.PointCount = atomic.LoadInt64(&c.pointCount)
	cfg.EndTime = time.Now()
	cfg.MBR = append(cfg.MBR, mbrs...)

	if cancelled.Load() || ctx.Err() != nil {
		cfg.Finished = false
		if err := c.persistAndConsolidate(ctx, cfg); err != nil {
			log.Errorw("failed to finalize cancelled run", "error", err)
			return cfg, errors.Join(ErrCancelled, err)
		}
		c.setState(StateCancelled)
		return cfg, ErrCancelled
	}

	cfg.Finished = true
	if err := c.persistAndConsolidate(ctx, cfg); err != nil {
		log.Errorw("failed to finalize run", "error", err)
		return cfg, err
	}

	c.setState(StateDone)
	c.setState(StateConsolidated)

	if len(c.Failures()) > 0 {
		return cfg, fmt.Errorf("shatter: %d tile(s) failed", len(c.Failures()))
	}

	log.Infow("shatter run finished", "point_count", cfg.PointCount)
	return cfg, nil
}

func (c *Coordinator) resolveBounds(ctx context.Context, cfg ShatterConfig) (extent.Bounds, error) {
	if cfg.Bounds != nil {
		return *cfg.Bounds, nil
	}
	info, err := c.reader.QuickInfo(ctx)
	if err != nil {
		return extent.Bounds{}, err
	}
	return extent.NewBounds(info.Bounds.MinX, info.Bounds.MinY, info.Bounds.MaxX, info.Bounds.MaxY, 1.0, info.SRS)
}

func (c *Coordinator) enumerateLeaves(root extent.Bounds, cfg ShatterConfig) []extent.Rect {
	extents := extent.RootExtents(root)
	leaves := make([]extent.Rect, 0)
	for leaf := range extents.Leaves(cfg.TileSize) {
		if len(cfg.MBR) > 0 && !leaf.DisjointByAllMBRs(cfg.MBR) {
			continue
		}
		leaves = append(leaves, leaf.Rect)
	}
	return leaves
}

// runTile executes Read -> Arrange -> Metric -> Write for one leaf tile
// and returns the number of points it contributed.
func (c *Coordinator) runTile(ctx context.Context, root extent.Bounds, tile extent.Rect, cfg ShatterConfig, handle *storage.Handle) (int, error) {
	batch, err := c.reader.Read(ctx, tile, cfg.Attributes, pointsrc.Options{})
	if err != nil {
		return 0, errors.Join(pointsrc.ErrReader, err)
	}
	if batch.Empty() {
		return 0, nil
	}

	grouped, err := arrange.Arrange(root, tile, batch, cfg.Attributes)
	if err != nil {
		return 0, errors.Join(arrange.ErrArrange, err)
	}
	if grouped.Empty() {
		return 0, nil
	}

	xi := make([]int64, 0, len(grouped.Cells))
	yi := make([]int64, 0, len(grouped.Cells))
	counts := make([]float64, 0, len(grouped.Cells))
	varCols := make(map[string][][]float64, len(cfg.Attributes))
	scalarCols := make(map[string][]float64)
	scalarDtype := make(map[string]string)

	total := 0
	for cell, vectors := range grouped.Cells {
		xi = append(xi, cell.XI)
		yi = append(yi, cell.YI)
		n := grouped.Len(cell)
		counts = append(counts, float64(n))
		total += n

		for _, attr := range cfg.Attributes {
			varCols[attr] = append(varCols[attr], vectors[attr])
		}

		results, err := c.executor.Evaluate(ctx, vectors)
		if err != nil {
			return 0, err
		}
		for _, r := range results {
			for name, val := range r.Values {
				col := fmt.Sprintf("m_%s_%s", r.Attr, name)
				scalarCols[col] = append(scalarCols[col], val)
				if _, ok := scalarDtype[col]; !ok {
					d, err := c.registry.Get(name)
					if err != nil {
						return 0, errors.Join(metric.ErrUnknownMetric, err)
					}
					scalarDtype[col] = d.Dtype
				}
			}
		}
	}

	columns := map[string]storage.Column{"Count": {Values: counts, Dtype: storage.CountDtype}}
	for attr, rows := range varCols {
		columns[attr] = storage.Column{Var: rows}
	}
	for name, vals := range scalarCols {
		columns[name] = storage.Column{Values: vals, Dtype: scalarDtype[name]}
	}

	if err := c.store.Write(ctx, handle, xi, yi, columns); err != nil {
		return 0, errors.Join(storage.ErrIO, err)
	}

	return total, nil
}

func (c *Coordinator) persistAndConsolidate(ctx context.Context, cfg ShatterConfig) error {
	blob, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if err := c.store.SaveMetadata(ctx, "shatter", blob, cfg.TimeSlot); err != nil {
		return err
	}
	return c.store.ConsolidateShatter(ctx, cfg.TimeSlot)
}
