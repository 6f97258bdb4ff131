// Package pointsrc defines the contract for the external point-cloud reader
// collaborator (spec §4.2, §6) and an Adapter that serializes access to
// thread-hostile readers without serializing unrelated tiles against each
// other.
package pointsrc

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/meshforest/shatter/extent"
)

// ErrReader is the taxonomy sentinel for failures raised by the underlying
// reader pipeline (spec §7: per-tile, coordinator continues).
var ErrReader = errors.New("pointsrc: reader failed")

// QuickInfo is the cheap metadata a Reader can report before any point data
// is materialized: the layer's bounds and spatial reference.
type QuickInfo struct {
	Bounds extent.Rect
	SRS    string
}

// PointBatch is a columnar table keyed by attribute name. Every column has
// equal length. X and Y are always present.
type PointBatch struct {
	Len     int
	Columns map[string][]float64
}

// Empty reports whether the batch carries no points.
func (b PointBatch) Empty() bool {
	return b.Len == 0
}

// Options configures a single Read invocation: an optional thread count
// passed through to the underlying reader, and an optional WKT polygon for
// clipping (spec §6 reader contract).
type Options struct {
	Threads    int
	PolygonWKT string
}

// Reader is the external point-cloud reader collaborator. Implementations
// materialize a columnar batch for a bounding box. Reader does not specify
// concurrency safety of its own; callers that know their Reader to be
// thread-hostile should wrap it with Adapter.
type Reader interface {
	QuickInfo(ctx context.Context) (QuickInfo, error)
	Read(ctx context.Context, bounds extent.Rect, attrs []string, opts Options) (PointBatch, error)
}

// Adapter wraps a Reader. When the underlying reader is thread-hostile,
// Read calls through the same Adapter are serialized with a mutex; the
// calls are not pinned to an OS thread and opts.Threads is passed through
// unchanged. Distinct Adapters (e.g. one per file handle) still proceed in
// parallel; only calls sharing the same Adapter serialize.
type Adapter struct {
	inner   Reader
	hostile bool
	mu      sync.Mutex
}

// NewAdapter builds an Adapter over inner. hostile selects whether reads
// through this adapter are serialized.
func NewAdapter(inner Reader, hostile bool) *Adapter {
	return &Adapter{inner: inner, hostile: hostile}
}

func (a *Adapter) QuickInfo(ctx context.Context) (QuickInfo, error) {
	info, err := a.inner.QuickInfo(ctx)
	if err != nil {
		return QuickInfo{}, errors.Join(ErrReader, err)
	}
	return info, nil
}

// Read materializes a columnar batch for tileBounds, inclusive of the min
// edges and exclusive of the max edges, per spec §4.2.
func (a *Adapter) Read(ctx context.Context, tileBounds extent.Rect, attrs []string, opts Options) (PointBatch, error) {
	if a.hostile {
		a.mu.Lock()
		defer a.mu.Unlock()
	}

	batch, err := a.inner.Read(ctx, tileBounds, attrs, opts)
	if err != nil {
		return PointBatch{}, errors.Join(ErrReader, err)
	}

	return filterHalfOpen(batch, tileBounds), nil
}

// filterHalfOpen drops any point a non-conforming Reader implementation
// returned outside [min, max) so downstream cell assignment never sees a
// point belonging to a neighboring tile. NaN coordinates are dropped.
func filterHalfOpen(batch PointBatch, bounds extent.Rect) PointBatch {
	xs, xok := batch.Columns["X"]
	ys, yok := batch.Columns["Y"]
	if !xok || !yok || batch.Len == 0 {
		return batch
	}

	keep := make([]bool, batch.Len)
	nkeep := 0
	for i := 0; i < batch.Len; i++ {
		x, y := xs[i], ys[i]
		ok := !math.IsNaN(x) && !math.IsNaN(y) &&
			x >= bounds.MinX && x < bounds.MaxX &&
			y >= bounds.MinY && y < bounds.MaxY
		keep[i] = ok
		if ok {
			nkeep++
		}
	}
	if nkeep == batch.Len {
		return batch
	}

	out := PointBatch{Len: nkeep, Columns: make(map[string][]float64, len(batch.Columns))}
	for name, col := range batch.Columns {
		filtered := make([]float64, 0, nkeep)
		for i, ok := range keep {
			if ok {
				filtered = append(filtered, col[i])
			}
		}
		out.Columns[name] = filtered
	}
	return out
}
