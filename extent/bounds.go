// Package extent partitions the 2D spatial extent of a point cloud layer
// into a regular cell grid and tiles that grid into leaves small enough to
// process in a single pass.
package extent

import (
	"errors"
	"math"
)

var ErrInvalidBounds = errors.New("extent: invalid bounds")
var ErrInvalidCellSize = errors.New("extent: cell size must be > 0")

// Rect is a minimum bounding rectangle in the layer's spatial reference.
// It carries no cell-grid information of its own; it is the unit used for
// MBR bookkeeping (resume skip-lists, reader bounding boxes).
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

// Disjoint reports whether r and other share no area. Touching edges are
// considered disjoint (degenerate overlap has zero area).
func (r Rect) Disjoint(other Rect) bool {
	return r.MaxX <= other.MinX || other.MaxX <= r.MinX ||
		r.MaxY <= other.MinY || other.MaxY <= r.MinY
}

// Union returns the smallest rectangle containing both r and other.
func (r Rect) Union(other Rect) Rect {
	return Rect{
		MinX: math.Min(r.MinX, other.MinX),
		MinY: math.Min(r.MinY, other.MinY),
		MaxX: math.Max(r.MaxX, other.MaxX),
		MaxY: math.Max(r.MaxY, other.MaxY),
	}
}

// Bounds is the root rectangle of a layer plus the cell size that derives
// the integer grid over it. It is immutable after construction, built once
// at run start from the reader's quick-info and broadcast read-only to all
// workers.
type Bounds struct {
	Rect
	SRS      string
	CellSize float64
	XCount   uint64
	YCount   uint64
}

// NewBounds constructs a Bounds, deriving the integer cell grid dimensions.
func NewBounds(minx, miny, maxx, maxy, cellSize float64, srs string) (Bounds, error) {
	if !(maxx > minx) || !(maxy > miny) {
		return Bounds{}, ErrInvalidBounds
	}
	if cellSize <= 0 {
		return Bounds{}, ErrInvalidCellSize
	}

	rangex := maxx - minx
	rangey := maxy - miny

	return Bounds{
		Rect:     Rect{MinX: minx, MinY: miny, MaxX: maxx, MaxY: maxy},
		SRS:      srs,
		CellSize: cellSize,
		XCount:   uint64(math.Ceil(rangex / cellSize)),
		YCount:   uint64(math.Ceil(rangey / cellSize)),
	}, nil
}

// CellIndex returns the (xi, yi) integer cell holding the point (x, y),
// computed from this Bounds' origin regardless of which tile the point was
// read from. Index computation must always use the root bounds so that
// resumed runs don't collide on cell identity (spec tile-grid consistency
// invariant).
func (b Bounds) CellIndex(x, y float64) (xi, yi int64) {
	xi = int64(math.Floor((x - b.MinX) / b.CellSize))
	yi = int64(math.Floor((y - b.MinY) / b.CellSize))
	return xi, yi
}
