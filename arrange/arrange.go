// Package arrange implements the Cell Indexer / Arranger (spec §4.3): it
// assigns every point in a tile's PointBatch to an integer (xi, yi) cell
// computed against the root grid, and groups each tile's points by cell.
package arrange

import (
	"errors"
	"math"

	"github.com/samber/lo"

	"github.com/meshforest/shatter/extent"
	"github.com/meshforest/shatter/pointsrc"
)

// ErrArrange is the taxonomy sentinel for arrangement failures (spec §7),
// e.g. a requested attribute missing from the batch's column set.
var ErrArrange = errors.New("arrange: failed to group points")

// Cell identifies one cell of the regular grid.
type Cell struct {
	XI, YI int64
}

// Grouped is the output of Arrange: a mapping from cell to the per-attribute
// vector of point values landing in that cell. Every vector of a cell lists
// its points in the same (input-row) order, so vectors stay parallel across
// attributes.
type Grouped struct {
	Cells map[Cell]map[string][]float64
}

// Empty reports whether grouping produced no cells.
func (g Grouped) Empty() bool {
	return len(g.Cells) == 0
}

// Len returns the number of points assigned to a cell, equal to the length
// of every attribute vector for that cell (spec §8 invariant).
func (g Grouped) Len(c Cell) int {
	for _, vec := range g.Cells[c] {
		return len(vec)
	}
	return 0
}

// Arrange groups a tile's PointBatch by (xi, yi) cell, computing indices
// against root (never against the tile's local origin, so indices stay
// globally consistent across resumed runs). Points on the tile's upper
// boundary (Y >= tile.MaxY or X >= tile.MaxX) are dropped to enforce
// half-open tile ownership and prevent double counting at tile seams.
func Arrange(root extent.Bounds, tile extent.Rect, batch pointsrc.PointBatch, attrs []string) (Grouped, error) {
	if batch.Empty() {
		return Grouped{}, nil
	}

	xs, ok := batch.Columns["X"]
	if !ok {
		return Grouped{}, errors.Join(ErrArrange, errors.New("missing X column"))
	}
	ys, ok := batch.Columns["Y"]
	if !ok {
		return Grouped{}, errors.Join(ErrArrange, errors.New("missing Y column"))
	}

	for _, a := range attrs {
		if _, ok := batch.Columns[a]; !ok {
			return Grouped{}, errors.Join(ErrArrange, errors.New("missing attribute column: "+a))
		}
	}

	type indexed struct {
		row  int
		cell Cell
	}
	kept := make([]indexed, 0, batch.Len)

	for i := 0; i < batch.Len; i++ {
		x, y := xs[i], ys[i]
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		if y >= tile.MaxY || x >= tile.MaxX {
			continue
		}
		xi, yi := root.CellIndex(x, y)
		if xi < 0 || yi < 0 || uint64(xi) >= root.XCount || uint64(yi) >= root.YCount {
			continue
		}
		kept = append(kept, indexed{row: i, cell: Cell{XI: xi, YI: yi}})
	}

	if len(kept) == 0 {
		return Grouped{}, nil
	}

	byCell := lo.GroupBy(kept, func(k indexed) Cell { return k.cell })

	cells := make(map[Cell]map[string][]float64, len(byCell))
	for cell, rows := range byCell {
		vectors := make(map[string][]float64, len(attrs))
		for _, attr := range attrs {
			col := batch.Columns[attr]
			vec := make([]float64, len(rows))
			for i, r := range rows {
				vec[i] = col[r.row]
			}
			vectors[attr] = vec
		}
		cells[cell] = vectors
	}

	return Grouped{Cells: cells}, nil
}
