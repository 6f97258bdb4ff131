package extent

// Extents is a rectangular sub-region of a root Bounds, aligned to the cell
// grid. The zero-value-adjacent constructor RootExtents covers the whole
// layer; Leaves subdivides it into tile-sized Extents.
type Extents struct {
	Root Bounds
	Rect Rect
	// XI0, YI0, XI1, YI1 are the half-open cell-index range [XI0,XI1) x
	// [YI0,YI1) this Extents covers, expressed against Root's grid.
	XI0, YI0, XI1, YI1 uint64
}

// RootExtents returns the Extents covering the entirety of root.
func RootExtents(root Bounds) Extents {
	return Extents{
		Root: root,
		Rect: root.Rect,
		XI0:  0,
		YI0:  0,
		XI1:  root.XCount,
		YI1:  root.YCount,
	}
}

// cellRect converts a cell-index range back to a coordinate rectangle
// against the owning root bounds.
func cellRect(root Bounds, xi0, yi0, xi1, yi1 uint64) Rect {
	return Rect{
		MinX: root.MinX + float64(xi0)*root.CellSize,
		MinY: root.MinY + float64(yi0)*root.CellSize,
		MaxX: root.MinX + float64(xi1)*root.CellSize,
		MaxY: root.MinY + float64(yi1)*root.CellSize,
	}
}

// Leaves yields Extents of at most tileSize x tileSize cells, covering e
// exactly once, row-major. Traversal order is an implementation detail; no
// caller may depend on it. Partial tiles at the far edge are clipped to the
// remaining cell range rather than truncated below the grid.
func (e Extents) Leaves(tileSize uint64) func(yield func(Extents) bool) {
	if tileSize == 0 {
		tileSize = e.XI1 - e.XI0
		if h := e.YI1 - e.YI0; h > tileSize {
			tileSize = h
		}
		if tileSize == 0 {
			tileSize = 1
		}
	}

	return func(yield func(Extents) bool) {
		for yi0 := e.YI0; yi0 < e.YI1; yi0 += tileSize {
			yi1 := yi0 + tileSize
			if yi1 > e.YI1 {
				yi1 = e.YI1
			}
			for xi0 := e.XI0; xi0 < e.XI1; xi0 += tileSize {
				xi1 := xi0 + tileSize
				if xi1 > e.XI1 {
					xi1 = e.XI1
				}

				leaf := Extents{
					Root: e.Root,
					Rect: cellRect(e.Root, xi0, yi0, xi1, yi1),
					XI0:  xi0,
					YI0:  yi0,
					XI1:  xi1,
					YI1:  yi1,
				}
				if !yield(leaf) {
					return
				}
			}
		}
	}
}

// DisjointByMBR reports whether e's rectangle shares no area with a
// previously-written MBR, used to skip tiles already covered by a prior
// interrupted run of the same time-slot.
func (e Extents) DisjointByMBR(mbr Rect) bool {
	return e.Rect.Disjoint(mbr)
}

// DisjointByAllMBRs reports whether e is disjoint from every mbr supplied,
// i.e. it has not been covered by any previously-written tile.
func (e Extents) DisjointByAllMBRs(mbrs []Rect) bool {
	for _, m := range mbrs {
		if !e.DisjointByMBR(m) {
			return false
		}
	}
	return true
}
