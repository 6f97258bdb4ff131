package extent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshforest/shatter/extent"
)

func mustBounds(t *testing.T, minx, miny, maxx, maxy, cell float64) extent.Bounds {
	t.Helper()
	b, err := extent.NewBounds(minx, miny, maxx, maxy, cell, "EPSG:4326")
	require.NoError(t, err)
	return b
}

func TestNewBoundsDerivesGrid(t *testing.T) {
	b := mustBounds(t, 0, 0, 10, 7, 2)
	assert.Equal(t, uint64(5), b.XCount)
	assert.Equal(t, uint64(4), b.YCount) // ceil(7/2) = 4
}

func TestNewBoundsRejectsDegenerate(t *testing.T) {
	_, err := extent.NewBounds(10, 0, 0, 10, 1, "")
	assert.ErrorIs(t, err, extent.ErrInvalidBounds)

	_, err = extent.NewBounds(0, 0, 10, 10, 0, "")
	assert.ErrorIs(t, err, extent.ErrInvalidCellSize)
}

func TestCellIndexUsesRootOrigin(t *testing.T) {
	b := mustBounds(t, 0, 0, 10, 10, 1)
	xi, yi := b.CellIndex(0.5, 0.5)
	assert.Equal(t, int64(0), xi)
	assert.Equal(t, int64(0), yi)

	xi, yi = b.CellIndex(1.5, 0.5)
	assert.Equal(t, int64(1), xi)
	assert.Equal(t, int64(0), yi)

	// exactly on a cell boundary lands in the higher cell (floor semantics)
	xi, yi = b.CellIndex(2.0, 0.0)
	assert.Equal(t, int64(2), xi)
	assert.Equal(t, int64(0), yi)
}

func TestLeavesCoverRootExactlyOnce(t *testing.T) {
	b := mustBounds(t, 0, 0, 10, 10, 1)
	root := extent.RootExtents(b)

	covered := make(map[[2]uint64]bool)
	for leaf := range root.Leaves(3) {
		for xi := leaf.XI0; xi < leaf.XI1; xi++ {
			for yi := leaf.YI0; yi < leaf.YI1; yi++ {
				key := [2]uint64{xi, yi}
				require.False(t, covered[key], "cell %v covered twice", key)
				covered[key] = true
			}
		}
		assert.LessOrEqual(t, leaf.XI1-leaf.XI0, uint64(3))
		assert.LessOrEqual(t, leaf.YI1-leaf.YI0, uint64(3))
	}

	assert.Equal(t, int(b.XCount*b.YCount), len(covered))
}

func TestLeavesClipAtFarEdge(t *testing.T) {
	b := mustBounds(t, 0, 0, 10, 10, 1) // 10x10 grid, tile size 4 leaves a 2-wide remainder
	root := extent.RootExtents(b)

	var widths []uint64
	for leaf := range root.Leaves(4) {
		if leaf.YI0 == 0 {
			widths = append(widths, leaf.XI1-leaf.XI0)
		}
	}
	assert.Equal(t, []uint64{4, 4, 2}, widths)
}

func TestDisjointByMBR(t *testing.T) {
	b := mustBounds(t, 0, 0, 10, 10, 1)
	root := extent.RootExtents(b)

	var leaves []extent.Extents
	for leaf := range root.Leaves(5) {
		leaves = append(leaves, leaf)
	}
	require.Len(t, leaves, 4)

	written := leaves[0].Rect
	assert.False(t, leaves[0].DisjointByMBR(written))
	assert.True(t, leaves[3].DisjointByMBR(written))
}

func TestLeavesStopsEarlyOnFalse(t *testing.T) {
	b := mustBounds(t, 0, 0, 10, 10, 1)
	root := extent.RootExtents(b)

	count := 0
	for range root.Leaves(2) {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}
