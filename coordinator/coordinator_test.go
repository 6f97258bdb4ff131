package coordinator

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshforest/shatter/extent"
	"github.com/meshforest/shatter/pointsrc"
)

func TestStateStringCoversAllValues(t *testing.T) {
	names := map[State]string{
		StateInit:         "INIT",
		StateReady:        "READY",
		StateRunning:      "RUNNING",
		StateFinalizing:   "FINALIZING",
		StateDone:         "DONE",
		StateCancelled:    "CANCELLED",
		StateConsolidated: "CONSOLIDATED",
		State(99):         "UNKNOWN",
	}
	for state, want := range names {
		require.Equal(t, want, state.String())
	}
}

func mustBounds(t *testing.T) extent.Bounds {
	t.Helper()
	b, err := extent.NewBounds(0, 0, 10, 10, 5, "")
	require.NoError(t, err)
	return b
}

func TestEnumerateLeavesSkipsTilesOverlappingAnyMBR(t *testing.T) {
	c := &Coordinator{}
	root := mustBounds(t)
	cfg := ShatterConfig{TileSize: 1}

	all := c.enumerateLeaves(root, cfg)
	require.Len(t, all, 4)

	// The first leaf's own rect fully covers the first leaf, so a resume
	// with that rect as the only prior MBR must skip exactly it.
	cfg.MBR = []extent.Rect{all[0]}
	remaining := c.enumerateLeaves(root, cfg)
	require.Len(t, remaining, 3)
	for _, leaf := range remaining {
		require.NotEqual(t, all[0], leaf)
	}
}

func TestEnumerateLeavesSingleTileWhenTileSizeZero(t *testing.T) {
	c := &Coordinator{}
	root := mustBounds(t)
	leaves := c.enumerateLeaves(root, ShatterConfig{TileSize: 0})
	require.Len(t, leaves, 1)
	require.Equal(t, root.Rect, leaves[0])
}

func TestResolveBoundsUsesConfiguredBoundsWhenPresent(t *testing.T) {
	c := &Coordinator{}
	root := mustBounds(t)
	got, err := c.resolveBounds(context.Background(), ShatterConfig{Bounds: &root})
	require.NoError(t, err)
	require.Equal(t, root, got)
}

func TestResolveBoundsFallsBackToReaderQuickInfo(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "points-*.csv")
	require.NoError(t, err)
	_, err = f.WriteString("X,Y,Z\n0,0,1\n10,10,2\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	adapter := pointsrc.NewAdapter(pointsrc.NewCSVReader(f.Name()), false)
	c := &Coordinator{reader: adapter}

	got, err := c.resolveBounds(context.Background(), ShatterConfig{})
	require.NoError(t, err)
	require.Equal(t, 0.0, got.MinX)
	require.Equal(t, 0.0, got.MinY)
	require.Equal(t, 10.0, got.MaxX)
	require.Equal(t, 10.0, got.MaxY)
}

func TestNewShatterConfigStampsRunIDAndMetricSpecs(t *testing.T) {
	cfg := NewShatterConfig("points.csv", 64, []string{"Z"}, nil)
	require.NotEmpty(t, cfg.RunID)
	require.Equal(t, "points.csv", cfg.Filename)
	require.Equal(t, uint64(64), cfg.TileSize)
	require.Empty(t, cfg.Metrics)
	require.Equal(t, UnreservedTimeSlot, cfg.TimeSlot)
}

func TestResumeAtSlotZeroIsNotTreatedAsUnreserved(t *testing.T) {
	cfg := NewShatterConfig("points.csv", 64, []string{"Z"}, nil)
	require.NotEqual(t, int64(0), cfg.TimeSlot, "a fresh config's sentinel must not collide with the first real slot")
	cfg.TimeSlot = 0
	require.NotEqual(t, UnreservedTimeSlot, cfg.TimeSlot)
}

func TestShatterConfigMarshalRoundTrips(t *testing.T) {
	cfg := NewShatterConfig("points.csv", 64, []string{"Z"}, nil)
	blob, err := cfg.Marshal()
	require.NoError(t, err)
	require.Contains(t, string(blob), cfg.RunID)
	require.Contains(t, string(blob), "points.csv")
}

func TestAddFailureAndFailuresIsolatesCaller(t *testing.T) {
	c := &Coordinator{}
	c.addFailure(extent.Rect{MaxX: 1, MaxY: 1}, ErrConfig)
	got := c.Failures()
	require.Len(t, got, 1)
	got[0].Rect.MaxX = 99
	require.NotEqual(t, float64(99), c.Failures()[0].Rect.MaxX)
}
