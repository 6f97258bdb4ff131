package pointsrc_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshforest/shatter/extent"
	"github.com/meshforest/shatter/pointsrc"
)

type fakeReader struct {
	concurrent int32
	maxSeen    int32
	batch      pointsrc.PointBatch
	err        error
}

func (f *fakeReader) QuickInfo(ctx context.Context) (pointsrc.QuickInfo, error) {
	return pointsrc.QuickInfo{}, f.err
}

func (f *fakeReader) Read(ctx context.Context, bounds extent.Rect, attrs []string, opts pointsrc.Options) (pointsrc.PointBatch, error) {
	if f.err != nil {
		return pointsrc.PointBatch{}, f.err
	}
	cur := atomic.AddInt32(&f.concurrent, 1)
	defer atomic.AddInt32(&f.concurrent, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return f.batch, nil
}

func TestAdapterSerializesHostileReads(t *testing.T) {
	fr := &fakeReader{}
	adapter := pointsrc.NewAdapter(fr, true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := adapter.Read(context.Background(), extent.Rect{MaxX: 1, MaxY: 1}, nil, pointsrc.Options{})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fr.maxSeen))
}

func TestAdapterAllowsConcurrentFriendlyReads(t *testing.T) {
	fr := &fakeReader{}
	adapter := pointsrc.NewAdapter(fr, false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := adapter.Read(context.Background(), extent.Rect{MaxX: 1, MaxY: 1}, nil, pointsrc.Options{})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Greater(t, atomic.LoadInt32(&fr.maxSeen), int32(1))
}

func TestAdapterWrapsReaderError(t *testing.T) {
	fr := &fakeReader{err: errors.New("boom")}
	adapter := pointsrc.NewAdapter(fr, false)

	_, err := adapter.Read(context.Background(), extent.Rect{}, nil, pointsrc.Options{})
	assert.ErrorIs(t, err, pointsrc.ErrReader)
}

func TestAdapterDropsOutOfTileAndNaNPoints(t *testing.T) {
	fr := &fakeReader{
		batch: pointsrc.PointBatch{
			Len: 4,
			Columns: map[string][]float64{
				"X": {0.5, 1.0, 0.5, math.NaN()},
				"Y": {0.5, 0.5, 1.0, 0.5},
				"Z": {1, 2, 3, 4},
			},
		},
	}
	adapter := pointsrc.NewAdapter(fr, false)

	got, err := adapter.Read(context.Background(), extent.Rect{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}, nil, pointsrc.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, got.Len)
	assert.Equal(t, []float64{0.5}, got.Columns["X"])
	assert.Equal(t, []float64{0.5}, got.Columns["Y"])
	assert.Equal(t, []float64{1}, got.Columns["Z"])
}
