package graph

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"pulse.klederson.com/internal/state"
)

func sample(v float64, ts int64) state.Sample {
	return state.Sample{Value: v, Timestamp: ts}
}

func TestWindow_EvictsByTime(t *testing.T) {
	w := NewWindow(60)
	for ts := int64(0); ts <= 100; ts += 10 {
		w.Insert(sample(70, ts*1000), ts*1000)
	}

	var kept []int64
	for _, s := range w.Samples() {
		kept = append(kept, s.Timestamp/1000)
		require.Greater(t, s.Timestamp, int64(40_000))
	}
	require.Equal(t, []int64{50, 60, 70, 80, 90, 100}, kept)
}

func TestWindow_EvictBoundaryIsExclusive(t *testing.T) {
	w := NewWindow(10)
	w.Insert(sample(70, 0), 0)
	w.Insert(sample(70, 1), 10_000)
	require.Equal(t, 1, w.Len(), "timestamp == now-window is evicted")
}

func TestWindow_OutOfOrderInsertKeepsOrder(t *testing.T) {
	w := NewWindow(60)
	w.Insert(sample(70, 3000), 3000)
	w.Insert(sample(71, 1000), 3000)
	w.Insert(sample(72, 2000), 3000)

	var ts []int64
	for _, s := range w.Samples() {
		ts = append(ts, s.Timestamp)
	}
	require.Equal(t, []int64{1000, 2000, 3000}, ts)
}

func TestWindow_BoundsFollowData(t *testing.T) {
	w := NewWindow(60)
	w.Insert(sample(70, 1000), 1000)
	w.Insert(sample(90, 2000), 2000)
	require.Equal(t, Bounds{Min: 60, Max: 100}, w.Bounds())
}

func TestWindow_BoundsClamped(t *testing.T) {
	w := NewWindow(60)
	w.Insert(sample(9999, 1000), 1000)
	require.Equal(t, Bounds{Min: 210, Max: 220}, w.Bounds())

	w.Clear()
	w.Insert(sample(-50, 1000), 1000)
	require.Equal(t, Bounds{Min: 40, Max: 50}, w.Bounds())

	w.Insert(sample(9999, 2000), 2000)
	b := w.Bounds()
	require.GreaterOrEqual(t, b.Min, 40.0)
	require.LessOrEqual(t, b.Max, 220.0)
}

func TestWindow_FixedBounds(t *testing.T) {
	lo, hi := 50, 180
	w := NewWindow(60)
	w.SetFixedBounds(&lo, &hi)
	w.Insert(sample(70, 1000), 1000)
	require.Equal(t, Bounds{Min: 50, Max: 180}, w.Bounds())

	// a single pinned end that would invert the axis is ignored
	bad := 150
	w.SetFixedBounds(&bad, nil)
	require.Equal(t, Bounds{Min: 60, Max: 80}, w.Bounds())

	w.SetFixedBounds(nil, nil)
	require.Equal(t, Bounds{Min: 60, Max: 80}, w.Bounds())
}

func TestRender_BaselineBelowTwoPoints(t *testing.T) {
	w := NewWindow(60)
	tr := w.Render(0, 100, 20)
	require.True(t, tr.Baseline)
	require.Equal(t, []Point{{0, 10}, {100, 10}}, tr.Line)
	require.Empty(t, tr.Fill)

	w.Insert(sample(70, 1000), 1000)
	require.True(t, w.Render(1000, 100, 20).Baseline)
}

func TestRender_MapsTimeAndValue(t *testing.T) {
	w := NewWindow(60)
	w.Insert(sample(60, 30_000), 30_000)
	w.Insert(sample(80, 60_000), 60_000)
	// bounds are 50..90

	tr := w.Render(60_000, 120, 40)
	require.False(t, tr.Baseline)
	require.Len(t, tr.Line, 2)
	require.InDelta(t, 60, tr.Line[0].X, 1e-9)
	require.InDelta(t, 30, tr.Line[0].Y, 1e-9)
	require.InDelta(t, 120, tr.Line[1].X, 1e-9)
	require.InDelta(t, 10, tr.Line[1].Y, 1e-9)

	require.Len(t, tr.Fill, 4)
	require.Equal(t, Point{120, 40}, tr.Fill[2])
	require.Equal(t, Point{60, 40}, tr.Fill[3])
}

func TestRender_FlatDataDoesNotDivideByZero(t *testing.T) {
	lo, hi := 100, 100
	w := NewWindow(60)
	w.SetFixedBounds(&lo, &hi)
	w.Insert(sample(100, 1000), 1000)
	w.Insert(sample(100, 2000), 2000)

	for _, p := range w.Render(2000, 50, 10).Line {
		require.False(t, p.Y != p.Y, "NaN")
	}
}

func TestWritePNG(t *testing.T) {
	w := NewWindow(60)

	var buf bytes.Buffer
	require.NoError(t, w.WritePNG(&buf, 0, 320, 160))
	_, err := png.Decode(&buf)
	require.NoError(t, err)

	w.Insert(sample(70, 1000), 1000)
	w.Insert(sample(75, 2000), 2000)
	w.Insert(sample(72, 3000), 3000)
	buf.Reset()
	require.NoError(t, w.WritePNG(&buf, 3000, 320, 160))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, 320, img.Bounds().Dx())
}
