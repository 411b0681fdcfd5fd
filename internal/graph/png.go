package graph

import (
	"fmt"
	"io"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

var (
	traceColor = drawing.ColorFromHex("ff4d6d")
	fillColor  = traceColor.WithAlpha(64)
	idleColor  = drawing.ColorFromHex("808080")
)

// WritePNG renders the window as of now (ms) to out as a PNG image. The x
// axis is seconds relative to now.
func (w *Window) WritePNG(out io.Writer, now int64, width, height int) error {
	window := float64(w.seconds)
	b := w.bounds

	var series chart.ContinuousSeries
	if len(w.samples) < 2 {
		mid := b.Min + (b.Max-b.Min)/2
		series = chart.ContinuousSeries{
			Name:    "baseline",
			XValues: []float64{-window, 0},
			YValues: []float64{mid, mid},
			Style:   chart.Style{StrokeColor: idleColor, StrokeWidth: 1, StrokeDashArray: []float64{4, 4}},
		}
	} else {
		xs := make([]float64, len(w.samples))
		ys := make([]float64, len(w.samples))
		for i, s := range w.samples {
			xs[i] = float64(s.Timestamp-now) / 1000
			ys[i] = min(max(s.Value, b.Min), b.Max)
		}
		series = chart.ContinuousSeries{
			Name:    "bpm",
			XValues: xs,
			YValues: ys,
			Style:   chart.Style{StrokeColor: traceColor, StrokeWidth: 2, FillColor: fillColor},
		}
	}

	ch := chart.Chart{
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 14, Left: 16, Right: 12, Bottom: 28}},
		XAxis: chart.XAxis{
			Name:  "s",
			Range: &chart.ContinuousRange{Min: -window, Max: 0},
		},
		YAxis: chart.YAxis{
			Name:  "bpm",
			Range: &chart.ContinuousRange{Min: b.Min, Max: b.Max},
		},
		Series: []chart.Series{series},
	}
	if err := ch.Render(chart.PNG, out); err != nil {
		return fmt.Errorf("render graph: %w", err)
	}
	return nil
}
