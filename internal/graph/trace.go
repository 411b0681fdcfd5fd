package graph

// Point is a position in render space: X grows right, Y grows down.
type Point struct {
	X, Y float64
}

// Trace is the drawable result of Render. With fewer than two samples it is a
// flat baseline across the middle; otherwise Line is the polyline and Fill is
// the closed polygon beneath it.
type Trace struct {
	Width, Height float64
	Bounds        Bounds
	Baseline      bool
	Line          []Point
	Fill          []Point
}

// Render maps the window onto a width x height area as of now (ms). It does
// not mutate the window.
func (w *Window) Render(now int64, width, height float64) Trace {
	t := Trace{Width: width, Height: height, Bounds: w.bounds}
	if len(w.samples) < 2 {
		mid := height / 2
		t.Baseline = true
		t.Line = []Point{{X: 0, Y: mid}, {X: width, Y: mid}}
		return t
	}

	span := float64(w.seconds) * 1000
	start := float64(now) - span
	b := w.bounds

	t.Line = make([]Point, 0, len(w.samples))
	for _, s := range w.samples {
		x := (float64(s.Timestamp) - start) / span * width
		v := min(max(s.Value, b.Min), b.Max)
		y := height - (v-b.Min)/b.Span()*height
		t.Line = append(t.Line, Point{X: min(max(x, 0), width), Y: y})
	}

	t.Fill = make([]Point, 0, len(t.Line)+2)
	t.Fill = append(t.Fill, t.Line...)
	t.Fill = append(t.Fill,
		Point{X: t.Line[len(t.Line)-1].X, Y: height},
		Point{X: t.Line[0].X, Y: height},
	)
	return t
}
