// internal/price/window.go
package price

import (
	"time"

	"github.com/shopspring/decimal"
)

// Point is one price observation.
type Point struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// window is a bounded FIFO of points; the oldest point is evicted first.
type window struct {
	size   int
	points []Point
}

func newWindow(size int) *window {
	return &window{size: size, points: make([]Point, 0, size)}
}

func (w *window) add(p Point) {
	if len(w.points) == w.size {
		copy(w.points, w.points[1:])
		w.points = w.points[:w.size-1]
	}
	w.points = append(w.points, p)
}

func (w *window) len() int {
	return len(w.points)
}

// mean is the arithmetic mean of the window; zero for an empty window.
func (w *window) mean() decimal.Decimal {
	if len(w.points) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, p := range w.points {
		sum = sum.Add(p.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(w.points))))
}

// latestFrom returns the most recent point whose source is in sources and is
// not exclude.
func (w *window) latestFrom(sources []string, exclude string) (Point, bool) {
	for i := len(w.points) - 1; i >= 0; i-- {
		p := w.points[i]
		if p.Source == exclude {
			continue
		}
		for _, s := range sources {
			if p.Source == s {
				return p, true
			}
		}
	}
	return Point{}, false
}

func (w *window) snapshot() []Point {
	out := make([]Point, len(w.points))
	copy(out, w.points)
	return out
}
