// Package geom provides the axis-aligned rectangle type shared by the
// detection boundary and the identity trackers, plus the overlap math
// used for matching.
package geom

// Box is an axis-aligned rectangle in pixel coordinates, (X1,Y1) top-left
// and (X2,Y2) bottom-right.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the box.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area; degenerate boxes yield zero or negative area
// and are treated as empty by IoU.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Center returns the box center point.
func (b Box) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Contains reports whether b fully encloses other.
func (b Box) Contains(other Box) bool {
	return other.X1 >= b.X1 && other.Y1 >= b.Y1 && other.X2 <= b.X2 && other.Y2 <= b.Y2
}

// IoU computes intersection-over-union of two boxes: 0 when they are
// disjoint, 1 when identical. Any degenerate (zero-area) box yields 0.
func IoU(a, b Box) float64 {
	interX1 := max(a.X1, b.X1)
	interY1 := max(a.Y1, b.Y1)
	interX2 := min(a.X2, b.X2)
	interY2 := min(a.Y2, b.Y2)

	if interX2 < interX1 || interY2 < interY1 {
		return 0
	}

	interArea := (interX2 - interX1) * (interY2 - interY1)
	unionArea := a.Area() + b.Area() - interArea
	if unionArea <= 0 {
		return 0
	}
	return interArea / unionArea
}
