package decoder

import (
	"image"
	"math"
)

// Row is one detector candidate: [cx, cy, w, h, score_0 ... score_{K-1}] in detector input space.
type Row []float32

// NumClasses returns K, the number of class scores carried by the row.
func (r Row) NumClasses() int {
	if len(r) < 4 {
		return 0
	}
	return len(r) - 4
}

// Rect is an axis-aligned box given by its top-left corner and size.
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.Left + r.Width }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Area returns Width*Height, or 0 for degenerate boxes.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Box is a detection box in original-image pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Detection is a kept detector candidate.
type Detection struct {
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Rect returns the detection box rounded to integer pixels.
func (d Detection) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(d.Box.X1)),
		int(math.Round(d.Box.Y1)),
		int(math.Round(d.Box.X2)),
		int(math.Round(d.Box.Y2)),
	)
}

// Params configures a Decode call.
type Params struct {
	ScoreThreshold float64
	IoUThreshold   float64
	// Scale maps detector input coordinates back to the original image.
	Scale       float64
	ImageWidth  int
	ImageHeight int
}
