package render

import (
	"fmt"
	"image"
	"image/color"

	"livedetect/internal/classes"
	"livedetect/internal/decoder"
	"livedetect/internal/pipeline"
)

// StatsSource supplies the counters shown in the overlay.
type StatsSource interface {
	Stats() pipeline.Stats
}

var (
	fpsColor = color.RGBA{G: 255, A: 255}
	palette  = []color.RGBA{
		{R: 255, G: 56, B: 56, A: 255},
		{R: 255, G: 157, B: 151, A: 255},
		{R: 255, G: 112, B: 31, A: 255},
		{R: 255, G: 178, B: 29, A: 255},
		{R: 207, G: 210, B: 49, A: 255},
		{R: 72, G: 249, B: 10, A: 255},
		{R: 146, G: 204, B: 23, A: 255},
		{R: 61, G: 219, B: 134, A: 255},
		{R: 26, G: 147, B: 52, A: 255},
		{R: 0, G: 212, B: 187, A: 255},
		{R: 44, G: 153, B: 168, A: 255},
		{R: 0, G: 194, B: 255, A: 255},
		{R: 52, G: 69, B: 147, A: 255},
		{R: 100, G: 115, B: 255, A: 255},
		{R: 0, G: 24, B: 236, A: 255},
		{R: 132, G: 56, B: 255, A: 255},
	}
)

// classColor returns a stable colour per class id.
func classColor(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

// label formats a detection as "name (0.91)".
func label(names classes.Names, det decoder.Detection) string {
	return fmt.Sprintf("%s (%.2f)", names.Name(det.ClassID), det.Confidence)
}

// labelOrigin places the label above and left of the box, kept inside the image.
func labelOrigin(box image.Rectangle) image.Point {
	return image.Pt(max(box.Min.X-10, 0), max(box.Min.Y-10, 12))
}

// fpsText is the smoothed inference rate and the last inference latency.
func fpsText(fps, ms float64) string {
	return fmt.Sprintf("%5.1f FPS (%4.1f ms)", fps, ms)
}

// overlayText returns the status line for res, preferring the pipeline counters when available.
func overlayText(res pipeline.Result, src StatsSource) string {
	if src != nil {
		stats := src.Stats()
		return fpsText(stats.InferFPS, stats.LastInferMs)
	}
	ms := float64(res.InferDuration.Microseconds()) / 1000.0
	fps := 0.0
	if ms > 0 {
		fps = 1000.0 / ms
	}
	return fpsText(fps, ms)
}

// drawOrder returns detection indexes so that the most confident box is drawn last, on top.
func drawOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = n - 1 - i
	}
	return order
}
