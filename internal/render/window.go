// Package render draws detection results over frames and presents them.
package render

import (
	"fmt"
	"image"

	"livedetect/internal/classes"
	"livedetect/internal/logger"
	"livedetect/internal/mailbox"
	"livedetect/internal/pipeline"

	"gocv.io/x/gocv"
)

const quitKey = 'q'

// Window shows annotated frames in a HighGUI window. It must be used from the goroutine
// that created it; the pipeline consumer runs on the caller of Run for this reason.
type Window struct {
	window *gocv.Window
	canvas gocv.Mat
	names  classes.Names
	stats  StatsSource
	logger *logger.Logger
}

// NewWindow opens a resizable window sized for width x height frames.
func NewWindow(name string, width, height int, names classes.Names, logger *logger.Logger) *Window {
	window := gocv.NewWindow(name)
	if width > 0 && height > 0 {
		window.ResizeWindow(width, height)
	}
	logger.Info("Display window %q opened, press 'q' to quit", name)

	return &Window{
		window: window,
		canvas: gocv.NewMat(),
		names:  names,
		logger: logger,
	}
}

// SetStatsSource makes the overlay show the pipeline's smoothed counters.
func (w *Window) SetStatsSource(src StatsSource) {
	w.stats = src
}

// Render draws res over a copy of frame, shows it and polls the keyboard.
// It returns pipeline.ErrStopRequested when the quit key was pressed.
func (w *Window) Render(frame mailbox.Frame, res pipeline.Result) error {
	src, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return fmt.Errorf("failed to wrap frame: %v", err)
	}
	defer src.Close()
	src.CopyTo(&w.canvas)

	if err := annotate(&w.canvas, res, w.names, overlayText(res, w.stats)); err != nil {
		return err
	}

	w.window.IMShow(w.canvas)
	if key := w.window.WaitKey(1); key&0xff == quitKey {
		return pipeline.ErrStopRequested
	}
	return nil
}

// Close destroys the window.
func (w *Window) Close() error {
	w.canvas.Close()
	return w.window.Close()
}

func annotate(mat *gocv.Mat, res pipeline.Result, names classes.Names, status string) error {
	for _, i := range drawOrder(len(res.Detections)) {
		det := res.Detections[i]
		c := classColor(det.ClassID)
		box := det.Rect()

		if err := gocv.Rectangle(mat, box, c, 2); err != nil {
			return fmt.Errorf("failed to draw rectangle: %v", err)
		}
		if err := gocv.PutText(mat, label(names, det), labelOrigin(box), gocv.FontHersheySimplex, 0.5, c, 2); err != nil {
			return fmt.Errorf("failed to draw text: %v", err)
		}
	}

	if err := gocv.PutText(mat, status, image.Pt(10, 30), gocv.FontHersheySimplex, 1.0, fpsColor, 2); err != nil {
		return fmt.Errorf("failed to draw text: %v", err)
	}
	return nil
}
