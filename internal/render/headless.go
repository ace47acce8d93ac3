package render

import (
	"strings"

	"livedetect/internal/classes"
	"livedetect/internal/logger"
	"livedetect/internal/mailbox"
	"livedetect/internal/pipeline"
)

// Headless replaces the window when no display is available. It logs what would be drawn.
type Headless struct {
	names  classes.Names
	stats  StatsSource
	logger *logger.Logger
	every  uint64
}

// NewHeadless logs a summary of every Nth inferred result.
func NewHeadless(names classes.Names, every int, logger *logger.Logger) *Headless {
	if every < 1 {
		every = 1
	}
	return &Headless{names: names, logger: logger, every: uint64(every)}
}

// SetStatsSource makes the summary show the pipeline's smoothed counters.
func (h *Headless) SetStatsSource(src StatsSource) {
	h.stats = src
}

func (h *Headless) Render(frame mailbox.Frame, res pipeline.Result) error {
	if !res.Inferred || res.Seq%h.every != 0 {
		return nil
	}
	h.logger.Debug("frame %d: %s | %s", res.Seq, summary(h.names, res), overlayText(res, h.stats))
	return nil
}

func (h *Headless) Close() error { return nil }

// summary lists the labels of res in drawing priority order.
func summary(names classes.Names, res pipeline.Result) string {
	if len(res.Detections) == 0 {
		return "no detections"
	}
	labels := make([]string, len(res.Detections))
	for i, det := range res.Detections {
		labels[i] = label(names, det)
	}
	return strings.Join(labels, ", ")
}
