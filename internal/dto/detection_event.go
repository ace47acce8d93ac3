package dto

import (
	"time"

	"livedetect/internal/classes"
	"livedetect/internal/pipeline"
)

// DetectionEvent is what viewers receive for every processed frame. It carries no pixels.
type DetectionEvent struct {
	Seq        uint64            `json:"seq"`
	SourceSeq  uint64            `json:"source_seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Inferred   bool              `json:"inferred"`
	InferMs    float64           `json:"infer_ms"`
	Detections []DetectionResult `json:"detections"`
}

// DetectionResult is one labelled box in original-image pixels.
type DetectionResult struct {
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}

// NewDetectionEvent labels the detections of res.
func NewDetectionEvent(res pipeline.Result, names classes.Names) DetectionEvent {
	event := DetectionEvent{
		Seq:        res.Seq,
		SourceSeq:  res.SourceSeq,
		Timestamp:  res.Timestamp,
		Width:      res.Width,
		Height:     res.Height,
		Inferred:   res.Inferred,
		InferMs:    float64(res.InferDuration.Microseconds()) / 1000.0,
		Detections: make([]DetectionResult, len(res.Detections)),
	}
	for i, det := range res.Detections {
		event.Detections[i] = DetectionResult{
			ClassID:    det.ClassID,
			Label:      names.Name(det.ClassID),
			Confidence: det.Confidence,
			X1:         det.Box.X1,
			Y1:         det.Box.Y1,
			X2:         det.Box.X2,
			Y2:         det.Box.Y2,
		}
	}
	return event
}
