// Package inference runs a YOLOv8-style ONNX detector on captured frames.
//
// Both backends letterbox the frame into a square input, forward it and hand the
// transposed output rows to the decoder. They are used from a single goroutine.
package inference

import (
	"fmt"
	"time"

	"livedetect/internal/config"
	"livedetect/internal/decoder"
	"livedetect/internal/logger"
	"livedetect/internal/mailbox"
)

// Backend is a loaded detector.
type Backend interface {
	Infer(frame mailbox.Frame) ([]decoder.Row, error)
	InputSize() int
	Close() error
}

// New loads the model with the backend named in cfg.
func New(cfg *config.Config, logger *logger.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendOpenCV:
		return NewOpenCV(cfg, logger)
	case config.BackendONNXRuntime:
		return NewONNX(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown inference backend %q", cfg.Backend)
	}
}

// Warmup runs one inference on a black frame so the first real frame does not pay for
// lazy allocation and kernel selection.
func Warmup(b Backend, width, height int, logger *logger.Logger) error {
	start := time.Now()
	if _, err := b.Infer(blankFrame(width, height)); err != nil {
		return fmt.Errorf("warm-up inference: %w", err)
	}
	logger.Info("Detector warmed up in %v", time.Since(start).Round(time.Millisecond))
	return nil
}
