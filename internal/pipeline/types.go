package pipeline

import (
	"errors"
	"time"

	"livedetect/internal/config"
	"livedetect/internal/decoder"
	"livedetect/internal/mailbox"
)

var (
	// ErrStopRequested is returned by a Renderer when the operator asked to quit.
	ErrStopRequested = errors.New("pipeline: stop requested")
	// ErrAlreadyRunning is returned when Run is called on a running pipeline.
	ErrAlreadyRunning = errors.New("pipeline: already running")
	// ErrFinished is returned when Run is called again after it returned. A Pipeline runs once.
	ErrFinished = errors.New("pipeline: already finished")
)

// Source produces frames. Read blocks until the next frame is captured and returns
// io.EOF at the end of a finite stream. Release frees the device.
type Source interface {
	Read() (mailbox.Frame, error)
	Release() error
}

// Backend runs the detector on a frame and returns its raw rows.
type Backend interface {
	Infer(frame mailbox.Frame) ([]decoder.Row, error)
	// InputSize is the side of the square, letterboxed detector input.
	InputSize() int
}

// Renderer draws a result over its frame and presents it.
type Renderer interface {
	Render(frame mailbox.Frame, res Result) error
	Close() error
}

// Sink observes results. Publish must not block the consumer.
type Sink interface {
	Publish(res Result)
}

// Result is what the consumer produced for one frame.
type Result struct {
	Seq           uint64              `json:"seq"`
	Timestamp     time.Time           `json:"timestamp"`
	Width         int                 `json:"width"`
	Height        int                 `json:"height"`
	Detections    []decoder.Detection `json:"detections"`
	Inferred      bool                `json:"inferred"`
	SourceSeq     uint64              `json:"source_seq"` // frame the detections were computed on
	InferDuration time.Duration       `json:"infer_duration"`
}

// State mirrors the process-wide pipeline flags.
type State struct {
	Running       bool `json:"running"`
	StopRequested bool `json:"stop_requested"`
}

// Stats are consumer-side counters plus the mailbox counters.
type Stats struct {
	State
	Frames      uint64        `json:"frames"`
	Inferences  uint64        `json:"inferences"`
	Reused      uint64        `json:"reused"`
	Timeouts    uint64        `json:"timeouts"`
	InferErrors uint64        `json:"infer_errors"`
	InferFPS    float64       `json:"infer_fps"`
	LastInferMs float64       `json:"last_infer_ms"`
	Mailbox     mailbox.Stats `json:"mailbox"`
}

// Options tune the consumer loop and the decoder.
type Options struct {
	ScoreThreshold float64
	IoUThreshold   float64
	InferEvery     int
	TakeTimeout    time.Duration
	// JoinTimeout bounds how long Run waits for a producer stuck in a read after
	// shutdown. Zero means defaultJoinTimeout.
	JoinTimeout time.Duration
}

// OptionsFromConfig copies the loop settings out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ScoreThreshold: cfg.ScoreThreshold,
		IoUThreshold:   cfg.IoUThreshold,
		InferEvery:     cfg.InferEvery,
		TakeTimeout:    cfg.TakeTimeout,
	}
}

type nopRenderer struct{}

func (nopRenderer) Render(mailbox.Frame, Result) error { return nil }
func (nopRenderer) Close() error                       { return nil }
