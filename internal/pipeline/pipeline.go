// Package pipeline connects a capture source to a detector through a latest-wins mailbox.
//
// Run starts one producer goroutine that reads frames and publishes them, and consumes
// on the calling goroutine: take the freshest frame, infer (or reuse the cached result),
// decode, hand the result to sinks and render it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"livedetect/internal/decoder"
	"livedetect/internal/logger"
	"livedetect/internal/mailbox"
)

const (
	// fpsSmoothing is the weight of the newest sample in the inference FPS average.
	fpsSmoothing = 0.1

	defaultJoinTimeout = time.Second
)

type Pipeline struct {
	source   Source
	backend  Backend
	renderer Renderer
	sinks    []Sink
	mailbox  *mailbox.Mailbox
	opts     Options
	logger   *logger.Logger

	mu       sync.Mutex
	state    State
	stats    Stats
	latest   *Result
	finished bool

	renderOnce sync.Once
}

// New validates opts and builds a pipeline. A nil renderer disables rendering.
func New(source Source, backend Backend, renderer Renderer, logger *logger.Logger, opts Options, sinks ...Sink) (*Pipeline, error) {
	if source == nil {
		return nil, errors.New("pipeline: source is required")
	}
	if backend == nil {
		return nil, errors.New("pipeline: backend is required")
	}
	if err := decoder.ValidateThresholds(opts.ScoreThreshold, opts.IoUThreshold); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if opts.InferEvery < 1 {
		return nil, fmt.Errorf("pipeline: infer-every must be at least 1, got %d", opts.InferEvery)
	}
	if backend.InputSize() <= 0 {
		return nil, fmt.Errorf("pipeline: backend input size must be positive, got %d", backend.InputSize())
	}
	if renderer == nil {
		renderer = nopRenderer{}
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}

	return &Pipeline{
		source:   source,
		backend:  backend,
		renderer: renderer,
		sinks:    sinks,
		mailbox:  mailbox.New(),
		opts:     opts,
		logger:   logger,
	}, nil
}

// Run blocks until the pipeline stops: ctx is cancelled, Stop is called, the renderer
// asks to quit, or the source fails. A capture failure is returned as an error; every
// other way of stopping returns nil. The renderer is closed before Run returns; the source is
// released by the producer, which Run waits for at most JoinTimeout after shutdown.
// A Pipeline runs once: later calls return ErrFinished.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	switch {
	case p.state.Running:
		p.mu.Unlock()
		return ErrAlreadyRunning
	case p.finished:
		p.mu.Unlock()
		return ErrFinished
	}
	p.state.Running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.state.Running = false
		p.finished = true
		p.mu.Unlock()
	}()

	stopOnCancel := context.AfterFunc(ctx, p.Stop)
	defer stopOnCancel()

	produced := make(chan error, 1)
	go func() {
		produced <- p.produce()
	}()

	consumeErr := p.consume()

	// The consumer may finish first (quit key, render failure); make sure the producer follows.
	p.Stop()
	captureErr := p.joinProducer(produced)

	closeErr := p.closeRenderer()

	switch {
	case captureErr != nil:
		return captureErr
	case consumeErr != nil:
		return consumeErr
	case closeErr != nil:
		return fmt.Errorf("close renderer: %w", closeErr)
	}
	return nil
}

// joinProducer waits for the producer to exit. A producer blocked in Read is left behind;
// it releases the source itself once the read returns.
func (p *Pipeline) joinProducer(produced <-chan error) error {
	timer := time.NewTimer(p.opts.JoinTimeout)
	defer timer.Stop()

	select {
	case err := <-produced:
		return err
	case <-timer.C:
		p.logger.Warning("Capture source still blocked in a read after %v, not waiting for it", p.opts.JoinTimeout)
		return nil
	}
}

// Stop requests shutdown. Both loops observe it through the mailbox closing.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.state.StopRequested = true
	p.mu.Unlock()
	p.mailbox.Close()
}

// State returns the pipeline flags.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	stats := p.stats
	stats.State = p.state
	p.mu.Unlock()

	stats.Mailbox = p.mailbox.Stats()
	return stats
}

// Latest returns the most recent result, if any.
func (p *Pipeline) Latest() (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return Result{}, false
	}
	return *p.latest, true
}

// produce owns the source: it is the only goroutine that reads from or releases it.
func (p *Pipeline) produce() error {
	defer func() {
		if err := p.source.Release(); err != nil {
			p.logger.Error("Failed to release capture source: %v", err)
		}
	}()
	defer p.mailbox.Close()

	for !p.mailbox.Closed() {
		frame, err := p.source.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.logger.Info("Capture source reached end of stream")
				return nil
			}
			p.logger.Error("Capture failed, stopping pipeline: %v", err)
			return fmt.Errorf("capture: %w", err)
		}
		p.mailbox.Publish(frame)
	}
	return nil
}

// consume runs until the mailbox is closed or the renderer asks to stop.
func (p *Pipeline) consume() error {
	// cached is owned by this loop; decimated frames reuse its detections.
	var cached *Result
	var taken uint64

	for {
		frame, err := p.mailbox.TakeLatest(p.opts.TakeTimeout)
		switch {
		case errors.Is(err, mailbox.ErrTimeout):
			p.mu.Lock()
			p.stats.Timeouts++
			p.mu.Unlock()
			p.logger.Debug("No frame within %v, still waiting", p.opts.TakeTimeout)
			continue
		case errors.Is(err, mailbox.ErrClosed):
			return nil
		case err != nil:
			return err
		}

		infer := cached == nil || taken%uint64(p.opts.InferEvery) == 0
		taken++

		var res Result
		if infer {
			res, err = p.infer(frame)
			if err != nil {
				p.mu.Lock()
				p.stats.InferErrors++
				p.mu.Unlock()
				p.logger.Error("Skipping frame %d: %v", frame.Seq, err)
				continue
			}
			cached = &res
		} else {
			res = reuse(frame, cached)
		}

		p.record(res)
		for _, sink := range p.sinks {
			sink.Publish(res)
		}

		if err := p.renderer.Render(frame, res); err != nil {
			if errors.Is(err, ErrStopRequested) {
				p.logger.Info("Stop requested by operator")
				return nil
			}
			return fmt.Errorf("render: %w", err)
		}
	}
}

func (p *Pipeline) infer(frame mailbox.Frame) (Result, error) {
	start := time.Now()
	rows, err := p.backend.Infer(frame)
	if err != nil {
		return Result{}, fmt.Errorf("inference: %w", err)
	}

	detections, err := decoder.Decode(rows, decoder.Params{
		ScoreThreshold: p.opts.ScoreThreshold,
		IoUThreshold:   p.opts.IoUThreshold,
		Scale:          decoder.LetterboxScale(frame.Width, frame.Height, p.backend.InputSize()),
		ImageWidth:     frame.Width,
		ImageHeight:    frame.Height,
	})
	if err != nil {
		return Result{}, fmt.Errorf("decode: %w", err)
	}

	return Result{
		Seq:           frame.Seq,
		Timestamp:     frame.Timestamp,
		Width:         frame.Width,
		Height:        frame.Height,
		Detections:    detections,
		Inferred:      true,
		SourceSeq:     frame.Seq,
		InferDuration: time.Since(start),
	}, nil
}

func reuse(frame mailbox.Frame, cached *Result) Result {
	return Result{
		Seq:        frame.Seq,
		Timestamp:  frame.Timestamp,
		Width:      frame.Width,
		Height:     frame.Height,
		Detections: cached.Detections,
		Inferred:   false,
		SourceSeq:  cached.SourceSeq,
	}
}

func (p *Pipeline) record(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Frames++
	if res.Inferred {
		p.stats.Inferences++
		ms := float64(res.InferDuration) / float64(time.Millisecond)
		p.stats.LastInferMs = ms
		if ms > 0 {
			fps := 1000.0 / ms
			if p.stats.InferFPS == 0 {
				p.stats.InferFPS = fps
			} else {
				p.stats.InferFPS = (1-fpsSmoothing)*p.stats.InferFPS + fpsSmoothing*fps
			}
		}
	} else {
		p.stats.Reused++
	}
	p.latest = &res
}

func (p *Pipeline) closeRenderer() error {
	var err error
	p.renderOnce.Do(func() {
		err = p.renderer.Close()
	})
	return err
}
