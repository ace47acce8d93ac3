package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"livedetect/internal/decoder"
	"livedetect/internal/logger"
	"livedetect/internal/mailbox"
)

// fakeSource emits frames until limit is reached, then returns failAfter (or blocks until released).
type fakeSource struct {
	mu        sync.Mutex
	reads     int
	limit     int
	failAfter error
	interval  time.Duration
	releases  int32
	released  chan struct{}
}

func newFakeSource(limit int, failAfter error) *fakeSource {
	return &fakeSource{limit: limit, failAfter: failAfter, released: make(chan struct{})}
}

func (s *fakeSource) Read() (mailbox.Frame, error) {
	s.mu.Lock()
	s.reads++
	n := s.reads
	s.mu.Unlock()

	if s.limit > 0 && n > s.limit {
		if s.failAfter != nil {
			return mailbox.Frame{}, s.failAfter
		}
		time.Sleep(time.Millisecond)
	}
	if s.interval > 0 {
		time.Sleep(s.interval)
	}
	return mailbox.Frame{
		Data:      make([]byte, 640*480*3),
		Width:     640,
		Height:    480,
		Timestamp: time.Now(),
	}, nil
}

func (s *fakeSource) Release() error {
	if atomic.AddInt32(&s.releases, 1) == 1 {
		close(s.released)
	}
	return nil
}

// fakeBackend returns one fixed bus row per call.
type fakeBackend struct {
	calls int32
	delay time.Duration
	err   error
}

func (b *fakeBackend) Infer(frame mailbox.Frame) ([]decoder.Row, error) {
	atomic.AddInt32(&b.calls, 1)
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.err != nil {
		return nil, b.err
	}
	row := make(decoder.Row, 4+80)
	row[0], row[1], row[2], row[3] = 320, 320, 100, 80
	row[4+5] = 0.91
	return []decoder.Row{row}, nil
}

func (b *fakeBackend) InputSize() int { return 640 }

// fakeRenderer records results and asks to stop after stopAfter renders.
type fakeRenderer struct {
	mu        sync.Mutex
	results   []Result
	stopAfter int
	closes    int
}

func (r *fakeRenderer) Render(frame mailbox.Frame, res Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	if r.stopAfter > 0 && len(r.results) >= r.stopAfter {
		return ErrStopRequested
	}
	return nil
}

func (r *fakeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

func (r *fakeRenderer) snapshot() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

type recordingSink struct {
	mu      sync.Mutex
	results []Result
}

func (s *recordingSink) Publish(res Result) {
	s.mu.Lock()
	s.results = append(s.results, res)
	s.mu.Unlock()
}

func testOptions() Options {
	return Options{
		ScoreThreshold: 0.25,
		IoUThreshold:   0.45,
		InferEvery:     1,
		TakeTimeout:    50 * time.Millisecond,
	}
}

func testLogger() *logger.Logger {
	return logger.NewWithWriter(io.Discard)
}

func runWithTimeout(t *testing.T, p *Pipeline, ctx context.Context) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
		return nil
	}
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		want   error
	}{
		{"score", func(o *Options) { o.ScoreThreshold = 1.5 }, decoder.ErrScoreThreshold},
		{"iou", func(o *Options) { o.IoUThreshold = -0.5 }, decoder.ErrIoUThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)
			_, err := New(newFakeSource(0, nil), &fakeBackend{}, nil, testLogger(), opts)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	opts := testOptions()
	opts.InferEvery = 0
	if _, err := New(newFakeSource(0, nil), &fakeBackend{}, nil, testLogger(), opts); err == nil {
		t.Error("expected error for infer-every 0")
	}
	if _, err := New(nil, &fakeBackend{}, nil, testLogger(), testOptions()); err == nil {
		t.Error("expected error for nil source")
	}
}

func TestRun_StopRequestedByRenderer(t *testing.T) {
	source := newFakeSource(0, nil)
	source.interval = time.Millisecond
	backend := &fakeBackend{}
	renderer := &fakeRenderer{stopAfter: 5}
	sink := &recordingSink{}

	p, err := New(source, backend, renderer, testLogger(), testOptions(), sink)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := runWithTimeout(t, p, context.Background()); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}

	results := renderer.snapshot()
	if len(results) != 5 {
		t.Fatalf("expected 5 rendered results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Seq <= results[i-1].Seq {
			t.Errorf("results out of order: %d after %d", results[i].Seq, results[i-1].Seq)
		}
	}

	first := results[0]
	if len(first.Detections) != 1 || first.Detections[0].ClassID != 5 {
		t.Fatalf("expected one bus detection, got %+v", first.Detections)
	}
	// 640x480 frame letterboxed into 640: scale 1.
	box := first.Detections[0].Box
	if box.X1 != 270 || box.Y1 != 280 || box.X2 != 370 || box.Y2 != 360 {
		t.Errorf("unexpected box %+v", box)
	}

	if atomic.LoadInt32(&source.releases) != 1 {
		t.Errorf("expected source released once, got %d", source.releases)
	}
	if renderer.closes != 1 {
		t.Errorf("expected renderer closed once, got %d", renderer.closes)
	}
	if len(sink.results) != 5 {
		t.Errorf("expected sink to see 5 results, got %d", len(sink.results))
	}

	state := p.State()
	if state.Running || !state.StopRequested {
		t.Errorf("unexpected final state %+v", state)
	}
}

func TestRun_CaptureFailureIsFatal(t *testing.T) {
	readErr := errors.New("device unplugged")
	source := newFakeSource(3, readErr)
	renderer := &fakeRenderer{}

	p, err := New(source, &fakeBackend{}, renderer, testLogger(), testOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = runWithTimeout(t, p, context.Background())
	if !errors.Is(err, readErr) {
		t.Fatalf("expected capture error, got %v", err)
	}

	select {
	case <-source.released:
	default:
		t.Error("source was not released")
	}
	if atomic.LoadInt32(&source.releases) != 1 {
		t.Errorf("expected exactly one release, got %d", source.releases)
	}
	if renderer.closes != 1 {
		t.Errorf("expected renderer closed once, got %d", renderer.closes)
	}
}

func TestRun_EndOfStreamIsClean(t *testing.T) {
	source := newFakeSource(2, io.EOF)

	p, err := New(source, &fakeBackend{}, nil, testLogger(), testOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := runWithTimeout(t, p, context.Background()); err != nil {
		t.Fatalf("expected nil error at end of stream, got %v", err)
	}
}

func TestRun_ContextCancelStopsBothLoops(t *testing.T) {
	source := newFakeSource(0, nil)
	source.interval = 2 * time.Millisecond
	renderer := &fakeRenderer{}

	p, err := New(source, &fakeBackend{}, renderer, testLogger(), testOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	if err := runWithTimeout(t, p, ctx); err != nil {
		t.Fatalf("expected clean shutdown on cancel, got %v", err)
	}
	if atomic.LoadInt32(&source.releases) != 1 {
		t.Errorf("expected source released once, got %d", source.releases)
	}
}

func TestRun_SlowInferenceDropsFrames(t *testing.T) {
	source := newFakeSource(0, nil)
	source.interval = time.Millisecond
	backend := &fakeBackend{delay: 20 * time.Millisecond}
	renderer := &fakeRenderer{stopAfter: 5}

	p, err := New(source, backend, renderer, testLogger(), testOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := runWithTimeout(t, p, context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stats := p.Stats()
	if stats.Mailbox.Dropped == 0 {
		t.Errorf("expected dropped frames with slow inference, got %+v", stats.Mailbox)
	}

	results := renderer.snapshot()
	for i := 1; i < len(results); i++ {
		if results[i].Seq <= results[i-1].Seq {
			t.Fatalf("sequence went backwards: %d after %d", results[i].Seq, results[i-1].Seq)
		}
	}
	if stats.InferFPS <= 0 {
		t.Errorf("expected a positive inference fps, got %v", stats.InferFPS)
	}
}

func TestRun_DecimationReusesCachedResult(t *testing.T) {
	source := newFakeSource(0, nil)
	source.interval = time.Millisecond
	backend := &fakeBackend{}
	renderer := &fakeRenderer{stopAfter: 7}

	opts := testOptions()
	opts.InferEvery = 3

	p, err := New(source, backend, renderer, testLogger(), opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := runWithTimeout(t, p, context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	results := renderer.snapshot()
	wantInferred := []bool{true, false, false, true, false, false, true}
	var lastSource uint64
	for i, res := range results {
		if res.Inferred != wantInferred[i] {
			t.Errorf("result %d inferred=%v, want %v", i, res.Inferred, wantInferred[i])
		}
		if res.Inferred {
			lastSource = res.Seq
		} else {
			if res.SourceSeq != lastSource {
				t.Errorf("result %d reused seq %d, want %d", i, res.SourceSeq, lastSource)
			}
			if len(res.Detections) != 1 {
				t.Errorf("result %d lost cached detections", i)
			}
		}
	}

	if calls := atomic.LoadInt32(&backend.calls); calls != 3 {
		t.Errorf("expected 3 inferences, got %d", calls)
	}
	stats := p.Stats()
	if stats.Inferences != 3 || stats.Reused != 4 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestRun_InferenceErrorSkipsFrame(t *testing.T) {
	source := newFakeSource(0, nil)
	source.interval = time.Millisecond
	backend := &fakeBackend{err: errors.New("forward failed")}
	renderer := &fakeRenderer{}

	p, err := New(source, backend, renderer, testLogger(), testOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := runWithTimeout(t, p, ctx); err != nil {
		t.Fatalf("inference errors must not stop the pipeline, got %v", err)
	}

	if len(renderer.snapshot()) != 0 {
		t.Error("frames with failed inference must not be rendered")
	}
	if p.Stats().InferErrors == 0 {
		t.Error("expected inference errors to be counted")
	}
}

func TestRun_TimeoutIsNotFatal(t *testing.T) {
	// A source that never delivers: the consumer times out repeatedly until cancelled.
	source := &blockingSource{release: make(chan struct{})}

	p, err := New(source, &fakeBackend{}, nil, testLogger(), Options{
		ScoreThreshold: 0.25,
		IoUThreshold:   0.45,
		InferEvery:     1,
		TakeTimeout:    5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	go func() {
		<-ctx.Done()
		close(source.release)
	}()

	if err := runWithTimeout(t, p, ctx); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	if p.Stats().Timeouts == 0 {
		t.Error("expected timeouts to be counted")
	}
}

func TestRun_TwiceConcurrentlyFails(t *testing.T) {
	source := newFakeSource(0, nil)
	source.interval = time.Millisecond
	p, err := New(source, &fakeBackend{}, nil, testLogger(), testOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !p.State().Running && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := p.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run failed: %v", err)
	}
}

func TestRun_SecondRunIsRejected(t *testing.T) {
	source := newFakeSource(2, io.EOF)
	p, err := New(source, &fakeBackend{}, nil, testLogger(), testOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := runWithTimeout(t, p, context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if err := p.Run(context.Background()); !errors.Is(err, ErrFinished) {
		t.Errorf("expected ErrFinished, got %v", err)
	}
	if n := atomic.LoadInt32(&source.releases); n != 1 {
		t.Errorf("expected source released once, got %d", n)
	}
}

func TestRun_StuckReadDoesNotHoldShutdown(t *testing.T) {
	source := &blockingSource{release: make(chan struct{})}
	defer close(source.release)

	opts := testOptions()
	opts.JoinTimeout = 50 * time.Millisecond
	p, err := New(source, &fakeBackend{}, nil, testLogger(), opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	if err := runWithTimeout(t, p, ctx); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run waited %v for a blocked read", elapsed)
	}
}

// blockingSource never produces a frame; Read returns EOF once release is closed.
type blockingSource struct {
	release chan struct{}
}

func (s *blockingSource) Read() (mailbox.Frame, error) {
	<-s.release
	return mailbox.Frame{}, io.EOF
}

func (s *blockingSource) Release() error { return nil }
