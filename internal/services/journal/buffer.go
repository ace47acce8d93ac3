package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"livedetect/internal/classes"
	"livedetect/internal/logger"
	"livedetect/internal/models"
	"livedetect/internal/pipeline"
	"livedetect/internal/repository"

	"github.com/google/uuid"
)

// BufferService collects detections of inferred frames in memory and writes them to the
// journal in batches. Publish never touches the database.
type BufferService struct {
	repo        repository.DetectionRepository
	runID       string
	names       classes.Names
	bufferLimit int
	logger      *logger.Logger

	mu         sync.Mutex
	detections []models.Detection
	dropped    uint64
	flushMu    sync.Mutex
}

func NewBufferService(repo repository.DetectionRepository, runID string, names classes.Names, bufferLimit int, logger *logger.Logger) *BufferService {
	return &BufferService{
		repo:        repo,
		runID:       runID,
		names:       names,
		bufferLimit: bufferLimit,
		logger:      logger,
		detections:  make([]models.Detection, 0, bufferLimit),
	}
}

// Run flushes on every tick until ctx is done, then flushes once more.
func (s *BufferService) Run(ctx context.Context, flushInterval time.Duration) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				s.logger.Error("Journal flush failed: %v", err)
			}
		case <-ctx.Done():
			if err := s.Flush(); err != nil {
				s.logger.Error("Final journal flush failed: %v", err)
			}
			return
		}
	}
}

// Publish buffers the detections of an inferred result. Reused results repeat detections
// that were already journaled and are ignored. When the buffer is full the result is dropped.
func (s *BufferService) Publish(res pipeline.Result) {
	if !res.Inferred || len(res.Detections) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.detections)+len(res.Detections) > s.bufferLimit {
		s.dropped += uint64(len(res.Detections))
		return
	}

	for _, det := range res.Detections {
		s.detections = append(s.detections, models.Detection{
			RunID:      s.runID,
			FrameSeq:   res.Seq,
			Timestamp:  res.Timestamp,
			ClassID:    det.ClassID,
			ObjectName: s.names.Name(det.ClassID),
			Confidence: det.Confidence,
			X1:         det.Box.X1,
			Y1:         det.Box.Y1,
			X2:         det.Box.X2,
			Y2:         det.Box.Y2,
		})
	}
}

// Flush writes the buffered detections. On failure they stay buffered for the next attempt.
func (s *BufferService) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	pending := s.detections
	s.detections = make([]models.Detection, 0, s.bufferLimit)
	dropped := s.dropped
	s.dropped = 0
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.WithField("run", s.runID).Warnf("Journal buffer full, dropped %d detections", dropped)
	}
	if len(pending) == 0 {
		return nil
	}

	if err := s.repo.InsertBatch(pending); err != nil {
		s.requeue(pending)
		return fmt.Errorf("failed to write %d detections: %w", len(pending), err)
	}

	s.logger.WithField("run", s.runID).Debugf("Flushed %d detections to the journal", len(pending))
	return nil
}

// requeue puts unwritten detections back in front of anything buffered since, within the limit.
func (s *BufferService) requeue(pending []models.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := append(pending, s.detections...)
	if len(merged) > s.bufferLimit {
		s.dropped += uint64(len(merged) - s.bufferLimit)
		merged = merged[:s.bufferLimit]
	}
	s.detections = merged
}

// Pending returns the number of buffered detections.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.detections)
}

// RunID returns the run the buffered detections belong to.
func (s *BufferService) RunID() string {
	return s.runID
}

// StartRun records a new run with a fresh id.
func StartRun(runs repository.RunRepository, source, model string) (*models.Run, error) {
	run := &models.Run{
		ID:        uuid.NewString(),
		Source:    source,
		Model:     model,
		StartedAt: time.Now().UTC(),
	}
	if err := runs.Start(run); err != nil {
		return nil, err
	}
	return run, nil
}
