package mailbox

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by TakeLatest when no frame arrived within the timeout.
	ErrTimeout = errors.New("mailbox: timed out waiting for frame")
	// ErrClosed is returned by TakeLatest once the mailbox is closed and drained.
	ErrClosed = errors.New("mailbox: closed")
)

// Stats are lifetime counters of a Mailbox.
type Stats struct {
	Published uint64 `json:"published"`
	Taken     uint64 `json:"taken"`
	Dropped   uint64 `json:"dropped"`
}

// Mailbox is a single-slot, latest-wins hand-off between one producer and one consumer.
// A publish overwrites any frame the consumer has not taken yet.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	closed bool

	nextSeq uint64
	stats   Stats
}

// New returns an empty, open Mailbox.
func New() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish stores frame in the slot, replacing an unconsumed frame, and wakes the consumer.
// It never waits for the consumer. The stored frame, with its sequence number, is returned.
// Publishing to a closed mailbox discards the frame.
func (m *Mailbox) Publish(frame Frame) Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.stats.Dropped++
		return frame
	}

	if m.frame != nil {
		m.stats.Dropped++
	}

	m.nextSeq++
	frame.Seq = m.nextSeq
	m.frame = &frame
	m.stats.Published++

	m.cond.Signal()
	return frame
}

// TakeLatest blocks until a new frame is available and takes it out of the slot.
// A timeout <= 0 waits without limit. It returns ErrTimeout when the timeout elapses
// and ErrClosed once the mailbox is closed and no frame is left.
func (m *Mailbox) TakeLatest(timeout time.Duration) (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := false
	if timeout > 0 && m.frame == nil && !m.closed {
		timer := time.AfterFunc(timeout, func() {
			m.mu.Lock()
			expired = true
			m.mu.Unlock()
			m.cond.Broadcast()
		})
		defer timer.Stop()
	}

	for m.frame == nil && !m.closed && !expired {
		m.cond.Wait()
	}

	return m.takeLocked()
}

// TakeLatestContext is TakeLatest bounded by ctx instead of a timeout.
func (m *Mailbox) TakeLatestContext(ctx context.Context) (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cancelled := false
	if m.frame == nil && !m.closed {
		stop := context.AfterFunc(ctx, func() {
			m.mu.Lock()
			cancelled = true
			m.mu.Unlock()
			m.cond.Broadcast()
		})
		defer stop()
	}

	for m.frame == nil && !m.closed && !cancelled {
		m.cond.Wait()
	}

	if m.frame == nil && !m.closed && cancelled {
		return Frame{}, ctx.Err()
	}
	return m.takeLocked()
}

// takeLocked must be called with mu held.
func (m *Mailbox) takeLocked() (Frame, error) {
	if m.frame != nil {
		frame := *m.frame
		m.frame = nil
		m.stats.Taken++
		return frame, nil
	}
	if m.closed {
		return Frame{}, ErrClosed
	}
	return Frame{}, ErrTimeout
}

// Close marks the mailbox closed and wakes every waiter. It is safe to call more than once.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stats returns a snapshot of the mailbox counters.
func (m *Mailbox) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
