// Package hub implements the lossy single-producer, multi-consumer
// frame broadcaster. The hub holds only the latest published frame:
// slow consumers skip intermediate frames instead of queueing them, so
// a stalled viewer can never throttle capture or other viewers.
package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/chassisworks/kvmip/internal/metrics"
	"github.com/chassisworks/kvmip/internal/video"
)

// ErrClosed is returned once the hub has shut down.
var ErrClosed = errors.New("frame hub closed")

// Hub is a single-slot latest-value cell with a version counter. The
// capture loop is its only writer; subscriptions read the slot and wait
// on the notify channel, which is closed and replaced on every publish.
type Hub struct {
	mu     sync.Mutex
	frame  *video.Frame
	seq    uint64
	notify chan struct{}
	closed bool
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{notify: make(chan struct{})}
}

// Publish replaces the current frame and wakes all waiting
// subscriptions. It never blocks on consumers. The hub assigns the
// sequence number; callers must not reuse the frame buffer afterwards.
func (h *Hub) Publish(frame *video.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.seq++
	frame.Seq = h.seq
	h.frame = frame
	close(h.notify)
	h.notify = make(chan struct{})
}

// Seq returns the sequence number of the current frame, 0 before the
// first publish.
func (h *Hub) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Current returns the latest published frame, or nil before the first
// publish.
func (h *Hub) Current() *video.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame
}

// Close wakes all waiters and marks the hub terminal. Subsequent Next
// calls return ErrClosed once the subscriber has drained the last frame.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.notify)
}

// Subscribe creates a cursor positioned before the oldest retained
// frame, so the first Next returns the current frame immediately when
// one exists.
func (h *Hub) Subscribe() *Subscription {
	return &Subscription{hub: h}
}

// Subscription is a per-client cursor into the hub. It records the last
// delivered sequence number; delivered numbers are strictly increasing
// but may skip (lossy).
type Subscription struct {
	hub  *Hub
	last uint64
}

// Next blocks until a frame newer than the cursor is available and
// returns the latest such frame. Returns ErrClosed when the hub shuts
// down and ctx.Err when the context is cancelled.
func (s *Subscription) Next(ctx context.Context) (*video.Frame, error) {
	for {
		s.hub.mu.Lock()
		if s.hub.seq > s.last {
			frame := s.hub.frame
			s.countSkipped()
			s.last = s.hub.seq
			s.hub.mu.Unlock()
			return frame, nil
		}
		if s.hub.closed {
			s.hub.mu.Unlock()
			return nil, ErrClosed
		}
		notify := s.hub.notify
		s.hub.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryNext returns the latest frame if it is newer than the cursor,
// without blocking. The second result reports whether a frame was
// delivered.
func (s *Subscription) TryNext() (*video.Frame, bool) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.hub.seq > s.last {
		s.countSkipped()
		s.last = s.hub.seq
		return s.hub.frame, true
	}
	return nil, false
}

// countSkipped records frames this cursor passed over. Frames published
// before the subscriber's first read are not drops. Caller holds hub.mu.
func (s *Subscription) countSkipped() {
	if s.last == 0 {
		return
	}
	if skipped := s.hub.seq - s.last - 1; skipped > 0 {
		metrics.FramesDropped.Add(float64(skipped))
	}
}
