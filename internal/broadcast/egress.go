package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/pixelflut/pixelflutd/pkg/metrics"
)

// ErrLag is returned by Subscription.Next when the subscriber fell more
// than the ring's capacity behind the publisher. The subscription is
// terminal after this: the caller is expected to report the lag and
// close the connection (spec.md §4.7).
type ErrLag struct {
	Skipped int
}

func (e *ErrLag) Error() string {
	return fmt.Sprintf("broadcast: subscriber lagged behind by %d frames", e.Skipped)
}

// Egress is the bounded, lossy broadcast ring the compressor publishes
// compressed frames onto. Slow subscribers observe ErrLag rather than
// being allowed to grow the buffer without bound (spec.md §5,
// "Backpressure").
type Egress struct {
	mu      sync.Mutex
	cap     int
	buf     [][]byte
	nextSeq int
	signal  chan struct{}

	metrics *metrics.CanvasMetrics
}

// NewEgress allocates a ring of the given frame capacity (reference: 512).
func NewEgress(capacity int) *Egress {
	return &Egress{
		cap:    capacity,
		buf:    make([][]byte, capacity),
		signal: make(chan struct{}),
	}
}

// SetMetrics attaches a metrics registry for published-frame
// instrumentation. Safe to leave unset; nil-checked on every use.
func (e *Egress) SetMetrics(m *metrics.CanvasMetrics) {
	e.metrics = m
}

// Publish appends frame and wakes any subscriber waiting for new data.
// It is the compressor's exclusive write path onto the ring.
func (e *Egress) Publish(frame []byte) {
	e.mu.Lock()
	e.buf[e.nextSeq%e.cap] = frame
	e.nextSeq++
	old := e.signal
	e.signal = make(chan struct{})
	e.mu.Unlock()
	close(old)

	if e.metrics != nil {
		e.metrics.EgressFramesPublishedTotal.Inc()
	}
}

// Subscription is one spectator's read cursor into the ring.
type Subscription struct {
	egress *Egress
	cursor int
}

// Subscribe starts a new subscription at the current tail; no history is
// replayed (spec.md §4.7).
func (e *Egress) Subscribe() *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &Subscription{egress: e, cursor: e.nextSeq}
}

// Next blocks until a frame is available, the subscriber has lagged past
// the ring's capacity, or ctx is cancelled.
func (s *Subscription) Next(ctx context.Context) ([]byte, error) {
	e := s.egress
	for {
		e.mu.Lock()
		if gap := e.nextSeq - s.cursor; gap > 0 {
			if skipped := gap - e.cap; skipped > 0 {
				e.mu.Unlock()
				return nil, &ErrLag{Skipped: skipped}
			}
			frame := e.buf[s.cursor%e.cap]
			s.cursor++
			e.mu.Unlock()
			return frame, nil
		}
		sig := e.signal
		e.mu.Unlock()

		select {
		case <-sig:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
