// Package scheduler implements the round-robin slot scheduler: the turn
// queue that awards each registered painter a bounded, fair window in
// which their pixel writes are accepted.
//
// The queue and the play-order list are guarded by two locks acquired
// in a fixed order (queue, then active users) on every mutating path,
// mirroring the teacher's fixed-lock-order discipline in
// connection.Manager.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pixelflut/pixelflutd/internal/events"
	"github.com/pixelflut/pixelflutd/pkg/metrics"
)

// SlotEvent is sent into a painter's Mailbox on each slot transition.
type SlotEvent int

const (
	SlotStart SlotEvent = iota
	SlotEnd
)

func (e SlotEvent) String() string {
	if e == SlotStart {
		return "SlotStart"
	}
	return "SlotEnd"
}

// Mailbox is the scheduler's send-only handle into a painter connection.
// The painter owns the receive end (Mailbox.C) and signals it is gone by
// closing Done — never by closing C itself, which would otherwise race
// the scheduler's send with a "send on closed channel" panic.
type Mailbox struct {
	C    chan SlotEvent
	Done chan struct{}
}

// NewMailbox allocates a mailbox with the reference capacity of 1.
func NewMailbox() *Mailbox {
	return &Mailbox{
		C:    make(chan SlotEvent, 1),
		Done: make(chan struct{}),
	}
}

// trySend delivers ev unless the painter has signalled it is gone. While
// C is full it blocks until the painter receives or closes Done.
func (m *Mailbox) trySend(ev SlotEvent) bool {
	select {
	case <-m.Done:
		return false
	default:
	}
	select {
	case m.C <- ev:
		return true
	case <-m.Done:
		return false
	}
}

type activeUser struct {
	username string
	mailbox  *Mailbox
	inSlot   bool
}

// Scheduler maintains the turn queue of registered painters and drives
// SlotStart/SlotEnd transitions at a fixed cadence.
type Scheduler struct {
	slotDuration time.Duration
	logger       *slog.Logger
	ingress      chan<- events.Event

	queueMu sync.Mutex
	queue   []*activeUser

	activeMu    sync.Mutex
	activeUsers []string

	metrics *metrics.CanvasMetrics
}

// New constructs a Scheduler that publishes CurrentlyPainting events to
// ingress on every tick.
func New(slotDuration time.Duration, ingress chan<- events.Event, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		slotDuration: slotDuration,
		ingress:      ingress,
		logger:       logger,
	}
}

// SetMetrics attaches a metrics registry for slot/queue instrumentation.
// Safe to leave unset; nil-checked on every use.
func (s *Scheduler) SetMetrics(m *metrics.CanvasMetrics) {
	s.metrics = m
}

// Register appends username to the queue tail and to the play-order
// list if not already present.
func (s *Scheduler) Register(username string, mailbox *Mailbox) {
	s.queueMu.Lock()
	s.queue = append(s.queue, &activeUser{username: username, mailbox: mailbox})
	s.queueMu.Unlock()

	s.activeMu.Lock()
	if !containsString(s.activeUsers, username) {
		s.activeUsers = append(s.activeUsers, username)
	}
	count := len(s.activeUsers)
	s.activeMu.Unlock()

	if s.metrics != nil {
		s.metrics.RegisteredPaintersGauge.Set(float64(count))
	}
}

// Unregister removes username from both the queue and the play-order
// list.
func (s *Scheduler) Unregister(username string) {
	s.queueMu.Lock()
	s.queue = removeUser(s.queue, username)
	s.queueMu.Unlock()

	s.activeMu.Lock()
	s.activeUsers = removeString(s.activeUsers, username)
	count := len(s.activeUsers)
	s.activeMu.Unlock()

	if s.metrics != nil {
		s.metrics.RegisteredPaintersGauge.Set(float64(count))
	}
}

// PlayOrder returns a snapshot of the join-order user list, used by the
// statistics aggregator to emit rows in scheduler order.
func (s *Scheduler) PlayOrder() []string {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	out := make([]string, len(s.activeUsers))
	copy(out, s.activeUsers)
	return out
}

// Run drives the tick loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.slotDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick performs the four-step transition described in spec.md §4.3,
// atomically with respect to Register/Unregister.
func (s *Scheduler) tick() {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if len(s.queue) == 0 {
		return
	}

	// The front painter is only rotated out once its slot has started; a
	// front that has not had a slot yet simply receives SlotStart below.
	if p := s.queue[0]; p.inSlot {
		s.queue = s.queue[1:]
		p.inSlot = false
		if p.mailbox.trySend(SlotEnd) {
			s.queue = append(s.queue, p)
		} else {
			s.dropLocked(p.username)
		}
	}

	for len(s.queue) > 0 {
		q := s.queue[0]
		if q.mailbox.trySend(SlotStart) {
			q.inSlot = true
			s.publish(q.username)
			if s.metrics != nil {
				s.metrics.SlotsCompletedTotal.Inc()
			}
			return
		}
		s.queue = s.queue[1:]
		s.dropLocked(q.username)
	}
}

// dropLocked removes username from active_users; callers already hold
// queueMu and have already removed username from s.queue.
func (s *Scheduler) dropLocked(username string) {
	s.activeMu.Lock()
	s.activeUsers = removeString(s.activeUsers, username)
	s.activeMu.Unlock()
	if s.logger != nil {
		s.logger.Debug("dropped unreachable painter from turn queue", "username", username)
	}
}

// publish blocks until the event is enqueued, the same backpressure
// discipline as a painter's DONE handler (spec.md §5, "Backpressure").
func (s *Scheduler) publish(username string) {
	if s.ingress == nil {
		return
	}
	s.ingress <- events.Event{CurrentlyPainting: &events.CurrentlyPainting{Username: username}}
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func removeString(xs []string, x string) []string {
	out := xs[:0]
	for _, v := range xs {
		if v != x {
			out = append(out, v)
		}
	}
	return out
}

func removeUser(xs []*activeUser, username string) []*activeUser {
	out := xs[:0]
	for _, v := range xs {
		if v.username != username {
			out = append(out, v)
		}
	}
	return out
}
