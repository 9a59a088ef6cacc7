// Package statistics implements the per-user moving-average aggregator
// (C10): pixels-per-round and response time over a fixed sample window,
// published on the ingress event bus in scheduler play order.
package statistics

import (
	"context"
	"sync"
	"time"

	"github.com/pixelflut/pixelflutd/internal/events"
)

// SampleWindow is the reference moving-average window size from
// spec.md §4.8.
const SampleWindow = 10

// PlayOrderSource supplies the scheduler's current play-order user list.
type PlayOrderSource interface {
	PlayOrder() []string
}

type samples struct {
	pixels    [SampleWindow]int
	responses [SampleWindow]float64
	count     int
	next      int
}

func (s *samples) add(pixels int, responseMillis float64) {
	s.pixels[s.next] = pixels
	s.responses[s.next] = responseMillis
	s.next = (s.next + 1) % SampleWindow
	if s.count < SampleWindow {
		s.count++
	}
}

func (s *samples) averages() (avgPixels, avgResponse float64) {
	if s.count == 0 {
		return 0, 0
	}
	var pixelSum int
	var responseSum float64
	for i := 0; i < s.count; i++ {
		pixelSum += s.pixels[i]
		responseSum += s.responses[i]
	}
	return float64(pixelSum) / float64(s.count), responseSum / float64(s.count)
}

// Aggregator records per-username samples at DONE time (wired per
// SPEC_FULL.md §9, resolving the source's unwired record hook) and
// periodically publishes a UserStatisticsUpdate in scheduler order.
type Aggregator struct {
	scheduler PlayOrderSource
	ingress   chan<- events.Event
	interval  time.Duration

	mu     sync.Mutex
	byUser map[string]*samples
}

// New constructs an Aggregator publishing once per interval.
func New(scheduler PlayOrderSource, ingress chan<- events.Event, interval time.Duration) *Aggregator {
	return &Aggregator{
		scheduler: scheduler,
		ingress:   ingress,
		interval:  interval,
		byUser:    make(map[string]*samples),
	}
}

// Record stores one (pixels, responseTime) sample for username, called
// from the painter connection's DONE handler.
func (a *Aggregator) Record(username string, pixels int, responseTime time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.byUser[username]
	if !ok {
		s = &samples{}
		a.byUser[username] = s
	}
	s.add(pixels, float64(responseTime.Milliseconds()))
}

// Run publishes a UserStatisticsUpdate every interval until ctx is
// cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.publish()
		}
	}
}

func (a *Aggregator) publish() {
	order := a.scheduler.PlayOrder()
	if len(order) == 0 {
		return
	}

	entries := make([]events.StatEntry, 0, len(order))
	a.mu.Lock()
	for _, username := range order {
		avgPixels, avgResponse := 0.0, 0.0
		if s, ok := a.byUser[username]; ok {
			avgPixels, avgResponse = s.averages()
		}
		entries = append(entries, events.StatEntry{
			Username:          username,
			AvgPixelsPerRound: avgPixels,
			AvgResponseMillis: avgResponse,
		})
	}
	a.mu.Unlock()

	a.ingress <- events.Event{UserStatisticsUpdate: &events.UserStatisticsUpdate{Entries: entries}}
}
