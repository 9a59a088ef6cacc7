package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelflut/pixelflutd/internal/events"
)

func TestRegisterAddsToQueueAndPlayOrder(t *testing.T) {
	ingress := make(chan events.Event, 16)
	s := New(10*time.Millisecond, ingress, nil)

	mb := NewMailbox()
	s.Register("alice", mb)

	assert.Equal(t, []string{"alice"}, s.PlayOrder())
}

func TestUnregisterRemovesFromBothStructures(t *testing.T) {
	ingress := make(chan events.Event, 16)
	s := New(10*time.Millisecond, ingress, nil)

	mb := NewMailbox()
	s.Register("alice", mb)
	s.Unregister("alice")

	assert.Empty(t, s.PlayOrder())
}

func TestTickAlternatesSlotStartSlotEnd(t *testing.T) {
	ingress := make(chan events.Event, 16)
	s := New(5*time.Millisecond, ingress, nil)

	mb := NewMailbox()
	s.Register("alice", mb)

	s.tick() // alice: SlotStart
	first := <-mb.C
	assert.Equal(t, SlotStart, first)

	go s.tick() // alice: SlotEnd (requeue), then SlotStart again
	second := <-mb.C
	assert.Equal(t, SlotEnd, second)
}

func TestFairRotationAcrossThreePainters(t *testing.T) {
	ingress := make(chan events.Event, 64)
	s := New(5*time.Millisecond, ingress, nil)

	mailboxes := map[string]*Mailbox{}
	for _, u := range []string{"u1", "u2", "u3"} {
		mb := NewMailbox()
		mailboxes[u] = mb
		s.Register(u, mb)
	}

	// Drain the implicit SlotStart the first tick sends and collect the
	// CurrentlyPainting order across six ticks.
	var order []string
	for i := 0; i < 6; i++ {
		s.tick()
		evt := <-ingress
		require.NotNil(t, evt.CurrentlyPainting)
		order = append(order, evt.CurrentlyPainting.Username)
		// Drain mailbox events so trySend never blocks past capacity 1.
		for _, mb := range mailboxes {
			select {
			case <-mb.C:
			default:
			}
		}
	}

	assert.Equal(t, []string{"u1", "u2", "u3", "u1", "u2", "u3"}, order)
}

func TestDroppedMailboxIsRemovedFromQueue(t *testing.T) {
	ingress := make(chan events.Event, 16)
	s := New(5*time.Millisecond, ingress, nil)

	gone := NewMailbox()
	close(gone.Done)
	alive := NewMailbox()

	s.Register("ghost", gone)
	s.Register("alice", alive)

	s.tick()

	assert.Equal(t, []string{"alice"}, s.PlayOrder())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ingress := make(chan events.Event, 16)
	s := New(2*time.Millisecond, ingress, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
