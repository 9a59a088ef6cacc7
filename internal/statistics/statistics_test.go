package statistics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelflut/pixelflutd/internal/events"
)

type fakePlayOrder struct{ order []string }

func (f fakePlayOrder) PlayOrder() []string { return f.order }

func TestRecordAccumulatesMovingAverage(t *testing.T) {
	ingress := make(chan events.Event, 1)
	agg := New(fakePlayOrder{order: []string{"alice"}}, ingress, time.Hour)

	agg.Record("alice", 10, 100*time.Millisecond)
	agg.Record("alice", 20, 200*time.Millisecond)

	agg.publish()

	evt := <-ingress
	require.NotNil(t, evt.UserStatisticsUpdate)
	require.Len(t, evt.UserStatisticsUpdate.Entries, 1)
	assert.Equal(t, "alice", evt.UserStatisticsUpdate.Entries[0].Username)
	assert.Equal(t, 15.0, evt.UserStatisticsUpdate.Entries[0].AvgPixelsPerRound)
	assert.Equal(t, 150.0, evt.UserStatisticsUpdate.Entries[0].AvgResponseMillis)
}

func TestPublishIncludesZeroForUnsampledUser(t *testing.T) {
	ingress := make(chan events.Event, 1)
	agg := New(fakePlayOrder{order: []string{"bob"}}, ingress, time.Hour)

	agg.publish()

	evt := <-ingress
	require.Len(t, evt.UserStatisticsUpdate.Entries, 1)
	assert.Zero(t, evt.UserStatisticsUpdate.Entries[0].AvgPixelsPerRound)
}

func TestPublishSkippedWhenNoActiveUsers(t *testing.T) {
	ingress := make(chan events.Event, 1)
	agg := New(fakePlayOrder{order: nil}, ingress, time.Hour)

	agg.publish()

	select {
	case <-ingress:
		t.Fatal("expected no event published for an empty play order")
	default:
	}
}

func TestSampleWindowCapsHistory(t *testing.T) {
	ingress := make(chan events.Event, 1)
	agg := New(fakePlayOrder{order: []string{"alice"}}, ingress, time.Hour)

	for i := 0; i < SampleWindow*2; i++ {
		agg.Record("alice", 1, 0)
	}
	agg.Record("alice", 100, 0)

	agg.publish()
	evt := <-ingress
	avg := evt.UserStatisticsUpdate.Entries[0].AvgPixelsPerRound
	assert.Less(t, avg, 100.0)
	assert.Greater(t, avg, 1.0)
}
