package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelflut/pixelflutd/internal/events"
)

func TestEgressSubscribeStartsAtTail(t *testing.T) {
	e := NewEgress(4)
	e.Publish([]byte("frame-0"))

	sub := e.Subscribe()
	e.Publish([]byte("frame-1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frame, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "frame-1", string(frame), "subscriber must not see frames published before it subscribed")
}

func TestEgressLagDisconnectsSubscriber(t *testing.T) {
	e := NewEgress(4)
	sub := e.Subscribe()

	for i := 0; i < 10; i++ {
		e.Publish([]byte{byte(i)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := sub.Next(ctx)
	require.Error(t, err)

	var lagErr *ErrLag
	require.ErrorAs(t, err, &lagErr)
	assert.Equal(t, 6, lagErr.Skipped)
}

func TestEgressNextBlocksUntilPublish(t *testing.T) {
	e := NewEgress(4)
	sub := e.Subscribe()

	done := make(chan []byte, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		frame, err := sub.Next(ctx)
		require.NoError(t, err)
		done <- frame
	}()

	time.Sleep(20 * time.Millisecond)
	e.Publish([]byte("late"))

	select {
	case frame := <-done:
		assert.Equal(t, "late", string(frame))
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Publish")
	}
}

func TestCompressorPreservesOrderAndIsDecodable(t *testing.T) {
	ingress := make(chan events.Event, 16)
	egress := NewEgress(512)
	c := New(ingress, egress, 4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	sub := egress.Subscribe()

	const n = 50
	for i := 0; i < n; i++ {
		ingress <- events.Event{CurrentlyPainting: &events.CurrentlyPainting{Username: string(rune('a' + i%26))}}
	}

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer readCancel()

	for i := 0; i < n; i++ {
		frame, err := sub.Next(readCtx)
		require.NoError(t, err)

		raw, err := dec.DecodeAll(frame, nil)
		require.NoError(t, err)
		require.Equal(t, byte(events.KindCurrentlyPainting), raw[0])

		wantUsername := string(rune('a' + i%26))
		gotLen := int(raw[1]) | int(raw[2])<<8
		assert.Equal(t, len(wantUsername), gotLen)
		assert.Equal(t, wantUsername, string(raw[3:3+gotLen]))
	}
}
