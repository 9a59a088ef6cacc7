package spectator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelflut/pixelflutd/internal/broadcast"
	"github.com/pixelflut/pixelflutd/internal/events"
)

func TestHandlerForwardsPublishedFrames(t *testing.T) {
	egress := broadcast.NewEgress(512)
	h := New(egress, nil, nil)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond) // let the server subscribe before publishing
	egress.Publish([]byte("hello spectator"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, "hello spectator", string(data))
}

func TestHandlerClosesOnLag(t *testing.T) {
	egress := broadcast.NewEgress(2)
	h := New(egress, nil, nil)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 10; i++ {
		egress.Publish([]byte{byte(i)})
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err, "expected one lag frame before close")
	assert.Equal(t, websocket.BinaryMessage, msgType)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	payload, err := dec.DecodeAll(data, nil)
	require.NoError(t, err, "lag frame must be zstd-compressed like every other frame")
	require.NotEmpty(t, payload)
	assert.Equal(t, byte(events.KindWebSocketClosedBecauseOfLag), payload[0])

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err, "expected the socket to close after the lag frame")
}
