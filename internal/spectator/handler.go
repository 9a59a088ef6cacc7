// Package spectator implements the per-websocket spectator connection
// (C9): it drains the egress broadcast and forwards frames verbatim,
// using gorilla/websocket the way benjamintd-gows's hub forwards
// messages to slow-consumer-tolerant clients.
package spectator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"github.com/pixelflut/pixelflutd/internal/broadcast"
	"github.com/pixelflut/pixelflutd/internal/events"
	"github.com/pixelflut/pixelflutd/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // CORS is permissive, spec.md §6
}

// Handler upgrades an HTTP request to a websocket and streams egress
// frames to it until the connection lags, closes, or the server shuts
// down.
type Handler struct {
	egress  *broadcast.Egress
	logger  *slog.Logger
	metrics *metrics.CanvasMetrics
}

// New constructs a spectator Handler over the given egress broadcast.
// metricsReg may be nil.
func New(egress *broadcast.Egress, logger *slog.Logger, metricsReg *metrics.CanvasMetrics) *Handler {
	return &Handler{egress: egress, logger: logger, metrics: metricsReg}
}

// ServeHTTP upgrades the request and blocks until the spectator
// disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Debug("websocket upgrade failed", "error", err)
		}
		return
	}

	h.serve(r.Context(), conn)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Spectators never push data back; readPump exists only to observe
	// the peer closing the socket and to service pong control frames,
	// the same one-way-traffic shape as benjamintd-gows's readPump.
	go h.readPump(conn, cancel)

	if h.metrics != nil {
		h.metrics.EgressSubscribersActive.Inc()
		defer h.metrics.EgressSubscribersActive.Dec()
	}

	frames := make(chan []byte)
	lagErr := make(chan error, 1)
	go h.pump(ctx, frames, lagErr)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-lagErr:
			var lag *broadcast.ErrLag
			if errors.As(err, &lag) {
				h.sendLagFrame(conn, lag.Skipped)
				if h.metrics != nil {
					h.metrics.EgressLagDisconnectsTotal.Inc()
				}
			}
			return

		case frame := <-frames:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// pump drains the egress subscription and feeds frames to the main
// select loop, so ping cadence and frame delivery can be raced without
// either suspension point starving the other.
func (h *Handler) pump(ctx context.Context, frames chan<- []byte, lagErr chan<- error) {
	sub := h.egress.Subscribe()
	for {
		frame, err := sub.Next(ctx)
		if err != nil {
			lagErr <- err
			return
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// sendLagFrame compresses the lag event the same way compressWorker
// compresses every other frame, so the lag frame is not distinguishable
// from a normal broadcast frame on the wire (spec.md §6, S6).
func (h *Handler) sendLagFrame(conn *websocket.Conn, lag int) {
	payload, err := events.Encode(events.Event{
		WebSocketClosedBecauseOfLag: &events.WebSocketClosedBecauseOfLag{Lag: lag},
	})
	if err != nil {
		return
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("failed to construct zstd encoder", "error", err)
		}
		return
	}
	defer enc.Close()
	compressed := enc.EncodeAll(payload, nil)

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.BinaryMessage, compressed)
}

func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
