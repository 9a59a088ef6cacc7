// Package httpapi wires the spectator-facing HTTP surface: the current
// canvas snapshot, the websocket upgrade endpoint, and static asset
// serving, behind a permissive CORS middleware (spec.md §6).
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pixelflut/pixelflutd/internal/canvas"
	"github.com/pixelflut/pixelflutd/internal/spectator"
)

// Config controls the HTTP surface.
type Config struct {
	ListenAddress string
	StaticDir     string
}

// Server is the spectator-facing HTTP server.
type Server struct {
	cfg    Config
	canvas *canvas.Canvas
	spec   *spectator.Handler
	logger *slog.Logger
	server *http.Server
}

// New constructs a Server. /metrics and /health are not mounted here;
// pkg/metrics.Registry serves them on its own listener.
func New(cfg Config, canv *canvas.Canvas, specHandler *spectator.Handler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/current-screen", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(canv.SnapshotBytes())
	})

	mux.Handle("/ws", specHandler)

	if cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	return &Server{
		cfg:    cfg,
		canvas: canv,
		spec:   specHandler,
		logger: logger,
		server: &http.Server{
			Addr:    cfg.ListenAddress,
			Handler: corsMiddleware(mux),
		},
	}
}

// corsMiddleware is permissive by design (spec.md §6, "CORS is
// permissive") — the canvas is public read-only data, not a
// credentialed resource.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe starts the HTTP server; it blocks until the server
// stops.
func (s *Server) ListenAndServe() error {
	if s.logger != nil {
		s.logger.Info("HTTP server starting", "address", s.cfg.ListenAddress)
	}
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
