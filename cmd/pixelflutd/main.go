// Command pixelflutd runs the pixelflut canvas server: the painter TCP
// listener, the slot scheduler, the broadcast pipeline, the statistics
// aggregator, and the spectator-facing HTTP server, wired together the
// way the teacher's cmd/session-service/main.go wires its service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pixelflut/pixelflutd/internal/broadcast"
	"github.com/pixelflut/pixelflutd/internal/canvas"
	"github.com/pixelflut/pixelflutd/internal/credentials"
	"github.com/pixelflut/pixelflutd/internal/events"
	"github.com/pixelflut/pixelflutd/internal/httpapi"
	"github.com/pixelflut/pixelflutd/internal/painter"
	"github.com/pixelflut/pixelflutd/internal/scheduler"
	"github.com/pixelflut/pixelflutd/internal/spectator"
	"github.com/pixelflut/pixelflutd/internal/statistics"
	"github.com/pixelflut/pixelflutd/pkg/config"
	"github.com/pixelflut/pixelflutd/pkg/logging"
	"github.com/pixelflut/pixelflutd/pkg/metrics"
)

var (
	version   string = "dev"
	buildTime string = "unknown"
	gitCommit string = "unknown"
)

// egressCapacity is the reference ring size from spec.md §4.7.
const egressCapacity = 512

// statisticsInterval is the reference publish cadence from spec.md §4.8.
const statisticsInterval = 500 * time.Millisecond

// idleRainbowInterval is the reference tick for the idle demo animation
// from spec.md §4.1.
const idleRainbowInterval = 50 * time.Millisecond

// runIdleRainbow repaints the canvas with a shifting hue gradient
// whenever no painter is currently registered, so an otherwise-empty
// canvas still gives spectators something to watch.
func runIdleRainbow(ctx context.Context, canv *canvas.Canvas, sched *scheduler.Scheduler) {
	ticker := time.NewTicker(idleRainbowInterval)
	defer ticker.Stop()

	var phase float64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if len(sched.PlayOrder()) > 0 {
				continue
			}
			canv.FillRainbow(phase)
			phase += 0.01
		}
	}
}

func setupLogger(cfg *config.PixelflutConfig) *slog.Logger {
	level, format, output := cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output
	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "text"
	}
	if output == "" {
		output = "stdout"
	}
	return logging.NewLoggerBasic("pixelflutd", level, format, output)
}

func main() {
	var (
		configFile  = flag.String("config", "configs/pixelflutd.yaml", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("pixelflutd\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Git Commit: %s\n", gitCommit)
		return
	}

	cfg, err := config.LoadPixelflutConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	metricsRegistry := metrics.NewRegistry("pixelflutd", version, buildTime, gitCommit, logger)

	if cfg.Metrics.Enabled {
		go func() {
			if err := metricsRegistry.StartMetricsServer(cfg.Metrics.Port); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		logger.Info("metrics server starting", "port", cfg.Metrics.Port)
	}

	creds, err := credentials.Open(cfg.Credentials.Path)
	if err != nil {
		logger.Error("failed to open credential store", "error", err, "path", cfg.Credentials.Path)
		os.Exit(1)
	}

	canv := canvas.New(cfg.Canvas.Width, cfg.Canvas.Height)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ingress := make(chan events.Event, 1024)

	egress := broadcast.NewEgress(egressCapacity)
	egress.SetMetrics(metricsRegistry.Canvas)
	compressor := broadcast.New(ingress, egress, 0, logger)
	go compressor.Run(ctx)

	sched := scheduler.New(cfg.SlotDurationValue(), ingress, logger)
	sched.SetMetrics(metricsRegistry.Canvas)
	go sched.Run(ctx)

	stats := statistics.New(sched, ingress, statisticsInterval)
	go stats.Run(ctx)

	go runIdleRainbow(ctx, canv, sched)

	painterCfg := painter.Config{
		MaxPixelsPerSlot: cfg.Painter.MaxPixelsPerSlot,
		SlotDuration:     cfg.SlotDurationValue(),
		MaxLineLength:    cfg.Painter.MaxLineLength,
	}
	listener := painter.NewListener(canv, sched, creds, ingress, stats, painterCfg, logger, metricsRegistry.Canvas)

	painterLn, err := net.Listen("tcp", cfg.Painter.ListenAddress)
	if err != nil {
		logger.Error("failed to bind painter listener", "error", err, "address", cfg.Painter.ListenAddress)
		os.Exit(1)
	}
	go func() {
		if err := listener.Serve(ctx, painterLn); err != nil {
			logger.Error("painter listener stopped", "error", err)
		}
	}()

	specHandler := spectator.New(egress, logger, metricsRegistry.Canvas)
	httpCfg := httpapi.Config{ListenAddress: cfg.HTTP.ListenAddress, StaticDir: cfg.HTTP.StaticDir}
	httpServer := httpapi.New(httpCfg, canv, specHandler, logger)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil {
			logger.Error("http server stopped", "error", err)
		}
	}()

	logger.Info("pixelflutd started",
		"painter_address", cfg.Painter.ListenAddress,
		"http_address", cfg.HTTP.ListenAddress,
		"canvas_width", cfg.Canvas.Width,
		"canvas_height", cfg.Canvas.Height,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}
	painterLn.Close()
	cancel()

	if cfg.Metrics.Enabled {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := metricsRegistry.StopMetricsServer(stopCtx); err != nil {
			logger.Error("error stopping metrics server", "error", err)
		}
	}

	logger.Info("pixelflutd stopped")
}
