// Package metrics wires Prometheus instrumentation the way the
// teacher's pkg/metrics/prometheus.go does: a Registry owning a
// service's metric sets, an HTTP exposition server, and an
// HTTPMiddleware for request instrumentation. The gRPC interceptors the
// teacher carried are dropped here (see DESIGN.md) since pixelflutd has
// no gRPC surface.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServiceMetrics contains general process health metrics, common to
// every service regardless of domain.
type ServiceMetrics struct {
	BuildInfo *prometheus.GaugeVec
	StartTime prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewServiceMetrics creates and registers the common service metrics.
func NewServiceMetrics(namespace string) *ServiceMetrics {
	return &ServiceMetrics{
		BuildInfo: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		}, []string{"version", "commit", "build_time"}),
		StartTime: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Unix timestamp of service start time",
		}),
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry is a metrics registry for the pixelflutd process.
type Registry struct {
	serviceName    string
	serviceVersion string
	buildTime      string
	gitCommit      string
	logger         *slog.Logger

	Service *ServiceMetrics
	Canvas  *CanvasMetrics

	server *http.Server
}

// NewRegistry creates a new metrics registry and registers the
// build-info gauge.
func NewRegistry(serviceName, version, buildTime, gitCommit string, logger *slog.Logger) *Registry {
	reg := &Registry{
		serviceName:    serviceName,
		serviceVersion: version,
		buildTime:      buildTime,
		gitCommit:      gitCommit,
		logger:         logger,
		Service:        NewServiceMetrics("pixelflutd"),
		Canvas:         NewCanvasMetrics("pixelflutd"),
	}

	reg.Service.BuildInfo.WithLabelValues(version, gitCommit, buildTime).Set(1)
	reg.Service.StartTime.SetToCurrentTime()

	return reg
}

// StartMetricsServer starts the HTTP server exposing /metrics and /health.
func (r *Registry) StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"` + r.serviceName + `"}`))
	})

	r.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	r.logger.Info("Starting metrics server", "port", port)
	return r.server.ListenAndServe()
}

// StopMetricsServer stops the metrics HTTP server.
func (r *Registry) StopMetricsServer(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	r.logger.Info("Stopping metrics server")
	return r.server.Shutdown(ctx)
}

// HTTPMiddleware returns HTTP middleware that instruments requests.
func (r *Registry) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, req)

			duration := time.Since(start)
			status := strconv.Itoa(wrapped.statusCode)

			r.Service.HTTPRequestsTotal.WithLabelValues(req.Method, req.URL.Path, status).Inc()
			r.Service.HTTPRequestDuration.WithLabelValues(req.Method, req.URL.Path).Observe(duration.Seconds())

			r.logger.Info("HTTP request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", status,
				"duration_ms", duration.Milliseconds(),
				"remote_addr", req.RemoteAddr,
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
