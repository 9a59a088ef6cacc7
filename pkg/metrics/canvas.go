package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CanvasMetrics groups the pixelflut-domain metrics, replacing the
// teacher's per-service metric sets (auth/game/session) with the
// equivalents for this domain: painter connections, the slot scheduler,
// the broadcast pipeline, and the credential store.
type CanvasMetrics struct {
	PainterConnectionsActive prometheus.Gauge
	PainterConnectionsTotal  *prometheus.CounterVec
	PixelsWrittenTotal       prometheus.Counter
	ProtocolErrorsTotal      *prometheus.CounterVec

	SlotsCompletedTotal     prometheus.Counter
	RegisteredPaintersGauge prometheus.Gauge

	EgressFramesPublishedTotal prometheus.Counter
	EgressSubscribersActive    prometheus.Gauge
	EgressLagDisconnectsTotal  prometheus.Counter

	CredentialLoginsTotal *prometheus.CounterVec
}

// NewCanvasMetrics creates and registers the pixelflut-domain metrics.
func NewCanvasMetrics(namespace string) *CanvasMetrics {
	return &CanvasMetrics{
		PainterConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "painter",
			Name:      "connections_active",
			Help:      "Number of currently open painter TCP connections",
		}),
		PainterConnectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "painter",
			Name:      "connections_total",
			Help:      "Total painter connections accepted, by disposition",
		}, []string{"disposition"}),
		PixelsWrittenTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "painter",
			Name:      "pixels_written_total",
			Help:      "Total pixels applied to the canvas across all DONE batches",
		}),
		ProtocolErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "painter",
			Name:      "protocol_errors_total",
			Help:      "Total protocol errors, by kind",
		}, []string{"kind"}),

		SlotsCompletedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "slots_completed_total",
			Help:      "Total slot rotations performed by the scheduler",
		}),
		RegisteredPaintersGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "registered_painters",
			Help:      "Number of painters currently in the turn queue",
		}),

		EgressFramesPublishedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "frames_published_total",
			Help:      "Total compressed frames published to the egress broadcast",
		}),
		EgressSubscribersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers_active",
			Help:      "Number of currently connected spectator websockets",
		}),
		EgressLagDisconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "lag_disconnects_total",
			Help:      "Total spectator disconnects caused by egress lag",
		}),

		CredentialLoginsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credentials",
			Name:      "logins_total",
			Help:      "Total LOGIN attempts, by result",
		}, []string{"result"}),
	}
}
