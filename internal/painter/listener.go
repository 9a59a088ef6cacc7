package painter

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pixelflut/pixelflutd/internal/canvas"
	"github.com/pixelflut/pixelflutd/internal/credentials"
	"github.com/pixelflut/pixelflutd/internal/events"
	"github.com/pixelflut/pixelflutd/internal/scheduler"
	"github.com/pixelflut/pixelflutd/pkg/metrics"
)

// MaxConnectionsPerIP is the reference per-IP connection cap from
// spec.md §4.5.
const MaxConnectionsPerIP = 2

// Listener accepts TCP painter connections, enforces the per-IP
// connection cap, and spawns a Connection per accepted socket. Grounded
// on the teacher's connection.Manager counter discipline, adapted from
// lock-free atomics to an explicit write-locked map per spec.md §4.5's
// "write lock on the per-IP connection counter".
type Listener struct {
	canvas  *canvas.Canvas
	sched   *scheduler.Scheduler
	creds   *credentials.Store
	ingress chan<- events.Event
	stats   StatisticsRecorder
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.CanvasMetrics

	mu       sync.Mutex
	perIP    map[string]int
	maxPerIP int
}

// NewListener constructs a Listener bound to the shared server state.
// metricsReg may be nil.
func NewListener(canv *canvas.Canvas, sched *scheduler.Scheduler, creds *credentials.Store, ingress chan<- events.Event, stats StatisticsRecorder, cfg Config, logger *slog.Logger, metricsReg *metrics.CanvasMetrics) *Listener {
	return &Listener{
		canvas:   canv,
		sched:    sched,
		creds:    creds,
		metrics:  metricsReg,
		ingress:  ingress,
		stats:    stats,
		cfg:      cfg,
		logger:   logger,
		perIP:    make(map[string]int),
		maxPerIP: MaxConnectionsPerIP,
	}
}

// Serve accepts connections on ln until ctx is cancelled or Accept
// fails permanently.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	ip := canonicalIP(conn.RemoteAddr())

	if !l.acquire(ip) {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		fmt.Fprintf(conn, "ERROR Connection limit of %d exceeded\n", l.maxPerIP)
		conn.Close()
		if l.metrics != nil {
			l.metrics.PainterConnectionsTotal.WithLabelValues("rejected_connection_limit").Inc()
		}
		return
	}
	defer l.release(ip)

	if l.metrics != nil {
		l.metrics.PainterConnectionsTotal.WithLabelValues("accepted").Inc()
		l.metrics.PainterConnectionsActive.Inc()
		defer l.metrics.PainterConnectionsActive.Dec()
	}

	c := NewConnection(conn, l.canvas, l.sched, l.creds, l.ingress, l.stats, l.cfg, l.logger, l.metrics)
	c.Serve()
}

func (l *Listener) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.perIP[ip] >= l.maxPerIP {
		return false
	}
	l.perIP[ip]++
	return true
}

func (l *Listener) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.perIP[ip]--
	if l.perIP[ip] <= 0 {
		delete(l.perIP, ip)
	}
}

// canonicalIP unwraps an IPv4-in-IPv6 mapped address to its plain IPv4
// form so the same client is counted once regardless of socket family.
func canonicalIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
