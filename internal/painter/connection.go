package painter

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/pixelflut/pixelflutd/internal/canvas"
	"github.com/pixelflut/pixelflutd/internal/credentials"
	"github.com/pixelflut/pixelflutd/internal/events"
	"github.com/pixelflut/pixelflutd/internal/scheduler"
	"github.com/pixelflut/pixelflutd/pkg/metrics"
)

// Config bounds a single painter connection's behaviour.
type Config struct {
	MaxPixelsPerSlot int
	SlotDuration     time.Duration
	MaxLineLength    int
}

// Connection is the per-TCP-connection state machine combining the line
// protocol, authentication, slot awareness, and pixel buffering
// (spec.md §4.4).
type Connection struct {
	connID  string
	conn    net.Conn
	canvas  *canvas.Canvas
	sched   *scheduler.Scheduler
	creds   *credentials.Store
	stats   StatisticsRecorder
	ingress chan<- events.Event
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.CanvasMetrics

	mailbox *scheduler.Mailbox

	authenticated    bool
	username         string
	inSlot           bool
	quotaRemaining   int
	pending          []events.PixelUpdate
	paintingFinished bool
	slotStarted      time.Time
}

// StatisticsRecorder is the narrow interface Connection uses to wire a
// DONE handler into the statistics aggregator (spec.md §9, "Open
// question — statistics sample sourcing").
type StatisticsRecorder interface {
	Record(username string, pixels int, responseTime time.Duration)
}

// NewConnection constructs a Connection bound to the shared canvas,
// scheduler, and credential store. stats and metricsReg may be nil.
func NewConnection(conn net.Conn, canv *canvas.Canvas, sched *scheduler.Scheduler, creds *credentials.Store, ingress chan<- events.Event, stats StatisticsRecorder, cfg Config, logger *slog.Logger, metricsReg *metrics.CanvasMetrics) *Connection {
	return &Connection{
		connID:  uuid.New().String(),
		conn:    conn,
		canvas:  canv,
		sched:   sched,
		creds:   creds,
		stats:   stats,
		ingress: ingress,
		cfg:     cfg,
		logger:  logger,
		metrics: metricsReg,
		mailbox: scheduler.NewMailbox(),
	}
}

type lineResult struct {
	line string
	err  error
}

var errLineTooLong = errors.New("painter: request line too long")

// Serve runs the connection's event loop to completion. It returns when
// the socket is closed, the protocol is violated terminally, or the
// scheduler mailbox signals the connection is gone.
func (c *Connection) Serve() {
	defer c.cleanup()

	lines := make(chan lineResult)
	go c.readLines(lines)

	for {
		select {
		case lr, ok := <-lines:
			if !ok {
				return
			}
			if lr.err != nil {
				c.handleReadError(lr.err)
				return
			}
			if c.handleLine(lr.line) {
				return
			}

		case ev, ok := <-c.mailbox.C:
			if !ok {
				return
			}
			if c.handleSlotEvent(ev) {
				return
			}
		}
	}
}

// readLines is the cancellation-safe line-read suspension point: it
// feeds the main select loop over a channel so line-read and mailbox-read
// can be raced without losing input (spec.md §4.4, "Cancellation safety").
func (c *Connection) readLines(out chan<- lineResult) {
	defer close(out)
	reader := bufio.NewReaderSize(c.conn, c.cfg.MaxLineLength+1)

	for {
		line, err := reader.ReadSlice('\n')
		if err != nil && len(line) == 0 {
			out <- lineResult{err: err}
			return
		}
		if len(line) > c.cfg.MaxLineLength {
			out <- lineResult{err: errLineTooLong}
			return
		}

		trimmed := string(trimNewline(line))
		out <- lineResult{line: trimmed}

		if err != nil {
			return
		}
	}
}

func trimNewline(b []byte) []byte {
	n := len(b)
	for n > 0 && (b[n-1] == '\n' || b[n-1] == '\r') {
		n--
	}
	return b[:n]
}

func (c *Connection) handleReadError(err error) {
	if errors.Is(err, errLineTooLong) {
		c.writeLine("ERROR The request line was too long")
		return
	}
	// EOF or other I/O error: the socket is gone, nothing to write.
}

// handleLine parses and dispatches one line, returning true if the
// connection must be closed afterward.
func (c *Connection) handleLine(line string) bool {
	req, err := ParseLine(line)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			c.writeLine(perr.Message)
			return perr.Terminal
		}
		c.writeLine("ERROR Invalid request")
		return false
	}

	switch req.Kind {
	case RequestHelp:
		c.writeLine("HELP PX SIZE LOGIN DONE")
		return false

	case RequestSize:
		c.writeLine(fmt.Sprintf("SIZE %d %d", c.canvas.Width(), c.canvas.Height()))
		return false

	case RequestLogin:
		return c.handleLogin(req.Username, req.Password)

	case RequestPixelRead:
		if rgba, ok := c.canvas.Get(req.X, req.Y); ok {
			c.writeLine(fmt.Sprintf("PX %d %d %s", req.X, req.Y, formatHex6(rgba)))
		}
		return false

	case RequestPixelWrite:
		return c.handlePixelWrite(req.X, req.Y, req.RGBA)

	case RequestDone:
		return c.handleDone()

	default:
		c.writeLine("ERROR Invalid request")
		return false
	}
}

func (c *Connection) handleLogin(username, password string) (terminal bool) {
	if c.authenticated {
		c.writeLine("ERROR Already logged in")
		return false
	}

	ok, err := c.creds.CheckOrCreate(username, password)
	if err != nil {
		c.logger.Error("credential store unavailable", "error", err, "username", username, "conn_id", c.connID)
		c.writeLine(fmt.Sprintf("ERROR %v", err))
		c.recordLogin("persistence_failure")
		return false
	}
	if !ok {
		c.writeLine("ERROR LOGIN FAILED")
		c.recordLogin("failed")
		return true
	}

	c.authenticated = true
	c.username = username
	c.writeLine("LOGIN SUCCEEDED")
	c.sched.Register(username, c.mailbox)
	c.recordLogin("succeeded")
	return false
}

func (c *Connection) recordLogin(result string) {
	if c.metrics != nil {
		c.metrics.CredentialLoginsTotal.WithLabelValues(result).Inc()
	}
}

func (c *Connection) handlePixelWrite(x, y uint16, rgba uint32) (terminal bool) {
	if !c.authenticated {
		c.writeLine("ERROR LOGIN NEEDED")
		return true
	}
	if !c.inSlot {
		c.writeLine("ERROR NOT YOUR SLOT")
		return true
	}
	if len(c.pending) >= c.cfg.MaxPixelsPerSlot {
		c.writeLine(fmt.Sprintf("ERROR QUOTA EXCEEDED %d", c.cfg.MaxPixelsPerSlot))
		if c.metrics != nil {
			c.metrics.ProtocolErrorsTotal.WithLabelValues("quota_exceeded").Inc()
		}
		return true
	}

	c.pending = append(c.pending, events.PixelUpdate{X: x, Y: y, RGBA: rgba})
	c.quotaRemaining = c.cfg.MaxPixelsPerSlot - len(c.pending)
	return false
}

func (c *Connection) handleDone() (terminal bool) {
	if !c.authenticated || !c.inSlot {
		c.writeLine("DONE 0")
		return false
	}

	evt := c.canvas.SetMulti(c.username, c.pending)
	c.ingress <- events.Event{UserPainting: &evt}

	n := len(c.pending)
	if c.metrics != nil {
		c.metrics.PixelsWrittenTotal.Add(float64(n))
	}
	if c.stats != nil {
		c.stats.Record(c.username, n, time.Since(c.slotStarted))
	}

	c.writeLine(fmt.Sprintf("DONE %d", n))
	c.paintingFinished = true
	c.pending = nil
	return false
}

// handleSlotEvent applies a scheduler transition, returning true if the
// connection must now close.
func (c *Connection) handleSlotEvent(ev scheduler.SlotEvent) (terminal bool) {
	switch ev {
	case scheduler.SlotStart:
		if c.inSlot {
			c.logger.Warn("SlotStart received while already in slot", "username", c.username, "conn_id", c.connID)
			return false
		}
		c.inSlot = true
		c.paintingFinished = false
		c.pending = nil
		c.quotaRemaining = c.cfg.MaxPixelsPerSlot
		c.slotStarted = time.Now()
		c.writeLine(fmt.Sprintf("START %d %d", c.cfg.MaxPixelsPerSlot, c.cfg.SlotDuration.Milliseconds()))
		return false

	case scheduler.SlotEnd:
		if !c.inSlot {
			c.logger.Warn("SlotEnd received while not in slot", "username", c.username, "conn_id", c.connID)
			return false
		}
		if !c.paintingFinished {
			c.writeLine("ERROR Slot not closed in time")
			c.inSlot = false
			return true
		}
		c.inSlot = false
		c.paintingFinished = false
		return false
	}
	return false
}

func (c *Connection) writeLine(s string) {
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := fmt.Fprintf(c.conn, "%s\n", s); err != nil && c.logger != nil {
		c.logger.Debug("write failed", "error", err, "username", c.username, "conn_id", c.connID)
	}
}

func (c *Connection) cleanup() {
	close(c.mailbox.Done)
	if c.authenticated {
		c.sched.Unregister(c.username)
	}
	c.conn.Close()
}
