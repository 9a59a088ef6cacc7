// Package broadcast implements the compressor (C4) and the egress
// broadcast (C5): the single-producer pipeline that turns ingress
// events into compressed frames and fans them out to spectators.
package broadcast

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/klauspost/compress/zstd"

	"github.com/pixelflut/pixelflutd/internal/events"
)

// Compressor drains an ingress channel, serialises and compresses each
// event, and publishes the result to Egress in submission order. Actual
// compression runs on a bounded worker pool so a burst of events never
// stalls the ingress consumer (spec.md §4.6); a single sequencer
// goroutine re-establishes submission order before publishing, the same
// fan-out/fan-in-in-order shape the teacher uses for pooled database
// work, adapted here from connection pooling to compression.
type Compressor struct {
	ingress <-chan events.Event
	egress  *Egress
	logger  *slog.Logger
	workers int
}

// New constructs a Compressor. workers <= 0 defaults to GOMAXPROCS.
func New(ingress <-chan events.Event, egress *Egress, workers int, logger *slog.Logger) *Compressor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Compressor{ingress: ingress, egress: egress, logger: logger, workers: workers}
}

type compressionJob struct {
	payload []byte
	result  chan []byte
}

// Run drains the ingress channel until ctx is cancelled or the channel
// closes.
func (c *Compressor) Run(ctx context.Context) {
	jobs := make(chan compressionJob, c.workers*2)
	order := make(chan chan []byte, c.workers*4)

	var workerCtx, cancel = context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < c.workers; i++ {
		go c.compressWorker(workerCtx, jobs)
	}
	go c.sequence(workerCtx, order)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.ingress:
			if !ok {
				return
			}
			payload, err := events.Encode(evt)
			if err != nil {
				if c.logger != nil {
					c.logger.Error("dropping unencodable event", "error", err)
				}
				continue
			}

			result := make(chan []byte, 1)
			select {
			case jobs <- compressionJob{payload: payload, result: result}:
			case <-ctx.Done():
				return
			}
			select {
			case order <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Compressor) compressWorker(ctx context.Context, jobs <-chan compressionJob) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("failed to construct zstd encoder", "error", err)
		}
		return
	}
	defer enc.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			compressed := enc.EncodeAll(job.payload, nil)
			job.result <- compressed
		}
	}
}

// sequence publishes each job's result to Egress in the order jobs were
// submitted, regardless of which worker finishes first.
func (c *Compressor) sequence(ctx context.Context, order <-chan chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-order:
			if !ok {
				return
			}
			select {
			case frame := <-result:
				c.egress.Publish(frame)
			case <-ctx.Done():
				return
			}
		}
	}
}
