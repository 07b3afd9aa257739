// Package dispatcher decouples the webhook response from the store write.
// Qualifying events are queued and processed by a background goroutine, so
// the voice platform gets its acknowledgment before any extraction or
// network I/O happens. Failures past the acknowledgment are terminal to the
// job and reported only through the log.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SumitKumar-17/cre-agent/internal/config"
	"github.com/SumitKumar-17/cre-agent/internal/extractor"
	"github.com/SumitKumar-17/cre-agent/internal/model"
	"github.com/SumitKumar-17/cre-agent/internal/sheetlog"
)

// writeTimeout bounds one record's trip through the writer, retries included.
const writeTimeout = 2 * time.Minute

// RecordWriter is the slice of the log writer the dispatcher needs.
type RecordWriter interface {
	Write(ctx context.Context, rec model.CallRecord) (sheetlog.Outcome, error)
}

// Dispatcher defines the interface for queueing events and controlling lifecycle.
type Dispatcher interface {
	Enqueue(event model.CallEvent) bool
	Start()
	Stop()
}

type dispatcher struct {
	log    *zap.Logger
	writer RecordWriter
	grace  time.Duration

	queue chan model.CallEvent
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// New initializes a new Dispatcher instance.
func New(writer RecordWriter, cfg *config.Config, log *zap.Logger) Dispatcher {
	return &dispatcher{
		log:    log,
		writer: writer,
		grace:  cfg.ShutdownGrace,
		queue:  make(chan model.CallEvent, cfg.QueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Enqueue hands an event to the background worker without blocking. A false
// return means the queue is full and the event was dropped; the caller has
// already been acknowledged, so the drop is a data-loss event to surface.
func (d *dispatcher) Enqueue(event model.CallEvent) bool {
	select {
	case d.queue <- event:
		return true
	default:
		d.log.Error("dispatch queue full, dropping event",
			zap.String("call_id", event.CallID),
			zap.Int("queue_cap", cap(d.queue)))
		return false
	}
}

// Start runs the worker loop until Stop is called.
func (d *dispatcher) Start() {
	defer close(d.done)
	for {
		select {
		case event := <-d.queue:
			d.process(event)
		case <-d.quit:
			d.drain()
			return
		}
	}
}

// Stop shuts the worker down, giving queued and in-flight work a bounded
// grace period. Work that misses the window is counted and logged, never
// silently dropped.
func (d *dispatcher) Stop() {
	d.once.Do(func() { close(d.quit) })

	select {
	case <-d.done:
	case <-time.After(d.grace):
		d.log.Error("shutdown grace expired with work pending",
			zap.Int("queued", len(d.queue)))
	}
}

// drain processes whatever is already queued, but stops at the grace
// deadline so shutdown stays bounded.
func (d *dispatcher) drain() {
	deadline := time.Now().Add(d.grace)
	for {
		select {
		case event := <-d.queue:
			if time.Now().After(deadline) {
				d.log.Error("dropping queued event at shutdown",
					zap.String("call_id", event.CallID),
					zap.Int("still_queued", len(d.queue)))
				continue
			}
			d.process(event)
		default:
			return
		}
	}
}

// process runs one extract-then-write job. Errors here must never reach the
// webhook caller; they are logged with the full attempted record so a
// failed write can be replayed by hand.
func (d *dispatcher) process(event model.CallEvent) {
	jobID := uuid.NewString()
	rec := extractor.Extract(event)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	start := time.Now()
	out, err := d.writer.Write(ctx, rec)
	if err != nil {
		d.log.Error("call record write failed",
			zap.String("job_id", jobID),
			zap.String("call_id", rec.CallID),
			zap.String("role", string(rec.Role)),
			zap.String("inquiry", rec.Inquiry),
			zap.String("market", rec.Market),
			zap.String("notes", rec.Notes),
			zap.Error(err))
		return
	}

	if out.Duplicate {
		d.log.Info("duplicate call id, append skipped",
			zap.String("job_id", jobID),
			zap.String("call_id", rec.CallID))
		return
	}

	d.log.Info("call record written",
		zap.String("job_id", jobID),
		zap.String("call_id", rec.CallID),
		zap.String("role", string(rec.Role)),
		zap.String("row", out.RowRef),
		zap.Duration("duration", time.Since(start)))
}
