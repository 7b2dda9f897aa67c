package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/senchpimy/image-ocr/internal/types"
)

// DefaultQueueSize is how many records may wait for the database.
const DefaultQueueSize = 256

// insertTimeout bounds a single INSERT so a stalled database cannot wedge the queue forever.
const insertTimeout = 5 * time.Second

// Inserter persists one record; *Store implements it.
type Inserter interface {
	InsertRecognition(ctx context.Context, rec types.RequestRecord) error
}

// Recorder writes records in the background. Record never blocks: when the
// queue is full the record is dropped with a warning, so a slow database
// never delays a recognition response.
type Recorder struct {
	ins   Inserter
	queue chan types.RequestRecord
	log   *slog.Logger

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewRecorder starts the background writer.
func NewRecorder(ins Inserter, size int, log *slog.Logger) *Recorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	r := &Recorder{
		ins:   ins,
		queue: make(chan types.RequestRecord, size),
		log:   log,
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		if err := r.ins.InsertRecognition(ctx, rec); err != nil {
			r.log.Warn("failed to store recognition record", "session_id", rec.SessionID, "err", err)
		}
		cancel()
	}
}

// Record queues rec. Calls after Close are ignored.
func (r *Recorder) Record(rec types.RequestRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		n := r.dropped.Add(1)
		r.log.Warn("audit queue full, dropping record", "session_id", rec.SessionID, "dropped_total", n)
	}
}

// Dropped reports how many records were discarded because the queue was full.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Close stops accepting records and waits for the queue to drain.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}
