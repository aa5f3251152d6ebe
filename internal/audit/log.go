// Package audit implements the append-only event journal (spec §4.10):
// a batched writer against the audit storage unit, time/size-triggered
// flush, and count/age retention trimming. Generalizes the pack's
// append-one-JSONL-line-per-event pattern into batched SQL inserts so a
// burst of concurrent requests doesn't serialize on one row insert each.
package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/storage"
)

const (
	defaultBatchSize     = 200
	defaultFlushInterval = 2 * time.Second
)

// Log batches audit events in memory and flushes them to the audit
// storage unit either when batchSize is reached or flushInterval elapses,
// whichever comes first.
type Log struct {
	store         *storage.AuditStore
	logger        *log.Logger
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	pending []model.AuditEvent

	events chan model.AuditEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Log and starts its background flush loop. Call Close
// to flush any remainder and stop the loop.
func New(store *storage.AuditStore, logger *log.Logger) *Log {
	l := &Log{
		store:         store,
		logger:        logger,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		events:        make(chan model.AuditEvent, defaultBatchSize*4),
		done:          make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Record enqueues one event for the next flush. It never blocks on I/O;
// callers on the request path only pay for a channel send.
func (l *Log) Record(e model.AuditEvent) {
	e.Timestamp = time.Now().UTC()
	e.RedactedMeta = Redact(e.RedactedMeta)
	select {
	case l.events <- e:
	case <-l.done:
	}
}

func (l *Log) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-l.events:
			l.mu.Lock()
			l.pending = append(l.pending, e)
			shouldFlush := len(l.pending) >= l.batchSize
			l.mu.Unlock()
			if shouldFlush {
				l.flush()
			}
		case <-ticker.C:
			l.flush()
		case <-l.done:
			l.drain()
			return
		}
	}
}

// drain flushes any events still queued on the channel plus the pending
// buffer, run once at shutdown.
func (l *Log) drain() {
	for {
		select {
		case e := <-l.events:
			l.mu.Lock()
			l.pending = append(l.pending, e)
			l.mu.Unlock()
		default:
			l.flush()
			return
		}
	}
}

func (l *Log) flush() {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return
	}
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.InsertBatch(ctx, batch); err != nil && l.logger != nil {
		l.logger.Printf("audit: flush of %d events failed: %v", len(batch), err)
	}
}

// Close stops the flush loop after a final drain.
func (l *Log) Close() {
	close(l.done)
	l.wg.Wait()
}

// TrimRetention deletes events past the count cap or older than the age
// cap, whichever is configured. Either cap of zero disables that check.
func TrimRetention(ctx context.Context, store *storage.AuditStore, retentionCount int64, retentionDays int) (int64, error) {
	var total int64
	if retentionCount > 0 {
		n, err := store.TrimByCount(ctx, retentionCount)
		if err != nil {
			return total, err
		}
		total += n
	}
	if retentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		n, err := store.TrimByAge(ctx, cutoff)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Page and Since expose pagination straight through to the store for the
// control API and SSE cursor resume, keeping the storage package the only
// place that knows the SQL.
func Page(ctx context.Context, store *storage.AuditStore, beforeID int64, limit int) ([]model.AuditEvent, error) {
	return store.Page(ctx, beforeID, limit)
}

func Since(ctx context.Context, store *storage.AuditStore, afterID int64, limit int) ([]model.AuditEvent, error) {
	return store.Since(ctx, afterID, limit)
}
