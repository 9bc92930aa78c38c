package persistence

import (
	"SynthVault/internal/observability"
	"SynthVault/internal/vault"
	"context"
	"fmt"
	"log"
	"time"
)

// Worker drains the engine's persist channel and batch-writes the journal.
// The engine sends on that channel with a blocking send, so a slow store
// stalls operations instead of losing events.
type Worker struct {
	store        Store
	input        <-chan vault.Event
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
}

func NewWorker(store Store, input <-chan vault.Event, batchSize int, flushTimeout time.Duration, metrics *observability.Metrics) *Worker {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushTimeout <= 0 {
		flushTimeout = 50 * time.Millisecond
	}
	return &Worker{
		store:        store,
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
	}
}

// Run batches events and flushes when the batch is full or the timeout
// fires. Returns when ctx is cancelled or the input channel is closed,
// after flushing what it holds.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context, reason string) {
		if len(batch) == 0 {
			return
		}
		if err := w.flushWithRetry(ctx, batch); err != nil {
			log.Printf("ERROR: %s flush failed: %v", reason, err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background(), "final")
			return ctx.Err()

		case evt, ok := <-w.input:
			if !ok {
				flush(context.Background(), "final")
				return nil
			}
			row, err := RowFromEvent(evt)
			if err != nil {
				if w.metrics != nil {
					w.metrics.PersistErrors.WithLabelValues("encode").Inc()
				}
				log.Printf("ERROR: dropping unencodable event %d: %v", evt.Sequence, err)
				continue
			}
			batch = append(batch, row)
			if len(batch) >= w.batchSize {
				flush(ctx, "batch")
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			flush(ctx, "timeout")
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last attempt runs detached.
func (w *Worker) flushWithRetry(ctx context.Context, batch []EventRow) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, events=%d)", attempt, backoff, len(batch))
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > w.maxBackoff {
				backoff = w.maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}
		log.Printf("WARN: persistence flush: %v", err)
	}
}

func (w *Worker) flush(ctx context.Context, batch []EventRow) error {
	start := time.Now()
	if err := w.store.WriteEvents(ctx, batch); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
		w.metrics.PersistEventsWritten.Add(float64(len(batch)))
		w.metrics.PersistLastSequence.Set(float64(batch[len(batch)-1].Sequence))
	}
	return nil
}
