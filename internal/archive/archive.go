// Package archive writes scored-event records to PostgreSQL in batches.
// Flushes happen when the buffer reaches its size limit or on a timer,
// whichever comes first, and run behind a circuit breaker so a sick
// database cannot stall the scoring path.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrasewatch/phrasewatch/internal/analytics"
	"github.com/phrasewatch/phrasewatch/pkg/config"
	"github.com/phrasewatch/phrasewatch/pkg/postgres"
	"github.com/phrasewatch/phrasewatch/pkg/resilience"
)

// Writer accumulates scored events and flushes them to the score_events
// table.
//
// Required schema:
//
//	CREATE TABLE score_events (
//	    id               TEXT PRIMARY KEY,
//	    model            TEXT NOT NULL,
//	    strategy         TEXT NOT NULL,
//	    prompt_hash      TEXT NOT NULL,
//	    completion_count INT NOT NULL,
//	    rewards          JSONB NOT NULL,
//	    flagged_count    INT NOT NULL,
//	    matches          JSONB,
//	    latency_ms       BIGINT NOT NULL,
//	    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Writer struct {
	db            *postgres.Client
	breaker       *resilience.CircuitBreaker
	mu            sync.Mutex
	buffer        []analytics.ScoreEvent
	batchSize     int
	flushInterval time.Duration
	flushTimeout  time.Duration
	logger        *slog.Logger
	done          chan struct{}

	onFlush func(status string)
}

// Option tweaks a Writer.
type Option func(*Writer)

// WithFlushHook registers a callback invoked after every flush attempt with
// "ok" or "error"; used to feed metrics.
func WithFlushHook(fn func(status string)) Option {
	return func(w *Writer) { w.onFlush = fn }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(w *Writer) { w.breaker = cb }
}

// NewWriter creates a Writer from the archive configuration.
func NewWriter(db *postgres.Client, cfg config.ArchiveConfig, opts ...Option) *Writer {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	flushTimeout := cfg.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = 3 * time.Second
	}
	w := &Writer{
		db:            db,
		breaker:       resilience.NewCircuitBreaker("score-event-archive", resilience.CircuitBreakerConfig{}),
		buffer:        make([]analytics.ScoreEvent, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		flushTimeout:  flushTimeout,
		logger:        slog.Default().With("component", "event-archive"),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the background flush loop.
func (w *Writer) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), w.flushTimeout)
				w.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	w.logger.Info("archive writer started",
		"batch_size", w.batchSize,
		"flush_interval", w.flushInterval,
	)
}

// Track buffers one event. A full buffer triggers an immediate flush.
func (w *Writer) Track(event analytics.ScoreEvent) {
	w.mu.Lock()
	w.buffer = append(w.buffer, event)
	shouldFlush := len(w.buffer) >= w.batchSize
	w.mu.Unlock()

	if shouldFlush {
		go w.flush(context.Background())
	}
}

// Close waits for the background loop to finish its final flush.
func (w *Writer) Close() {
	<-w.done
}

// BufferLen returns the number of events waiting to be flushed.
func (w *Writer) BufferLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// BreakerState reports the circuit breaker's current state.
func (w *Writer) BreakerState() resilience.State {
	return w.breaker.GetState()
}

func (w *Writer) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = make([]analytics.ScoreEvent, 0, w.batchSize)
	w.mu.Unlock()

	err := w.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, w.flushTimeout, "archive flush", func(ctx context.Context) error {
			return w.insertBatch(ctx, batch)
		})
	})
	if err != nil {
		w.logger.Error("flush failed", "events", len(batch), "error", err)
		if w.onFlush != nil {
			w.onFlush("error")
		}
		// Requeue, bounded so repeated failure cannot grow without limit.
		w.mu.Lock()
		w.buffer = append(batch, w.buffer...)
		if limit := w.batchSize * 3; len(w.buffer) > limit {
			dropped := len(w.buffer) - limit
			w.buffer = w.buffer[:limit]
			w.logger.Warn("archive buffer overflow, events dropped", "dropped", dropped)
		}
		w.mu.Unlock()
		return
	}

	if w.onFlush != nil {
		w.onFlush("ok")
	}
	w.logger.Debug("flush complete", "events", len(batch))
}

func (w *Writer) insertBatch(ctx context.Context, batch []analytics.ScoreEvent) error {
	return w.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO score_events
			 (id, model, strategy, prompt_hash, completion_count, rewards, flagged_count, matches, latency_ms, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (id) DO NOTHING`,
		)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		for _, event := range batch {
			rewards, err := json.Marshal(event.Rewards)
			if err != nil {
				return fmt.Errorf("marshaling rewards: %w", err)
			}
			matches, err := json.Marshal(event.Matches)
			if err != nil {
				return fmt.Errorf("marshaling matches: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				event.EventID, event.Model, event.Strategy, event.PromptHash,
				event.Completions, rewards, event.Flagged, matches,
				event.LatencyMs, event.Timestamp,
			); err != nil {
				return fmt.Errorf("inserting event %s: %w", event.EventID, err)
			}
		}
		return nil
	})
}
