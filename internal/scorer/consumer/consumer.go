// Package consumer absorbs completion batches arriving over Kafka into the
// scorer's engines and marks the batch row absorbed.
package consumer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrasewatch/phrasewatch/internal/analytics"
	"github.com/phrasewatch/phrasewatch/internal/intake"
	"github.com/phrasewatch/phrasewatch/internal/scorer/cache"
	"github.com/phrasewatch/phrasewatch/internal/scorer/registry"
	"github.com/phrasewatch/phrasewatch/pkg/kafka"
	"github.com/phrasewatch/phrasewatch/pkg/metrics"
	"github.com/phrasewatch/phrasewatch/pkg/postgres"
)

// BatchConsumer applies intake batch events to the engine registry. The
// database and cache are optional; when absent the consumer still absorbs,
// it just skips status updates and invalidation.
type BatchConsumer struct {
	engines   *registry.Registry
	db        *postgres.Client
	cache     *cache.DiagnosticsCache
	collector *analytics.Collector
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(
	engines *registry.Registry,
	db *postgres.Client,
	diagCache *cache.DiagnosticsCache,
	collector *analytics.Collector,
	m *metrics.Metrics,
) *BatchConsumer {
	return &BatchConsumer{
		engines:   engines,
		db:        db,
		cache:     diagCache,
		collector: collector,
		metrics:   m,
		logger:    slog.Default().With("component", "batch-consumer"),
	}
}

// HandleMessage decodes one batch event and absorbs it. Returning an error
// leaves the offset uncommitted so the batch is retried.
func (c *BatchConsumer) HandleMessage(ctx context.Context, msg kafka.Message) error {
	event, err := kafka.DecodeJSON[intake.BatchEvent](msg.Value)
	if err != nil {
		c.logger.Error("dropping undecodable batch event", "error", err)
		return nil
	}
	if event.BatchID == "" || len(event.Completions) == 0 {
		c.logger.Warn("dropping empty batch event", "batch_id", event.BatchID)
		return nil
	}

	eng, err := c.engines.Get(event.Model)
	if err != nil {
		c.logger.Error("dropping batch for unknown model",
			"batch_id", event.BatchID, "model", event.Model)
		return nil
	}

	ngrams := eng.Absorb(event.Completions)

	if c.metrics != nil {
		c.metrics.BatchesReceivedTotal.WithLabelValues("kafka").Inc()
		c.metrics.CompletionsAbsorbed.WithLabelValues(eng.Name()).Add(float64(len(event.Completions)))
		c.metrics.NgramsIngestedTotal.WithLabelValues(eng.Name()).Add(float64(ngrams))
	}

	if err := c.markAbsorbed(ctx, event.BatchID); err != nil {
		c.logger.Error("failed to mark batch absorbed",
			"batch_id", event.BatchID, "error", err)
	}

	if c.cache != nil {
		if err := c.cache.InvalidateModel(ctx, eng.Name()); err != nil {
			c.logger.Error("cache invalidation failed",
				"model", eng.Name(), "error", err)
		}
	}

	if c.collector != nil {
		c.collector.Track(analytics.AbsorbEvent{
			Model:       eng.Name(),
			BatchID:     event.BatchID,
			Completions: len(event.Completions),
			Ngrams:      ngrams,
			Source:      "kafka",
			Timestamp:   time.Now().UTC(),
		})
	}

	c.logger.Info("batch absorbed",
		"batch_id", event.BatchID,
		"model", eng.Name(),
		"completions", len(event.Completions),
		"ngrams", ngrams)
	return nil
}

func (c *BatchConsumer) markAbsorbed(ctx context.Context, batchID string) error {
	if c.db == nil {
		return nil
	}
	res, err := c.db.DB.ExecContext(ctx,
		`UPDATE batches SET status = $1, absorbed_at = NOW() WHERE id = $2`,
		intake.StatusAbsorbed, batchID)
	if err != nil {
		return fmt.Errorf("updating batch status: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
