// Package publisher persists completion batches to PostgreSQL and publishes
// them to Kafka for the scorer to absorb. Batch ids are content-derived so
// resubmitting the same batch is idempotent.
package publisher

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrasewatch/phrasewatch/internal/intake"
	apperrors "github.com/phrasewatch/phrasewatch/pkg/errors"
	"github.com/phrasewatch/phrasewatch/pkg/kafka"
	"github.com/phrasewatch/phrasewatch/pkg/postgres"
	"github.com/phrasewatch/phrasewatch/pkg/resilience"
)

// Publisher coordinates batch persistence and Kafka production.
//
// Required schema:
//
//	CREATE TABLE batches (
//	    id               TEXT PRIMARY KEY,
//	    producer_id      TEXT NOT NULL,
//	    model            TEXT NOT NULL,
//	    completion_count INT NOT NULL,
//	    status           TEXT NOT NULL,
//	    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    absorbed_at      TIMESTAMPTZ
//	);
type Publisher struct {
	db       *postgres.Client
	producer *kafka.Producer
	logger   *slog.Logger
}

// New creates a Publisher.
func New(db *postgres.Client, producer *kafka.Producer) *Publisher {
	return &Publisher{
		db:       db,
		producer: producer,
		logger:   slog.Default().With("component", "batch-publisher"),
	}
}

// Submit persists the batch row and publishes the batch event. A batch that
// was already submitted (same producer, model, and completions) is returned
// with its current status and not republished.
func (p *Publisher) Submit(ctx context.Context, req *intake.BatchRequest) (*intake.BatchResponse, error) {
	batchID := BatchID(req)

	var inserted bool
	err := p.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO batches (id, producer_id, model, completion_count, status)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO NOTHING`,
			batchID, req.ProducerID, req.Model, len(req.Completions), intake.StatusPending,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		inserted = n > 0
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inserting batch: %w", err)
	}

	if !inserted {
		existing, err := p.GetBatch(ctx, batchID)
		if err != nil {
			return nil, err
		}
		p.logger.Info("duplicate batch submission",
			"batch_id", batchID,
			"status", existing.Status,
		)
		return &intake.BatchResponse{
			BatchID:     existing.BatchID,
			Status:      existing.Status,
			Completions: existing.Completions,
		}, nil
	}

	event := kafka.Event{
		Key: batchID,
		Value: intake.BatchEvent{
			BatchID:     batchID,
			ProducerID:  req.ProducerID,
			Model:       req.Model,
			Completions: req.Completions,
			SubmittedAt: time.Now().UTC(),
		},
		Headers: map[string]string{"producer_id": req.ProducerID},
	}

	err = resilience.Retry(ctx, "batch publish", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		return p.producer.Publish(ctx, event)
	})
	if err != nil {
		// The row stays PENDING; a later resubmission republishes it.
		p.logger.Error("failed to publish batch, stuck in PENDING",
			"batch_id", batchID,
			"error", err,
		)
	}

	return &intake.BatchResponse{
		BatchID:     batchID,
		Status:      intake.StatusPending,
		Completions: len(req.Completions),
	}, nil
}

// GetBatch loads one batch row by id.
func (p *Publisher) GetBatch(ctx context.Context, batchID string) (*intake.BatchRecord, error) {
	var rec intake.BatchRecord
	var absorbedAt sql.NullTime
	err := p.db.DB.QueryRowContext(ctx,
		`SELECT id, producer_id, model, completion_count, status, created_at, absorbed_at
		 FROM batches WHERE id = $1`, batchID,
	).Scan(&rec.BatchID, &rec.ProducerID, &rec.Model, &rec.Completions,
		&rec.Status, &rec.CreatedAt, &absorbedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying batch: %w", err)
	}
	if absorbedAt.Valid {
		rec.AbsorbedAt = &absorbedAt.Time
	}
	return &rec, nil
}

// BatchID derives the content-addressed batch id: a SHA-256 over producer,
// model, and every completion, NUL-separated so field boundaries cannot
// collide.
func BatchID(req *intake.BatchRequest) string {
	h := sha256.New()
	h.Write([]byte(req.ProducerID))
	h.Write([]byte{0})
	h.Write([]byte(req.Model))
	for _, c := range req.Completions {
		h.Write([]byte{0})
		h.Write([]byte(c))
	}
	return hex.EncodeToString(h.Sum(nil))
}
