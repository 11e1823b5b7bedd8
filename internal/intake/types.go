// Package intake defines the request/response types and the Kafka event
// schema for the completion-batch intake pipeline.
package intake

import "time"

// Batch lifecycle statuses.
const (
	StatusPending  = "PENDING"
	StatusAbsorbed = "ABSORBED"
)

// BatchRequest is the JSON body accepted by the intake HTTP endpoint.
type BatchRequest struct {
	ProducerID  string   `json:"producer_id"`
	Model       string   `json:"model"`
	Completions []string `json:"completions"`
}

// BatchResponse is returned to the caller after a batch is accepted.
type BatchResponse struct {
	BatchID     string `json:"batch_id"`
	Status      string `json:"status"`
	Completions int    `json:"completions"`
}

// BatchRecord mirrors one row of the batches table.
type BatchRecord struct {
	BatchID     string     `json:"batch_id"`
	ProducerID  string     `json:"producer_id"`
	Model       string     `json:"model"`
	Completions int        `json:"completions"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	AbsorbedAt  *time.Time `json:"absorbed_at,omitempty"`
}

// BatchEvent is the Kafka message payload carrying a batch to the scorer.
type BatchEvent struct {
	BatchID     string    `json:"batch_id"`
	ProducerID  string    `json:"producer_id"`
	Model       string    `json:"model"`
	Completions []string  `json:"completions"`
	SubmittedAt time.Time `json:"submitted_at"`
}
