// Package analytics defines the scored-event schema and the aggregation
// pipeline that turns the scorer's event stream into platform-wide stats.
package analytics

import "time"

// PhraseMatch records the phrase that decided one completion's verdict.
type PhraseMatch struct {
	Completion   int     `json:"completion"`
	Phrase       string  `json:"phrase"`
	Significance float64 `json:"significance"`
}

// ScoreEvent is emitted once per score request. It carries the verdicts and
// the diagnostics that fired, never the raw prompt (only its hash).
type ScoreEvent struct {
	EventID     string        `json:"event_id"`
	Model       string        `json:"model"`
	Strategy    string        `json:"strategy"`
	PromptHash  string        `json:"prompt_hash"`
	Completions int           `json:"completions"`
	Rewards     []float64     `json:"rewards"`
	Flagged     int           `json:"flagged"`
	PromptEchos int           `json:"prompt_echos"`
	Matches     []PhraseMatch `json:"matches,omitempty"`
	LatencyMs   int64         `json:"latency_ms"`
	Timestamp   time.Time     `json:"timestamp"`
	RequestID   string        `json:"request_id,omitempty"`
}

// AbsorbEvent is emitted when a completion batch is folded into a store.
type AbsorbEvent struct {
	Model       string    `json:"model"`
	BatchID     string    `json:"batch_id,omitempty"`
	Completions int       `json:"completions"`
	Ngrams      int       `json:"ngrams"`
	Source      string    `json:"source"` // http or kafka
	Timestamp   time.Time `json:"timestamp"`
}
