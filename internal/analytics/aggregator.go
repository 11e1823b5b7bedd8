package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrasewatch/phrasewatch/pkg/kafka"
)

// ModelStats accumulates per-model verdict counts.
type ModelStats struct {
	Model        string  `json:"model"`
	Events       int64   `json:"events"`
	Completions  int64   `json:"completions"`
	Flagged      int64   `json:"flagged"`
	PromptEchos  int64   `json:"prompt_echos"`
	FlaggedRatio float64 `json:"flagged_ratio"`
}

// PhraseHit counts how often a phrase decided a verdict.
type PhraseHit struct {
	Phrase string `json:"phrase"`
	Count  int64  `json:"count"`
}

// AggregatedStats is the rolled-up view served over HTTP and snapshotted
// to Postgres.
type AggregatedStats struct {
	TotalEvents      int64        `json:"total_events"`
	TotalCompletions int64        `json:"total_completions"`
	TotalFlagged     int64        `json:"total_flagged"`
	TotalAbsorbed    int64        `json:"total_absorbed"`
	FlaggedRatio     float64      `json:"flagged_ratio"`
	AvgLatencyMs     float64      `json:"avg_latency_ms"`
	P50LatencyMs     int64        `json:"p50_latency_ms"`
	P95LatencyMs     int64        `json:"p95_latency_ms"`
	P99LatencyMs     int64        `json:"p99_latency_ms"`
	PerModel         []ModelStats `json:"per_model"`
	TopPhrases       []PhraseHit  `json:"top_phrases"`
	EventsPerMinute  float64      `json:"events_per_minute"`
}

// Aggregator folds score and absorb events into running statistics.
type Aggregator struct {
	mu          sync.RWMutex
	totalEvents atomic.Int64
	completions atomic.Int64
	flagged     atomic.Int64
	absorbed    atomic.Int64
	latencies   []int64
	perModel    map[string]*ModelStats
	phraseHits  map[string]int64
	startTime   time.Time

	topPhrases int
	consumer   *kafka.Consumer
	logger     *slog.Logger
}

// NewAggregator creates an Aggregator fed by the given Kafka consumer.
func NewAggregator(consumer *kafka.Consumer, topPhrases int) *Aggregator {
	if topPhrases <= 0 {
		topPhrases = 20
	}
	return &Aggregator{
		latencies:  make([]int64, 0, 10000),
		perModel:   make(map[string]*ModelStats),
		phraseHits: make(map[string]int64),
		startTime:  time.Now(),
		topPhrases: topPhrases,
		consumer:   consumer,
		logger:     slog.Default().With("component", "analytics-aggregator"),
	}
}

// Start begins consuming events. It blocks until ctx is cancelled.
func (a *Aggregator) Start(ctx context.Context) error {
	a.logger.Info("aggregator starting")
	return a.consumer.Start(ctx)
}

// HandleEvent returns the Kafka handler that feeds the aggregator. Score
// events and absorb events share the topic; the event shape decides which
// counters move.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		event, err := kafka.DecodeJSON[ScoreEvent](msg.Value)
		if err == nil && event.EventID != "" {
			agg.recordScoreEvent(event)
			return nil
		}
		absorb, err := kafka.DecodeJSON[AbsorbEvent](msg.Value)
		if err != nil {
			agg.logger.Error("failed to decode score-event message", "error", err)
			return nil
		}
		agg.recordAbsorbEvent(absorb)
		return nil
	}
}

func (a *Aggregator) recordScoreEvent(event ScoreEvent) {
	a.totalEvents.Add(1)
	a.completions.Add(int64(event.Completions))
	a.flagged.Add(int64(event.Flagged))

	a.mu.Lock()
	a.latencies = append(a.latencies, event.LatencyMs)
	ms, ok := a.perModel[event.Model]
	if !ok {
		ms = &ModelStats{Model: event.Model}
		a.perModel[event.Model] = ms
	}
	ms.Events++
	ms.Completions += int64(event.Completions)
	ms.Flagged += int64(event.Flagged)
	ms.PromptEchos += int64(event.PromptEchos)
	for _, m := range event.Matches {
		a.phraseHits[m.Phrase]++
	}
	a.mu.Unlock()
}

func (a *Aggregator) recordAbsorbEvent(event AbsorbEvent) {
	a.absorbed.Add(int64(event.Completions))
}

// Stats snapshots the current aggregate view.
func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalEvents:      a.totalEvents.Load(),
		TotalCompletions: a.completions.Load(),
		TotalFlagged:     a.flagged.Load(),
		TotalAbsorbed:    a.absorbed.Load(),
	}
	if stats.TotalCompletions > 0 {
		stats.FlaggedRatio = float64(stats.TotalFlagged) / float64(stats.TotalCompletions)
	}

	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}

	stats.PerModel = make([]ModelStats, 0, len(a.perModel))
	for _, ms := range a.perModel {
		m := *ms
		if m.Completions > 0 {
			m.FlaggedRatio = float64(m.Flagged) / float64(m.Completions)
		}
		stats.PerModel = append(stats.PerModel, m)
	}
	sort.Slice(stats.PerModel, func(i, j int) bool {
		return stats.PerModel[i].Model < stats.PerModel[j].Model
	})

	stats.TopPhrases = topHits(a.phraseHits, a.topPhrases)

	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.EventsPerMinute = float64(stats.TotalEvents) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topHits(counts map[string]int64, n int) []PhraseHit {
	result := make([]PhraseHit, 0, len(counts))
	for phrase, count := range counts {
		result = append(result, PhraseHit{Phrase: phrase, Count: count})
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Phrase < result[j].Phrase
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
