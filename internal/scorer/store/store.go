// Package store tracks n-gram frequencies for the scoring engines. Two
// strategies back the same interface: an exact sliding window over the most
// recent n-grams, and an approximate lossy counter with bounded memory.
package store

import (
	"fmt"
	"sort"
)

// Strategy names accepted by New.
const (
	StrategyWindow = "window"
	StrategyLossy  = "lossy"
)

// PhraseCount is a phrase and its observed frequency.
type PhraseCount struct {
	Phrase string `json:"phrase"`
	Count  int64  `json:"count"`
}

// Stats describes a store's occupancy and ingest history.
type Stats struct {
	Strategy        string `json:"strategy"`
	Phrases         int    `json:"phrases"`
	Completions     int64  `json:"completions"`
	NgramsIngested  int64  `json:"ngrams_ingested"`
	WindowOccupancy int    `json:"window_occupancy,omitempty"`
	Evictions       int64  `json:"evictions,omitempty"`
	BucketIndex     int64  `json:"bucket_index,omitempty"`
	PruneRuns       int64  `json:"prune_runs,omitempty"`
}

// Store is the frequency backend behind one engine. Add is called once per
// completion by a single writer; the read methods must not run concurrently
// with Add (the engine serialises access around the store).
type Store interface {
	// Add ingests one completion's n-grams.
	Add(ngrams []string)
	// Significances returns phrase -> significance under factor a. The
	// frequency definition is strategy-specific.
	Significances(a float64) map[string]float64
	// MostCommon returns the n most frequent phrases, stably ordered by
	// descending count with ties broken by phrase.
	MostCommon(n int) []PhraseCount
	// Size returns the number of distinct phrases tracked.
	Size() int
	// Generation changes whenever observable state may have changed.
	Generation() uint64
	// Stats reports occupancy counters.
	Stats() Stats
	// Reset discards all tracked state.
	Reset()
}

// Config selects and parameterises a strategy.
type Config struct {
	Strategy  string
	Capacity  int     // window: n-grams retained
	Support   float64 // lossy
	ErrorRate float64 // lossy
}

// New builds the configured Store. An empty strategy defaults to the exact
// window.
func New(cfg Config) (Store, error) {
	switch cfg.Strategy {
	case StrategyWindow, "":
		return NewWindowStore(cfg.Capacity), nil
	case StrategyLossy:
		return NewLossyStore(cfg.Support, cfg.ErrorRate)
	default:
		return nil, fmt.Errorf("unknown store strategy %q", cfg.Strategy)
	}
}

// topCounts sorts phrase counts descending (ties by phrase) and clips to n.
func topCounts(counts []PhraseCount, n int) []PhraseCount {
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Phrase < counts[j].Phrase
	})
	if len(counts) > n {
		counts = counts[:n]
	}
	return counts
}
