package store

import (
	"math"

	"github.com/phrasewatch/phrasewatch/internal/scorer/ngram"
)

// compactThreshold bounds how far the queue head may drift before the
// backing slice is compacted.
const compactThreshold = 4096

// WindowStore keeps exact counts over the most recent capacity n-grams.
// The queue holds the window in arrival order; counts always mirror the
// multiset of phrases currently in the queue.
type WindowStore struct {
	capacity    int
	queue       []string
	head        int
	counts      map[string]int64
	gen         uint64
	completions int64
	ingested    int64
	evictions   int64
}

// NewWindowStore creates a WindowStore. A capacity at or below zero retains
// nothing: every Add is accepted and immediately discarded.
func NewWindowStore(capacity int) *WindowStore {
	if capacity < 0 {
		capacity = 0
	}
	return &WindowStore{
		capacity: capacity,
		counts:   make(map[string]int64),
	}
}

// Add appends one completion's n-grams, evicting the oldest entries so the
// window never exceeds its capacity. Evicted phrases have their counts
// decremented; counts that reach zero are deleted.
func (s *WindowStore) Add(ngrams []string) {
	s.completions++
	if len(ngrams) == 0 {
		return
	}
	s.ingested += int64(len(ngrams))
	s.gen += uint64(len(ngrams))
	if s.capacity == 0 {
		return
	}

	incoming := ngrams
	if len(incoming) > s.capacity {
		// Only the tail of an oversized batch survives the window.
		incoming = incoming[len(incoming)-s.capacity:]
	}

	live := len(s.queue) - s.head
	if over := live + len(incoming) - s.capacity; over > 0 {
		s.evictOldest(over)
	}

	s.queue = append(s.queue, incoming...)
	for _, ng := range incoming {
		s.counts[ng]++
	}
	s.maybeCompact()
}

func (s *WindowStore) evictOldest(n int) {
	for i := 0; i < n && s.head < len(s.queue); i++ {
		old := s.queue[s.head]
		s.queue[s.head] = ""
		s.head++
		if c := s.counts[old] - 1; c > 0 {
			s.counts[old] = c
		} else {
			delete(s.counts, old)
		}
		s.evictions++
	}
}

// maybeCompact trims consumed queue entries once the head has drifted far
// enough that the dead prefix dominates the backing array.
func (s *WindowStore) maybeCompact() {
	if s.head >= compactThreshold && s.head*2 >= len(s.queue) {
		s.queue = append(s.queue[:0:0], s.queue[s.head:]...)
		s.head = 0
	}
}

// Significances scores every tracked phrase: a^(u-1) * (count-1) for a
// phrase of u units. A phrase seen once scores zero.
func (s *WindowStore) Significances(a float64) map[string]float64 {
	sig := make(map[string]float64, len(s.counts))
	for phrase, count := range s.counts {
		u := ngram.UnitLen(phrase)
		sig[phrase] = math.Pow(a, float64(u-1)) * float64(count-1)
	}
	return sig
}

// MostCommon returns the n most frequent phrases in the window.
func (s *WindowStore) MostCommon(n int) []PhraseCount {
	if n <= 0 {
		return nil
	}
	counts := make([]PhraseCount, 0, len(s.counts))
	for phrase, count := range s.counts {
		counts = append(counts, PhraseCount{Phrase: phrase, Count: count})
	}
	return topCounts(counts, n)
}

// Size returns the number of distinct phrases in the window.
func (s *WindowStore) Size() int {
	return len(s.counts)
}

// Generation advances by the number of ingested n-grams.
func (s *WindowStore) Generation() uint64 {
	return s.gen
}

// Stats reports window occupancy counters.
func (s *WindowStore) Stats() Stats {
	return Stats{
		Strategy:        StrategyWindow,
		Phrases:         len(s.counts),
		Completions:     s.completions,
		NgramsIngested:  s.ingested,
		WindowOccupancy: len(s.queue) - s.head,
		Evictions:       s.evictions,
	}
}

// Reset discards the window and all counts.
func (s *WindowStore) Reset() {
	s.queue = nil
	s.head = 0
	s.counts = make(map[string]int64)
	s.completions = 0
	s.ingested = 0
	s.evictions = 0
	s.gen++
}
