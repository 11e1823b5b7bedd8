package store

import (
	"fmt"
	"math"

	"github.com/phrasewatch/phrasewatch/internal/scorer/ngram"
)

type lossyEntry struct {
	freq     int64
	maxError int64
}

// LossyStore approximates n-gram frequencies with the lossy counting scheme:
// entries carry an error bound fixed at insert time, and every windowSize
// ingested n-grams a prune pass drops entries whose adjusted frequency can
// no longer clear the current bucket. Memory stays proportional to
// 1/errorRate instead of the stream length.
type LossyStore struct {
	support     float64
	errorRate   float64
	windowSize  int64
	entries     map[string]*lossyEntry
	bucketIndex int64
	total       int64
	completions int64
	pruneRuns   int64
	gen         uint64
}

// NewLossyStore creates a LossyStore. errorRate must be positive; support
// must not be negative. The prune window is ceil(1/errorRate).
func NewLossyStore(support, errorRate float64) (*LossyStore, error) {
	if errorRate <= 0 {
		return nil, fmt.Errorf("lossy store error rate must be positive, got %v", errorRate)
	}
	if support < 0 {
		return nil, fmt.Errorf("lossy store support must not be negative, got %v", support)
	}
	return &LossyStore{
		support:     support,
		errorRate:   errorRate,
		windowSize:  int64(math.Ceil(1 / errorRate)),
		entries:     make(map[string]*lossyEntry),
		bucketIndex: 1,
	}, nil
}

// Add ingests one completion's n-grams. The completion denominator advances
// even when the completion produced no n-grams.
func (s *LossyStore) Add(ngrams []string) {
	s.completions++
	s.gen++
	for _, ng := range ngrams {
		s.total++
		if e, ok := s.entries[ng]; ok {
			e.freq++
		} else {
			s.entries[ng] = &lossyEntry{freq: 1, maxError: s.bucketIndex - 1}
		}
		if s.total%s.windowSize == 0 {
			s.bucketIndex = (s.total + s.windowSize - 1) / s.windowSize
			s.prune()
		}
	}
}

// prune drops every entry whose frequency plus error bound no longer
// exceeds the current bucket index.
func (s *LossyStore) prune() {
	for phrase, e := range s.entries {
		if e.freq+e.maxError <= s.bucketIndex {
			delete(s.entries, phrase)
		}
	}
	s.pruneRuns++
}

// Significances scores the phrases that pass the inclusion filter
// freq+maxError > max(support*completions, bucketIndex+1). The frequency is
// normalised per hundred completions: f = (freq+maxError)/completions*100,
// scored as a^(u-1) * f. An empty stream yields an empty map.
func (s *LossyStore) Significances(a float64) map[string]float64 {
	sig := make(map[string]float64)
	if s.completions == 0 {
		return sig
	}
	threshold := max(s.support*float64(s.completions), float64(s.bucketIndex+1))
	for phrase, e := range s.entries {
		adjusted := float64(e.freq + e.maxError)
		if adjusted <= threshold {
			continue
		}
		f := adjusted / float64(s.completions) * 100
		u := ngram.UnitLen(phrase)
		sig[phrase] = math.Pow(a, float64(u-1)) * f
	}
	return sig
}

// MostCommon returns the n phrases with the highest observed frequency.
func (s *LossyStore) MostCommon(n int) []PhraseCount {
	if n <= 0 {
		return nil
	}
	counts := make([]PhraseCount, 0, len(s.entries))
	for phrase, e := range s.entries {
		counts = append(counts, PhraseCount{Phrase: phrase, Count: e.freq})
	}
	return topCounts(counts, n)
}

// Size returns the number of phrases currently tracked.
func (s *LossyStore) Size() int {
	return len(s.entries)
}

// Generation advances on every Add call: even an empty completion moves the
// normalisation denominator.
func (s *LossyStore) Generation() uint64 {
	return s.gen
}

// WindowSize returns the prune window derived from the error rate.
func (s *LossyStore) WindowSize() int64 {
	return s.windowSize
}

// Stats reports lossy-counting occupancy counters.
func (s *LossyStore) Stats() Stats {
	return Stats{
		Strategy:       StrategyLossy,
		Phrases:        len(s.entries),
		Completions:    s.completions,
		NgramsIngested: s.total,
		BucketIndex:    s.bucketIndex,
		PruneRuns:      s.pruneRuns,
	}
}

// Reset discards all tracked state and restarts the bucket sequence.
func (s *LossyStore) Reset() {
	s.entries = make(map[string]*lossyEntry)
	s.bucketIndex = 1
	s.total = 0
	s.completions = 0
	s.pruneRuns = 0
	s.gen++
}
