package store

import (
	"fmt"
	"math"
	"testing"
)

func TestLossyRejectsBadParameters(t *testing.T) {
	if _, err := NewLossyStore(0.01, 0); err == nil {
		t.Error("zero error rate accepted")
	}
	if _, err := NewLossyStore(0.01, -1); err == nil {
		t.Error("negative error rate accepted")
	}
	if _, err := NewLossyStore(-0.5, 0.1); err == nil {
		t.Error("negative support accepted")
	}
}

func TestLossyWindowSize(t *testing.T) {
	s, err := NewLossyStore(0.01, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if s.WindowSize() != 10 {
		t.Errorf("WindowSize = %d, want 10", s.WindowSize())
	}

	s, err = NewLossyStore(0.01, 3e-1)
	if err != nil {
		t.Fatal(err)
	}
	// ceil(1/0.3) = 4
	if s.WindowSize() != 4 {
		t.Errorf("WindowSize = %d, want 4", s.WindowSize())
	}
}

func TestLossyPrunesSingletonsAtBucketBoundary(t *testing.T) {
	s, err := NewLossyStore(0.01, 0.1)
	if err != nil {
		t.Fatal(err)
	}

	// Ten distinct singletons fill exactly one bucket. At the boundary
	// every entry has freq(1) + maxError(0) <= bucketIndex(1) and is
	// dropped.
	for i := 0; i < 10; i++ {
		s.Add([]string{fmt.Sprintf("phrase %d", i)})
	}

	if got := s.Stats().PruneRuns; got != 1 {
		t.Fatalf("prune runs = %d, want 1", got)
	}
	if got := s.Size(); got != 0 {
		t.Errorf("Size after prune = %d, want 0", got)
	}
	if got := s.Stats().BucketIndex; got != 1 {
		t.Errorf("bucket index = %d, want 1", got)
	}
}

func TestLossyRetainsFrequentPhrases(t *testing.T) {
	s, err := NewLossyStore(0.01, 0.1)
	if err != nil {
		t.Fatal(err)
	}

	// "hot" appears in every batch; the filler singletons churn.
	for i := 0; i < 50; i++ {
		s.Add([]string{"hot hot", fmt.Sprintf("cold %d", i)})
	}

	e, ok := s.entries["hot hot"]
	if !ok {
		t.Fatal("frequent phrase was pruned")
	}
	if e.freq > 50 {
		t.Errorf("observed frequency %d overestimates true frequency 50", e.freq)
	}
	if e.freq+e.maxError < 50 {
		t.Errorf("freq+maxError = %d underestimates true frequency 50", e.freq+e.maxError)
	}
}

func TestLossyErrorBoundHolds(t *testing.T) {
	s, err := NewLossyStore(0.01, 0.05)
	if err != nil {
		t.Fatal(err)
	}

	// Deterministic skewed stream: phrase k appears every k-th step.
	true_ := make(map[string]int64)
	for i := 0; i < 2000; i++ {
		batch := make([]string, 0, 4)
		for k := 1; k <= 4; k++ {
			if i%k == 0 {
				p := fmt.Sprintf("p%d", k)
				batch = append(batch, p)
				true_[p]++
			}
		}
		s.Add(batch)
	}

	for phrase, e := range s.entries {
		tf, tracked := true_[phrase]
		if !tracked {
			t.Fatalf("unknown phrase %q tracked", phrase)
		}
		if e.freq > tf {
			t.Errorf("%q: observed %d > true %d", phrase, e.freq, tf)
		}
		if e.freq+e.maxError < tf {
			t.Errorf("%q: freq+maxError %d < true %d", phrase, e.freq+e.maxError, tf)
		}
	}
}

func TestLossySignificanceFilterAndScale(t *testing.T) {
	s, err := NewLossyStore(0.01, 0.1)
	if err != nil {
		t.Fatal(err)
	}

	// 20 completions, "the cat sat" in each. freq 20, maxError 0,
	// bucketIndex 2 after 20 n-grams; 20 > max(0.01*20, 3) passes.
	for i := 0; i < 20; i++ {
		s.Add([]string{"the cat sat"})
	}

	sig := s.Significances(1.3)
	score, ok := sig["the cat sat"]
	if !ok {
		t.Fatal("frequent trigram missing from significance map")
	}
	// f = 20/20*100 = 100; a^(3-1) * 100.
	want := math.Pow(1.3, 2) * 100
	if math.Abs(score-want) > 1e-9 {
		t.Errorf("significance = %v, want %v", score, want)
	}
}

func TestLossySignificanceEmptyBeforeIngest(t *testing.T) {
	s, err := NewLossyStore(0.01, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if sig := s.Significances(1.3); len(sig) != 0 {
		t.Errorf("significance map has %d entries before any ingest", len(sig))
	}
}

func TestLossyThinEvidenceFiltered(t *testing.T) {
	s, err := NewLossyStore(0.01, 0.1)
	if err != nil {
		t.Fatal(err)
	}

	// Two occurrences of "rare" inside the first bucket: tracked but
	// 2 <= max(0.01*2, bucketIndex+1) so it must not score.
	s.Add([]string{"rare one"})
	s.Add([]string{"rare one"})

	if s.Size() != 1 {
		t.Fatalf("Size = %d, want 1", s.Size())
	}
	if sig := s.Significances(1.3); len(sig) != 0 {
		t.Errorf("thin-evidence phrase scored: %v", sig)
	}
}

func TestLossyGenerationAdvancesPerCompletion(t *testing.T) {
	s, err := NewLossyStore(0.01, 0.1)
	if err != nil {
		t.Fatal(err)
	}

	g0 := s.Generation()
	s.Add(nil) // empty completion still moves the denominator
	if s.Generation() == g0 {
		t.Error("generation unchanged after empty Add")
	}
	if s.Stats().Completions != 1 {
		t.Errorf("completions = %d, want 1", s.Stats().Completions)
	}
}

func TestLossyReset(t *testing.T) {
	s, err := NewLossyStore(0.01, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 30; i++ {
		s.Add([]string{"a b", "c d"})
	}
	g := s.Generation()
	s.Reset()

	if s.Size() != 0 {
		t.Errorf("Size after reset = %d", s.Size())
	}
	st := s.Stats()
	if st.Completions != 0 || st.NgramsIngested != 0 || st.BucketIndex != 1 {
		t.Errorf("stats not reset: %+v", st)
	}
	if s.Generation() == g {
		t.Error("generation unchanged by reset")
	}
}
