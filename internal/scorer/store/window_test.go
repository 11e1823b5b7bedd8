package store

import (
	"math"
	"testing"
)

func TestWindowCountsRepeatedBigrams(t *testing.T) {
	s := NewWindowStore(10)

	// Two identical completions, bigrams only.
	s.Add([]string{"the cat", "cat sat"})
	s.Add([]string{"the cat", "cat sat"})

	if got := s.Size(); got != 2 {
		t.Fatalf("Size = %d, want 2", got)
	}
	for _, phrase := range []string{"the cat", "cat sat"} {
		if got := s.counts[phrase]; got != 2 {
			t.Errorf("count[%q] = %d, want 2", phrase, got)
		}
	}

	sig := s.Significances(1.3)
	want := 1.3 // 1.3^(2-1) * (2-1)
	for _, phrase := range []string{"the cat", "cat sat"} {
		if got := sig[phrase]; math.Abs(got-want) > 1e-9 {
			t.Errorf("significance[%q] = %v, want %v", phrase, got, want)
		}
	}

	if got := s.Stats().WindowOccupancy; got != 4 {
		t.Errorf("occupancy = %d, want 4", got)
	}
}

func TestWindowEvictsOldestFirst(t *testing.T) {
	s := NewWindowStore(3)
	s.Add([]string{"a", "b", "c"})
	s.Add([]string{"d"})

	if _, ok := s.counts["a"]; ok {
		t.Error("oldest entry survived eviction")
	}
	for _, phrase := range []string{"b", "c", "d"} {
		if s.counts[phrase] != 1 {
			t.Errorf("count[%q] = %d, want 1", phrase, s.counts[phrase])
		}
	}

	s.Add([]string{"e", "f"})
	if s.Size() != 3 {
		t.Fatalf("Size = %d, want 3", s.Size())
	}
	for _, phrase := range []string{"d", "e", "f"} {
		if s.counts[phrase] != 1 {
			t.Errorf("count[%q] = %d, want 1", phrase, s.counts[phrase])
		}
	}
	if got := s.Stats().Evictions; got != 3 {
		t.Errorf("evictions = %d, want 3", got)
	}
}

func TestWindowZeroCountsDeleted(t *testing.T) {
	s := NewWindowStore(2)
	s.Add([]string{"x", "x"})
	if s.counts["x"] != 2 {
		t.Fatalf("count[x] = %d, want 2", s.counts["x"])
	}

	s.Add([]string{"y", "z"})
	if _, ok := s.counts["x"]; ok {
		t.Error("fully evicted phrase still has a count entry")
	}
	if s.Size() != 2 {
		t.Errorf("Size = %d, want 2", s.Size())
	}
}

func TestWindowCountsMirrorQueue(t *testing.T) {
	s := NewWindowStore(5)
	batches := [][]string{
		{"a b", "b c", "a b"},
		{"c d", "a b", "b c", "d e"},
		{"e f"},
		{"a b", "a b", "a b", "a b", "a b", "a b"},
	}
	for _, batch := range batches {
		s.Add(batch)
		var total int64
		for _, c := range s.counts {
			if c <= 0 {
				t.Fatalf("non-positive count %d", c)
			}
			total += c
		}
		if occ := int64(s.Stats().WindowOccupancy); total != occ {
			t.Fatalf("count sum %d != occupancy %d", total, occ)
		}
		if occ := s.Stats().WindowOccupancy; occ > 5 {
			t.Fatalf("occupancy %d exceeds capacity", occ)
		}
	}
}

func TestWindowOversizedBatch(t *testing.T) {
	s := NewWindowStore(2)
	s.Add([]string{"a", "b", "c", "d", "e"})

	if s.Stats().WindowOccupancy != 2 {
		t.Fatalf("occupancy = %d, want 2", s.Stats().WindowOccupancy)
	}
	for _, phrase := range []string{"d", "e"} {
		if s.counts[phrase] != 1 {
			t.Errorf("count[%q] = %d, want 1", phrase, s.counts[phrase])
		}
	}
}

func TestWindowZeroCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		s := NewWindowStore(capacity)
		s.Add([]string{"a", "b"})
		s.Add(nil)

		if s.Size() != 0 {
			t.Errorf("capacity %d: Size = %d, want 0", capacity, s.Size())
		}
		if sig := s.Significances(1.3); len(sig) != 0 {
			t.Errorf("capacity %d: significances not empty", capacity)
		}
		if s.Stats().WindowOccupancy != 0 {
			t.Errorf("capacity %d: occupancy not zero", capacity)
		}
	}
}

func TestWindowSingleOccurrenceScoresZero(t *testing.T) {
	s := NewWindowStore(100)
	s.Add([]string{"lone phrase", "another one"})

	for phrase, got := range s.Significances(1.3) {
		if got != 0 {
			t.Errorf("significance[%q] = %v, want 0", phrase, got)
		}
	}
}

func TestWindowSignificanceScalesWithLength(t *testing.T) {
	s := NewWindowStore(100)
	s.Add([]string{"a b c", "a b c", "x", "x"})

	sig := s.Significances(2.0)
	if got := sig["a b c"]; math.Abs(got-4.0) > 1e-9 { // 2^(3-1) * 1
		t.Errorf("significance[a b c] = %v, want 4", got)
	}
	if got := sig["x"]; math.Abs(got-1.0) > 1e-9 { // 2^0 * 1
		t.Errorf("significance[x] = %v, want 1", got)
	}
}

func TestWindowGeneration(t *testing.T) {
	s := NewWindowStore(10)
	g0 := s.Generation()

	s.Add(nil)
	if s.Generation() != g0 {
		t.Error("empty add must not advance the generation")
	}

	s.Add([]string{"a", "b"})
	if s.Generation() != g0+2 {
		t.Errorf("generation = %d, want %d", s.Generation(), g0+2)
	}
}

func TestWindowMostCommon(t *testing.T) {
	s := NewWindowStore(100)
	s.Add([]string{"b", "a", "a", "c", "c", "c"})

	got := s.MostCommon(2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Phrase != "c" || got[0].Count != 3 {
		t.Errorf("first = %+v, want c/3", got[0])
	}
	if got[1].Phrase != "a" || got[1].Count != 2 {
		t.Errorf("second = %+v, want a/2", got[1])
	}

	// Ties break by phrase; asking for more than exists returns all.
	s.Reset()
	s.Add([]string{"z", "y"})
	all := s.MostCommon(10)
	if len(all) != 2 || all[0].Phrase != "y" || all[1].Phrase != "z" {
		t.Errorf("tie order = %+v", all)
	}

	if s.MostCommon(0) != nil {
		t.Error("MostCommon(0) should be empty")
	}
}

func TestWindowReset(t *testing.T) {
	s := NewWindowStore(10)
	s.Add([]string{"a", "b", "a"})
	g := s.Generation()

	s.Reset()
	if s.Size() != 0 || s.Stats().WindowOccupancy != 0 {
		t.Error("reset left state behind")
	}
	if s.Generation() == g {
		t.Error("reset must advance the generation")
	}
}

func TestWindowCompaction(t *testing.T) {
	s := NewWindowStore(8)
	for i := 0; i < compactThreshold*3; i++ {
		s.Add([]string{"p", "q"})
	}
	if len(s.queue) > compactThreshold*2+8 {
		t.Errorf("queue grew unbounded: len=%d head=%d", len(s.queue), s.head)
	}
	if occ := s.Stats().WindowOccupancy; occ != 8 {
		t.Errorf("occupancy = %d, want 8", occ)
	}
	if s.counts["p"]+s.counts["q"] != 8 {
		t.Errorf("counts drifted: %v", s.counts)
	}
}
