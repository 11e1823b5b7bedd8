package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/phrasewatch/phrasewatch/pkg/config"
)

func windowModel() config.ModelConfig {
	return config.ModelConfig{
		Name:               "test-window",
		Strategy:           "window",
		UnitScheme:         "words",
		Preprocess:         `[^(\w|\s)]`,
		NMin:               2,
		NMax:               2,
		SignificanceFactor: 1.3,
		Boundary:           1000,
		Capacity:           100_000,
	}
}

func lossyModel() config.ModelConfig {
	return config.ModelConfig{
		Name:                 "test-lossy",
		Strategy:             "lossy",
		UnitScheme:           "words",
		Preprocess:           `[^(\w|\s)]`,
		NMin:                 2,
		NMax:                 2,
		SignificanceFactor:   1.3,
		Boundary:             6,
		PartialRatioBoundary: 95,
		Support:              0.01,
		ErrorRate:            0.1,
	}
}

func mustEngine(t *testing.T, cfg config.ModelConfig) *Engine {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestPromptEchoNeverPenalized(t *testing.T) {
	for _, cfg := range []config.ModelConfig{windowModel(), lossyModel()} {
		t.Run(cfg.Name, func(t *testing.T) {
			e := mustEngine(t, cfg)
			// Make "the cat sat" heavily overused first.
			for i := 0; i < 200; i++ {
				e.Absorb([]string{"the cat sat on the mat"})
			}
			d := e.Reward("tell me whether the cat sat on the mat", "the cat sat on the mat")
			if d.Reward != 0 {
				t.Errorf("echoed completion rewarded %v, want 0", d.Reward)
			}
			if !d.PromptEcho {
				t.Error("prompt echo not reported")
			}
		})
	}
}

func TestEmptyCompletionScoresZero(t *testing.T) {
	e := mustEngine(t, windowModel())
	d := e.Reward("some prompt", "")
	if d.Reward != 0 || d.PromptEcho {
		t.Errorf("empty completion: %+v", d)
	}
}

func TestWindowBoundaryFlipsVerdict(t *testing.T) {
	e := mustEngine(t, windowModel())

	// Below the boundary the verdict stays 0; once any bigram's
	// significance exceeds 1000 a fresh completion containing it flips
	// to 1. Significance is 1.3 * (count-1), so count must top 770.
	completion := "the cat sat"
	if d := e.Reward("unrelated prompt", completion); d.Reward != 0 {
		t.Fatalf("verdict 1 before any absorption: %+v", d)
	}

	for i := 0; i < 800; i++ {
		e.Absorb([]string{"the cat sat"})
	}

	d := e.Reward("unrelated prompt", completion)
	if d.Reward != 1 {
		t.Fatalf("verdict = %v after overuse, want 1 (detail %+v)", d.Reward, d)
	}
	if d.MatchedPhrase == "" || d.Significance <= 1000 {
		t.Errorf("missing diagnostics: %+v", d)
	}
}

func TestWindowSingleOccurrenceNotFlagged(t *testing.T) {
	cfg := windowModel()
	cfg.Boundary = 0 // any positive significance flags
	e := mustEngine(t, cfg)

	e.Absorb([]string{"one of a kind"})
	if d := e.Reward("p", "one of a kind"); d.Reward != 0 {
		t.Errorf("single occurrence flagged: %+v", d)
	}

	e.Absorb([]string{"one of a kind"})
	if d := e.Reward("p", "one of a kind"); d.Reward != 1 {
		t.Errorf("repeated phrase not flagged: %+v", d)
	}
}

func TestLossyPolarityInverted(t *testing.T) {
	e := mustEngine(t, lossyModel())

	// Nothing significant yet: clean completions score 1 under lossy.
	if d := e.Reward("prompt", "a perfectly novel sentence"); d.Reward != 1 {
		t.Fatalf("clean completion = %v, want 1", d.Reward)
	}

	// Drive "the cat sat" over the boundary: bigram significance is
	// 1.3 * (freq+err)/completions * 100, far above 6 when it appears
	// in every completion.
	for i := 0; i < 100; i++ {
		e.Absorb([]string{"the cat sat"})
	}

	d := e.Reward("prompt", "and then the cat sat down again")
	if d.Reward != 0 {
		t.Fatalf("overused phrase not matched: %+v (significant: %v)", d, e.MostSignificant(5))
	}
	if d.MatchedPhrase == "" {
		t.Error("matched phrase missing from detail")
	}

	if d := e.Reward("prompt", "completely unrelated words here"); d.Reward != 1 {
		t.Errorf("unrelated completion = %v, want 1", d.Reward)
	}
}

func TestRewardsBatchAlignedAndIndependent(t *testing.T) {
	e := mustEngine(t, windowModel())
	for i := 0; i < 800; i++ {
		e.Absorb([]string{"the cat sat"})
	}

	prompt := "write about the weather"
	completions := []string{
		"the cat sat somewhere",
		"sunny with light winds",
		"",
		"write about the weather",
		"the cat sat again",
	}
	details, err := e.Rewards(context.Background(), prompt, completions)
	if err != nil {
		t.Fatal(err)
	}
	if len(details) != len(completions) {
		t.Fatalf("got %d details for %d completions", len(details), len(completions))
	}

	want := []float64{1, 0, 0, 0, 1}
	for i, d := range details {
		if d.Reward != want[i] {
			t.Errorf("reward[%d] = %v, want %v", i, d.Reward, want[i])
		}
	}
	if !details[3].PromptEcho {
		t.Error("echoed completion not marked")
	}
}

func TestRewardsCancelled(t *testing.T) {
	e := mustEngine(t, windowModel())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Rewards(ctx, "p", []string{"a", "b", "c"}); err == nil {
		t.Error("cancelled batch returned no error")
	}
}

func TestSignificanceCacheCoherent(t *testing.T) {
	e := mustEngine(t, windowModel())
	for i := 0; i < 5; i++ {
		e.Absorb([]string{"the cat sat on the mat"})
	}

	first := e.Significances()
	second := e.Significances()
	if len(first) != len(second) {
		t.Fatalf("cache sizes differ: %d vs %d", len(first), len(second))
	}
	for k, v := range first {
		if second[k] != v {
			t.Errorf("score[%q] changed between reads: %v vs %v", k, v, second[k])
		}
	}

	gen := e.Generation()
	e.Absorb([]string{"a brand new sentence"})
	if e.Generation() == gen {
		t.Error("generation unchanged after absorb")
	}
	third := e.Significances()
	if len(third) == len(first) {
		t.Error("cache not recomputed after store mutation")
	}
}

func TestMostSignificantOrderedAndClipped(t *testing.T) {
	e := mustEngine(t, windowModel())
	e.Absorb([]string{"aa bb", "aa bb", "aa bb", "cc dd", "cc dd"})

	top := e.MostSignificant(10)
	if len(top) != 2 {
		t.Fatalf("top = %v", top)
	}
	if top[0].Phrase != "aa bb" || top[1].Phrase != "cc dd" {
		t.Errorf("wrong order: %v", top)
	}
	if top[0].Score <= top[1].Score {
		t.Errorf("not descending: %v", top)
	}

	if got := e.MostSignificant(1); len(got) != 1 {
		t.Errorf("clip failed: %v", got)
	}
	if got := e.MostSignificant(0); got != nil {
		t.Errorf("n=0 returned %v", got)
	}
}

func TestMostCommonCountsObserved(t *testing.T) {
	e := mustEngine(t, windowModel())
	e.Absorb([]string{"xx yy", "xx yy", "zz ww"})

	top := e.MostCommon(2)
	if len(top) != 2 || top[0].Phrase != "xx yy" || top[0].Count != 2 {
		t.Errorf("MostCommon = %v", top)
	}
}

func TestDegenerateConfigsNeverPanic(t *testing.T) {
	cfg := windowModel()
	cfg.Capacity = 0
	e := mustEngine(t, cfg)

	if got := e.Absorb([]string{"a b c d e"}); got == 0 {
		t.Error("n-grams not counted for zero-capacity store")
	}
	if d := e.Reward("p", "a b c d e"); d.Reward != 0 {
		t.Errorf("zero-capacity store flagged a completion: %+v", d)
	}

	cfg = windowModel()
	cfg.NMin = 5
	cfg.NMax = 3
	e = mustEngine(t, cfg)
	if got := e.Absorb([]string{"a b c d e f"}); got != 0 {
		t.Errorf("inverted length range produced %d n-grams", got)
	}

	cfg = windowModel()
	cfg.Preprocess = `.` // strips everything
	e = mustEngine(t, cfg)
	if got := e.Absorb([]string{"anything at all"}); got != 0 {
		t.Errorf("everything-stripping pattern produced %d n-grams", got)
	}
}

func TestReset(t *testing.T) {
	e := mustEngine(t, windowModel())
	for i := 0; i < 800; i++ {
		e.Absorb([]string{"the cat sat"})
	}
	if d := e.Reward("p", "the cat sat"); d.Reward != 1 {
		t.Fatal("setup: phrase not flagged before reset")
	}

	e.Reset()
	if e.Stats().Phrases != 0 {
		t.Errorf("phrases after reset = %d", e.Stats().Phrases)
	}
	if d := e.Reward("p", "the cat sat"); d.Reward != 0 {
		t.Errorf("flagged after reset: %+v", d)
	}
}

func TestWordLimitBoundsWork(t *testing.T) {
	cfg := windowModel()
	cfg.WordLimit = 4
	e := mustEngine(t, cfg)

	// 10 words truncated to 4 -> 3 bigrams.
	long := strings.Repeat("word ", 10)
	if got := e.Absorb([]string{long}); got != 3 {
		t.Errorf("absorbed %d n-grams, want 3", got)
	}
}
