// Package engine composes the tokenizer, n-gram extractor, frequency store,
// and reward policy into one scoring engine per configured model. The engine
// owns the significance cache and enforces the single-writer discipline
// around its store: Absorb and Reset take the write lock, scoring and
// diagnostics share the read lock.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"golang.org/x/sync/errgroup"

	"github.com/phrasewatch/phrasewatch/internal/scorer/ngram"
	"github.com/phrasewatch/phrasewatch/internal/scorer/store"
	"github.com/phrasewatch/phrasewatch/internal/scorer/tokenizer"
	"github.com/phrasewatch/phrasewatch/pkg/config"
)

// Detail explains one completion's reward.
type Detail struct {
	Reward        float64 `json:"reward"`
	MatchedPhrase string  `json:"matched_phrase,omitempty"`
	Significance  float64 `json:"significance,omitempty"`
	PromptEcho    bool    `json:"prompt_echo,omitempty"`
}

// PhraseScore is a phrase with its significance score.
type PhraseScore struct {
	Phrase string  `json:"phrase"`
	Score  float64 `json:"score"`
}

// Engine scores completions against one model's frequency store.
//
// The two strategies render opposite verdict polarities, a quirk carried
// over from the deployments this replaces: under the exact window a reward
// of 1 marks an overused completion, while under the lossy strategy a
// reward of 1 marks a clean one and 0 marks a fuzzy match against an
// overused phrase. A prompt echo scores 0 under both.
type Engine struct {
	name     string
	strategy string
	tok      *tokenizer.Tokenizer
	store    store.Store

	nMin         int
	nMax         int
	factor       float64
	boundary     float64
	partialBound int

	mu       sync.RWMutex
	sig      map[string]float64
	ranked   []PhraseScore // sig sorted by descending score, ties by phrase
	sigGen   uint64
	sigFresh bool
}

// New builds an Engine from one model configuration.
func New(cfg config.ModelConfig) (*Engine, error) {
	tok, err := tokenizer.New(tokenizer.Config{
		Scheme:     cfg.UnitScheme,
		Preprocess: cfg.Preprocess,
		WordLimit:  cfg.WordLimit,
		VocabPath:  cfg.VocabPath,
	})
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", cfg.Name, err)
	}
	st, err := store.New(store.Config{
		Strategy:  cfg.Strategy,
		Capacity:  cfg.Capacity,
		Support:   cfg.Support,
		ErrorRate: cfg.ErrorRate,
	})
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", cfg.Name, err)
	}

	nMin, nMax := cfg.NMin, cfg.NMax
	if nMin < 1 {
		nMin = 1
	}
	factor := cfg.SignificanceFactor
	if factor <= 0 {
		factor = 1.3
	}
	return &Engine{
		name:         cfg.Name,
		strategy:     st.Stats().Strategy,
		tok:          tok,
		store:        st,
		nMin:         nMin,
		nMax:         nMax,
		factor:       factor,
		boundary:     cfg.Boundary,
		partialBound: cfg.PartialRatioBoundary,
	}, nil
}

// Name returns the model name this engine serves.
func (e *Engine) Name() string { return e.name }

// Strategy returns the backing store strategy.
func (e *Engine) Strategy() string { return e.strategy }

// Absorb ingests a batch of completion texts into the store and returns the
// number of n-grams ingested. Absorb is ordinarily called after the batch
// has been scored, so verdicts reflect the store before the batch arrived.
func (e *Engine) Absorb(texts []string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, text := range texts {
		grams := ngram.Extract(e.tok.Units(text), e.nMin, e.nMax)
		e.store.Add(grams)
		total += len(grams)
	}
	return total
}

// Reward scores one completion against the current store state.
func (e *Engine) Reward(prompt, completion string) Detail {
	if completion == "" {
		return Detail{Reward: 0}
	}
	// A completion that merely echoes the prompt is never penalized.
	if strings.Contains(prompt, completion) {
		return Detail{Reward: 0, PromptEcho: true}
	}

	e.ensureFresh()
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.strategy == store.StrategyLossy {
		return e.lossyVerdict(completion)
	}
	return e.windowVerdict(completion)
}

// windowVerdict flags a completion whose own n-grams include one scoring
// strictly above the boundary. Reward 1 means flagged.
func (e *Engine) windowVerdict(completion string) Detail {
	grams := ngram.Extract(e.tok.Units(strings.ToLower(completion)), e.nMin, e.nMax)
	for _, g := range grams {
		if score, ok := e.sig[g]; ok && score > e.boundary {
			return Detail{Reward: 1, MatchedPhrase: g, Significance: score}
		}
	}
	return Detail{Reward: 0}
}

// lossyVerdict walks every phrase above the boundary and tests it against
// the completion with a fuzzy partial ratio; the first match wins. Reward 1
// means clean, 0 means an overused phrase was found in the completion.
func (e *Engine) lossyVerdict(completion string) Detail {
	for _, ps := range e.ranked {
		if ps.Score <= e.boundary {
			break
		}
		if fuzzy.PartialRatio(ps.Phrase, completion) > e.partialBound {
			return Detail{Reward: 0, MatchedPhrase: ps.Phrase, Significance: ps.Score}
		}
	}
	return Detail{Reward: 1}
}

// Rewards scores an ordered batch of completions against the same prompt.
// Completions are independent, so verdicts are computed in parallel; the
// result slice is aligned with the input. Cancellation aborts the batch.
func (e *Engine) Rewards(ctx context.Context, prompt string, completions []string) ([]Detail, error) {
	details := make([]Detail, len(completions))
	if len(completions) == 0 {
		return details, nil
	}

	// Refresh once up front so the workers all read the same cache.
	e.ensureFresh()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, completion := range completions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			details[i] = e.Reward(prompt, completion)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return details, nil
}

// MostCommon returns the n most frequent phrases in the store.
func (e *Engine) MostCommon(n int) []store.PhraseCount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.MostCommon(n)
}

// MostSignificant returns the n highest-scoring phrases from the
// significance cache, descending, ties broken by phrase.
func (e *Engine) MostSignificant(n int) []PhraseScore {
	if n <= 0 {
		return nil
	}
	e.ensureFresh()
	e.mu.RLock()
	defer e.mu.RUnlock()
	if n > len(e.ranked) {
		n = len(e.ranked)
	}
	out := make([]PhraseScore, n)
	copy(out, e.ranked[:n])
	return out
}

// Significances returns a copy of the current significance cache.
func (e *Engine) Significances() map[string]float64 {
	e.ensureFresh()
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]float64, len(e.sig))
	for k, v := range e.sig {
		out[k] = v
	}
	return out
}

// Stats reports the store's occupancy counters.
func (e *Engine) Stats() store.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Stats()
}

// Generation returns the store's mutation counter.
func (e *Engine) Generation() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Generation()
}

// Reset discards all tracked state.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Reset()
	e.sig = nil
	e.ranked = nil
	e.sigFresh = false
}

// ensureFresh recomputes the significance cache when the store generation
// has moved since the last compute. The fast path is a shared read.
func (e *Engine) ensureFresh() {
	e.mu.RLock()
	fresh := e.sigFresh && e.sigGen == e.store.Generation()
	e.mu.RUnlock()
	if fresh {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sigFresh && e.sigGen == e.store.Generation() {
		return
	}
	e.sig = e.store.Significances(e.factor)
	e.ranked = rankScores(e.sig)
	e.sigGen = e.store.Generation()
	e.sigFresh = true
}

// rankScores orders a significance map by descending score, ties broken by
// phrase so repeated reads are deterministic.
func rankScores(sig map[string]float64) []PhraseScore {
	ranked := make([]PhraseScore, 0, len(sig))
	for phrase, score := range sig {
		ranked = append(ranked, PhraseScore{Phrase: phrase, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Phrase < ranked[j].Phrase
	})
	return ranked
}
