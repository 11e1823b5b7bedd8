// Package handler serves the scorer's HTTP API: scoring, batch absorption,
// phrase diagnostics, and cache administration.
package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/phrasewatch/phrasewatch/internal/analytics"
	"github.com/phrasewatch/phrasewatch/internal/archive"
	"github.com/phrasewatch/phrasewatch/internal/scorer/cache"
	"github.com/phrasewatch/phrasewatch/internal/scorer/engine"
	"github.com/phrasewatch/phrasewatch/internal/scorer/registry"
	"github.com/phrasewatch/phrasewatch/pkg/config"
	apperrors "github.com/phrasewatch/phrasewatch/pkg/errors"
	"github.com/phrasewatch/phrasewatch/pkg/logger"
	"github.com/phrasewatch/phrasewatch/pkg/metrics"
	"github.com/phrasewatch/phrasewatch/pkg/proto"
	"github.com/phrasewatch/phrasewatch/pkg/tracing"
)

const maxTopPhrases = 500

// Handler routes scoring-plane HTTP requests to the engine registry.
type Handler struct {
	engines   *registry.Registry
	cache     *cache.DiagnosticsCache
	collector *analytics.Collector
	archive   *archive.Writer
	metrics   *metrics.Metrics
	tracing   config.TracingConfig
	logger    *slog.Logger
}

func New(
	engines *registry.Registry,
	diagCache *cache.DiagnosticsCache,
	collector *analytics.Collector,
	archiveWriter *archive.Writer,
	m *metrics.Metrics,
	tracingCfg config.TracingConfig,
) *Handler {
	return &Handler{
		engines:   engines,
		cache:     diagCache,
		collector: collector,
		archive:   archiveWriter,
		metrics:   m,
		tracing:   tracingCfg,
		logger:    slog.Default().With("component", "scorer-handler"),
	}
}

// Score evaluates a batch of completions against one model's store and
// returns a reward per completion, in request order.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req proto.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Completions) == 0 {
		h.writeError(w, http.StatusBadRequest, "completions must not be empty")
		return
	}

	eng, err := h.engines.Get(req.Model)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), fmt.Sprintf("unknown model %q", req.Model))
		return
	}

	sampled := h.tracing.Enabled && tracing.ShouldSample(h.tracing.SampleRate)
	var span *tracing.Span
	if sampled {
		ctx, span = tracing.StartSpan(ctx, "scorer.score", logger.RequestIDFromContext(ctx))
		span.SetAttr("model", eng.Name())
		span.SetAttr("completions", len(req.Completions))
	}

	details, err := eng.Rewards(ctx, req.Prompt, req.Completions)
	if sampled {
		span.End()
		span.Log()
	}
	if err != nil {
		if errors.Is(err, ctx.Err()) {
			h.writeError(w, apperrors.HTTPStatusCode(apperrors.ErrTimeout), "scoring canceled")
			return
		}
		h.logger.Error("scoring failed", "model", eng.Name(), "error", err)
		h.writeError(w, http.StatusInternalServerError, "scoring failed")
		return
	}

	latency := time.Since(start)
	resp := proto.ScoreResponse{
		Model:     eng.Name(),
		Rewards:   make([]float64, len(details)),
		Details:   make([]proto.VerdictDetail, len(details)),
		LatencyMs: latency.Milliseconds(),
	}
	flagged, echos := 0, 0
	var matches []analytics.PhraseMatch
	for i, d := range details {
		resp.Rewards[i] = d.Reward
		resp.Details[i] = proto.VerdictDetail{
			Reward:        d.Reward,
			MatchedPhrase: d.MatchedPhrase,
			Significance:  d.Significance,
			PromptEcho:    d.PromptEcho,
		}
		switch {
		case d.PromptEcho:
			echos++
			h.countVerdict(eng.Name(), "prompt_echo")
		case d.MatchedPhrase != "":
			flagged++
			h.countVerdict(eng.Name(), "flagged")
			matches = append(matches, analytics.PhraseMatch{
				Completion:   i,
				Phrase:       d.MatchedPhrase,
				Significance: d.Significance,
			})
		default:
			h.countVerdict(eng.Name(), "clean")
		}
	}

	if h.metrics != nil {
		h.metrics.ScoreRequestsTotal.WithLabelValues(eng.Name()).Inc()
		h.metrics.ScoringLatency.WithLabelValues(eng.Name()).Observe(latency.Seconds())
	}

	event := analytics.ScoreEvent{
		EventID:     uuid.NewString(),
		Model:       eng.Name(),
		Strategy:    eng.Strategy(),
		PromptHash:  hashPrompt(req.Prompt),
		Completions: len(req.Completions),
		Rewards:     resp.Rewards,
		Flagged:     flagged,
		PromptEchos: echos,
		Matches:     matches,
		LatencyMs:   latency.Milliseconds(),
		Timestamp:   time.Now().UTC(),
		RequestID:   logger.RequestIDFromContext(ctx),
	}
	if h.collector != nil {
		h.collector.Track(event)
	}
	if h.archive != nil {
		h.archive.Track(event)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Absorb ingests a batch of completions directly over HTTP, bypassing the
// intake service. Meant for backfills and local testing.
func (h *Handler) Absorb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req proto.AbsorbRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Completions) == 0 {
		h.writeError(w, http.StatusBadRequest, "completions must not be empty")
		return
	}

	eng, err := h.engines.Get(req.Model)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), fmt.Sprintf("unknown model %q", req.Model))
		return
	}

	ngrams := eng.Absorb(req.Completions)
	stats := eng.Stats()

	if h.metrics != nil {
		h.metrics.BatchesReceivedTotal.WithLabelValues("http").Inc()
		h.metrics.CompletionsAbsorbed.WithLabelValues(eng.Name()).Add(float64(len(req.Completions)))
		h.metrics.NgramsIngestedTotal.WithLabelValues(eng.Name()).Add(float64(ngrams))
	}
	if h.cache != nil {
		if err := h.cache.InvalidateModel(ctx, eng.Name()); err != nil {
			h.logger.Error("cache invalidation failed", "model", eng.Name(), "error", err)
		}
	}
	if h.collector != nil {
		h.collector.Track(analytics.AbsorbEvent{
			Model:       eng.Name(),
			Completions: len(req.Completions),
			Ngrams:      ngrams,
			Source:      "http",
			Timestamp:   time.Now().UTC(),
		})
	}

	h.writeJSON(w, http.StatusOK, proto.AbsorbResponse{
		Model:       eng.Name(),
		Completions: int64(len(req.Completions)),
		Ngrams:      int64(ngrams),
		Phrases:     int64(stats.Phrases),
	})
}

// Significant returns the model's highest-scoring phrases.
func (h *Handler) Significant(w http.ResponseWriter, r *http.Request) {
	h.servePhrases(w, r, "significant", func(eng *engine.Engine, limit int) any {
		phrases := eng.MostSignificant(limit)
		out := make([]proto.PhraseScore, len(phrases))
		for i, p := range phrases {
			out[i] = proto.PhraseScore{Phrase: p.Phrase, Score: p.Score}
		}
		return proto.SignificantResponse{Model: eng.Name(), Phrases: out}
	})
}

// Common returns the model's most frequent phrases.
func (h *Handler) Common(w http.ResponseWriter, r *http.Request) {
	h.servePhrases(w, r, "common", func(eng *engine.Engine, limit int) any {
		phrases := eng.MostCommon(limit)
		out := make([]proto.PhraseCount, len(phrases))
		for i, p := range phrases {
			out[i] = proto.PhraseCount{Phrase: p.Phrase, Count: p.Count}
		}
		return proto.CommonResponse{Model: eng.Name(), Phrases: out}
	})
}

func (h *Handler) servePhrases(
	w http.ResponseWriter,
	r *http.Request,
	view string,
	list func(eng *engine.Engine, limit int) any,
) {
	ctx := r.Context()

	eng, err := h.engines.Get(r.URL.Query().Get("model"))
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), "unknown model")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), 50)

	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, list(eng, limit))
		return
	}

	data, hit, err := h.cache.GetOrCompute(ctx, eng.Name(), view, limit, func() (any, error) {
		return list(eng, limit), nil
	})
	if err != nil {
		h.logger.Error("phrase listing failed", "view", view, "error", err)
		h.writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if h.metrics != nil {
		if hit {
			h.metrics.CacheHitsTotal.Inc()
		} else {
			h.metrics.CacheMissesTotal.Inc()
		}
	}
	h.writeRaw(w, http.StatusOK, data)
}

// Models lists the hosted model names.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"models": h.engines.Names()})
}

// Stats reports store occupancy for one model, or all models when none is
// named.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")

	var engines []*engine.Engine
	if model == "" {
		for _, eng := range h.engines.All() {
			engines = append(engines, eng)
		}
	} else {
		eng, err := h.engines.Get(model)
		if err != nil {
			h.writeError(w, apperrors.HTTPStatusCode(err), "unknown model")
			return
		}
		engines = append(engines, eng)
	}

	resp := proto.StatsResponse{Models: make([]proto.ModelStats, 0, len(engines))}
	for _, eng := range engines {
		s := eng.Stats()
		resp.Models = append(resp.Models, proto.ModelStats{
			Model:           eng.Name(),
			Strategy:        s.Strategy,
			Phrases:         int64(s.Phrases),
			Completions:     s.Completions,
			NgramsIngested:  s.NgramsIngested,
			WindowOccupancy: int64(s.WindowOccupancy),
			BucketIndex:     s.BucketIndex,
			Generation:      eng.Generation(),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// CacheStats reports diagnostics cache hit and miss counts.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	hits, misses := h.cache.Stats()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"enabled": true,
		"hits":    hits,
		"misses":  misses,
	})
}

// CacheInvalidate drops every cached phrase listing.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	if err := h.cache.InvalidateAll(r.Context()); err != nil {
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"invalidated": true})
}

// Health reports the scorer is serving.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) countVerdict(model, kind string) {
	if h.metrics != nil {
		h.metrics.VerdictsTotal.WithLabelValues(model, kind).Inc()
	}
}

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > maxTopPhrases {
		return maxTopPhrases
	}
	return n
}

func hashPrompt(prompt string) string {
	if prompt == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:8])
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
