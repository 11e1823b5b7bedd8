package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phrasewatch/phrasewatch/internal/scorer/engine"
	"github.com/phrasewatch/phrasewatch/internal/scorer/registry"
	"github.com/phrasewatch/phrasewatch/pkg/proto"
	"github.com/phrasewatch/phrasewatch/pkg/rpc"
)

// RPCService exposes the engine registry over the JSON-over-TCP RPC layer
// for scorerctl and other internal tooling. Methods follow the
// "Scorer.Method" convention.
type RPCService struct {
	engines *registry.Registry
}

func NewRPCService(engines *registry.Registry) *RPCService {
	return &RPCService{engines: engines}
}

// RegisterAll registers every Scorer method on the server.
func (s *RPCService) RegisterAll(server *rpc.Server) {
	server.Register("Scorer.Score", s.Score)
	server.Register("Scorer.Absorb", s.Absorb)
	server.Register("Scorer.Stats", s.Stats)
	server.Register("Scorer.MostSignificant", s.MostSignificant)
	server.Register("Scorer.MostCommon", s.MostCommon)
	server.Register("Scorer.Reset", s.Reset)
}

func (s *RPCService) Score(ctx context.Context, raw json.RawMessage) (any, error) {
	var req proto.ScoreRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decoding score request: %w", err)
	}
	if len(req.Completions) == 0 {
		return nil, fmt.Errorf("completions must not be empty")
	}

	eng, err := s.engines.Get(req.Model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	details, err := eng.Rewards(ctx, req.Prompt, req.Completions)
	if err != nil {
		return nil, err
	}

	resp := proto.ScoreResponse{
		Model:     eng.Name(),
		Rewards:   make([]float64, len(details)),
		Details:   make([]proto.VerdictDetail, len(details)),
		LatencyMs: time.Since(start).Milliseconds(),
	}
	for i, d := range details {
		resp.Rewards[i] = d.Reward
		resp.Details[i] = proto.VerdictDetail{
			Reward:        d.Reward,
			MatchedPhrase: d.MatchedPhrase,
			Significance:  d.Significance,
			PromptEcho:    d.PromptEcho,
		}
	}
	return resp, nil
}

func (s *RPCService) Absorb(ctx context.Context, raw json.RawMessage) (any, error) {
	var req proto.AbsorbRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decoding absorb request: %w", err)
	}
	eng, err := s.engines.Get(req.Model)
	if err != nil {
		return nil, err
	}
	ngrams := eng.Absorb(req.Completions)
	stats := eng.Stats()
	return proto.AbsorbResponse{
		Model:       eng.Name(),
		Completions: int64(len(req.Completions)),
		Ngrams:      int64(ngrams),
		Phrases:     int64(stats.Phrases),
	}, nil
}

func (s *RPCService) Stats(ctx context.Context, raw json.RawMessage) (any, error) {
	var req proto.StatsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decoding stats request: %w", err)
	}

	names := s.engines.Names()
	if req.Model != "" {
		names = []string{req.Model}
	}

	resp := proto.StatsResponse{Models: make([]proto.ModelStats, 0, len(names))}
	for _, name := range names {
		eng, err := s.engines.Get(name)
		if err != nil {
			return nil, err
		}
		st := eng.Stats()
		resp.Models = append(resp.Models, proto.ModelStats{
			Model:           eng.Name(),
			Strategy:        st.Strategy,
			Phrases:         int64(st.Phrases),
			Completions:     st.Completions,
			NgramsIngested:  st.NgramsIngested,
			WindowOccupancy: int64(st.WindowOccupancy),
			BucketIndex:     st.BucketIndex,
			Generation:      eng.Generation(),
		})
	}
	return resp, nil
}

func (s *RPCService) MostSignificant(ctx context.Context, raw json.RawMessage) (any, error) {
	eng, limit, err := s.phrasesArgs(raw)
	if err != nil {
		return nil, err
	}
	phrases := eng.MostSignificant(limit)
	out := make([]proto.PhraseScore, len(phrases))
	for i, p := range phrases {
		out[i] = proto.PhraseScore{Phrase: p.Phrase, Score: p.Score}
	}
	return proto.SignificantResponse{Model: eng.Name(), Phrases: out}, nil
}

func (s *RPCService) MostCommon(ctx context.Context, raw json.RawMessage) (any, error) {
	eng, limit, err := s.phrasesArgs(raw)
	if err != nil {
		return nil, err
	}
	phrases := eng.MostCommon(limit)
	out := make([]proto.PhraseCount, len(phrases))
	for i, p := range phrases {
		out[i] = proto.PhraseCount{Phrase: p.Phrase, Count: p.Count}
	}
	return proto.CommonResponse{Model: eng.Name(), Phrases: out}, nil
}

func (s *RPCService) Reset(ctx context.Context, raw json.RawMessage) (any, error) {
	var req proto.ResetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decoding reset request: %w", err)
	}
	eng, err := s.engines.Get(req.Model)
	if err != nil {
		return nil, err
	}
	eng.Reset()
	return proto.ResetResponse{
		Success: true,
		Message: fmt.Sprintf("model %s store cleared", eng.Name()),
	}, nil
}

func (s *RPCService) phrasesArgs(raw json.RawMessage) (*engine.Engine, int, error) {
	var req proto.PhrasesRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, 0, fmt.Errorf("decoding phrases request: %w", err)
	}
	eng, err := s.engines.Get(req.Model)
	if err != nil {
		return nil, 0, err
	}
	limit := int(req.Limit)
	if limit < 1 {
		limit = 50
	}
	if limit > maxTopPhrases {
		limit = maxTopPhrases
	}
	return eng, limit, nil
}
