// Package proto defines the shared message types used for internal RPC
// communication between the scorer service and its admin tooling.
//
// The types are hand-written with JSON struct tags for serialization over the
// platform's lightweight JSON-over-TCP RPC layer (see pkg/rpc); method names
// follow the "Scorer.Method" convention.
package proto

// ---------- Common ----------

// HealthCheckResponse mirrors the gRPC health check spec.
type HealthCheckResponse struct {
	Status string `json:"status"` // SERVING, NOT_SERVING, UNKNOWN
}

// PhraseScore is a phrase with its significance score.
type PhraseScore struct {
	Phrase string  `json:"phrase"`
	Score  float64 `json:"score"`
}

// PhraseCount is a phrase with its observed frequency.
type PhraseCount struct {
	Phrase string `json:"phrase"`
	Count  int64  `json:"count"`
}

// ---------- Scoring ----------

// ScoreRequest is the input to the Scorer.Score RPC.
type ScoreRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Completions []string `json:"completions"`
}

// VerdictDetail explains one completion's reward.
type VerdictDetail struct {
	Reward        float64 `json:"reward"`
	MatchedPhrase string  `json:"matched_phrase,omitempty"`
	Significance  float64 `json:"significance,omitempty"`
	PromptEcho    bool    `json:"prompt_echo,omitempty"`
}

// ScoreResponse is the output of the Scorer.Score RPC.
type ScoreResponse struct {
	Model     string          `json:"model"`
	Rewards   []float64       `json:"rewards"`
	Details   []VerdictDetail `json:"details"`
	LatencyMs int64           `json:"latency_ms"`
}

// ---------- Ingest ----------

// AbsorbRequest is the input to the Scorer.Absorb RPC.
type AbsorbRequest struct {
	Model       string   `json:"model"`
	Completions []string `json:"completions"`
}

// AbsorbResponse reports how much the store grew.
type AbsorbResponse struct {
	Model       string `json:"model"`
	Completions int64  `json:"completions"`
	Ngrams      int64  `json:"ngrams"`
	Phrases     int64  `json:"phrases"`
}

// ---------- Diagnostics ----------

// PhrasesRequest asks for the top phrases of one model.
type PhrasesRequest struct {
	Model string `json:"model"`
	Limit int32  `json:"limit"`
}

// SignificantResponse lists the most significant phrases.
type SignificantResponse struct {
	Model   string        `json:"model"`
	Phrases []PhraseScore `json:"phrases"`
}

// CommonResponse lists the most frequent phrases.
type CommonResponse struct {
	Model   string        `json:"model"`
	Phrases []PhraseCount `json:"phrases"`
}

// StatsRequest optionally filters by model ("" = all).
type StatsRequest struct {
	Model string `json:"model"`
}

// ModelStats holds per-engine statistics.
type ModelStats struct {
	Model           string `json:"model"`
	Strategy        string `json:"strategy"`
	Phrases         int64  `json:"phrases"`
	Completions     int64  `json:"completions"`
	NgramsIngested  int64  `json:"ngrams_ingested"`
	WindowOccupancy int64  `json:"window_occupancy,omitempty"`
	BucketIndex     int64  `json:"bucket_index,omitempty"`
	Generation      uint64 `json:"generation"`
}

// StatsResponse contains engine-level statistics.
type StatsResponse struct {
	Models []ModelStats `json:"models"`
}

// ResetRequest clears one model's store.
type ResetRequest struct {
	Model string `json:"model"`
}

// ResetResponse confirms the reset.
type ResetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
