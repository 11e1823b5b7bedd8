// Package handler implements the gateway's HTTP endpoints. Scoring and
// phrase diagnostics proxy to the scorer, batch submission proxies to
// intake, and scored-event records, batch rows, and API-key admin are served
// straight from PostgreSQL.
package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/phrasewatch/phrasewatch/internal/auth/apikey"
	"github.com/phrasewatch/phrasewatch/pkg/config"
	"github.com/phrasewatch/phrasewatch/pkg/postgres"
)

// Handler routes gateway requests to upstreams or PostgreSQL.
type Handler struct {
	scorerProxy *httputil.ReverseProxy
	intakeProxy *httputil.ReverseProxy
	db          *postgres.Client
	keys        *apikey.Validator
	logger      *slog.Logger
}

func New(cfg config.GatewayConfig, db *postgres.Client, keys *apikey.Validator) *Handler {
	return &Handler{
		scorerProxy: newProxy(cfg.ScorerURL),
		intakeProxy: newProxy(cfg.IntakeURL),
		db:          db,
		keys:        keys,
		logger:      slog.Default().With("component", "gateway-handler"),
	}
}

func newProxy(target string) *httputil.ReverseProxy {
	u, _ := url.Parse(target)
	return httputil.NewSingleHostReverseProxy(u)
}

// ---------- Proxy handlers ----------

// ProxyScore forwards score requests to the scorer service.
func (h *Handler) ProxyScore(w http.ResponseWriter, r *http.Request) {
	h.scorerProxy.ServeHTTP(w, r)
}

// ProxyPhrases forwards phrase diagnostics to the scorer service.
func (h *Handler) ProxyPhrases(w http.ResponseWriter, r *http.Request) {
	h.scorerProxy.ServeHTTP(w, r)
}

// ProxyModels forwards the model listing to the scorer service.
func (h *Handler) ProxyModels(w http.ResponseWriter, r *http.Request) {
	h.scorerProxy.ServeHTTP(w, r)
}

// ProxyStats forwards engine stats requests to the scorer service.
func (h *Handler) ProxyStats(w http.ResponseWriter, r *http.Request) {
	h.scorerProxy.ServeHTTP(w, r)
}

// ProxyCacheStats forwards cache stats requests to the scorer service.
func (h *Handler) ProxyCacheStats(w http.ResponseWriter, r *http.Request) {
	h.scorerProxy.ServeHTTP(w, r)
}

// ProxyCacheInvalidate forwards cache invalidation to the scorer service.
func (h *Handler) ProxyCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	h.scorerProxy.ServeHTTP(w, r)
}

// ProxySubmitBatch forwards batch submissions to the intake service.
func (h *Handler) ProxySubmitBatch(w http.ResponseWriter, r *http.Request) {
	h.intakeProxy.ServeHTTP(w, r)
}

// ---------- Direct data handlers ----------

// GetBatch reads one batch row from PostgreSQL by id.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "batch id is required")
		return
	}

	var batch struct {
		ID          string     `json:"id"`
		ProducerID  string     `json:"producer_id"`
		Model       string     `json:"model"`
		Completions int        `json:"completions"`
		Status      string     `json:"status"`
		CreatedAt   time.Time  `json:"created_at"`
		AbsorbedAt  *time.Time `json:"absorbed_at,omitempty"`
	}

	err := h.db.DB.QueryRowContext(r.Context(),
		`SELECT id, producer_id, model, completion_count, status, created_at, absorbed_at
		 FROM batches WHERE id = $1`, id,
	).Scan(&batch.ID, &batch.ProducerID, &batch.Model, &batch.Completions,
		&batch.Status, &batch.CreatedAt, &batch.AbsorbedAt)
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to fetch batch", "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to fetch batch")
		return
	}

	h.writeJSON(w, http.StatusOK, batch)
}

// ListBatches returns a page of batch rows, newest first.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 20, 100)

	rows, err := h.db.DB.QueryContext(r.Context(),
		`SELECT id, producer_id, model, completion_count, status, created_at
		 FROM batches ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		h.logger.Error("failed to list batches", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	defer rows.Close()

	type batchSummary struct {
		ID          string    `json:"id"`
		ProducerID  string    `json:"producer_id"`
		Model       string    `json:"model"`
		Completions int       `json:"completions"`
		Status      string    `json:"status"`
		CreatedAt   time.Time `json:"created_at"`
	}

	batches := make([]batchSummary, 0)
	for rows.Next() {
		var b batchSummary
		if err := rows.Scan(&b.ID, &b.ProducerID, &b.Model, &b.Completions,
			&b.Status, &b.CreatedAt); err != nil {
			h.logger.Error("failed to scan batch row", "error", err)
			continue
		}
		batches = append(batches, b)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"batches": batches,
		"count":   len(batches),
		"limit":   limit,
		"offset":  offset,
	})
}

// GetEvent reads one archived score event from PostgreSQL by id.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "event id is required")
		return
	}

	var ev struct {
		ID          string          `json:"id"`
		Model       string          `json:"model"`
		Strategy    string          `json:"strategy"`
		PromptHash  string          `json:"prompt_hash"`
		Completions int             `json:"completions"`
		Rewards     json.RawMessage `json:"rewards"`
		Flagged     int             `json:"flagged"`
		Matches     json.RawMessage `json:"matches,omitempty"`
		LatencyMs   int64           `json:"latency_ms"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	err := h.db.DB.QueryRowContext(r.Context(),
		`SELECT id, model, strategy, prompt_hash, completion_count, rewards,
		        flagged_count, matches, latency_ms, created_at
		 FROM score_events WHERE id = $1`, id,
	).Scan(&ev.ID, &ev.Model, &ev.Strategy, &ev.PromptHash, &ev.Completions,
		&ev.Rewards, &ev.Flagged, &ev.Matches, &ev.LatencyMs, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to fetch event", "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to fetch event")
		return
	}

	h.writeJSON(w, http.StatusOK, ev)
}

// ListEvents returns a page of archived score events, newest first, with an
// optional model filter.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 20, 100)
	model := r.URL.Query().Get("model")

	query := `SELECT id, model, strategy, completion_count, flagged_count, latency_ms, created_at
	          FROM score_events`
	args := []any{}
	if model != "" {
		query += ` WHERE model = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, model, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := h.db.DB.QueryContext(r.Context(), query, args...)
	if err != nil {
		h.logger.Error("failed to list events", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	defer rows.Close()

	type eventSummary struct {
		ID          string    `json:"id"`
		Model       string    `json:"model"`
		Strategy    string    `json:"strategy"`
		Completions int       `json:"completions"`
		Flagged     int       `json:"flagged"`
		LatencyMs   int64     `json:"latency_ms"`
		CreatedAt   time.Time `json:"created_at"`
	}

	events := make([]eventSummary, 0)
	for rows.Next() {
		var e eventSummary
		if err := rows.Scan(&e.ID, &e.Model, &e.Strategy, &e.Completions,
			&e.Flagged, &e.LatencyMs, &e.CreatedAt); err != nil {
			h.logger.Error("failed to scan event row", "error", err)
			continue
		}
		events = append(events, e)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
		"limit":  limit,
		"offset": offset,
	})
}

// ---------- Admin handlers ----------

// CreateAPIKey mints a new key and returns the raw value once.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		Scope     string `json:"scope"`
		RateLimit int    `json:"rate_limit"`
		ExpiresIn string `json:"expires_in,omitempty"` // Go duration, e.g. "720h"
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Scope == "" {
		req.Scope = apikey.ScopeScore
	}
	if req.RateLimit <= 0 {
		req.RateLimit = 120
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid expires_in duration")
			return
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	key, err := h.keys.CreateKey(r.Context(), req.Name, req.Scope, req.RateLimit, expiresAt)
	if err != nil {
		h.logger.Error("failed to create api key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{
		"api_key": key,
		"name":    req.Name,
		"scope":   req.Scope,
		"message": "store this key securely, it cannot be retrieved again",
	})
}

// RevokeAPIKey deactivates the key named in the request body.
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		h.writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	if err := h.keys.RevokeKey(r.Context(), req.Key); err != nil {
		if errors.Is(err, apikey.ErrInvalidKey) {
			h.writeError(w, http.StatusNotFound, "key not found")
			return
		}
		h.logger.Error("failed to revoke api key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to revoke api key")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// ListAPIKeys returns the active keys without hashes.
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListKeys(r.Context())
	if err != nil {
		h.logger.Error("failed to list api keys", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"keys":  keys,
		"count": len(keys),
	})
}

// ---------- Health ----------

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "gateway"})
}

// ---------- Helpers ----------

func pageParams(r *http.Request, defLimit, maxLimit int) (limit, offset int) {
	limit = defLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= maxLimit {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
