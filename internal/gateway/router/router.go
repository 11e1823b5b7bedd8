// Package router wires the gateway routes and applies the middleware chain
// (RequestID → CORS → Auth → RateLimit).
package router

import (
	"net/http"

	"github.com/phrasewatch/phrasewatch/internal/auth/apikey"
	"github.com/phrasewatch/phrasewatch/internal/auth/ratelimit"
	gwhandler "github.com/phrasewatch/phrasewatch/internal/gateway/handler"
	gwmw "github.com/phrasewatch/phrasewatch/internal/gateway/middleware"
	pkgmw "github.com/phrasewatch/phrasewatch/pkg/middleware"
)

// New builds the gateway HTTP handler.
//
// Route table:
//
//	POST   /api/v1/score                → scorer service  (proxy)
//	GET    /api/v1/phrases/significant  → scorer service  (proxy)
//	GET    /api/v1/phrases/common       → scorer service  (proxy)
//	GET    /api/v1/models               → scorer service  (proxy)
//	GET    /api/v1/stats                → scorer service  (proxy)
//	GET    /api/v1/cache/stats          → scorer service  (proxy)
//	POST   /api/v1/cache/invalidate     → scorer service  (proxy, admin)
//	POST   /api/v1/batches              → intake service  (proxy, intake)
//	GET    /api/v1/batches              → list batches    (direct DB)
//	GET    /api/v1/batches/{id}         → get batch       (direct DB)
//	GET    /api/v1/events               → list events     (direct DB)
//	GET    /api/v1/events/{id}          → get event       (direct DB)
//	POST   /api/v1/admin/keys           → create API key  (direct DB, admin)
//	DELETE /api/v1/admin/keys           → revoke API key  (direct DB, admin)
//	GET    /api/v1/admin/keys           → list API keys   (direct DB, admin)
//	GET    /health                      → gateway health  (unauthenticated)
func New(h *gwhandler.Handler, validator *apikey.Validator, limiter *ratelimit.Limiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	// Scoring plane
	mux.HandleFunc("POST /api/v1/score", h.ProxyScore)
	mux.HandleFunc("GET /api/v1/phrases/significant", h.ProxyPhrases)
	mux.HandleFunc("GET /api/v1/phrases/common", h.ProxyPhrases)
	mux.HandleFunc("GET /api/v1/models", h.ProxyModels)
	mux.HandleFunc("GET /api/v1/stats", h.ProxyStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.ProxyCacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.ProxyCacheInvalidate)

	// Ingest plane
	mux.HandleFunc("POST /api/v1/batches", h.ProxySubmitBatch)
	mux.HandleFunc("GET /api/v1/batches", h.ListBatches)
	mux.HandleFunc("GET /api/v1/batches/{id}", h.GetBatch)

	// Archive reads
	mux.HandleFunc("GET /api/v1/events", h.ListEvents)
	mux.HandleFunc("GET /api/v1/events/{id}", h.GetEvent)

	// Admin
	mux.HandleFunc("POST /api/v1/admin/keys", h.CreateAPIKey)
	mux.HandleFunc("DELETE /api/v1/admin/keys", h.RevokeAPIKey)
	mux.HandleFunc("GET /api/v1/admin/keys", h.ListAPIKeys)

	// Applied inside-out: request → RequestID → CORS → Auth → RateLimit → mux
	var chain http.Handler = mux
	chain = gwmw.RateLimit(limiter)(chain)
	chain = gwmw.Auth(validator)(chain)
	chain = gwmw.CORS(gwmw.DefaultCORSConfig())(chain)
	chain = pkgmw.RequestID()(chain)

	return chain
}
