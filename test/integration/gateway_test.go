// Package integration contains tests that verify the interaction between
// multiple platform components. These tests use httptest servers with real
// handler wiring but stub out the scorer and intake upstreams; PostgreSQL
// must be reachable or the tests skip.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/phrasewatch/phrasewatch/internal/auth/apikey"
	"github.com/phrasewatch/phrasewatch/internal/auth/ratelimit"
	gwhandler "github.com/phrasewatch/phrasewatch/internal/gateway/handler"
	"github.com/phrasewatch/phrasewatch/internal/gateway/router"
	"github.com/phrasewatch/phrasewatch/pkg/config"
	"github.com/phrasewatch/phrasewatch/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "phrasewatch_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "phrasewatch"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// newGatewayServer builds a gateway whose scorer and intake upstreams are
// canned httptest backends.
func newGatewayServer(t *testing.T, db *postgres.Client) *httptest.Server {
	t.Helper()

	scorerBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model":   "default",
			"rewards": []float64{0},
			"details": []any{},
		})
	}))
	t.Cleanup(scorerBackend.Close)

	intakeBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"batch_id":    "deadbeef",
			"status":      "PENDING",
			"completions": 1,
		})
	}))
	t.Cleanup(intakeBackend.Close)

	validator := apikey.NewValidator(db)
	limiter := ratelimit.New(time.Minute)
	t.Cleanup(limiter.Close)

	h := gwhandler.New(config.GatewayConfig{
		ScorerURL: scorerBackend.URL,
		IntakeURL: intakeBackend.URL,
	}, db, validator)

	chain := router.New(h, validator, limiter)
	return httptest.NewServer(chain)
}

// TestHealthEndpoint verifies the gateway health check is reachable without
// a key.
func TestHealthEndpoint(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv := newGatewayServer(t, db)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
}

// TestUnauthenticatedRequestRejected verifies API endpoints reject requests
// without a key.
func TestUnauthenticatedRequestRejected(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv := newGatewayServer(t, db)
	defer srv.Close()

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/score"},
		{"GET", "/api/v1/phrases/significant?model=default"},
		{"GET", "/api/v1/batches"},
		{"GET", "/api/v1/events"},
	}

	for _, ep := range endpoints {
		req, _ := http.NewRequest(ep.method, srv.URL+ep.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: request failed: %v", ep.method, ep.path, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", ep.method, ep.path, resp.StatusCode)
		}
	}
}

// TestAPIKeyLifecycle creates a key, scores through the gateway with it,
// revokes it, and verifies the revoked key is rejected.
func TestAPIKeyLifecycle(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv := newGatewayServer(t, db)
	defer srv.Close()

	// The admin endpoints themselves require an admin key, so the first key
	// is created directly against the validator.
	validator := apikey.NewValidator(db)
	rawKey, err := validator.CreateKey(t.Context(), "integration-test", apikey.ScopeScore, 100, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}

	payload := []byte(`{"model":"default","prompt":"p","completions":["c"]}`)
	req, _ := http.NewRequest("POST", srv.URL+"/api/v1/score", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", rawKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("score request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	if err := validator.RevokeKey(t.Context(), rawKey); err != nil {
		t.Fatalf("revoking key: %v", err)
	}

	req2, _ := http.NewRequest("POST", srv.URL+"/api/v1/score", bytes.NewReader(payload))
	req2.Header.Set("X-API-Key", rawKey)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("score request after revoke failed: %v", err)
	}
	resp2.Body.Close()

	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after revoke, got %d", resp2.StatusCode)
	}
}

// TestScopeEnforcement verifies a score-scoped key cannot submit batches or
// reach admin endpoints.
func TestScopeEnforcement(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv := newGatewayServer(t, db)
	defer srv.Close()

	validator := apikey.NewValidator(db)
	scoreKey, err := validator.CreateKey(t.Context(), "scope-test-score", apikey.ScopeScore, 100, nil)
	if err != nil {
		t.Fatalf("creating score key: %v", err)
	}

	// Batch submission needs intake scope.
	req, _ := http.NewRequest("POST", srv.URL+"/api/v1/batches",
		bytes.NewReader([]byte(`{"producer_id":"t","model":"default","completions":["c"]}`)))
	req.Header.Set("X-API-Key", scoreKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("batch request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("batch submit with score key: expected 403, got %d", resp.StatusCode)
	}

	// Key listing needs admin scope.
	req2, _ := http.NewRequest("GET", srv.URL+"/api/v1/admin/keys", nil)
	req2.Header.Set("X-API-Key", scoreKey)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("admin request failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusForbidden {
		t.Errorf("admin listing with score key: expected 403, got %d", resp2.StatusCode)
	}

	// An intake key may both score and submit batches.
	intakeKey, err := validator.CreateKey(t.Context(), "scope-test-intake", apikey.ScopeIntake, 100, nil)
	if err != nil {
		t.Fatalf("creating intake key: %v", err)
	}
	req3, _ := http.NewRequest("POST", srv.URL+"/api/v1/batches",
		bytes.NewReader([]byte(`{"producer_id":"t","model":"default","completions":["c"]}`)))
	req3.Header.Set("X-API-Key", intakeKey)
	resp3, err := http.DefaultClient.Do(req3)
	if err != nil {
		t.Fatalf("batch request failed: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusAccepted {
		t.Errorf("batch submit with intake key: expected 202, got %d", resp3.StatusCode)
	}
}

// TestRateLimitEnforced verifies a key's budget caps its request rate.
func TestRateLimitEnforced(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv := newGatewayServer(t, db)
	defer srv.Close()

	validator := apikey.NewValidator(db)
	rawKey, err := validator.CreateKey(t.Context(), "ratelimit-test", apikey.ScopeScore, 3, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}

	payload := []byte(`{"model":"default","prompt":"p","completions":["c"]}`)
	var limited bool
	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest("POST", srv.URL+"/api/v1/score", bytes.NewReader(payload))
		req.Header.Set("X-API-Key", rawKey)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("expected a 429 after exceeding the key's budget")
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
