// Package e2e contains end-to-end tests that exercise the full platform
// stack: gateway → intake → scorer → analytics, with real Kafka, PostgreSQL,
// and Redis.
//
// Prerequisites:
//   - PostgreSQL running with schema applied
//   - Kafka running
//   - Redis running
//   - scorer, intake, analytics, gateway services started
//
// Run with:
//
//	go test -v -timeout=120s ./test/e2e/...
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

type e2eConfig struct {
	ScorerURL    string
	IntakeURL    string
	AnalyticsURL string
	GatewayURL   string
}

func loadE2EConfig() e2eConfig {
	return e2eConfig{
		ScorerURL:    envOrDefault("E2E_SCORER_URL", "http://localhost:8080"),
		IntakeURL:    envOrDefault("E2E_INTAKE_URL", "http://localhost:8081"),
		GatewayURL:   envOrDefault("E2E_GATEWAY_URL", "http://localhost:8082"),
		AnalyticsURL: envOrDefault("E2E_ANALYTICS_URL", "http://localhost:8083"),
	}
}

// TestPlatformHealth verifies every service answers its health check.
func TestPlatformHealth(t *testing.T) {
	cfg := loadE2EConfig()

	services := []struct {
		name string
		url  string
	}{
		{"scorer /health/live", cfg.ScorerURL + "/health/live"},
		{"scorer /health/ready", cfg.ScorerURL + "/health/ready"},
		{"intake /health", cfg.IntakeURL + "/health"},
		{"analytics /health/live", cfg.AnalyticsURL + "/health/live"},
		{"gateway /health", cfg.GatewayURL + "/health"},
	}

	client := &http.Client{Timeout: 5 * time.Second}

	for _, svc := range services {
		t.Run(svc.name, func(t *testing.T) {
			resp, err := client.Get(svc.url)
			if err != nil {
				t.Skipf("service unavailable: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected 200, got %d", resp.StatusCode)
			}
		})
	}
}

// TestScoringLifecycle absorbs a repeated completion until its phrases cross
// the significance boundary, then verifies the verdict flips.
func TestScoringLifecycle(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 10 * time.Second}

	if _, err := client.Get(cfg.ScorerURL + "/health"); err != nil {
		t.Skipf("scorer unavailable: %v", err)
	}

	// A nonce keeps this run's phrases distinct from previous runs against
	// the same store.
	nonce := fmt.Sprintf("run%d", time.Now().UnixNano())
	completion := fmt.Sprintf(
		"the %s committee reviewed the %s proposal and approved the %s budget for the year",
		nonce, nonce, nonce)
	prompt := "Summarize the committee meeting."

	// Fresh phrase: no verdict expected yet.
	first := scoreOne(t, client, cfg.ScorerURL, prompt, completion)
	if first != 0 {
		t.Fatalf("fresh completion scored %v, want 0", first)
	}

	// Absorb the same text until the window store's significance crosses the
	// default boundary of 1000 (1.3 * (count-1) > 1000 needs count > 770).
	batch := make([]string, 100)
	for i := range batch {
		batch[i] = completion
	}
	for i := 0; i < 9; i++ {
		absorbBatch(t, client, cfg.ScorerURL, batch)
	}

	deadline := time.Now().Add(15 * time.Second)
	for {
		if scoreOne(t, client, cfg.ScorerURL, prompt, completion) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("overused completion never flagged")
		}
		time.Sleep(500 * time.Millisecond)
	}

	// The overused phrases should now surface in the diagnostics listing.
	resp, err := client.Get(cfg.ScorerURL + "/api/v1/phrases/significant?model=default&limit=50")
	if err != nil {
		t.Fatalf("phrases request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), nonce) {
		t.Errorf("significant phrases listing does not mention %s", nonce)
	}
}

// TestBatchAbsorption submits a batch through intake and waits for the
// scorer to mark it absorbed.
func TestBatchAbsorption(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 10 * time.Second}

	if _, err := client.Get(cfg.IntakeURL + "/health"); err != nil {
		t.Skipf("intake unavailable: %v", err)
	}

	payload, _ := json.Marshal(map[string]any{
		"producer_id": "e2e-test",
		"model":       "default",
		"completions": []string{
			fmt.Sprintf("batch absorption check at %d with enough words to form phrases", time.Now().UnixNano()),
		},
	})
	resp, err := client.Post(cfg.IntakeURL+"/api/v1/batches", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("batch submit failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, body)
	}

	var submitted struct {
		BatchID string `json:"batch_id"`
		Status  string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		t.Fatalf("decoding submit response: %v", err)
	}
	if submitted.BatchID == "" {
		t.Fatal("submit response missing batch_id")
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		statusResp, err := client.Get(cfg.IntakeURL + "/api/v1/batches/" + submitted.BatchID)
		if err != nil {
			t.Fatalf("batch status failed: %v", err)
		}
		var record struct {
			Status string `json:"status"`
		}
		json.NewDecoder(statusResp.Body).Decode(&record)
		statusResp.Body.Close()

		if record.Status == "ABSORBED" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch %s still %s after 30s", submitted.BatchID, record.Status)
		}
		time.Sleep(time.Second)
	}
}

// TestAnalyticsCountsEvents scores through the scorer and checks the
// analytics aggregate moves.
func TestAnalyticsCountsEvents(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 10 * time.Second}

	if _, err := client.Get(cfg.AnalyticsURL + "/health/live"); err != nil {
		t.Skipf("analytics unavailable: %v", err)
	}

	before := analyticsEvents(t, client, cfg.AnalyticsURL)
	scoreOne(t, client, cfg.ScorerURL, "prompt", "a completion with enough words for the extractor to chew on")

	deadline := time.Now().Add(20 * time.Second)
	for {
		if analyticsEvents(t, client, cfg.AnalyticsURL) > before {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("analytics event count never advanced")
		}
		time.Sleep(time.Second)
	}
}

func scoreOne(t *testing.T, client *http.Client, scorerURL, prompt, completion string) float64 {
	t.Helper()
	payload, _ := json.Marshal(map[string]any{
		"model":       "default",
		"prompt":      prompt,
		"completions": []string{completion},
	})
	resp, err := client.Post(scorerURL+"/api/v1/score", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("score request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("score returned %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Rewards []float64 `json:"rewards"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding score response: %v", err)
	}
	if len(out.Rewards) != 1 {
		t.Fatalf("expected 1 reward, got %d", len(out.Rewards))
	}
	return out.Rewards[0]
}

func absorbBatch(t *testing.T, client *http.Client, scorerURL string, completions []string) {
	t.Helper()
	payload, _ := json.Marshal(map[string]any{
		"model":       "default",
		"completions": completions,
	})
	resp, err := client.Post(scorerURL+"/api/v1/absorb", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("absorb request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("absorb returned %d: %s", resp.StatusCode, body)
	}
}

func analyticsEvents(t *testing.T, client *http.Client, analyticsURL string) int64 {
	t.Helper()
	resp, err := client.Get(analyticsURL + "/api/v1/analytics")
	if err != nil {
		t.Fatalf("analytics request failed: %v", err)
	}
	defer resp.Body.Close()
	var stats struct {
		TotalEvents int64 `json:"total_events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding analytics response: %v", err)
	}
	return stats.TotalEvents
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
