package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	BaseURL     string
	Model       string
	Concurrency int
	Duration    time.Duration
	BatchSize   int
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	flaggedCount  atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

var prompts = []string{
	"Summarize the quarterly revenue figures.",
	"Write a short story about a lighthouse keeper.",
	"Explain how a hash table works.",
	"Draft an email declining a meeting invitation.",
	"List three ways to reduce memory allocations.",
	"Describe the water cycle for a ten year old.",
	"Translate this sentence into plain language.",
	"What are the tradeoffs of eventual consistency?",
}

var completionStock = []string{
	"as an ai language model i cannot help with that request",
	"the quarterly revenue figures show steady growth across regions",
	"once upon a time a lighthouse keeper watched the restless sea",
	"a hash table maps keys to buckets using a hash function",
	"i would be happy to help you with anything else you need",
	"thank you for reaching out and i hope this message finds you well",
	"in conclusion the results demonstrate a clear upward trend",
	"memory allocations can be reduced by pooling and reuse",
	"the water cycle moves water between the sky and the ground",
	"eventual consistency trades freshness for availability",
	"it is important to note that this approach has limitations",
	"please let me know if you have any further questions",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the scorer service")
	model := flag.String("model", "default", "model to score against")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	batchSize := flag.Int("batch", 4, "completions per score request")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Model:       *model,
		Concurrency: *concurrency,
		Duration:    *duration,
		BatchSize:   *batchSize,
	}

	fmt.Println("=== Phrasewatch Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Model:       %s\n", cfg.Model)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Batch size:  %d completions/request\n", cfg.BatchSize)
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				body := scoreBody(cfg, rng)
				req, err := http.NewRequestWithContext(ctx, http.MethodPost,
					cfg.BaseURL+"/api/v1/score", bytes.NewReader(body))
				if err != nil {
					stats.RecordRequest(0, 0, err)
					continue
				}
				req.Header.Set("Content-Type", "application/json")

				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)

				if err != nil {
					stats.RecordRequest(elapsed, 0, err)
					continue
				}
				countFlagged(stats, resp.Body)
				resp.Body.Close()

				stats.RecordRequest(elapsed, resp.StatusCode, nil)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func scoreBody(cfg Config, rng *rand.Rand) []byte {
	completions := make([]string, cfg.BatchSize)
	for i := range completions {
		completions[i] = completionStock[rng.Intn(len(completionStock))]
	}
	body, _ := json.Marshal(map[string]any{
		"model":       cfg.Model,
		"prompt":      prompts[rng.Intn(len(prompts))],
		"completions": completions,
	})
	return body
}

func countFlagged(stats *Stats, body io.Reader) {
	var resp struct {
		Details []struct {
			MatchedPhrase string `json:"matched_phrase"`
		} `json:"details"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		io.Copy(io.Discard, body)
		return
	}
	for _, d := range resp.Details {
		if d.MatchedPhrase != "" {
			stats.flaggedCount.Add(1)
		}
	}
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)
	fmt.Printf("Flagged:         %d completions\n", stats.flaggedCount.Load())

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Average:  %s\n", avg.Round(time.Microsecond))
		fmt.Printf("Min:      %s\n", latencies[0].Round(time.Microsecond))
		fmt.Printf("Max:      %s\n", latencies[len(latencies)-1].Round(time.Microsecond))
		fmt.Printf("P50:      %s\n", percentile(latencies, 50).Round(time.Microsecond))
		fmt.Printf("P95:      %s\n", percentile(latencies, 95).Round(time.Microsecond))
		fmt.Printf("P99:      %s\n", percentile(latencies, 99).Round(time.Microsecond))
	}

	stats.statusCodesMu.Lock()
	defer stats.statusCodesMu.Unlock()
	if len(stats.statusCodes) > 0 {
		fmt.Println()
		fmt.Println("=== Status Codes ===")
		codes := make([]int, 0, len(stats.statusCodes))
		for code := range stats.statusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Printf("%d: %d\n", code, stats.statusCodes[code].Load())
		}
	}

	if errors > 0 && total > 0 && float64(errors)/float64(total) > 0.05 {
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
