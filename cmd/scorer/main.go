package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phrasewatch/phrasewatch/internal/analytics"
	"github.com/phrasewatch/phrasewatch/internal/archive"
	"github.com/phrasewatch/phrasewatch/internal/scorer/cache"
	"github.com/phrasewatch/phrasewatch/internal/scorer/consumer"
	"github.com/phrasewatch/phrasewatch/internal/scorer/handler"
	"github.com/phrasewatch/phrasewatch/internal/scorer/registry"
	"github.com/phrasewatch/phrasewatch/pkg/config"
	"github.com/phrasewatch/phrasewatch/pkg/health"
	"github.com/phrasewatch/phrasewatch/pkg/kafka"
	"github.com/phrasewatch/phrasewatch/pkg/logger"
	"github.com/phrasewatch/phrasewatch/pkg/metrics"
	"github.com/phrasewatch/phrasewatch/pkg/middleware"
	"github.com/phrasewatch/phrasewatch/pkg/postgres"
	pkgredis "github.com/phrasewatch/phrasewatch/pkg/redis"
	"github.com/phrasewatch/phrasewatch/pkg/resilience"
	"github.com/phrasewatch/phrasewatch/pkg/rpc"
)

const statsPollInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting scorer service",
		"port", cfg.Server.Port, "rpc_port", cfg.Scorer.RPCPort, "models", len(cfg.Scorer.Models))

	engines, err := registry.New(cfg.Scorer.Models)
	if err != nil {
		slog.Error("failed to build engine registry", "error", err)
		os.Exit(1)
	}
	slog.Info("engine registry ready", "models", engines.Names())

	m := metrics.New()
	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, batch status updates and archiving disabled", "error", err)
		db = nil
	} else {
		defer db.Close()
	}

	var diagCache *cache.DiagnosticsCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, diagnostics caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		diagCache = cache.New(redisClient, cfg.Redis)
		slog.Info("diagnostics cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scoreProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ScoreEvents)
	defer scoreProducer.Close()
	collector := analytics.NewCollector(scoreProducer, 10000)
	collector.Start(ctx)
	defer collector.Close()
	slog.Info("score event collector started", "topic", cfg.Kafka.Topics.ScoreEvents)

	var archiveWriter *archive.Writer
	if cfg.Archive.Enabled && db != nil {
		breaker := resilience.NewCircuitBreaker("archive", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			OnStateChange: func(name string, state resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
			},
		})
		archiveWriter = archive.NewWriter(db, cfg.Archive,
			archive.WithBreaker(breaker),
			archive.WithFlushHook(func(status string) {
				m.ArchiveFlushesTotal.WithLabelValues(status).Inc()
			}),
		)
		archiveWriter.Start(ctx)
		defer archiveWriter.Close()
		slog.Info("score event archive enabled",
			"batch_size", cfg.Archive.BatchSize, "flush_interval", cfg.Archive.FlushInterval)
	}

	batchConsumer := consumer.New(engines, db, diagCache, collector, m)
	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CompletionBatches, batchConsumer.HandleMessage)
	defer kafkaConsumer.Close()
	go func() {
		if err := kafkaConsumer.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("batch consumer error", "error", err)
		}
	}()
	slog.Info("batch consumer started", "topic", cfg.Kafka.Topics.CompletionBatches)

	rpcServer := rpc.NewServer()
	handler.NewRPCService(engines).RegisterAll(rpcServer)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Scorer.RPCPort)
		slog.Info("rpc server listening", "addr", addr, "methods", rpcServer.MethodCount())
		if err := rpcServer.Serve(addr); err != nil && ctx.Err() == nil {
			slog.Error("rpc server error", "error", err)
		}
	}()
	defer rpcServer.Stop()

	go pollStoreGauges(ctx, engines, m)

	checker := health.NewChecker()
	checker.Register("engines", func(ctx context.Context) health.ComponentHealth {
		if engines.Len() > 0 {
			return health.ComponentHealth{
				Status:  health.StatusUp,
				Message: fmt.Sprintf("%d models hosted", engines.Len()),
			}
		}
		return health.ComponentHealth{Status: health.StatusDown, Message: "no models"}
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if db == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := db.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	h := handler.New(engines, diagCache, collector, archiveWriter, m, cfg.Tracing)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/score", h.Score)
	mux.HandleFunc("POST /api/v1/absorb", h.Absorb)
	mux.HandleFunc("GET /api/v1/phrases/significant", h.Significant)
	mux.HandleFunc("GET /api/v1/phrases/common", h.Common)
	mux.HandleFunc("GET /api/v1/models", h.Models)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID()(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if metricsShutdown != nil {
			if err := metricsShutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("scorer service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("scorer service stopped")
}

// pollStoreGauges mirrors per-model store occupancy into Prometheus gauges.
func pollStoreGauges(ctx context.Context, engines *registry.Registry, m *metrics.Metrics) {
	ticker := time.NewTicker(statsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, eng := range engines.All() {
				s := eng.Stats()
				m.PhrasesTracked.WithLabelValues(name).Set(float64(s.Phrases))
				m.WindowEvictions.WithLabelValues(name).Set(float64(s.Evictions))
				m.PruneRuns.WithLabelValues(name).Set(float64(s.PruneRuns))
			}
		}
	}
}
