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

	"github.com/phrasewatch/phrasewatch/internal/analytics"
	"github.com/phrasewatch/phrasewatch/internal/analytics/aggregator"
	"github.com/phrasewatch/phrasewatch/pkg/config"
	"github.com/phrasewatch/phrasewatch/pkg/health"
	"github.com/phrasewatch/phrasewatch/pkg/kafka"
	"github.com/phrasewatch/phrasewatch/pkg/logger"
	"github.com/phrasewatch/phrasewatch/pkg/middleware"
	"github.com/phrasewatch/phrasewatch/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Analytics.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The consumer's handler closes over agg, which needs the consumer in
	// turn, so the handler resolves agg at call time.
	var agg *analytics.Aggregator
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ScoreEvents,
		func(ctx context.Context, msg kafka.Message) error {
			return analytics.HandleEvent(agg)(ctx, msg)
		})
	defer consumer.Close()
	agg = analytics.NewAggregator(consumer, cfg.Analytics.TopPhrases)

	go func() {
		if err := agg.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("aggregator error", "error", err)
		}
	}()
	slog.Info("aggregator consuming", "topic", cfg.Kafka.Topics.ScoreEvents)

	var snapshots analytics.SnapshotLister
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, snapshots disabled", "error", err)
		db = nil
	} else {
		defer db.Close()
		store := aggregator.NewStore(db)
		snapshots = store
		go store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
		slog.Info("snapshot store enabled", "interval", cfg.Analytics.SnapshotInterval)
	}

	h := analytics.NewHandler(agg, snapshots)

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if db == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := db.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", h.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID()(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
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
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
