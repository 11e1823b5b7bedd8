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

	"github.com/phrasewatch/phrasewatch/internal/intake/handler"
	"github.com/phrasewatch/phrasewatch/internal/intake/publisher"
	"github.com/phrasewatch/phrasewatch/internal/intake/validator"
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
	slog.Info("starting intake service", "port", cfg.Intake.Port)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CompletionBatches)
	defer producer.Close()
	slog.Info("batch publisher ready", "topic", cfg.Kafka.Topics.CompletionBatches)

	pub := publisher.New(db, producer)
	limits := validator.Limits{
		MaxCompletions:     cfg.Intake.MaxCompletions,
		MaxCompletionBytes: cfg.Intake.MaxCompletionBytes,
	}
	h := handler.New(pub, limits)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/batches", h.SubmitBatch)
	mux.HandleFunc("GET /api/v1/batches/{id}", h.GetBatch)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID()(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Intake.Port),
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

	slog.Info("intake service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("intake service stopped")
}
