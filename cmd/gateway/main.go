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

	"github.com/phrasewatch/phrasewatch/internal/auth/apikey"
	"github.com/phrasewatch/phrasewatch/internal/auth/ratelimit"
	gwhandler "github.com/phrasewatch/phrasewatch/internal/gateway/handler"
	"github.com/phrasewatch/phrasewatch/internal/gateway/router"
	"github.com/phrasewatch/phrasewatch/pkg/config"
	"github.com/phrasewatch/phrasewatch/pkg/logger"
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
	slog.Info("starting api gateway",
		"port", cfg.Gateway.Port,
		"scorer_url", cfg.Gateway.ScorerURL,
		"intake_url", cfg.Gateway.IntakeURL)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	validator := apikey.NewValidator(db)
	limiter := ratelimit.New(time.Minute)
	defer limiter.Close()

	h := gwhandler.New(cfg.Gateway, db, validator)
	chain := router.New(h, validator, limiter)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("api gateway listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("api gateway stopped")
}
