package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"playtokens/internal/api"
	"playtokens/internal/auth"
	"playtokens/internal/config"
	"playtokens/internal/db"
	"playtokens/internal/market"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	st, closeStore, err := db.OpenStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("open store failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	svc := market.NewService(st, logger)
	if cfg.SeedDefaults {
		if err := svc.SeedDefaults(ctx); err != nil {
			logger.Error("seed defaults failed", "err", err)
			os.Exit(1)
		}
	}

	accounts := auth.NewAccounts(st, logger, cfg.StartingBalance)
	sessions := auth.NewSessions(cfg.SessionTTL)
	server := api.New(cfg, logger, svc, accounts, sessions)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("playtokens api listening", "addr", cfg.Addr, "env", cfg.Env)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
