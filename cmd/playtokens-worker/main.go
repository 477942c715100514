package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"playtokens/internal/config"
	"playtokens/internal/db"
	"playtokens/internal/market"
	"playtokens/internal/notify"

	"github.com/robfig/cron/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg := config.LoadWorkerFromEnv()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, sweeping a private in-memory store")
	}
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

	var notifier notify.Notifier = notify.Nop{Log: logger}
	if cfg.DiscordWebhookURL != "" {
		d, err := notify.NewDiscord(cfg.DiscordWebhookURL, logger)
		if err != nil {
			logger.Error("discord notifier init failed", "err", err)
			os.Exit(1)
		}
		notifier = d
	}

	if cfg.RunOnce {
		if err := sweep(ctx, svc, notifier, logger); err != nil {
			logger.Error("sweep failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.SweepSchedule, func() {
		if err := sweep(ctx, svc, notifier, logger); err != nil {
			logger.Error("sweep failed", "err", err)
		}
	}); err != nil {
		logger.Error("invalid sweep schedule", "schedule", cfg.SweepSchedule, "err", err)
		os.Exit(1)
	}
	c.Start()
	logger.Info("worker started", "schedule", cfg.SweepSchedule)

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("worker shutdown")
}

func sweep(ctx context.Context, svc *market.Service, notifier notify.Notifier, logger *slog.Logger) error {
	report, err := svc.Sweep(ctx)
	if err != nil {
		return err
	}
	logger.Info("sweep complete",
		"users", report.Users,
		"snapshots", report.Snapshots,
		"matured_stakes", report.MaturedStakes,
		"unlocks", len(report.Unlocks),
	)
	if err := notifier.Unlocks(ctx, report.Unlocks); err != nil {
		logger.Error("unlock notification failed", "err", err)
	}
	return nil
}
