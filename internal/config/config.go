package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type APIConfig struct {
	Addr            string
	Env             string
	DatabaseURL     string
	SeedDefaults    bool
	StartingBalance decimal.Decimal
	SessionTTL      time.Duration
	CORSOrigins     []string
}

// Production reports whether the API runs in production mode: secure
// cookies, no stack traces in error bodies.
func (c APIConfig) Production() bool {
	return c.Env == "production"
}

type WorkerConfig struct {
	DatabaseURL       string
	SeedDefaults      bool
	SweepSchedule     string
	RunOnce           bool
	DiscordWebhookURL string
}

type CLIConfig struct {
	APIBaseURL string
	// HomeDir holds session.json and queue.json.
	HomeDir string
}

// LoadDotEnv reads .env from the working directory if present. Variables
// already set in the environment win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("PLAYTOKENS_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:         addr,
		Env:          strings.ToLower(envDefault("PLAYTOKENS_ENV", "development")),
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SeedDefaults: envBoolDefault("PLAYTOKENS_SEED_DEFAULTS", true),
		SessionTTL:   envDurationDefault("PLAYTOKENS_SESSION_TTL", 7*24*time.Hour),
		CORSOrigins:  envListDefault("PLAYTOKENS_CORS_ORIGINS", []string{"*"}),
	}
	balance, err := decimal.NewFromString(envDefault("PLAYTOKENS_STARTING_BALANCE", "10000"))
	if err != nil {
		return cfg, fmt.Errorf("PLAYTOKENS_STARTING_BALANCE: %w", err)
	}
	if balance.IsNegative() {
		return cfg, fmt.Errorf("PLAYTOKENS_STARTING_BALANCE must be >= 0")
	}
	cfg.StartingBalance = balance
	if cfg.SessionTTL <= 0 {
		return cfg, fmt.Errorf("PLAYTOKENS_SESSION_TTL must be > 0")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() WorkerConfig {
	return WorkerConfig{
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SeedDefaults:      envBoolDefault("PLAYTOKENS_SEED_DEFAULTS", true),
		SweepSchedule:     envDefault("PLAYTOKENS_SWEEP_SCHEDULE", "@every 10m"),
		RunOnce:           envBoolDefault("PLAYTOKENS_WORKER_RUN_ONCE", false),
		DiscordWebhookURL: strings.TrimSpace(os.Getenv("PLAYTOKENS_DISCORD_WEBHOOK_URL")),
	}
}

func LoadCLIFromEnv() CLIConfig {
	home := strings.TrimSpace(os.Getenv("PTK_HOME"))
	if home == "" {
		if dir, err := os.UserHomeDir(); err == nil {
			home = filepath.Join(dir, ".ptk")
		} else {
			home = ".ptk"
		}
	}
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("PTK_API_BASE_URL", "http://localhost:8080"), "/"),
		HomeDir:    home,
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envListDefault(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
