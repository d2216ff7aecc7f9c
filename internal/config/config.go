package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

const devSecret = "dev-secret-change-in-production"

// Config holds the API server settings, read from the environment.
type Config struct {
	Port                  string
	Env                   string
	DatabaseDSN           string
	JWTSecret             string
	JWTExpiry             time.Duration
	SyncRateRPS           float64
	SyncRateBurst         int
	FreeDailySessionLimit int
}

func Load() Config {
	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("ENV", "development"),
		DatabaseDSN:           getEnv("DATABASE_DSN", "root:password@tcp(127.0.0.1:3306)/focusflow?parseTime=true"),
		JWTSecret:             getEnv("JWT_SECRET", devSecret),
		JWTExpiry:             getDuration("JWT_EXPIRY", 24*time.Hour),
		SyncRateRPS:           getFloat("SYNC_RATE_RPS", 2),
		SyncRateBurst:         getInt("SYNC_RATE_BURST", 10),
		FreeDailySessionLimit: getInt("FREE_DAILY_SESSION_LIMIT", 3),
	}

	if cfg.IsProduction() && cfg.JWTSecret == devSecret {
		slog.Error("JWT_SECRET must be set in production environment")
		os.Exit(1)
	}

	return cfg
}

// IsProduction reports whether the server runs with production safeguards.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid number in environment, using default", "key", key, "value", v)
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v)
		return fallback
	}
	return d
}
