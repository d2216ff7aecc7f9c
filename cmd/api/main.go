package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/focusflow/focusflow-go/internal/config"
	"github.com/focusflow/focusflow-go/internal/crypto"
	"github.com/focusflow/focusflow-go/internal/handler"
	"github.com/focusflow/focusflow-go/internal/model"
	"github.com/focusflow/focusflow-go/internal/repository"
	"github.com/focusflow/focusflow-go/internal/repository/memory"
	"github.com/focusflow/focusflow-go/internal/service"
)

const devUserID int64 = 1

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg := config.Load()

	store, db := openStore(cfg)
	if db != nil {
		defer db.Close()
	}

	stats := service.NewStatsService(store)
	sessions := service.NewSessionService(store, stats, cfg.FreeDailySessionLimit)
	syncSvc := service.NewSyncService(store, stats)

	r := handler.NewRouter(handler.RouterConfig{
		JWTSecret:     cfg.JWTSecret,
		SyncRateRPS:   cfg.SyncRateRPS,
		SyncRateBurst: cfg.SyncRateBurst,
	}, sessions, syncSvc)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

// openStore connects to MySQL and applies the schema. Outside production an
// unreachable database falls back to an in-memory store with one seeded user.
func openStore(cfg config.Config) (repository.Store, *sql.DB) {
	db, err := repository.NewDB(cfg.DatabaseDSN)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err = repository.Migrate(ctx, db); err == nil {
			return repository.NewMySQLStore(db), db
		}
		db.Close()
	}

	if cfg.IsProduction() {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}

	slog.Warn("database unavailable, using in-memory store", "error", err)
	store := memory.New()
	store.AddUser(model.User{ID: devUserID, Tier: model.TierFree, Timezone: "UTC"})

	token, err := crypto.GenerateToken(devUserID, cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		slog.Error("failed to issue development token", "error", err)
		os.Exit(1)
	}
	slog.Info("development token issued", "user_id", devUserID, "token", token)

	return store, nil
}
