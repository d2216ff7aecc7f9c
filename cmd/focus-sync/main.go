package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/focusflow/focusflow-go/internal/client/coordinator"
	"github.com/focusflow/focusflow-go/internal/client/netmon"
	"github.com/focusflow/focusflow-go/internal/client/store"
	"github.com/focusflow/focusflow-go/internal/client/transport"
	"github.com/focusflow/focusflow-go/internal/config"
)

var (
	configPath string
	cfg        *config.ClientConfig
)

var rootCmd = &cobra.Command{
	Use:   "focus-sync",
	Short: "Offline-first sync engine for focus sessions and tasks",
	Long: `focus-sync keeps a local database of tasks and focus sessions and
reconciles it with the FocusFlow server whenever the network allows.

Work recorded offline is queued and uploaded on the next sync:
  focus-sync task add "write report" --priority 1
  focus-sync session log --duration 25 --task <local-id>
  focus-sync sync
  focus-sync run                 # sync periodically and on reconnect`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadClient(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultClientConfigPath(), "path to the config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore opens the local database, creating its directory on first use.
func openStore() (*store.Store, error) {
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	return store.Open(cfg.Store.Path)
}

// newLogger writes JSON to a size-rotated file when log.file is set and
// text to stderr otherwise. The returned closer flushes the file.
func newLogger() (*slog.Logger, io.Closer) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Log.File == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), io.NopCloser(nil)
	}

	file := &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(file, opts)), file
}

// engine bundles the sync components built from the config.
type engine struct {
	store   *store.Store
	monitor *netmon.Monitor
	coord   *coordinator.Coordinator
}

func newEngine(logger *slog.Logger) (*engine, error) {
	if cfg.Server.Token == "" {
		return nil, fmt.Errorf("server.token is not configured (set it in %s or FOCUSFLOW_SERVER_TOKEN)", configPath)
	}

	st, err := openStore()
	if err != nil {
		return nil, err
	}

	client := transport.New(cfg.Server.URL, cfg.Server.Token, cfg.Sync.RequestTimeout, cfg.Sync.BatchSize)
	monitor := netmon.New(client.Ping, cfg.Netmon.Interval, cfg.Netmon.Timeout, logger.With("component", "netmon"))
	coord := coordinator.New(st, client, monitor, cfg.Sync.Interval, logger.With("component", "coordinator"))

	return &engine{store: st, monitor: monitor, coord: coord}, nil
}
