package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig holds the sync engine settings, read from YAML with
// FOCUSFLOW_* environment overrides (server.url -> FOCUSFLOW_SERVER_URL).
type ClientConfig struct {
	Server ServerSection `mapstructure:"server"`
	Store  StoreSection  `mapstructure:"store"`
	Sync   SyncSection   `mapstructure:"sync"`
	Netmon NetmonSection `mapstructure:"netmon"`
	Log    LogSection    `mapstructure:"log"`
}

type ServerSection struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type StoreSection struct {
	Path string `mapstructure:"path"`
}

type SyncSection struct {
	Interval       time.Duration `mapstructure:"interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type NetmonSection struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type LogSection struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultClientConfigPath returns ~/.config/focusflow/config.yaml.
func DefaultClientConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "focusflow", "config.yaml")
	}
	return filepath.Join(home, ".config", "focusflow", "config.yaml")
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "focusflow.db"
	}
	return filepath.Join(home, ".local", "share", "focusflow", "focusflow.db")
}

// LoadClient reads the client configuration from path. A missing file is not
// an error: defaults and environment overrides still apply.
func LoadClient(path string) (*ClientConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FOCUSFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("server.token", "")
	v.SetDefault("store.path", defaultStorePath())
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.batch_size", 500)
	v.SetDefault("sync.request_timeout", 30*time.Second)
	v.SetDefault("netmon.interval", 15*time.Second)
	v.SetDefault("netmon.timeout", 3*time.Second)
	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &ClientConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Server.URL = strings.TrimRight(cfg.Server.URL, "/")
	return cfg, nil
}
