package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Queue    QueueConfig
	AI       AIConfig
	CMS      CMSConfig
	Pipeline PipelineConfig
	Review   ReviewConfig
	Ledger   LedgerConfig
	Feeds    FeedsConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

// QueueConfig selects the queue backend: "sqlite" or "none" (degraded).
type QueueConfig struct {
	Backend string
}

type AIConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type CMSConfig struct {
	BaseURL    string
	DatabaseID string
	APIKey     string
}

// PipelineConfig durations are Go duration strings. An Interval of "0s"
// disables scheduled runs.
type PipelineConfig struct {
	StageTimeout string
	MaxBatch     int
	Interval     string
	BatchSize    int
}

type ReviewConfig struct {
	RequireFullChecklist bool
}

type LedgerConfig struct {
	MonthlyCapUSD float64
}

type FeedsConfig struct {
	Path string
}

type LogConfig struct {
	Level string
}

const (
	QueueSQLite = "sqlite"
	QueueNone   = "none"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Queue: QueueConfig{
			Backend: QueueSQLite,
		},
		AI: AIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		CMS: CMSConfig{
			BaseURL: "https://api.notion.com",
		},
		Pipeline: PipelineConfig{
			StageTimeout: "60s",
			MaxBatch:     50,
			Interval:     "0s",
			BatchSize:    5,
		},
		Ledger: LedgerConfig{
			MonthlyCapUSD: 1000,
		},
		Feeds: FeedsConfig{
			Path: filepath.Join(filepath.Dir(configFilePath()), "feeds.yaml"),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend, environment
// variables and the secrets store.
//
// The config file lives at $XDG_CONFIG_HOME/newsdesk/config.json on Linux
// and ~/Library/Application Support/newsdesk/config.json on macOS.
// Environment variables (NEWSDESK_*) override file values. Secret keys are
// read from the environment first, then from the secrets file.
//
// A missing AI or CMS key is not an error; the server reports those
// collaborators as not configured.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewSecretStore())
}

func loadWith(b ConfigBackend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.Queue.Backend) {
	case QueueSQLite, QueueNone:
	default:
		return fmt.Errorf("invalid queue.backend %q: want %q or %q", c.Queue.Backend, QueueSQLite, QueueNone)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Ledger.MonthlyCapUSD <= 0 {
		return fmt.Errorf("invalid ledger.monthly_cap_usd %v: must be positive", c.Ledger.MonthlyCapUSD)
	}
	return nil
}
