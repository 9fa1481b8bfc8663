package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "NEWSDESK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "NEWSDESK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "queue.backend", typ: kString, env: "NEWSDESK_QUEUE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Queue.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Queue.Backend },
	},
	{
		key: "ai.base_url", typ: kString, env: "NEWSDESK_AI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.AI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.BaseURL },
	},
	{
		key: "ai.model", typ: kString, env: "NEWSDESK_AI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.AI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.Model },
	},
	{
		key: "ai.api_key", typ: kString, env: "NEWSDESK_AI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.AI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.APIKey },
	},
	{
		key: "cms.base_url", typ: kString, env: "NEWSDESK_CMS_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.CMS.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.CMS.BaseURL },
	},
	{
		key: "cms.database_id", typ: kString, env: "NEWSDESK_CMS_DATABASE_ID",
		apply:   func(cfg *Config, v any) { cfg.CMS.DatabaseID = v.(string) },
		extract: func(cfg Config) any { return cfg.CMS.DatabaseID },
	},
	{
		key: "cms.api_key", typ: kString, env: "NEWSDESK_CMS_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.CMS.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.CMS.APIKey },
	},
	{
		key: "pipeline.stage_timeout", typ: kString, env: "NEWSDESK_PIPELINE_STAGE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.StageTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.StageTimeout },
	},
	{
		key: "pipeline.max_batch", typ: kInt, env: "NEWSDESK_PIPELINE_MAX_BATCH",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.MaxBatch = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.MaxBatch },
	},
	{
		key: "pipeline.interval", typ: kString, env: "NEWSDESK_PIPELINE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.Interval },
	},
	{
		key: "pipeline.batch_size", typ: kInt, env: "NEWSDESK_PIPELINE_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.BatchSize },
	},
	{
		key: "review.require_full_checklist", typ: kBool, env: "NEWSDESK_REVIEW_REQUIRE_FULL_CHECKLIST",
		apply:   func(cfg *Config, v any) { cfg.Review.RequireFullChecklist = v.(bool) },
		extract: func(cfg Config) any { return cfg.Review.RequireFullChecklist },
	},
	{
		key: "ledger.monthly_cap_usd", typ: kFloat, env: "NEWSDESK_LEDGER_MONTHLY_CAP_USD",
		apply:   func(cfg *Config, v any) { cfg.Ledger.MonthlyCapUSD = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ledger.MonthlyCapUSD },
	},
	{
		key: "feeds.path", typ: kString, env: "NEWSDESK_FEEDS_PATH",
		apply:   func(cfg *Config, v any) { cfg.Feeds.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Feeds.Path },
	},
	{
		key: "log.level", typ: kString, env: "NEWSDESK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts raw into the value type of s.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring unparsable config value", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring unparsable environment override", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secret keys still empty after env overrides.
func applySecrets(cfg *Config, secrets SecretStore) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
