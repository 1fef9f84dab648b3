package config

import (
	"fmt"
	"time"
)

// Settings is the full configuration consumed by llmctl and the ingest worker
type Settings struct {
	LogLevel    string            `mapstructure:"log_level"`
	Chat        ChatSettings      `mapstructure:"chat"`
	Embedding   EmbeddingSettings `mapstructure:"embedding"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Retry       RetrySettings     `mapstructure:"retry"`
	Ingest      IngestSettings    `mapstructure:"ingest"`
}

// ChatSettings selects the chat provider and its default options
type ChatSettings struct {
	Provider    string            `mapstructure:"provider"`
	APIKey      string            `mapstructure:"api_key"`
	BaseURL     string            `mapstructure:"base_url"`
	Model       string            `mapstructure:"model"`
	Temperature *float64          `mapstructure:"temperature"`
	MaxTokens   int               `mapstructure:"max_tokens"`
	TopP        *float64          `mapstructure:"top_p"`
	Options     map[string]string `mapstructure:"options"`
}

// EmbeddingSettings selects the embedding provider
type EmbeddingSettings struct {
	Provider  string            `mapstructure:"provider"`
	APIKey    string            `mapstructure:"api_key"`
	BaseURL   string            `mapstructure:"base_url"`
	Model     string            `mapstructure:"model"`
	CacheSize int               `mapstructure:"cache_size"`
	RateLimit float64           `mapstructure:"rate_limit"`
	RateBurst int               `mapstructure:"rate_burst"`
	Options   map[string]string `mapstructure:"options"`
}

// VectorStoreConfig selects and configures a storage backend
type VectorStoreConfig struct {
	Backend    string           `mapstructure:"backend"`
	Dimensions int              `mapstructure:"dimensions"`
	Distance   string           `mapstructure:"distance"`
	SQLitePath string           `mapstructure:"sqlite_path"`
	Redis      RedisSettings    `mapstructure:"redis"`
	Supabase   SupabaseSettings `mapstructure:"supabase"`
}

type RedisSettings struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SupabaseSettings struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	Table  string `mapstructure:"table"`
}

// RetrySettings configures backoff and the circuit breaker
type RetrySettings struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// IngestSettings configures the asynq ingestion queue
type IngestSettings struct {
	RedisAddr   string `mapstructure:"redis_addr"`
	Queue       string `mapstructure:"queue"`
	Concurrency int    `mapstructure:"concurrency"`
}

// defaults are registered with viper so that AutomaticEnv can resolve nested
// keys; viper only consults the environment for keys it already knows.
var defaults = map[string]any{
	"log_level":                     "info",
	"chat.provider":                 "openai",
	"chat.api_key":                  "",
	"chat.base_url":                 "",
	"chat.model":                    "gpt-4o-mini",
	"chat.temperature":              0.7,
	"chat.max_tokens":               0,
	"chat.top_p":                    nil,
	"embedding.provider":            "openai",
	"embedding.api_key":             "",
	"embedding.base_url":            "",
	"embedding.model":               "text-embedding-3-small",
	"embedding.cache_size":          1024,
	"embedding.rate_limit":          0.0,
	"embedding.rate_burst":          1,
	"vector_store.backend":          "memory",
	"vector_store.dimensions":       1536,
	"vector_store.distance":         "cosine",
	"vector_store.sqlite_path":      "llmkit.db",
	"vector_store.redis.addr":       "localhost:6379",
	"vector_store.redis.password":   "",
	"vector_store.redis.db":         0,
	"vector_store.redis.key_prefix": "llmkit",
	"vector_store.supabase.url":     "",
	"vector_store.supabase.api_key": "",
	"vector_store.supabase.table":   "documents",
	"retry.max_attempts":            3,
	"retry.initial_interval":        500 * time.Millisecond,
	"retry.max_interval":            10 * time.Second,
	"retry.breaker_failures":        5,
	"retry.breaker_timeout":         30 * time.Second,
	"ingest.redis_addr":             "localhost:6379",
	"ingest.queue":                  "default",
	"ingest.concurrency":            4,
}

// LoadSettings reads settings from an optional config file, then applies
// environment overrides such as LLMKIT_CHAT_MODEL.
func LoadSettings(envPrefix, configPath string) (*Settings, error) {
	var s Settings
	if err := Load(&s, envPrefix, configPath, defaults); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks values that would otherwise fail deep inside a component
func (s *Settings) Validate() error {
	switch s.VectorStore.Backend {
	case "memory", "sqlite", "redis", "supabase":
	default:
		return fmt.Errorf("unknown vector_store.backend %q", s.VectorStore.Backend)
	}
	switch s.VectorStore.Distance {
	case "cosine", "euclidean", "dot":
	default:
		return fmt.Errorf("unknown vector_store.distance %q", s.VectorStore.Distance)
	}
	if s.VectorStore.Dimensions <= 0 {
		return fmt.Errorf("vector_store.dimensions must be positive, got %d", s.VectorStore.Dimensions)
	}
	if s.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", s.Retry.MaxAttempts)
	}
	return nil
}
