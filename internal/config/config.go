// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.medicore/config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors so callers can check with errors.Is().
// Sensitive values (API key, postgres password) are never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the AI gateway API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidGatewayURL indicates the AI gateway base URL is invalid.
	ErrInvalidGatewayURL = errors.New("invalid gateway URL")

	// ErrInvalidChatModel indicates the chat model name is invalid.
	ErrInvalidChatModel = errors.New("invalid chat model")

	// ErrInvalidEmbedModel indicates the embedding model name is invalid.
	ErrInvalidEmbedModel = errors.New("invalid embedding model")

	// ErrInvalidEmbedDimension indicates the embedding dimensionality is out of range.
	ErrInvalidEmbedDimension = errors.New("invalid embedding dimension")

	// ErrInvalidTopK indicates the retrieval top-K value is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top_k")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidHistoryLimit indicates the history cap is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

const (
	// DefaultChatModel is the completion model requested from the gateway.
	DefaultChatModel = "google/gemini-2.5-flash"

	// DefaultEmbedModel is the embedding model requested from the gateway.
	DefaultEmbedModel = "text-embedding-3-small"

	// DefaultEmbedDimension matches text-embedding-3-small output.
	// The pgvector column in db/migrations must agree with this value.
	DefaultEmbedDimension = 1536

	// DefaultHistoryLimit caps the conversation turns sent upstream.
	DefaultHistoryLimit = 10

	// DefaultTopK is the number of documents retrieved per query.
	DefaultTopK = 3

	// DefaultThreshold is the minimum similarity score for a match.
	DefaultThreshold = 0.5
)

// Config stores application configuration.
type Config struct {
	// AI gateway configuration (OpenAI-compatible API)
	GatewayURL    string `mapstructure:"gateway_url"`
	GatewayAPIKey string `mapstructure:"gateway_api_key"` // SENSITIVE: never logged
	ChatModel     string `mapstructure:"chat_model"`
	EmbedModel    string `mapstructure:"embed_model"`

	// Retrieval configuration
	EmbedDimension int     `mapstructure:"embed_dimension"`
	TopK           int     `mapstructure:"top_k"`
	Threshold      float64 `mapstructure:"threshold"`
	HistoryLimit   int     `mapstructure:"history_limit"`

	// HTTP server configuration
	ListenAddr string  `mapstructure:"listen_addr"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
	RateBurst  int     `mapstructure:"rate_burst"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".medicore")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway_url", "https://ai.gateway.lovable.dev")
	v.SetDefault("chat_model", DefaultChatModel)
	v.SetDefault("embed_model", DefaultEmbedModel)

	v.SetDefault("embed_dimension", DefaultEmbedDimension)
	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("threshold", DefaultThreshold)
	v.SetDefault("history_limit", DefaultHistoryLimit)

	v.SetDefault("listen_addr", "127.0.0.1:8787")
	v.SetDefault("rate_per_sec", 5.0)
	v.SetDefault("rate_burst", 10)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "medicore")
	v.SetDefault("postgres_password", "medicore_dev_password")
	v.SetDefault("postgres_db_name", "medicore")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variables explicitly.
// The gateway key is a secret and is only ever read from the environment.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime condition.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("gateway_api_key", "GATEWAY_API_KEY")
	mustBind("gateway_url", "MEDICORE_GATEWAY_URL")
	mustBind("chat_model", "MEDICORE_CHAT_MODEL")
	mustBind("embed_model", "MEDICORE_EMBED_MODEL")
	mustBind("listen_addr", "MEDICORE_LISTEN_ADDR")
	mustBind("log_level", "MEDICORE_LOG_LEVEL")
}
