// Package config loads ledger server configuration from environment
// variables, with an optional YAML overlay file for structured deployments.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every knob the ledger server and webhook worker need.
type Config struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	DatabaseURL string `yaml:"database_url"`

	ActiveSchemaVersion    string   `yaml:"active_schema_version"`
	AllowedSchemaVersions  []string `yaml:"allowed_schema_versions"`
	AdminAPIKey            string   `yaml:"admin_api_key"`

	WebhookBatchSize   int `yaml:"webhook_batch_size"`
	WebhookMaxAttempts int `yaml:"webhook_max_attempts"`
	BackoffBaseSeconds int `yaml:"backoff_base_seconds"`
	BackoffCapSeconds  int `yaml:"backoff_cap_seconds"`

	RedisURL string `yaml:"redis_url"`
}

// Load reads configuration from environment variables, then merges in an
// optional YAML file named by CONFIG_FILE (env vars always win).
func Load() (*Config, error) {
	cfg := &Config{
		Port:                  getenv("PORT", "8080"),
		LogLevel:              getenv("LOG_LEVEL", "INFO"),
		LogFormat:             getenv("LOG_FORMAT", "text"),
		DatabaseURL:           getenv("DATABASE_URL", "postgres://proveniq@localhost:5432/proveniq_ledger?sslmode=disable"),
		ActiveSchemaVersion:   getenv("ACTIVE_SCHEMA_VERSION", "1.0.0"),
		AllowedSchemaVersions: splitList(getenv("ALLOWED_SCHEMA_VERSIONS", "1.0.0")),
		AdminAPIKey:           os.Getenv("ADMIN_API_KEY"),
		WebhookBatchSize:      getenvInt("WEBHOOK_BATCH_SIZE", 25),
		WebhookMaxAttempts:    getenvInt("WEBHOOK_MAX_ATTEMPTS", 5),
		BackoffBaseSeconds:    getenvInt("BACKOFF_BASE_SECONDS", 60),
		BackoffCapSeconds:     getenvInt("BACKOFF_CAP_SECONDS", 86400),
		RedisURL:              os.Getenv("REDIS_URL"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := mergeYAMLFile(cfg, path); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	if cfg.AdminAPIKey == "" {
		return nil, fmt.Errorf("config: ADMIN_API_KEY is required")
	}

	return cfg, nil
}

// mergeYAMLFile decodes the YAML file into a copy, then copies each
// non-empty file field over the value Load chose (its default included)
// whenever the matching env var is unset — env vars that were actually set
// always take precedence over the file.
func mergeYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fromFile Config
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if os.Getenv("PORT") == "" && fromFile.Port != "" {
		cfg.Port = fromFile.Port
	}
	if os.Getenv("LOG_LEVEL") == "" && fromFile.LogLevel != "" {
		cfg.LogLevel = fromFile.LogLevel
	}
	if os.Getenv("LOG_FORMAT") == "" && fromFile.LogFormat != "" {
		cfg.LogFormat = fromFile.LogFormat
	}
	if os.Getenv("DATABASE_URL") == "" && fromFile.DatabaseURL != "" {
		cfg.DatabaseURL = fromFile.DatabaseURL
	}
	if os.Getenv("ACTIVE_SCHEMA_VERSION") == "" && fromFile.ActiveSchemaVersion != "" {
		cfg.ActiveSchemaVersion = fromFile.ActiveSchemaVersion
	}
	if os.Getenv("ALLOWED_SCHEMA_VERSIONS") == "" && len(fromFile.AllowedSchemaVersions) > 0 {
		cfg.AllowedSchemaVersions = fromFile.AllowedSchemaVersions
	}
	if os.Getenv("ADMIN_API_KEY") == "" && fromFile.AdminAPIKey != "" {
		cfg.AdminAPIKey = fromFile.AdminAPIKey
	}
	if os.Getenv("WEBHOOK_BATCH_SIZE") == "" && fromFile.WebhookBatchSize != 0 {
		cfg.WebhookBatchSize = fromFile.WebhookBatchSize
	}
	if os.Getenv("WEBHOOK_MAX_ATTEMPTS") == "" && fromFile.WebhookMaxAttempts != 0 {
		cfg.WebhookMaxAttempts = fromFile.WebhookMaxAttempts
	}
	if os.Getenv("BACKOFF_BASE_SECONDS") == "" && fromFile.BackoffBaseSeconds != 0 {
		cfg.BackoffBaseSeconds = fromFile.BackoffBaseSeconds
	}
	if os.Getenv("BACKOFF_CAP_SECONDS") == "" && fromFile.BackoffCapSeconds != 0 {
		cfg.BackoffCapSeconds = fromFile.BackoffCapSeconds
	}
	if os.Getenv("REDIS_URL") == "" && fromFile.RedisURL != "" {
		cfg.RedisURL = fromFile.RedisURL
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
