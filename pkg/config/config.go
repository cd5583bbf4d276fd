package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Config struct {
	NodeID string `json:"node_id"`
	UserID string `json:"user_id"`

	// DataDir holds the badger store. Empty means in-memory only.
	DataDir string `json:"data_dir"`

	// SyncIntervalSeconds is the scheduler cadence; zero means 30s.
	SyncIntervalSeconds int `json:"sync_interval_seconds"`

	// Channels to subscribe beyond the automatic user and public ones,
	// e.g. project:docs:files.
	Channels []string `json:"channels"`

	Verbose bool `json:"verbose"`
}

// SyncInterval returns the configured scheduler cadence.
func (c *Config) SyncInterval() time.Duration {
	if c.SyncIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.NodeID == "" || cfg.UserID == "" {
		return nil, fmt.Errorf("config must set node_id and user_id")
	}

	return &cfg, nil
}

func LoadFromEnv() *Config {
	cfg := &Config{
		NodeID:  getEnv("COALESCE_NODE_ID", ""),
		UserID:  getEnv("COALESCE_USER_ID", ""),
		DataDir: getEnv("COALESCE_DATA_DIR", "./data"),
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
