package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the probe's YAML configuration. Every field has a sensible
// default so the file is optional.
type Config struct {
	Transport string `yaml:"transport"` // "websocket" or "nats"

	WebSocket struct {
		URL            string        `yaml:"url"`
		MaxReconnects  int           `yaml:"max_reconnects"`
		InitialBackoff time.Duration `yaml:"initial_backoff"`
		BackoffCeiling time.Duration `yaml:"backoff_ceiling"`
	} `yaml:"websocket"`

	NATS struct {
		URL           string `yaml:"url"`
		ServerSubject string `yaml:"server_subject"`
		ClientSubject string `yaml:"client_subject"`
	} `yaml:"nats"`

	TableID     string `yaml:"table_id"`
	MetricsAddr string `yaml:"metrics_addr"`
}

func defaultProbeConfig() Config {
	var cfg Config
	cfg.Transport = "websocket"
	cfg.WebSocket.URL = "ws://localhost:8080/ws"
	cfg.WebSocket.MaxReconnects = 5
	cfg.WebSocket.InitialBackoff = 500 * time.Millisecond
	cfg.WebSocket.BackoffCeiling = 10 * time.Second
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.ServerSubject = "tables.actions"
	cfg.NATS.ClientSubject = "tables.clients"
	cfg.MetricsAddr = ":9102"
	return cfg
}

func loadConfig(path string) (Config, error) {
	cfg := defaultProbeConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
