// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the adam application config.
//
// Precedence, lowest first: DefaultConfig, the YAML file, environment
// variables. The loaded Config is passed explicitly; there is no global.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/adam/internal/alerting"
	"github.com/AleutianAI/adam/internal/observability"
	"github.com/AleutianAI/adam/internal/telemetry"
)

// Environment variables read by ApplyEnv.
const (
	EnvConfig    = "ADAM_CONFIG"
	EnvAPIKey    = "ADAM_API_KEY"
	EnvOntology  = "ADAM_ONTOLOGY"
	EnvStorePath = "ADAM_STORE_PATH"
	EnvListen    = "ADAM_LISTEN"
	EnvLogLevel  = "ADAM_LOG_LEVEL"
	EnvBrokers   = "KAFKA_BROKERS"
)

// ErrInvalidConfig wraps every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full application config.
type Config struct {
	Ontology  OntologyConfig         `yaml:"ontology"`
	Server    ServerConfig           `yaml:"server"`
	Store     StoreConfig            `yaml:"store"`
	Replay    ReplayConfig           `yaml:"replay"`
	Alerting  alerting.Config        `yaml:"alerting"`
	Influx    telemetry.InfluxConfig `yaml:"influxdb"`
	Telemetry observability.Config   `yaml:"telemetry"`
	Logging   LoggingConfig          `yaml:"logging"`
}

// OntologyConfig locates the ontology file.
type OntologyConfig struct {
	Path string `yaml:"path"`

	// Watch reloads the ontology when the file changes (serve only).
	Watch bool `yaml:"watch"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Listen string `yaml:"listen"`

	// APIKey guards /v1. Prefer ADAM_API_KEY over writing it to disk.
	APIKey string `yaml:"api_key,omitempty"`

	// RateLimit is the sustained requests per second per client; Burst the
	// bucket size.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`

	RequestTimeout time.Duration `yaml:"request_timeout"`

	// DataDir restricts csv_path in requests to files below it. Empty
	// disables csv_path.
	DataDir string `yaml:"data_dir"`

	// MaxBodyBytes bounds request bodies, including inline CSV.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// StoreConfig configures the replay store.
type StoreConfig struct {
	Path       string        `yaml:"path"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

// ReplayConfig configures the replay harness.
type ReplayConfig struct {
	// Parallelism bounds concurrent per-day forecasts. 0 uses GOMAXPROCS.
	Parallelism int `yaml:"parallelism"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Ontology: OntologyConfig{Path: "configs/ontology.yaml"},
		Server: ServerConfig{
			Listen:         "127.0.0.1:8080",
			RateLimit:      5,
			Burst:          10,
			RequestTimeout: 60 * time.Second,
			DataDir:        "data",
			MaxBodyBytes:   16 << 20,
		},
		Store: StoreConfig{
			Path:       "~/.adam/store",
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Alerting: alerting.Config{
			Topic:        alerting.DefaultTopic,
			WriteTimeout: 5 * time.Second,
		},
		Influx:    telemetry.InfluxConfig{Measurement: "control_metrics", Lookback: 365 * 24 * time.Hour},
		Telemetry: observability.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info"},
	}
}

// DefaultPath is ~/.adam/adam.yaml, or ADAM_CONFIG when set.
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".adam", "adam.yaml")
	}
	return filepath.Join(home, ".adam", "adam.yaml")
}

// Load reads path over the defaults, applies the environment and
// validates. A missing file is not an error when allowMissing is set.
func Load(path string, allowMissing bool) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, path, err)
		}
	case errors.Is(err, os.ErrNotExist) && allowMissing:
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.Logging.Dir = expandHome(cfg.Logging.Dir)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv(EnvOntology); v != "" {
		c.Ontology.Path = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvBrokers); v != "" {
		c.Alerting.Brokers = strings.Split(v, ",")
	}
	c.Influx = telemetry.InfluxConfigFromEnv(c.Influx)
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	var problems []string
	if c.Ontology.Path == "" {
		problems = append(problems, "ontology.path is required")
	}
	if c.Server.Listen == "" {
		problems = append(problems, "server.listen is required")
	}
	if c.Server.RateLimit <= 0 {
		problems = append(problems, fmt.Sprintf("server.rate_limit must be > 0, got %v", c.Server.RateLimit))
	}
	if c.Server.Burst < 1 {
		problems = append(problems, fmt.Sprintf("server.burst must be >= 1, got %d", c.Server.Burst))
	}
	if c.Server.MaxBodyBytes <= 0 {
		problems = append(problems, fmt.Sprintf("server.max_body_bytes must be > 0, got %d", c.Server.MaxBodyBytes))
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		problems = append(problems, "store.path is required unless store.in_memory is set")
	}
	if c.Replay.Parallelism < 0 {
		problems = append(problems, fmt.Sprintf("replay.parallelism must be >= 0, got %d", c.Replay.Parallelism))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// WriteDefault writes DefaultConfig to path, creating parent directories.
// An existing file is left alone unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	cfg := DefaultConfig()
	// Environment-derived values are not persisted.
	cfg.Telemetry = observability.Config{
		ServiceName:    "adam",
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    "development",
		TraceExporter:  "none",
		MetricExporter: "prometheus",
		OTLPEndpoint:   "localhost:4317",
		OTLPInsecure:   true,
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
