// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the advisor service configuration.
//
// Priority is env > file > defaults. The file is YAML; unknown keys are
// rejected so a typo fails loudly at startup instead of silently running
// on defaults. Secrets (API keys) never live in the file; the engine
// layer reads them from the environment or container secrets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// maxConfigBytes caps how much of a config file we are willing to read.
// A config file larger than this is a mistake, not a configuration.
const maxConfigBytes = 1 << 20

// Config is the full advisor service configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation; hot reload builds a new Config rather than mutating one.
type Config struct {
	// Server contains HTTP listener settings.
	Server ServerConfig `yaml:"server"`

	// Engine selects and tunes the reasoning engine.
	Engine EngineConfig `yaml:"engine"`

	// Collect tunes the signal collection round.
	Collect CollectConfig `yaml:"collect"`

	// Cache tunes the signal bundle cache.
	Cache CacheConfig `yaml:"cache"`

	// Gate bounds the quality gate loop. This is the hot-reloadable
	// section: the watcher applies gate changes to a running pipeline.
	Gate GateConfig `yaml:"gate"`

	// Log contains logging settings.
	Log LogConfig `yaml:"log"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EngineConfig selects the reasoning engine backend.
type EngineConfig struct {
	// Provider is one of "openai", "ollama", or "stub".
	Provider string `yaml:"provider"`

	// Model names the model; empty picks the provider default.
	Model string `yaml:"model"`

	// ServerURL points at the Ollama server. Ignored by other providers.
	ServerURL string `yaml:"server_url"`

	// QPS rate-limits engine calls.
	QPS float64 `yaml:"qps"`
}

// CollectConfig tunes the signal collection round.
type CollectConfig struct {
	// Timeout is the shared deadline for one collection round.
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts bounds per-collector retries within the round.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the first retry delay; it doubles per attempt.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// CacheConfig tunes the two-tier signal bundle cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// TTL is how long a cached bundle stays fresh.
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries bounds the in-memory tier.
	MaxEntries int `yaml:"max_entries"`

	// Dir is the badger directory for the persistent tier. Empty keeps
	// the cache memory-only.
	Dir string `yaml:"dir"`
}

// GateConfig bounds the quality gate loop.
type GateConfig struct {
	MaxIterations       int     `yaml:"max_iterations"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Dir is where log files go; empty disables file logging.
	Dir string `yaml:"dir"`

	// JSON switches console output to JSON lines.
	JSON bool `yaml:"json"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8085",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Engine: EngineConfig{
			Provider: "ollama",
			QPS:      2.0,
		},
		Collect: CollectConfig{
			Timeout:        10 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        15 * time.Minute,
			MaxEntries: 1000,
		},
		Gate: GateConfig{
			MaxIterations:       2,
			ConfidenceThreshold: 0.6,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "~/.campaign-advisor/logs",
		},
	}
}

// Load loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - path: Path to a YAML config file. Empty or missing files are
//     fine; defaults plus env apply.
//
// Outputs:
//   - Config: Merged configuration.
//   - error: Non-nil if the file exists but is invalid, or the merged
//     result fails validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) > maxConfigBytes {
		return fmt.Errorf("config file exceeds %d bytes", maxConfigBytes)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("ADVISOR_LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ADVISOR_ENGINE_PROVIDER"); v != "" {
		cfg.Engine.Provider = v
	}
	if v := os.Getenv("ADVISOR_ENGINE_MODEL"); v != "" {
		cfg.Engine.Model = v
	}
	if v := os.Getenv("ADVISOR_ENGINE_URL"); v != "" {
		cfg.Engine.ServerURL = v
	}
	if v := os.Getenv("ADVISOR_ENGINE_QPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.QPS = f
		}
	}
	if v := os.Getenv("ADVISOR_COLLECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Collect.Timeout = d
		}
	}
	if v := os.Getenv("ADVISOR_GATE_MAX_ITERATIONS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Gate.MaxIterations = i
		}
	}
	if v := os.Getenv("ADVISOR_GATE_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Gate.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("ADVISOR_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("ADVISOR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks the full configuration.
func (c Config) Validate() error {
	switch c.Engine.Provider {
	case "openai", "ollama", "stub":
	default:
		return fmt.Errorf("unknown engine provider %q", c.Engine.Provider)
	}
	if c.Engine.QPS <= 0 {
		return errors.New("engine qps must be positive")
	}
	if c.Server.Addr == "" {
		return errors.New("server addr must not be empty")
	}
	if c.Collect.Timeout <= 0 {
		return errors.New("collect timeout must be positive")
	}
	if c.Collect.MaxAttempts < 1 {
		return errors.New("collect max_attempts must be at least 1")
	}
	if c.Collect.InitialBackoff <= 0 || c.Collect.MaxBackoff < c.Collect.InitialBackoff {
		return errors.New("collect backoff bounds are inconsistent")
	}
	if c.Cache.Enabled {
		if c.Cache.TTL <= 0 {
			return errors.New("cache ttl must be positive when the cache is enabled")
		}
		if c.Cache.MaxEntries < 1 {
			return errors.New("cache max_entries must be at least 1")
		}
	}
	if err := c.Gate.Validate(); err != nil {
		return err
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// Validate checks the gate section. The bounds mirror what the pipeline
// accepts, so a config that passes here is applied without surprises.
func (g GateConfig) Validate() error {
	if g.MaxIterations < 1 || g.MaxIterations > 10 {
		return fmt.Errorf("gate max_iterations %d outside [1,10]", g.MaxIterations)
	}
	if g.ConfidenceThreshold <= 0 || g.ConfidenceThreshold > 1 {
		return fmt.Errorf("gate confidence_threshold %v outside (0,1]", g.ConfidenceThreshold)
	}
	return nil
}
