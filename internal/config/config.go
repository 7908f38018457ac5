// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

// Package config loads server configuration from defaults, an optional
// YAML file, and command-line flags, in that order of precedence.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
}

// ServerConfig controls the player-facing TCP listener.
type ServerConfig struct {
	Listen string `koanf:"listen"`
}

// DatabaseConfig controls the PostgreSQL connection.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// AuthConfig controls code redemption and the connection challenge.
type AuthConfig struct {
	CodeDigits       int           `koanf:"code_digits"`
	CodeExpiry       time.Duration `koanf:"code_expiry"`
	ChallengeTimeout time.Duration `koanf:"challenge_timeout"`
	MaxAttempts      int           `koanf:"max_attempts"`
	SweepInterval    time.Duration `koanf:"sweep_interval"`
}

// MetricsConfig controls the observability HTTP endpoint.
type MetricsConfig struct {
	Listen string `koanf:"listen"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration used when no file or flags are given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen: ":4000",
		},
		Auth: AuthConfig{
			CodeDigits:       6,
			CodeExpiry:       5 * time.Minute,
			ChallengeTimeout: 60 * time.Second,
			MaxAttempts:      3,
			SweepInterval:    time.Minute,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9100",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at
// path (skipped when path is empty), then any changed flags in flags
// (may be nil). The DATABASE_URL environment variable, when set,
// overrides the database URL from every other source.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return oops.Code("CONFIG_INVALID").Errorf("server.listen must not be empty")
	}
	if c.Auth.CodeDigits < 4 || c.Auth.CodeDigits > 12 {
		return oops.Code("CONFIG_INVALID").
			Errorf("auth.code_digits must be between 4 and 12, got %d", c.Auth.CodeDigits)
	}
	if c.Auth.ChallengeTimeout <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.challenge_timeout must be positive")
	}
	if c.Auth.MaxAttempts < 1 {
		return oops.Code("CONFIG_INVALID").
			Errorf("auth.max_attempts must be at least 1, got %d", c.Auth.MaxAttempts)
	}
	if c.Auth.CodeExpiry <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.code_expiry must be positive")
	}
	if c.Auth.SweepInterval <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.sweep_interval must be positive")
	}
	return nil
}
