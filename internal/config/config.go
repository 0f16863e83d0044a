// Package config loads the optional htmlgrader YAML config file.
//
// Precedence is strict and deterministic:
//  1. command-line flags (applied by the command)
//  2. environment variables (DSN)
//  3. the config file
//  4. built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration.
type Config struct {
	Fetch   Fetch   `yaml:"fetch"`
	Store   Store   `yaml:"store"`
	Metrics Metrics `yaml:"metrics"`
}

// Fetch controls URL mode.
type Fetch struct {
	// Timeout bounds the single GET. Zero means no timeout.
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// Store selects where graded runs are persisted. An empty Kind disables
// persistence.
type Store struct {
	Kind string `yaml:"kind"` // "sqlite" | "postgres" | "mssql"
	DSN  string `yaml:"dsn"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	Backend    string        `yaml:"backend"` // "none" | "datadog"
	JobName    string        `yaml:"job_name"`
	Tags       []string      `yaml:"tags"`
	FlushEvery time.Duration `yaml:"flush_every"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Metrics: Metrics{
			Backend: "none",
			JobName: "htmlgrader",
		},
	}
}

// Read reads path (if non-empty) over the defaults and applies environment
// overrides. It does not validate: callers layer flag overrides on top and
// call Validate once they are done.
func Read(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv applies environment overrides using getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("DSN")); v != "" {
		c.Store.DSN = v
	}
}

// Validate rejects unknown backends and incomplete store settings.
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Kind {
	case "", "sqlite", "postgres", "mssql":
	default:
		errs = append(errs, fmt.Errorf("store.kind %q: want sqlite, postgres or mssql", c.Store.Kind))
	}
	if c.Store.Kind != "" && strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, fmt.Errorf("store.kind %q requires a dsn", c.Store.Kind))
	}

	switch c.Metrics.Backend {
	case "", "none", "datadog":
	default:
		errs = append(errs, fmt.Errorf("metrics.backend %q: want none or datadog", c.Metrics.Backend))
	}

	if c.Fetch.Timeout < 0 {
		errs = append(errs, errors.New("fetch.timeout must not be negative"))
	}
	return errors.Join(errs...)
}
