// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

// Package bootstrap wires the session core into one Environment:
// vault, session store, request pipeline, identity client, federated
// provider, and the auth orchestrator.
package bootstrap

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// DefaultConfigEnv names the environment variable that points at the
// YAML config file when no explicit path is given.
const DefaultConfigEnv = "LAGOON_CONFIG"

// Config is the YAML configuration with LAGOON_* env overrides. Env
// values win over file values; explicit base URLs win over the
// endpoint catalog.
type Config struct {
	// Environment selects the endpoint-catalog entry: dev, staging,
	// prod. Defaults to dev.
	Environment string `yaml:"environment" env:"LAGOON_ENVIRONMENT"`

	// DataDir holds the vault directory and the session database.
	// Defaults to ~/.lagoon.
	DataDir string `yaml:"data_dir" env:"LAGOON_DATA_DIR"`

	// APIBaseURL overrides the catalog's backend URL when set.
	APIBaseURL string `yaml:"api_base_url" env:"LAGOON_API_BASE_URL"`

	// ProviderBaseURL overrides the catalog's identity-provider URL.
	ProviderBaseURL string `yaml:"provider_base_url" env:"LAGOON_PROVIDER_BASE_URL"`

	// ProviderAPIKey is the federated provider's project key.
	ProviderAPIKey string `yaml:"provider_api_key" env:"LAGOON_PROVIDER_API_KEY"`

	// EndpointCatalog is the path to endpoints.jsonc. Optional when
	// both base URLs are set explicitly.
	EndpointCatalog string `yaml:"endpoint_catalog" env:"LAGOON_ENDPOINT_CATALOG"`

	// RequestTimeout is the per-attempt pipeline timeout as a
	// duration string, e.g. "30s". Empty uses the pipeline default.
	RequestTimeout string `yaml:"request_timeout" env:"LAGOON_REQUEST_TIMEOUT"`

	// UserAgent is sent on every pipeline request.
	UserAgent string `yaml:"user_agent" env:"LAGOON_USER_AGENT"`

	Log LogConfig `yaml:"log"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level: debug, info, warn, error. Defaults to info.
	Level string `yaml:"level" env:"LAGOON_LOG_LEVEL"`

	// Format: text or json. Defaults to text.
	Format string `yaml:"format" env:"LAGOON_LOG_FORMAT"`
}

// Endpoints is one environment's entry in the endpoint catalog.
type Endpoints struct {
	// API is the backend base URL.
	API string `json:"api"`

	// Identity is the federated provider base URL.
	Identity string `json:"identity"`
}

// LoadConfig reads the YAML file at path (or at $LAGOON_CONFIG when
// path is empty; a missing file yields defaults), then applies the
// LAGOON_* env overlay.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		path = os.Getenv(DefaultConfigEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("bootstrap: reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("bootstrap: parsing config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("bootstrap: applying env overrides: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.DataDir = filepath.Join(home, ".lagoon")
		} else {
			c.DataDir = ".lagoon"
		}
	}
	if c.UserAgent == "" {
		c.UserAgent = "lagoon-go"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// ParsedRequestTimeout parses RequestTimeout. Empty means "use the
// pipeline default" and parses to zero.
func (c *Config) ParsedRequestTimeout() (time.Duration, error) {
	if c.RequestTimeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("bootstrap: invalid request_timeout %q: %w", c.RequestTimeout, err)
	}
	return timeout, nil
}

// ResolveEndpoints picks the base URLs: explicit config values first,
// then the catalog entry for the configured environment.
func (c *Config) ResolveEndpoints() (Endpoints, error) {
	resolved := Endpoints{API: c.APIBaseURL, Identity: c.ProviderBaseURL}
	if resolved.API != "" && resolved.Identity != "" {
		return resolved, nil
	}
	if c.EndpointCatalog == "" {
		return Endpoints{}, fmt.Errorf("bootstrap: no endpoint catalog and incomplete base URLs for environment %q", c.Environment)
	}
	catalog, err := LoadCatalog(c.EndpointCatalog)
	if err != nil {
		return Endpoints{}, err
	}
	entry, ok := catalog[c.Environment]
	if !ok {
		return Endpoints{}, fmt.Errorf("bootstrap: environment %q not in catalog %s", c.Environment, c.EndpointCatalog)
	}
	if resolved.API == "" {
		resolved.API = entry.API
	}
	if resolved.Identity == "" {
		resolved.Identity = entry.Identity
	}
	if resolved.API == "" || resolved.Identity == "" {
		return Endpoints{}, fmt.Errorf("bootstrap: catalog entry %q is incomplete", c.Environment)
	}
	return resolved, nil
}

// LoadCatalog parses an endpoints.jsonc file: a JSONC object mapping
// environment name to {api, identity} base URLs.
func LoadCatalog(path string) (map[string]Endpoints, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: opening endpoint catalog: %w", err)
	}
	defer file.Close()
	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: reading endpoint catalog: %w", err)
	}
	var catalog map[string]Endpoints
	if err := json.Unmarshal(jsonc.ToJSON(raw), &catalog); err != nil {
		return nil, fmt.Errorf("bootstrap: parsing endpoint catalog %s: %w", path, err)
	}
	return catalog, nil
}

// NewLogger builds the slog logger the config asks for.
func NewLogger(cfg LogConfig) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("bootstrap: unknown log level %q", cfg.Level)
	}
	options := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, options)), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown log format %q", cfg.Format)
	}
}
