// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Errorf("Environment = %q, want dev", cfg.Environment)
	}
	if cfg.DataDir == "" {
		t.Error("DataDir is empty")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want info/text", cfg.Log)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
environment: staging
api_base_url: https://file.example.com
request_timeout: 10s
`)
	t.Setenv("LAGOON_ENVIRONMENT", "prod")
	t.Setenv("LAGOON_API_BASE_URL", "https://env.example.com")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Environment != "prod" {
		t.Errorf("Environment = %q, want prod (env wins)", cfg.Environment)
	}
	if cfg.APIBaseURL != "https://env.example.com" {
		t.Errorf("APIBaseURL = %q, want the env value", cfg.APIBaseURL)
	}
	timeout, err := cfg.ParsedRequestTimeout()
	if err != nil {
		t.Fatalf("ParsedRequestTimeout: %v", err)
	}
	if timeout != 10*time.Second {
		t.Errorf("request timeout = %v, want 10s (file value kept)", timeout)
	}
}

func TestLoadConfigViaEnvPointer(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "environment: staging\n")
	t.Setenv(DefaultConfigEnv, path)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Environment != "staging" {
		t.Errorf("Environment = %q, want staging", cfg.Environment)
	}
}

func TestLoadCatalogParsesJSONC(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "endpoints.jsonc", `{
	// per-environment backend and identity-provider roots
	"dev": {
		"api": "https://api.dev.example.com",
		"identity": "https://id.dev.example.com", // trailing comma below is fine
	},
	"prod": {
		"api": "https://api.example.com",
		"identity": "https://id.example.com",
	},
}`)
	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if got := catalog["dev"].API; got != "https://api.dev.example.com" {
		t.Errorf("dev api = %q", got)
	}
	if got := catalog["prod"].Identity; got != "https://id.example.com" {
		t.Errorf("prod identity = %q", got)
	}
}

func TestResolveEndpointsExplicitURLsWin(t *testing.T) {
	dir := t.TempDir()
	catalog := writeFile(t, dir, "endpoints.jsonc", `{
	"dev": {"api": "https://api.dev.example.com", "identity": "https://id.dev.example.com"}
}`)
	cfg := Config{
		Environment:     "dev",
		APIBaseURL:      "https://override.example.com",
		EndpointCatalog: catalog,
	}
	endpoints, err := cfg.ResolveEndpoints()
	if err != nil {
		t.Fatalf("ResolveEndpoints: %v", err)
	}
	if endpoints.API != "https://override.example.com" {
		t.Errorf("API = %q, want the explicit override", endpoints.API)
	}
	if endpoints.Identity != "https://id.dev.example.com" {
		t.Errorf("Identity = %q, want the catalog value", endpoints.Identity)
	}
}

func TestResolveEndpointsUnknownEnvironment(t *testing.T) {
	dir := t.TempDir()
	catalog := writeFile(t, dir, "endpoints.jsonc", `{"dev": {"api": "a", "identity": "b"}}`)
	cfg := Config{Environment: "prod", EndpointCatalog: catalog}
	if _, err := cfg.ResolveEndpoints(); err == nil {
		t.Error("ResolveEndpoints for an unknown environment succeeded")
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(LogConfig{Level: "loud"}); err == nil {
		t.Error("NewLogger accepted an unknown level")
	}
	if _, err := NewLogger(LogConfig{Format: "xml"}); err == nil {
		t.Error("NewLogger accepted an unknown format")
	}
}
