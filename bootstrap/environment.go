// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/lagoon-social/lagoon-go/api"
	"github.com/lagoon-social/lagoon-go/auth"
	"github.com/lagoon-social/lagoon-go/identity"
	"github.com/lagoon-social/lagoon-go/lib/secret"
	"github.com/lagoon-social/lagoon-go/session"
	"github.com/lagoon-social/lagoon-go/vault"
)

// Environment is the wired component graph. Construct it once per
// process and pass references explicitly; Default exists only for
// bootstrap convenience.
type Environment struct {
	Config   Config
	Logger   *slog.Logger
	Vault    *vault.Vault
	Store    *session.Store
	Pipeline *api.Client
	Identity *identity.Client
	Provider *identity.RESTProvider
	Auth     *auth.Orchestrator

	// DeviceID is minted with uuid on first run and persisted in the
	// session store; the pipeline sends it on every request.
	DeviceID string
}

// vaultTokens adapts the vault to the pipeline's TokenSource. Each
// call hands out a fresh buffer the pipeline closes after use.
type vaultTokens struct {
	vault *vault.Vault
}

func (t vaultTokens) BearerToken() (*secret.Buffer, bool, error) {
	return t.vault.Get("auth_token")
}

// New wires the full component graph from the config.
func New(ctx context.Context, cfg Config) (*Environment, error) {
	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	endpoints, err := cfg.ResolveEndpoints()
	if err != nil {
		return nil, err
	}
	requestTimeout, err := cfg.ParsedRequestTimeout()
	if err != nil {
		return nil, err
	}
	if cfg.ProviderAPIKey == "" {
		return nil, fmt.Errorf("bootstrap: provider API key is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("bootstrap: creating data dir: %w", err)
	}

	credVault, err := vault.Open(filepath.Join(cfg.DataDir, "vault"), vault.Options{
		Logger: logger.With("component", "vault"),
	})
	if err != nil {
		return nil, err
	}
	store, err := session.OpenStore(session.StoreConfig{
		Path:   filepath.Join(cfg.DataDir, "session.db"),
		Logger: logger.With("component", "store"),
	})
	if err != nil {
		credVault.Close()
		return nil, err
	}

	deviceID, err := store.DeviceID(ctx)
	if err != nil {
		store.Close()
		credVault.Close()
		return nil, err
	}
	if deviceID == "" {
		deviceID = uuid.NewString()
		if err := store.SetDeviceID(ctx, deviceID); err != nil {
			store.Close()
			credVault.Close()
			return nil, err
		}
		logger.Info("minted device id", "device_id", deviceID)
	}

	pipeline, err := api.NewClient(api.ClientConfig{
		BaseURL:   endpoints.API,
		Tokens:    vaultTokens{vault: credVault},
		Logger:    logger.With("component", "api"),
		Timeout:   requestTimeout,
		UserAgent: cfg.UserAgent,
		DeviceID:  deviceID,
	})
	if err != nil {
		store.Close()
		credVault.Close()
		return nil, err
	}

	identityClient := identity.NewClient(pipeline, logger.With("component", "identity"))
	provider, err := identity.NewRESTProvider(identity.RESTProviderConfig{
		BaseURL: endpoints.Identity,
		APIKey:  cfg.ProviderAPIKey,
		Logger:  logger.With("component", "provider"),
	})
	if err != nil {
		store.Close()
		credVault.Close()
		return nil, err
	}

	orchestrator, err := auth.New(auth.Config{
		Identity: identityClient,
		Provider: provider,
		Vault:    credVault,
		Store:    store,
		Logger:   logger.With("component", "auth"),
	})
	if err != nil {
		store.Close()
		credVault.Close()
		return nil, err
	}

	return &Environment{
		Config:   cfg,
		Logger:   logger,
		Vault:    credVault,
		Store:    store,
		Pipeline: pipeline,
		Identity: identityClient,
		Provider: provider,
		Auth:     orchestrator,
		DeviceID: deviceID,
	}, nil
}

// Initialize runs the orchestrator's startup validation pass.
func (e *Environment) Initialize(ctx context.Context) error {
	return e.Auth.Initialize(ctx)
}

// Reset tears the session down to SignedOut and clears persistence.
func (e *Environment) Reset(ctx context.Context) error {
	return e.Auth.SignOut(ctx)
}

// Close releases the store and vault. The Environment is unusable
// afterwards.
func (e *Environment) Close() error {
	var firstErr error
	if err := e.Store.Close(); err != nil {
		firstErr = err
	}
	if err := e.Vault.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

var (
	defaultMu  sync.Mutex
	defaultEnv *Environment
)

// Default returns the process-wide Environment, or nil before
// SetDefault.
func Default() *Environment {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultEnv
}

// SetDefault installs the process-wide Environment.
func SetDefault(e *Environment) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultEnv = e
}
