// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/lagoon-social/lagoon-go/lib/clock"
)

// Store keys. The profile document is JSON; timestamps are RFC 3339.
const (
	keyProfile   = "user_profile"
	keyLastLogin = "last_login_date"
	keyPushToken = "push_notification_token"
	keyDeviceID  = "device_id"
)

// StoreConfig holds the parameters for opening a Store. Path is
// required; all other fields default.
type StoreConfig struct {
	// Path is the SQLite database file. Created if absent. Use
	// ":memory:" in tests.
	Path string

	// Clock drives the staleness timestamp. Defaults to Real().
	Clock clock.Clock

	// Logger receives operational messages. If nil, slog.Default().
	Logger *slog.Logger
}

// Store persists the redacted session profile, the staleness
// timestamp, the push-notification token, and the device ID in a
// SQLite key/value table. Safe for concurrent use.
type Store struct {
	pool   *sqlitex.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// OpenStore opens (creating if needed) the session store at
// cfg.Path. The caller must Close the store when done.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("session: store Path is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		// The store is tiny and write-mostly; a single connection
		// avoids WAL checkpoint churn. In-memory databases require
		// pool size 1 anyway.
		PoolSize:    1,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("session: opening store %s: %w", cfg.Path, err)
	}

	return &Store{pool: pool, clock: clk, logger: logger}, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("session: %s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, `
		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`, nil)
}

// Save persists the redacted profile and refreshes the staleness
// timestamp. Secrets on the session are ignored — the vault owns them.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return fmt.Errorf("session: cannot save nil session")
	}
	document, err := json.Marshal(sess.Redacted())
	if err != nil {
		return fmt.Errorf("session: encoding profile: %w", err)
	}

	if err := s.set(ctx, keyProfile, string(document)); err != nil {
		return err
	}
	return s.set(ctx, keyLastLogin, s.clock.Now().UTC().Format(time.RFC3339Nano))
}

// Load returns the cached redacted session, or (nil, nil) when no
// profile is cached.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	document, found, err := s.get(ctx, keyProfile)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var sess Session
	if err := json.Unmarshal([]byte(document), &sess); err != nil {
		return nil, fmt.Errorf("session: decoding cached profile: %w", err)
	}
	return &sess, nil
}

// Clear removes the cached profile and the staleness timestamp. It
// does not touch the push token or the device ID, and it never touches
// the vault — the orchestrator coordinates both.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.delete(ctx, keyProfile); err != nil {
		return err
	}
	return s.delete(ctx, keyLastLogin)
}

// IsStale reports whether the cached profile is older than maxAge. A
// store with no timestamp is stale.
func (s *Store) IsStale(ctx context.Context, maxAge time.Duration) (bool, error) {
	raw, found, err := s.get(ctx, keyLastLogin)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false, fmt.Errorf("session: parsing last_login_date %q: %w", raw, err)
	}
	return s.clock.Now().Sub(updatedAt) > maxAge, nil
}

// SetPushToken stores the opaque push-notification token. Unrelated to
// auth secrets; survives Clear.
func (s *Store) SetPushToken(ctx context.Context, token string) error {
	return s.set(ctx, keyPushToken, token)
}

// PushToken returns the stored push-notification token, or "" when
// none is set.
func (s *Store) PushToken(ctx context.Context) (string, error) {
	token, _, err := s.get(ctx, keyPushToken)
	return token, err
}

// SetDeviceID stores the installation's device ID.
func (s *Store) SetDeviceID(ctx context.Context, id string) error {
	return s.set(ctx, keyDeviceID, id)
}

// DeviceID returns the installation's device ID, or "" before one is
// minted.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	id, _, err := s.get(ctx, keyDeviceID)
	return id, err
}

// Close closes the underlying pool. Blocks until borrowed connections
// are returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("session: closing store: %w", err)
	}
	return nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("session: store connection: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		&sqlitex.ExecOptions{Args: []any{key, value}},
	)
	if err != nil {
		return fmt.Errorf("session: writing %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", false, fmt.Errorf("session: store connection: %w", err)
	}
	defer s.pool.Put(conn)

	var value string
	var found bool
	err = sqlitex.Execute(conn,
		"SELECT value FROM kv WHERE key = ?",
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnText(0)
				found = true
				return nil
			},
		},
	)
	if err != nil {
		return "", false, fmt.Errorf("session: reading %s: %w", key, err)
	}
	return value, found, nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("session: store connection: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM kv WHERE key = ?", &sqlitex.ExecOptions{Args: []any{key}})
	if err != nil {
		return fmt.Errorf("session: deleting %s: %w", key, err)
	}
	return nil
}
