// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

// Package session defines the authenticated-user session entity and
// the persistent store for its non-secret projection.
//
// A Session carries two secret tokens (bearer and CSRF). The store
// never persists them — the credential vault is the single source of
// truth for secrets, and what the store holds is the redacted profile
// the UI reads.
package session

import (
	"strings"
	"time"
)

// Session is the decoded authenticated-user record plus the two secret
// tokens minted by the backend on token exchange.
type Session struct {
	// UserID is the backend's stable identifier for the account.
	UserID string `json:"user_id"`

	// DisplayName is the user-chosen name. An empty display name
	// marks the profile as incomplete — authenticated, but the
	// client must finish onboarding before full access.
	DisplayName string `json:"display_name"`

	// Email is the account's sign-in address.
	Email string `json:"email"`

	// PhotoURL points at the profile photo, if one is set.
	PhotoURL string `json:"photo_url,omitempty"`

	// CreatedAt is when the account was created.
	CreatedAt time.Time `json:"created_at"`

	// LastSeenAt is the backend's last-activity timestamp, when known.
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`

	// Optional profile fields.
	Gender       string `json:"gender,omitempty"`
	Bio          string `json:"bio,omitempty"`
	ChatUserID   string `json:"chat_user_id,omitempty"`
	ChatAccessID string `json:"chat_access_id,omitempty"`

	// Token is the bearer secret attached to authenticated requests.
	// Never serialized; the vault owns the durable copy.
	Token string `json:"-"`

	// CSRFToken is the secondary cross-site-request secret. Never
	// serialized; the vault owns the durable copy.
	CSRFToken string `json:"-"`
}

// Valid reports whether the session carries both secret tokens. A
// session without either secret cannot authenticate requests and is
// treated as absent.
func (s *Session) Valid() bool {
	return s != nil && s.Token != "" && s.CSRFToken != ""
}

// ProfileComplete reports whether the user finished onboarding. The
// backend signals an unfinished profile with an empty display name.
func (s *Session) ProfileComplete() bool {
	return s != nil && strings.TrimSpace(s.DisplayName) != ""
}

// Redacted returns a copy with both secret tokens blanked. This is
// the only form the store persists and the only form handed to UI
// consumers.
func (s *Session) Redacted() *Session {
	if s == nil {
		return nil
	}
	copied := *s
	copied.Token = ""
	copied.CSRFToken = ""
	return &copied
}
