// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lagoon-social/lagoon-go/api"
	"github.com/lagoon-social/lagoon-go/lib/secret"
	"github.com/lagoon-social/lagoon-go/session"
)

// Backend envelope codes for auth failures. Anything not listed
// classifies as unknown.
var backendCodes = map[int]Code{
	1001: CodeInvalidCredentials,
	1002: CodeUserNotFound,
	1003: CodeRequiresRecentLogin,
	1004: CodeEmailNotVerified,
	1005: CodeProfileIncomplete,
	1006: CodeTooManyRequests,
	1007: CodeInvalidPassword,
}

// Client is the typed facade over the request pipeline for the
// session-lifecycle endpoints. Every error it returns is an *Error
// from the closed taxonomy.
type Client struct {
	pipeline *api.Client
	logger   *slog.Logger
}

// NewClient wraps the request pipeline.
func NewClient(pipeline *api.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{pipeline: pipeline, logger: logger}
}

// sessionPayload is the backend's session document. The two secrets
// travel in the exchange response body and nowhere else.
type sessionPayload struct {
	UserID       string     `json:"user_id"`
	DisplayName  string     `json:"display_name"`
	Email        string     `json:"email"`
	PhotoURL     string     `json:"photo_url"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSeenAt   *time.Time `json:"last_seen_at"`
	Gender       string     `json:"gender"`
	Bio          string     `json:"bio"`
	ChatUserID   string     `json:"chat_user_id"`
	ChatAccessID string     `json:"chat_access_id"`
	Token        string     `json:"token,omitempty"`
	CSRFToken    string     `json:"csrf_token,omitempty"`
}

func (p *sessionPayload) session() *session.Session {
	return &session.Session{
		UserID:       p.UserID,
		DisplayName:  p.DisplayName,
		Email:        p.Email,
		PhotoURL:     p.PhotoURL,
		CreatedAt:    p.CreatedAt,
		LastSeenAt:   p.LastSeenAt,
		Gender:       p.Gender,
		Bio:          p.Bio,
		ChatUserID:   p.ChatUserID,
		ChatAccessID: p.ChatAccessID,
		Token:        p.Token,
		CSRFToken:    p.CSRFToken,
	}
}

// ExchangeToken trades a provider proof token for a backend session.
// The returned session carries both secrets; the caller moves them to
// the vault.
func (c *Client) ExchangeToken(ctx context.Context, proof *secret.Buffer) (*session.Session, error) {
	payload, err := api.Decode[sessionPayload](ctx, c.pipeline, api.Descriptor{
		Method: http.MethodPost,
		Path:   "/login",
		Body:   map[string]string{"id_token": proof.String()},
	})
	if err != nil {
		return nil, Classify(err)
	}
	return payload.session(), nil
}

// CheckSession asks the backend whether the current bearer token is
// still valid. A nil return means valid; ErrProfileIncomplete means
// valid but onboarding is unfinished.
func (c *Client) CheckSession(ctx context.Context) error {
	_, err := c.pipeline.Send(ctx, api.Descriptor{
		Method: http.MethodGet,
		Path:   "/auth/checksession",
	})
	if err != nil {
		return Classify(err)
	}
	return nil
}

// RefreshProfile fetches the current profile. The result carries no
// secrets.
func (c *Client) RefreshProfile(ctx context.Context) (*session.Session, error) {
	payload, err := api.Decode[sessionPayload](ctx, c.pipeline, api.Descriptor{
		Method: http.MethodGet,
		Path:   "/auth/profile",
	})
	if err != nil {
		return nil, Classify(err)
	}
	return payload.session(), nil
}

// UpdateProfile writes profile fields and returns the refreshed
// profile. Bodies are ad hoc key/value sets, so the parameter is the
// pipeline's tagged-union object.
func (c *Client) UpdateProfile(ctx context.Context, updates api.Object) (*session.Session, error) {
	payload, err := api.Decode[sessionPayload](ctx, c.pipeline, api.Descriptor{
		Method: http.MethodPut,
		Path:   "/auth/profile",
		Body:   updates,
	})
	if err != nil {
		return nil, Classify(err)
	}
	return payload.session(), nil
}

// UpdatePassword changes the account password. On success the caller
// clears local credentials to force re-authentication.
func (c *Client) UpdatePassword(ctx context.Context, current, next *secret.Buffer) error {
	_, err := c.pipeline.Send(ctx, api.Descriptor{
		Method: http.MethodPut,
		Path:   "/auth/password",
		Body: map[string]string{
			"current_password": current.String(),
			"new_password":     next.String(),
		},
	})
	if err != nil {
		return Classify(err)
	}
	return nil
}

// DeleteAccount removes the account after password confirmation.
func (c *Client) DeleteAccount(ctx context.Context, password *secret.Buffer) error {
	_, err := c.pipeline.Send(ctx, api.Descriptor{
		Method: http.MethodDelete,
		Path:   "/auth/account",
		Body:   map[string]string{"password": password.String()},
	})
	if err != nil {
		return Classify(err)
	}
	return nil
}

// SignOut notifies the backend that the session is ending. Callers
// treat failure as non-fatal.
func (c *Client) SignOut(ctx context.Context) error {
	_, err := c.pipeline.Send(ctx, api.Descriptor{
		Method: http.MethodPost,
		Path:   "/auth/signout",
	})
	if err != nil {
		return Classify(err)
	}
	return nil
}

// Classify translates a pipeline error into the taxonomy. Upstream
// code switches on the resulting Code and never sees transport detail.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classifiedErr *Error
	if errors.As(err, &classifiedErr) {
		return classifiedErr
	}
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return classified(CodeUnknown, err.Error(), err)
	}
	switch apiErr.Kind {
	case api.KindNetwork:
		return classified(CodeNetworkError, apiErr.Message, err)
	case api.KindUnauthorized:
		return classified(CodeRequiresRecentLogin, apiErr.Message, err)
	case api.KindServer:
		if code, ok := backendCodes[apiErr.Code]; ok {
			return classified(code, apiErr.Message, err)
		}
		return classified(CodeUnknown, apiErr.Message, err)
	default:
		return classified(CodeUnknown, apiErr.Message, err)
	}
}
