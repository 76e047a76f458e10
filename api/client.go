// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

// Package api is the resilient request pipeline every authenticated
// call goes through: it builds requests, injects the bearer token from
// the credential vault, parses the backend's uniform response envelope,
// classifies failures, and retries transient transport errors with
// exponential backoff.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lagoon-social/lagoon-go/lib/clock"
	"github.com/lagoon-social/lagoon-go/lib/secret"
)

// Defaults. The per-attempt timeout and retry budget match the mobile
// client's interactive expectations: a request either completes fast
// enough to matter or the user has moved on.
const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
	defaultBaseDelay  = 500 * time.Millisecond
)

// maxResponseBytes bounds response reads. Session and profile payloads
// are small; anything larger is a server fault, not data.
const maxResponseBytes = 4 << 20

// TokenSource supplies the bearer token attached to authenticated
// requests. The vault implements this through a small adapter; tests
// implement it directly. Returning ok=false means "send the request
// unauthenticated". The pipeline closes the returned buffer once the
// header is set, so implementations must return a fresh buffer per
// call.
type TokenSource interface {
	BearerToken() (token *secret.Buffer, ok bool, err error)
}

// Descriptor is an immutable description of one outbound call. All
// endpoints here are effectively non-idempotent; the pipeline retries
// only transport failures, never business outcomes.
type Descriptor struct {
	// Method is the HTTP method.
	Method string

	// Path is the request path, joined to the client's base URL.
	Path string

	// Query holds optional query parameters.
	Query url.Values

	// Header holds optional extra headers.
	Header http.Header

	// Body, if non-nil, is serialized to JSON. Use Object for ad hoc
	// parameter sets.
	Body any
}

// ClientConfig holds configuration for creating a Client. BaseURL is
// required; everything else defaults.
type ClientConfig struct {
	// BaseURL is the backend's base URL (e.g., "https://api.lagoon.example").
	BaseURL string

	// HTTPClient is used for all requests. If nil, http.DefaultClient.
	HTTPClient *http.Client

	// Tokens supplies the bearer token. If nil, requests go out
	// unauthenticated.
	Tokens TokenSource

	// Clock drives retry backoff. Defaults to Real().
	Clock clock.Clock

	// Logger receives retry warnings. If nil, slog.Default().
	Logger *slog.Logger

	// Timeout bounds each attempt. Defaults to 30s.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts after the first.
	// Defaults to 2. Set negative for no retries.
	MaxRetries int

	// RetryBaseDelay is the backoff before the first retry; it doubles
	// per attempt. Defaults to 500ms.
	RetryBaseDelay time.Duration

	// UserAgent, if set, is sent on every request.
	UserAgent string

	// DeviceID, if set, is sent as X-Lagoon-Device on every request.
	DeviceID string
}

// Client is the request pipeline. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	clock      clock.Clock
	logger     *slog.Logger
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	userAgent  string
	deviceID   string
}

// NewClient creates a request pipeline.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("api: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("api: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := config.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := config.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		tokens:     config.Tokens,
		clock:      clk,
		logger:     logger,
		timeout:    timeout,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		userAgent:  config.UserAgent,
		deviceID:   config.DeviceID,
	}, nil
}

// envelope is the backend's uniform response wrapper. Code is a
// pointer so a body without the envelope shape is distinguishable from
// code 0.
type envelope struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Send performs the described call and returns the payload bytes: the
// envelope's data field when the response carries the envelope, the
// raw body otherwise. Failures come back as *Error.
//
// Transient transport failures are retried up to the configured
// budget with exponentially increasing delay. Decoding, unauthorized,
// and server errors are never retried.
func (c *Client) Send(ctx context.Context, descriptor Descriptor) ([]byte, error) {
	var lastError error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, networkError(ctx.Err())
			case <-c.clock.After(delay):
			}
		}

		payload, err := c.attempt(ctx, descriptor)
		if err == nil {
			return payload, nil
		}
		lastError = err

		apiErr, ok := asError(err)
		if !ok || !apiErr.Transient() {
			return nil, err
		}
		// The parent context going away is not a transient server
		// condition — stop immediately.
		if ctx.Err() != nil {
			return nil, err
		}

		c.logger.Warn("transient request failure, retrying",
			"method", descriptor.Method,
			"path", descriptor.Path,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, lastError
}

// attempt performs one HTTP exchange under the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, descriptor Descriptor) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestURL := c.baseURL + descriptor.Path
	if len(descriptor.Query) > 0 {
		requestURL += "?" + descriptor.Query.Encode()
	}

	var bodyReader io.Reader
	if descriptor.Body != nil {
		encoded, err := json.Marshal(descriptor.Body)
		if err != nil {
			return nil, &Error{Kind: KindDecoding, Message: "encoding request body: " + err.Error(), cause: err}
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(attemptCtx, descriptor.Method, requestURL, bodyReader)
	if err != nil {
		return nil, &Error{Kind: KindDecoding, Message: "creating request: " + err.Error(), cause: err}
	}

	for name, values := range descriptor.Header {
		for _, value := range values {
			request.Header.Add(name, value)
		}
	}
	if descriptor.Body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		request.Header.Set("User-Agent", c.userAgent)
	}
	if c.deviceID != "" {
		request.Header.Set("X-Lagoon-Device", c.deviceID)
	}

	if c.tokens != nil {
		token, ok, err := c.tokens.BearerToken()
		if err != nil {
			return nil, &Error{Kind: KindDecoding, Message: "reading bearer token: " + err.Error(), cause: err}
		}
		if ok {
			// String() makes a request-scoped heap copy at the header
			// boundary; the buffer itself is closed right away.
			request.Header.Set("Authorization", "Bearer "+token.String())
			token.Close()
		}
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, networkError(err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, networkError(err)
	}

	return classify(response.StatusCode, body)
}

// classify applies the envelope-first decoding rules: a body carrying
// the {code, message, data} envelope wins over the HTTP status; only
// when the envelope shape is absent does the status decide.
func classify(statusCode int, body []byte) ([]byte, error) {
	var wrapped envelope
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Code != nil {
		if *wrapped.Code != 0 {
			return nil, &Error{
				Kind:       KindServer,
				StatusCode: statusCode,
				Code:       *wrapped.Code,
				Message:    wrapped.Message,
			}
		}
		return wrapped.Data, nil
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return body, nil
	case statusCode == http.StatusUnauthorized:
		return nil, &Error{Kind: KindUnauthorized, StatusCode: statusCode, Message: excerpt(body)}
	default:
		return nil, &Error{Kind: KindServer, StatusCode: statusCode, Message: excerpt(body)}
	}
}

// Decode sends the request and unmarshals the payload into T. An
// empty or null payload yields the zero value.
func Decode[T any](ctx context.Context, client *Client, descriptor Descriptor) (T, error) {
	var result T
	payload, err := client.Send(ctx, descriptor)
	if err != nil {
		return result, err
	}
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return result, nil
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return result, &Error{Kind: KindDecoding, Message: "decoding response: " + err.Error(), cause: err}
	}
	return result, nil
}

func asError(err error) (*Error, bool) {
	apiErr, ok := err.(*Error)
	return apiErr, ok
}

func excerpt(body []byte) string {
	const limit = 200
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit] + "…"
	}
	return text
}
