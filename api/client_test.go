// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package api_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/lagoon-social/lagoon-go/api"
	"github.com/lagoon-social/lagoon-go/lib/clock"
	"github.com/lagoon-social/lagoon-go/lib/secret"
)

// staticTokens returns a fresh buffer per call, matching the vault's
// ownership contract.
type staticTokens struct {
	token string
}

func (s staticTokens) BearerToken() (*secret.Buffer, bool, error) {
	if s.token == "" {
		return nil, false, nil
	}
	buffer, err := secret.NewFromString(s.token)
	if err != nil {
		return nil, false, err
	}
	return buffer, true, nil
}

func newTestClient(t *testing.T, baseURL string, tokens api.TokenSource) *api.Client {
	t.Helper()
	client, err := api.NewClient(api.ClientConfig{
		BaseURL:  baseURL,
		Tokens:   tokens,
		Logger:   slog.New(slog.DiscardHandler),
		DeviceID: "dev-test",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestEnvelopeSuccessReturnsData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":0,"message":"ok","data":{"user_id":"u-1"}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	decoded, err := api.Decode[struct {
		UserID string `json:"user_id"`
	}](context.Background(), client, api.Descriptor{Method: http.MethodGet, Path: "/auth/checksession"})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.UserID != "u-1" {
		t.Errorf("UserID = %q, want %q", decoded.UserID, "u-1")
	}
}

func TestEnvelopeCodeBeatsHTTPStatus(t *testing.T) {
	// The backend reports failure through the envelope even on 200.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":1102,"message":"session expired","data":null}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.Send(context.Background(), api.Descriptor{Method: http.MethodGet, Path: "/auth/checksession"})
	if err == nil {
		t.Fatal("Send: expected error")
	}
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *api.Error", err)
	}
	if apiErr.Kind != api.KindServer {
		t.Errorf("Kind = %q, want %q", apiErr.Kind, api.KindServer)
	}
	if apiErr.Code != 1102 {
		t.Errorf("Code = %d, want 1102", apiErr.Code)
	}
	if apiErr.Message != "session expired" {
		t.Errorf("Message = %q, want %q", apiErr.Message, "session expired")
	}
}

func TestUnauthorizedWithoutEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.Send(context.Background(), api.Descriptor{Method: http.MethodGet, Path: "/me"})
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *api.Error", err)
	}
	if apiErr.Kind != api.KindUnauthorized {
		t.Errorf("Kind = %q, want %q", apiErr.Kind, api.KindUnauthorized)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
}

func TestBearerAndDeviceHeadersInjected(t *testing.T) {
	var gotAuth, gotDevice string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotDevice = r.Header.Get("X-Lagoon-Device")
		io.WriteString(w, `{"code":0,"message":"","data":null}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, staticTokens{token: "bearer-123"})
	if _, err := client.Send(context.Background(), api.Descriptor{Method: http.MethodGet, Path: "/me"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAuth != "Bearer bearer-123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer bearer-123")
	}
	if gotDevice != "dev-test" {
		t.Errorf("X-Lagoon-Device = %q, want %q", gotDevice, "dev-test")
	}
}

// flakyTransport fails with a connection error until succeedAfter
// calls have been made, then returns a minimal envelope success.
type flakyTransport struct {
	mu           sync.Mutex
	calls        int
	succeedAfter int
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.succeedAfter {
		return nil, &net.OpError{Op: "read", Err: syscall.ECONNRESET}
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"code":0,"message":"","data":"pong"}`)),
		Header:     make(http.Header),
	}, nil
}

func (f *flakyTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestTransientFailureRetriedWithIncreasingDelay(t *testing.T) {
	transport := &flakyTransport{succeedAfter: 2}
	fake := clock.Fake(time.Unix(0, 0))
	client, err := api.NewClient(api.ClientConfig{
		BaseURL:        "http://backend.test",
		HTTPClient:     &http.Client{Transport: transport},
		Clock:          fake,
		Logger:         slog.New(slog.DiscardHandler),
		RetryBaseDelay: time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	type sendResult struct {
		payload []byte
		err     error
	}
	results := make(chan sendResult, 1)
	go func() {
		payload, err := client.Send(context.Background(), api.Descriptor{Method: http.MethodGet, Path: "/ping"})
		results <- sendResult{payload, err}
	}()

	// First attempt fails immediately; the retry waits 1s.
	waitForWaiters(t, fake, 1)
	if got := transport.callCount(); got != 1 {
		t.Fatalf("calls before first backoff = %d, want 1", got)
	}
	fake.Advance(time.Second)

	// Second attempt fails; the next backoff doubles to 2s. Advancing
	// only 1s must not release it.
	waitForWaiters(t, fake, 1)
	if got := transport.callCount(); got != 2 {
		t.Fatalf("calls after first retry = %d, want 2", got)
	}
	fake.Advance(time.Second)
	if got := transport.callCount(); got != 2 {
		t.Fatalf("retry fired before its doubled delay elapsed (calls = %d)", got)
	}
	fake.Advance(time.Second)

	result := <-results
	if result.err != nil {
		t.Fatalf("Send after retries: %v", result.err)
	}
	if string(result.payload) != `"pong"` {
		t.Errorf("payload = %s, want %q", result.payload, `"pong"`)
	}
	if got := transport.callCount(); got != 3 {
		t.Errorf("total calls = %d, want 3", got)
	}
}

func TestExhaustedRetriesSurfaceNetworkError(t *testing.T) {
	transport := &flakyTransport{succeedAfter: 100}
	fake := clock.Fake(time.Unix(0, 0))
	client, err := api.NewClient(api.ClientConfig{
		BaseURL:        "http://backend.test",
		HTTPClient:     &http.Client{Transport: transport},
		Clock:          fake,
		Logger:         slog.New(slog.DiscardHandler),
		RetryBaseDelay: time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	errs := make(chan error, 1)
	go func() {
		_, err := client.Send(context.Background(), api.Descriptor{Method: http.MethodGet, Path: "/ping"})
		errs <- err
	}()

	waitForWaiters(t, fake, 1)
	fake.Advance(time.Second)
	waitForWaiters(t, fake, 1)
	fake.Advance(2 * time.Second)

	err = <-errs
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *api.Error", err)
	}
	if apiErr.Kind != api.KindNetwork {
		t.Errorf("Kind = %q, want %q", apiErr.Kind, api.KindNetwork)
	}
	// 1 initial + 2 retries.
	if got := transport.callCount(); got != 3 {
		t.Errorf("total calls = %d, want 3", got)
	}
}

func TestServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.Send(context.Background(), api.Descriptor{Method: http.MethodPost, Path: "/login"})
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *api.Error", err)
	}
	if apiErr.Kind != api.KindServer {
		t.Errorf("Kind = %q, want %q", apiErr.Kind, api.KindServer)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (server errors are never retried)", got)
	}
}

func TestDecodingErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, `not json at all`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := api.Decode[map[string]string](context.Background(), client, api.Descriptor{Method: http.MethodGet, Path: "/me"})
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *api.Error", err)
	}
	if apiErr.Kind != api.KindDecoding {
		t.Errorf("Kind = %q, want %q", apiErr.Kind, api.KindDecoding)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (decode failures are never retried)", got)
	}
}

func waitForWaiters(t *testing.T, fake *clock.FakeClock, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for fake.Waiters() < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d clock waiters", want)
		}
		time.Sleep(time.Millisecond)
	}
}
