// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lagoon-social/lagoon-go/lib/secret"
)

// Provider is the federated identity provider that mints short-lived
// proof-of-identity tokens. The rest of the system treats it as
// opaque: its failures are translated into the Code taxonomy at this
// boundary and never inspected upstream.
type Provider interface {
	// SignIn authenticates the email/password pair and returns the
	// proof token plus whether the provider considers the email
	// verified. The caller owns the returned buffer.
	SignIn(ctx context.Context, email string, password *secret.Buffer) (proof *secret.Buffer, verified bool, err error)

	// SignUp creates the account and returns a proof token for it.
	SignUp(ctx context.Context, email string, password *secret.Buffer) (*secret.Buffer, error)

	// SendVerificationEmail asks the provider to mail a verification
	// link to the most recently signed-in account.
	SendVerificationEmail(ctx context.Context) error

	// SignOut discards any provider-side credential cached locally.
	SignOut(ctx context.Context) error
}

// ProviderError is a raw provider failure code, e.g. EMAIL_EXISTS.
// Only this package reads the Code string.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity: provider: %s", e.Code)
}

// providerCodes maps the provider's failure codes into the taxonomy.
// Codes absent from the table classify as unknown.
var providerCodes = map[string]Code{
	"EMAIL_EXISTS":                   CodeEmailAlreadyInUse,
	"INVALID_LOGIN_CREDENTIALS":      CodeInvalidCredentials,
	"INVALID_PASSWORD":               CodeInvalidPassword,
	"WEAK_PASSWORD":                  CodeWeakPassword,
	"USER_NOT_FOUND":                 CodeUserNotFound,
	"EMAIL_NOT_FOUND":                CodeUserNotFound,
	"TOO_MANY_ATTEMPTS_TRY_LATER":    CodeTooManyRequests,
	"CREDENTIAL_TOO_OLD_LOGIN_AGAIN": CodeRequiresRecentLogin,
	"INVALID_EMAIL":                  CodeInvalidEmail,
	"USER_DISABLED":                  CodeInvalidCredentials,
}

// ClassifyProvider translates a provider failure into the taxonomy.
// Non-provider errors (transport, context) classify as network.
func ClassifyProvider(err error) *Error {
	if err == nil {
		return nil
	}
	var provider *ProviderError
	if errors.As(err, &provider) {
		if code, ok := providerCodes[provider.Code]; ok {
			return classified(code, provider.Message, err)
		}
		return classified(CodeUnknown, provider.Code, err)
	}
	return classified(CodeNetworkError, err.Error(), err)
}

// RESTProviderConfig configures the hosted identity provider client.
type RESTProviderConfig struct {
	// BaseURL is the provider endpoint root.
	BaseURL string

	// APIKey is the project key appended to every call.
	APIKey string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// RESTProvider talks to the hosted federated identity service. Like
// the mobile SDKs it models, it remembers the current account's proof
// token between calls so SendVerificationEmail can reference it.
type RESTProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	current *secret.Buffer
}

// NewRESTProvider validates the config and returns a provider.
func NewRESTProvider(config RESTProviderConfig) (*RESTProvider, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("identity: provider base URL is required")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("identity: provider API key is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTProvider{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type providerTokenResponse struct {
	IDToken string `json:"idToken"`
}

// SignIn implements Provider.
func (p *RESTProvider) SignIn(ctx context.Context, email string, password *secret.Buffer) (*secret.Buffer, bool, error) {
	var response providerTokenResponse
	err := p.call(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password.String(),
		"returnSecureToken": true,
	}, &response)
	if err != nil {
		return nil, false, err
	}
	proof, err := secret.NewFromString(response.IDToken)
	if err != nil {
		return nil, false, fmt.Errorf("identity: provider: storing proof token: %w", err)
	}
	p.setCurrent(response.IDToken)

	verified := false
	if claims, err := ProofClaims(proof); err == nil {
		verified = claims.EmailVerified
	}
	return proof, verified, nil
}

// SignUp implements Provider.
func (p *RESTProvider) SignUp(ctx context.Context, email string, password *secret.Buffer) (*secret.Buffer, error) {
	var response providerTokenResponse
	err := p.call(ctx, "accounts:signUp", map[string]any{
		"email":             email,
		"password":          password.String(),
		"returnSecureToken": true,
	}, &response)
	if err != nil {
		return nil, err
	}
	proof, err := secret.NewFromString(response.IDToken)
	if err != nil {
		return nil, fmt.Errorf("identity: provider: storing proof token: %w", err)
	}
	p.setCurrent(response.IDToken)
	return proof, nil
}

// SendVerificationEmail implements Provider. It requires a prior
// SignIn or SignUp on this provider instance.
func (p *RESTProvider) SendVerificationEmail(ctx context.Context) error {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()
	if current == nil {
		return &ProviderError{Code: "CREDENTIAL_TOO_OLD_LOGIN_AGAIN", Message: "no signed-in account"}
	}
	return p.call(ctx, "accounts:sendOobCode", map[string]any{
		"requestType": "VERIFY_EMAIL",
		"idToken":     current.String(),
	}, nil)
}

// SignOut implements Provider. The hosted service keeps no session;
// signing out only discards the cached proof token.
func (p *RESTProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.Close()
		p.current = nil
	}
	return nil
}

func (p *RESTProvider) setCurrent(token string) {
	buffer, err := secret.NewFromString(token)
	if err != nil {
		p.logger.Warn("caching provider token failed", "error", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.Close()
	}
	p.current = buffer
}

type providerFailure struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *RESTProvider) call(ctx context.Context, endpoint string, body map[string]any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("identity: provider: encoding %s request: %w", endpoint, err)
	}
	url := fmt.Sprintf("%s/v1/%s?key=%s", p.baseURL, endpoint, p.apiKey)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("identity: provider: building %s request: %w", endpoint, err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := p.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("identity: provider: %s: %w", endpoint, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("identity: provider: reading %s response: %w", endpoint, err)
	}
	if response.StatusCode != http.StatusOK {
		var failure providerFailure
		if json.Unmarshal(payload, &failure) == nil && failure.Error.Message != "" {
			code, message := splitProviderMessage(failure.Error.Message)
			return &ProviderError{Code: code, Message: message}
		}
		return &ProviderError{
			Code:    "UNKNOWN",
			Message: fmt.Sprintf("HTTP %d from %s", response.StatusCode, endpoint),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("identity: provider: decoding %s response: %w", endpoint, err)
	}
	return nil
}

// splitProviderMessage separates "WEAK_PASSWORD : Password should be
// at least 6 characters" into its code and human detail.
func splitProviderMessage(message string) (code, detail string) {
	code, detail, found := strings.Cut(message, ":")
	if !found {
		return strings.TrimSpace(message), ""
	}
	return strings.TrimSpace(code), strings.TrimSpace(detail)
}
