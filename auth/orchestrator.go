// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lagoon-social/lagoon-go/api"
	"github.com/lagoon-social/lagoon-go/identity"
	"github.com/lagoon-social/lagoon-go/lib/clock"
	"github.com/lagoon-social/lagoon-go/lib/secret"
	"github.com/lagoon-social/lagoon-go/session"
)

// Vault keys owned by the orchestrator. The request pipeline reads
// auth_token; nothing else writes either key.
const (
	vaultKeyToken = "auth_token"
	vaultKeyCSRF  = "csrf_token"
)

const (
	// checkCooldown suppresses redundant session checks.
	checkCooldown = 30 * time.Second

	// profileMaxAge is how old a cached profile may be before a
	// valid session check also refreshes the profile.
	profileMaxAge = 24 * time.Hour

	subscriberBuffer = 16

	// flightSessionCheck keys the shared session-check flight.
	flightSessionCheck = "session-check"
)

// IdentityClient is the slice of the identity facade the orchestrator
// drives. *identity.Client satisfies it.
type IdentityClient interface {
	ExchangeToken(ctx context.Context, proof *secret.Buffer) (*session.Session, error)
	CheckSession(ctx context.Context) error
	RefreshProfile(ctx context.Context) (*session.Session, error)
	UpdateProfile(ctx context.Context, updates api.Object) (*session.Session, error)
	UpdatePassword(ctx context.Context, current, next *secret.Buffer) error
	DeleteAccount(ctx context.Context, password *secret.Buffer) error
	SignOut(ctx context.Context) error
}

// Vault is the slice of the credential vault the orchestrator writes.
type Vault interface {
	Put(key string, value []byte) error
	Get(key string) (*secret.Buffer, bool, error)
	ClearAll() error
}

// Store is the slice of the session store the orchestrator drives.
type Store interface {
	Save(ctx context.Context, s *session.Session) error
	Load(ctx context.Context) (*session.Session, error)
	Clear(ctx context.Context) error
	IsStale(ctx context.Context, maxAge time.Duration) (bool, error)
}

// Config carries the orchestrator's collaborators.
type Config struct {
	Identity IdentityClient
	Provider identity.Provider
	Vault    Vault
	Store    Store

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Orchestrator is the auth state machine. It is the only writer of
// the vault's token keys and the store's profile document.
type Orchestrator struct {
	identity IdentityClient
	provider identity.Provider
	vault    Vault
	store    Store
	clock    clock.Clock
	logger   *slog.Logger

	flight singleflight.Group

	mu             sync.Mutex
	state          State
	profile        *session.Session
	initialized    bool
	initializing   bool
	authenticating bool
	inFlight       bool
	lastCheck      time.Time
	current        *attempt
	subscribers    map[int]chan Change
	nextSubscriber int
}

// attempt is one cancellable validation pass. Cancellation is
// cooperative: a cancelled attempt's completion applies nothing.
type attempt struct {
	cancelled atomic.Bool
}

func (a *attempt) cancel() { a.cancelled.Store(true) }

// New validates the config and returns an orchestrator in
// StateSignedOut.
func New(config Config) (*Orchestrator, error) {
	if config.Identity == nil {
		return nil, fmt.Errorf("auth: identity client is required")
	}
	if config.Provider == nil {
		return nil, fmt.Errorf("auth: identity provider is required")
	}
	if config.Vault == nil {
		return nil, fmt.Errorf("auth: vault is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("auth: session store is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		identity:    config.Identity,
		provider:    config.Provider,
		vault:       config.Vault,
		store:       config.Store,
		clock:       clk,
		logger:      logger,
		state:       StateSignedOut,
		subscribers: make(map[int]chan Change),
	}, nil
}

// State returns the current published state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// IsAuthenticated reports whether the session is valid and the
// profile complete.
func (o *Orchestrator) IsAuthenticated() bool {
	return o.State() == StateAuthenticated
}

// IsProfileIncomplete reports whether the session is valid but
// onboarding is unfinished.
func (o *Orchestrator) IsProfileIncomplete() bool {
	return o.State() == StateIncompleteProfile
}

// IsInitialized reports whether the startup validation pass has
// completed.
func (o *Orchestrator) IsInitialized() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.initialized
}

// Profile returns a copy of the last known redacted profile, or nil.
func (o *Orchestrator) Profile() *session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.profile == nil {
		return nil
	}
	copied := *o.profile
	return &copied
}

// Subscribe registers a state-change observer. The returned cancel
// func unregisters it and closes the channel. Slow observers lose
// the oldest pending change; transitions never block on them.
func (o *Orchestrator) Subscribe() (<-chan Change, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSubscriber
	o.nextSubscriber++
	channel := make(chan Change, subscriberBuffer)
	o.subscribers[id] = channel
	cancel := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.subscribers[id]; ok {
			delete(o.subscribers, id)
			close(channel)
		}
	}
	return channel, cancel
}

// setStateLocked transitions the published state and notifies
// subscribers. Callers hold o.mu.
func (o *Orchestrator) setStateLocked(to State) {
	if o.state == to {
		return
	}
	change := Change{From: o.state, To: to, At: o.clock.Now()}
	o.state = to
	for _, channel := range o.subscribers {
		select {
		case channel <- change:
		default:
			// Full: drop the oldest pending change, then retry once.
			select {
			case <-channel:
			default:
			}
			select {
			case channel <- change:
			default:
			}
		}
	}
	o.logger.Info("auth state changed", "from", change.From, "to", change.To)
}

// Initialize runs the startup validation pass exactly once.
// Re-entrant calls no-op until the first completes. With no cached
// secrets it resolves to SignedOut without touching the network.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	if o.initialized || o.initializing {
		o.mu.Unlock()
		return nil
	}
	o.initializing = true
	o.mu.Unlock()

	_, err := o.ValidateSession(ctx)

	o.mu.Lock()
	o.initializing = false
	o.initialized = true
	o.mu.Unlock()

	if err != nil && !errors.Is(err, identity.ErrProfileIncomplete) {
		return err
	}
	return nil
}

// ValidateSession runs one full validation pass, superseding any
// validation still in flight. It returns whether the session is
// valid; identity.ErrProfileIncomplete accompanies a valid session
// whose onboarding is unfinished.
func (o *Orchestrator) ValidateSession(ctx context.Context) (bool, error) {
	att := o.beginAttempt()
	valid, err := o.validate(ctx, att)
	o.mu.Lock()
	if !att.cancelled.Load() {
		o.lastCheck = o.clock.Now()
	}
	o.mu.Unlock()
	return valid, err
}

// CheckSessionIfNeeded is the debounced session check. Within the
// cooldown with nothing in flight it answers from the last known
// state without network. Concurrent callers share one flight.
func (o *Orchestrator) CheckSessionIfNeeded(ctx context.Context) (bool, error) {
	o.mu.Lock()
	if !o.inFlight && !o.lastCheck.IsZero() && o.clock.Now().Sub(o.lastCheck) < checkCooldown {
		authenticated := o.state == StateAuthenticated
		o.mu.Unlock()
		return authenticated, nil
	}
	o.mu.Unlock()

	type outcome struct {
		valid bool
		err   error
	}
	shared, _, _ := o.flight.Do(flightSessionCheck, func() (any, error) {
		o.mu.Lock()
		o.inFlight = true
		o.mu.Unlock()
		att := o.beginAttempt()

		valid, err := o.validate(ctx, att)

		o.mu.Lock()
		o.inFlight = false
		if !att.cancelled.Load() {
			o.lastCheck = o.clock.Now()
		}
		o.mu.Unlock()
		return outcome{valid: valid, err: err}, nil
	})
	result := shared.(outcome)
	if result.err != nil && !errors.Is(result.err, identity.ErrProfileIncomplete) {
		return false, result.err
	}
	return o.IsAuthenticated(), nil
}

// beginAttempt cancels any in-flight validation and registers a new
// attempt as current.
func (o *Orchestrator) beginAttempt() *attempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		o.current.cancel()
	}
	att := &attempt{}
	o.current = att
	return att
}

// validate implements the validation algorithm. Network and vault IO
// happen outside the mutex; results apply only if att is still live.
func (o *Orchestrator) validate(ctx context.Context, att *attempt) (bool, error) {
	if !o.haveSecrets() {
		// No usable credentials: invalid without a network call.
		o.apply(att, func() {
			o.profile = nil
			o.setStateLocked(StateSignedOut)
		})
		return false, nil
	}

	incomplete := false
	if err := o.identity.CheckSession(ctx); err != nil {
		if !errors.Is(err, identity.ErrProfileIncomplete) {
			o.invalidate(ctx, att)
			return false, err
		}
		incomplete = true
	}

	profile, err := o.store.Load(ctx)
	if err != nil {
		o.logger.Warn("loading cached profile failed", "error", err)
		profile = nil
	}
	refresh := profile == nil
	if !refresh {
		stale, err := o.store.IsStale(ctx, profileMaxAge)
		if err != nil {
			o.logger.Warn("profile staleness check failed", "error", err)
		}
		refresh = stale
	}
	if refresh {
		fresh, err := o.identity.RefreshProfile(ctx)
		switch {
		case err == nil:
			profile = fresh.Redacted()
			if att.cancelled.Load() {
				return false, nil
			}
			if err := o.store.Save(ctx, fresh); err != nil {
				o.logger.Warn("persisting refreshed profile failed", "error", err)
			}
		case errors.Is(err, identity.ErrProfileIncomplete):
			incomplete = true
		default:
			o.invalidate(ctx, att)
			return false, err
		}
	}

	if !profile.ProfileComplete() {
		incomplete = true
	}
	target := StateAuthenticated
	if incomplete {
		target = StateIncompleteProfile
	}
	o.apply(att, func() {
		o.profile = profile
		o.setStateLocked(target)
	})
	if incomplete {
		// Valid session, unfinished onboarding. Never clears anything.
		return true, identity.ErrProfileIncomplete
	}
	return true, nil
}

// haveSecrets reports whether both token secrets are in the vault.
func (o *Orchestrator) haveSecrets() bool {
	for _, key := range []string{vaultKeyToken, vaultKeyCSRF} {
		buffer, ok, err := o.vault.Get(key)
		if err != nil {
			o.logger.Warn("vault read failed", "key", key, "error", err)
			return false
		}
		if !ok {
			return false
		}
		buffer.Close()
	}
	return true
}

// apply runs f under the mutex unless the attempt was superseded.
func (o *Orchestrator) apply(att *attempt, f func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if att != nil && att.cancelled.Load() {
		return
	}
	f()
}

/// invalidate is the conservative path: clear everything and sign out.
// A superseded attempt applies nothing.
func (o *Orchestrator) invalidate(ctx context.Context, att *attempt) {
	if att != nil && att.cancelled.Load() {
		return
	}
	o.clearLocal(ctx)
	o.apply(att, func() {
		o.profile = nil
		o.setStateLocked(StateSignedOut)
	})
}

// clearLocal wipes the vault's token records and the store's profile
// document. Failures are logged; the state transition proceeds.
func (o *Orchestrator) clearLocal(ctx context.Context) {
	if err := o.vault.ClearAll(); err != nil {
		o.logger.Warn("clearing vault failed", "error", err)
	}
	if err := o.store.Clear(ctx); err != nil {
		o.logger.Warn("clearing session store failed", "error", err)
	}
}

// SignIn authenticates with the federated provider, exchanges the
// proof token for a backend session, and persists it. A concurrent
// sign-in or sign-up fails fast with ErrOperationInProgress.
func (o *Orchestrator) SignIn(ctx context.Context, email string, password *secret.Buffer) error {
	if err := o.beginAuthenticating(); err != nil {
		return err
	}
	proof, verified, err := o.provider.SignIn(ctx, email, password)
	if err != nil {
		o.endAuthenticating(StateSignedOut)
		return identity.ClassifyProvider(err)
	}
	defer proof.Close()
	if !verified {
		if err := o.provider.SendVerificationEmail(ctx); err != nil {
			o.logger.Warn("sending verification email failed", "error", err)
		}
		o.endAuthenticating(StateSignedOut)
		return &identity.Error{Code: identity.CodeEmailNotVerified, Message: email}
	}
	return o.establish(ctx, proof)
}

// SignUp creates the account with the provider, mails the
// verification link, and establishes the backend session.
func (o *Orchestrator) SignUp(ctx context.Context, email string, password *secret.Buffer) error {
	if err := o.beginAuthenticating(); err != nil {
		return err
	}
	proof, err := o.provider.SignUp(ctx, email, password)
	if err != nil {
		o.endAuthenticating(StateSignedOut)
		return identity.ClassifyProvider(err)
	}
	defer proof.Close()
	if err := o.provider.SendVerificationEmail(ctx); err != nil {
		o.logger.Warn("sending verification email failed", "error", err)
	}
	return o.establish(ctx, proof)
}

// establish exchanges the proof token and persists the session.
// Called with the Authenticating guard held; always releases it.
func (o *Orchestrator) establish(ctx context.Context, proof *secret.Buffer) error {
	sess, err := o.identity.ExchangeToken(ctx, proof)
	if err != nil {
		o.endAuthenticating(StateSignedOut)
		return err
	}
	if err := o.persistSession(ctx, sess); err != nil {
		o.endAuthenticating(StateSignedOut)
		return err
	}
	target := StateAuthenticated
	if !sess.ProfileComplete() {
		target = StateIncompleteProfile
	}
	o.mu.Lock()
	o.authenticating = false
	o.profile = sess.Redacted()
	o.lastCheck = o.clock.Now()
	o.setStateLocked(target)
	o.mu.Unlock()
	return nil
}

// persistSession writes both secrets to the vault and the redacted
// profile to the store.
func (o *Orchestrator) persistSession(ctx context.Context, sess *session.Session) error {
	if !sess.Valid() {
		return &identity.Error{Code: identity.CodeUnknown, Message: "exchange response is missing session secrets"}
	}
	if err := o.vault.Put(vaultKeyToken, []byte(sess.Token)); err != nil {
		return fmt.Errorf("auth: storing bearer token: %w", err)
	}
	if err := o.vault.Put(vaultKeyCSRF, []byte(sess.CSRFToken)); err != nil {
		return fmt.Errorf("auth: storing csrf token: %w", err)
	}
	if err := o.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("auth: persisting session: %w", err)
	}
	return nil
}

func (o *Orchestrator) beginAuthenticating() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.authenticating {
		return ErrOperationInProgress
	}
	// Sign-in supersedes any validation still in flight; a stale
	// "invalid" result must not clear the session persisted next.
	if o.current != nil {
		o.current.cancel()
	}
	o.authenticating = true
	o.setStateLocked(StateAuthenticating)
	return nil
}

func (o *Orchestrator) endAuthenticating(to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.authenticating = false
	o.setStateLocked(to)
}

// SignOut tears the session down. The backend and provider calls are
// best-effort; local credentials are always cleared. Supersedes any
// in-flight validation.
func (o *Orchestrator) SignOut(ctx context.Context) error {
	o.cancelCurrent()
	if err := o.identity.SignOut(ctx); err != nil {
		o.logger.Warn("backend sign-out failed", "error", err)
	}
	if err := o.provider.SignOut(ctx); err != nil {
		o.logger.Warn("provider sign-out failed", "error", err)
	}
	o.clearLocal(ctx)
	o.mu.Lock()
	o.profile = nil
	o.lastCheck = time.Time{}
	o.setStateLocked(StateSignedOut)
	o.mu.Unlock()
	return nil
}

// UpdatePassword changes the password, then clears local credentials
// to force re-authentication.
func (o *Orchestrator) UpdatePassword(ctx context.Context, current, next *secret.Buffer) error {
	if err := o.identity.UpdatePassword(ctx, current, next); err != nil {
		return err
	}
	o.teardownLocal(ctx)
	return nil
}

// DeleteAccount removes the account and clears local credentials.
func (o *Orchestrator) DeleteAccount(ctx context.Context, password *secret.Buffer) error {
	if err := o.identity.DeleteAccount(ctx, password); err != nil {
		return err
	}
	o.teardownLocal(ctx)
	return nil
}

// teardownLocal supersedes in-flight validation, clears persistence,
// and publishes SignedOut.
func (o *Orchestrator) teardownLocal(ctx context.Context) {
	o.cancelCurrent()
	o.clearLocal(ctx)
	o.mu.Lock()
	o.profile = nil
	o.lastCheck = time.Time{}
	o.setStateLocked(StateSignedOut)
	o.mu.Unlock()
}

// cancelCurrent supersedes the in-flight validation attempt and
// detaches the shared flight so later callers do not join the
// superseded check.
func (o *Orchestrator) cancelCurrent() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		o.current.cancel()
	}
	o.flight.Forget(flightSessionCheck)
}

// CompleteProfile writes the onboarding fields and, once the display
// name is set, promotes IncompleteProfile to Authenticated.
func (o *Orchestrator) CompleteProfile(ctx context.Context, updates api.Object) error {
	sess, err := o.identity.UpdateProfile(ctx, updates)
	if err != nil {
		return err
	}
	if err := o.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("auth: persisting updated profile: %w", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.profile = sess.Redacted()
	if sess.ProfileComplete() && o.state == StateIncompleteProfile {
		o.setStateLocked(StateAuthenticated)
	}
	return nil
}
