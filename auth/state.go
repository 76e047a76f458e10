// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth is the session orchestrator: the single writer of the
// credential vault and session store, and the source of truth for the
// client's authentication state.
//
// All state transitions are serialized under one mutex; network calls
// happen outside it, and a superseded validation attempt's completion
// is a no-op on published state.
package auth

import (
	"errors"
	"time"
)

// State is the orchestrator's published authentication state.
type State int

const (
	// StateSignedOut means no usable local credentials exist.
	StateSignedOut State = iota

	// StateAuthenticating is the transient sub-state covering an
	// in-flight sign-in or sign-up. Overlapping attempts fail fast.
	StateAuthenticating

	// StateIncompleteProfile means the session is valid but the
	// account has not finished onboarding (empty display name).
	StateIncompleteProfile

	// StateAuthenticated means the session is valid and the profile
	// is complete.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed-out"
	case StateAuthenticating:
		return "authenticating"
	case StateIncompleteProfile:
		return "incomplete-profile"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Change is one published state transition.
type Change struct {
	From State
	To   State
	At   time.Time
}

// ErrOperationInProgress is returned when a sign-in or sign-up starts
// while another is already in flight.
var ErrOperationInProgress = errors.New("auth: operation already in progress")
