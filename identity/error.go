// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity exchanges a federated proof-of-identity token for a
// backend session and wraps the session-lifecycle endpoints.
//
// All failures crossing this package's boundary are classified into a
// closed Code taxonomy. Callers upstream never inspect raw provider or
// transport errors.
package identity

import "fmt"

// Code classifies an identity failure. The set is closed: upstream
// logic switches on these and nothing else.
type Code string

const (
	CodeInvalidEmail        Code = "invalid_email"
	CodeInvalidPassword     Code = "invalid_password"
	CodeInvalidCredentials  Code = "invalid_credentials"
	CodeWeakPassword        Code = "weak_password"
	CodeEmailAlreadyInUse   Code = "email_already_in_use"
	CodeUserNotFound        Code = "user_not_found"
	CodeRequiresRecentLogin Code = "requires_recent_login"
	CodeNetworkError        Code = "network_error"
	CodeEmailNotVerified    Code = "email_not_verified"
	CodeTooManyRequests     Code = "too_many_requests"
	CodeProfileIncomplete   Code = "profile_incomplete"
	CodeNotImplemented      Code = "not_implemented"
	CodeUnknown             Code = "unknown"
)

// Error is a classified identity failure. Message carries backend or
// provider detail for logs; Description is what the UI shows.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("identity: %s", e.Code)
	}
	return fmt.Sprintf("identity: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error carrying the same Code, so callers can write
// errors.Is(err, identity.ErrProfileIncomplete).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == e.Code
}

// Description returns the user-facing explanation for the failure.
func (e *Error) Description() string {
	switch e.Code {
	case CodeInvalidEmail:
		return "That email address is not valid."
	case CodeInvalidPassword:
		return "The password is incorrect."
	case CodeInvalidCredentials:
		return "The email or password is incorrect."
	case CodeWeakPassword:
		return "That password is too weak. Use at least 6 characters."
	case CodeEmailAlreadyInUse:
		return "An account with that email already exists."
	case CodeUserNotFound:
		return "No account exists for that email."
	case CodeRequiresRecentLogin:
		return "Please sign in again to continue."
	case CodeNetworkError:
		return "Could not reach the server. Check your connection and try again."
	case CodeEmailNotVerified:
		return "Verify your email address before signing in."
	case CodeTooManyRequests:
		return "Too many attempts. Wait a moment and try again."
	case CodeProfileIncomplete:
		return "Finish setting up your profile to continue."
	case CodeNotImplemented:
		return "This action is not available yet."
	default:
		if e.Message != "" {
			return e.Message
		}
		return "Something went wrong. Please try again."
	}
}

// ErrProfileIncomplete is the non-fatal outcome of a session check
// against an account that has not finished onboarding. It must never
// trigger session invalidation.
var ErrProfileIncomplete = &Error{Code: CodeProfileIncomplete}

func classified(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}
