// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := classified(CodeProfileIncomplete, "display name missing", nil)
	if !errors.Is(err, ErrProfileIncomplete) {
		t.Error("errors.Is(err, ErrProfileIncomplete) = false, want true")
	}
	wrapped := fmt.Errorf("validating session: %w", err)
	if !errors.Is(wrapped, ErrProfileIncomplete) {
		t.Error("errors.Is on wrapped error = false, want true")
	}
	other := classified(CodeNetworkError, "", nil)
	if errors.Is(other, ErrProfileIncomplete) {
		t.Error("network error matched ErrProfileIncomplete")
	}
}

func TestEveryCodeHasADescription(t *testing.T) {
	codes := []Code{
		CodeInvalidEmail, CodeInvalidPassword, CodeInvalidCredentials,
		CodeWeakPassword, CodeEmailAlreadyInUse, CodeUserNotFound,
		CodeRequiresRecentLogin, CodeNetworkError, CodeEmailNotVerified,
		CodeTooManyRequests, CodeProfileIncomplete, CodeNotImplemented,
		CodeUnknown,
	}
	for _, code := range codes {
		err := &Error{Code: code}
		if err.Description() == "" {
			t.Errorf("Description() for %q is empty", code)
		}
	}
}

func TestUnknownDescriptionPrefersMessage(t *testing.T) {
	err := &Error{Code: CodeUnknown, Message: "quota exceeded"}
	if got := err.Description(); got != "quota exceeded" {
		t.Errorf("Description() = %q, want the backend message", got)
	}
}
