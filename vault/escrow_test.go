// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package vault_test

import (
	"log/slog"
	"testing"

	"filippo.io/age"

	"github.com/lagoon-social/lagoon-go/lib/secret"
	"github.com/lagoon-social/lagoon-go/vault"
)

// testRecipient generates a throwaway age recipient for escrow tests.
func testRecipient(t *testing.T) string {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}
	return identity.Recipient().String()
}

func TestEscrowExportImportRoundTrip(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}

	source := openTestVault(t, t.TempDir())
	if err := source.Put("auth_token", []byte("bearer-xyz")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := source.Put("csrf_token", []byte("xsrf-123")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	bundle, err := source.Export([]string{identity.Recipient().String()})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	identityKey, err := secret.NewFromString(identity.String())
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer identityKey.Close()

	// Import into a different vault with a different master key.
	target := openTestVault(t, t.TempDir())
	if err := target.Import(bundle, identityKey); err != nil {
		t.Fatalf("Import: %v", err)
	}

	for key, want := range map[string]string{
		"auth_token": "bearer-xyz",
		"csrf_token": "xsrf-123",
	} {
		got, ok, err := target.Get(key)
		if err != nil || !ok {
			t.Fatalf("Get(%s): ok=%v err=%v", key, ok, err)
		}
		if got.String() != want {
			t.Errorf("Get(%s) = %q, want %q", key, got.String(), want)
		}
		got.Close()
	}
}

func TestExportRequiresRecipients(t *testing.T) {
	v := openTestVault(t, t.TempDir())
	if _, err := v.Export(nil); err == nil {
		t.Error("Export with no recipients succeeded")
	}
	if _, err := v.Export([]string{"not-an-age-key"}); err == nil {
		t.Error("Export with malformed recipient succeeded")
	}
}

func TestImportWithWrongIdentityFails(t *testing.T) {
	recipientIdentity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}
	wrongIdentity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}

	source, err := vault.Open(t.TempDir(), vault.Options{Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer source.Close()
	if err := source.Put("auth_token", []byte("bearer")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	bundle, err := source.Export([]string{recipientIdentity.Recipient().String()})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	wrongKey, err := secret.NewFromString(wrongIdentity.String())
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer wrongKey.Close()

	target := openTestVault(t, t.TempDir())
	if err := target.Import(bundle, wrongKey); err == nil {
		t.Error("Import with non-recipient identity succeeded")
	}
}
