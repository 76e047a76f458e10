// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package secret_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lagoon-social/lagoon-go/lib/secret"
)

func TestNewFromBytesZeroesSource(t *testing.T) {
	source := []byte("hunter2-bearer-token")
	buffer, err := secret.NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	for index, b := range source {
		if b != 0 {
			t.Fatalf("source[%d] = %d, want 0 (source must be zeroed)", index, b)
		}
	}
	if got := buffer.String(); got != "hunter2-bearer-token" {
		t.Errorf("String() = %q, want %q", got, "hunter2-bearer-token")
	}
	if got := buffer.Len(); got != len("hunter2-bearer-token") {
		t.Errorf("Len() = %d, want %d", got, len("hunter2-bearer-token"))
	}
}

func TestEmptyInputsRejected(t *testing.T) {
	if _, err := secret.NewFromBytes(nil); err == nil {
		t.Error("NewFromBytes(nil): expected error")
	}
	if _, err := secret.NewFromString(""); err == nil {
		t.Error("NewFromString(\"\"): expected error")
	}
	if _, err := secret.New(0); err == nil {
		t.Error("New(0): expected error")
	}
}

func TestCloseIsIdempotentAndReadPanics(t *testing.T) {
	buffer, err := secret.NewFromString("csrf-token")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("Bytes() after Close did not panic")
		}
	}()
	buffer.Bytes()
}

func TestEqual(t *testing.T) {
	a, err := secret.NewFromString("token-a")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer a.Close()
	b, err := secret.NewFromString("token-a")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer b.Close()
	c, err := secret.NewFromString("token-c")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer c.Close()

	if !secret.Equal(a, b) {
		t.Error("Equal(a, b) = false, want true")
	}
	if secret.Equal(a, c) {
		t.Error("Equal(a, c) = true, want false")
	}
	if !secret.Equal(a, a) {
		t.Error("Equal(a, a) = false, want true")
	}
	if secret.Equal(a, nil) {
		t.Error("Equal(a, nil) = true, want false")
	}

	closed, err := secret.NewFromString("gone")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	closed.Close()
	if secret.Equal(a, closed) {
		t.Error("Equal with closed buffer = true, want false")
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "password")
	if err := os.WriteFile(path, []byte("s3cret"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	buffer, err := secret.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	defer buffer.Close()
	if got := buffer.String(); got != "s3cret" {
		t.Errorf("String() = %q, want %q", got, "s3cret")
	}

	if _, err := secret.ReadFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("ReadFile(missing): expected error")
	}
}
