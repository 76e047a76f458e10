// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"connection reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"connection refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "backend.test"}, true},
		{"cancellation", context.Canceled, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := isTransient(test.err); got != test.want {
				t.Errorf("isTransient(%v) = %t, want %t", test.err, got, test.want)
			}
		})
	}
}

func TestErrorUnwrapPreservesCause(t *testing.T) {
	cause := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	err := networkError(cause)
	if err.Kind != KindNetwork {
		t.Errorf("Kind = %q, want %q", err.Kind, KindNetwork)
	}
	if !err.Transient() {
		t.Error("Transient() = false, want true")
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Error("errors.Is(err, ECONNREFUSED) = false, want true")
	}
}
