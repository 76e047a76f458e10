// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind classifies a pipeline failure. The set is closed; everything
// above the pipeline dispatches on Kind, never on raw transport or
// HTTP details.
type Kind string

const (
	// KindNetwork is a transport-level failure: timeout, connection
	// lost, offline. The only kind the pipeline ever retries, and
	// only when the underlying cause is transient.
	KindNetwork Kind = "network"

	// KindUnauthorized is an HTTP 401 outside the response envelope.
	KindUnauthorized Kind = "unauthorized"

	// KindServer is a non-zero envelope code or a non-2xx status.
	KindServer Kind = "server"

	// KindDecoding is a 2xx response whose body could not be decoded
	// into the expected shape.
	KindDecoding Kind = "decoding"
)

// Error is the pipeline's classified failure.
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// StatusCode is the HTTP status, when a response was received.
	StatusCode int

	// Code is the envelope code, when the response carried the
	// envelope with a non-zero code.
	Code int

	// Message is the envelope message, the response body excerpt, or
	// the transport error text.
	Message string

	// transient marks network failures worth retrying.
	transient bool

	cause error
}

func (e *Error) Error() string {
	switch {
	case e.Code != 0:
		return fmt.Sprintf("api: server error %d: %s", e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("api: %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("api: %s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Transient reports whether retrying the request could succeed. Only
// network failures are ever transient; decoding, unauthorized, and
// server errors never are.
func (e *Error) Transient() bool { return e.Kind == KindNetwork && e.transient }

// networkError classifies a transport failure.
func networkError(cause error) *Error {
	return &Error{
		Kind:      KindNetwork,
		Message:   cause.Error(),
		transient: isTransient(cause),
		cause:     cause,
	}
}

// isTransient reports whether a transport error is worth retrying:
// timeouts, connection resets and refusals, broken pipes, abrupt
// EOFs, and DNS failures (the offline case). Everything else — TLS
// failures, malformed URLs — is permanent.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	// The per-attempt timeout surfaces as a deadline exceeded on the
	// attempt context.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return false
}
