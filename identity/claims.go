// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lagoon-social/lagoon-go/lib/secret"
)

// Claims is the subset of proof-token claims the client reads for
// logging and display. The token is parsed without signature
// verification — only the backend verifies proof tokens, and nothing
// here is trusted for authorization.
type Claims struct {
	Subject       string
	Email         string
	EmailVerified bool
	ExpiresAt     time.Time
}

type proofClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// ProofClaims decodes the proof token's claims without verifying its
// signature.
func ProofClaims(proof *secret.Buffer) (*Claims, error) {
	var claims proofClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(proof.String(), &claims); err != nil {
		return nil, fmt.Errorf("identity: parsing proof token: %w", err)
	}
	decoded := &Claims{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}
	if claims.ExpiresAt != nil {
		decoded.ExpiresAt = claims.ExpiresAt.Time
	}
	return decoded, nil
}
