// Package pkce implements the Proof Key for Code Exchange primitives
// (RFC 7636) plus the anti-forgery state token used by the authorization
// flow.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const (
	verifierBytes = 32
	stateBytes    = 16
)

// NewVerifier returns a fresh code verifier: 32 bytes of cryptographic
// randomness, base64url encoded without padding (43 characters).
func NewVerifier() string {
	b := make([]byte, verifierBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic("pkce: rand.Read: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// ChallengeS256 derives the S256 code challenge for a verifier:
// base64url(sha256(verifier)), unpadded.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NewState returns an opaque CSRF state token, independent of the
// verifier/challenge pair.
func NewState() string {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		panic("pkce: rand.Read: " + err.Error())
	}
	return hex.EncodeToString(b)
}
