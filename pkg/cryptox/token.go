// Package cryptox generates opaque token values and their at-rest
// fingerprints.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// TokenSize256 is the byte length used for access and refresh token values:
// 256 bits of entropy, 43 chars once encoded.
const TokenSize256 = 32

// GenerateToken returns a cryptographically random token value of the given
// byte length, base64url-encoded without padding. Token values carry no
// structure and no embedded state; everything about a token lives in the
// store.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FingerprintToken returns the SHA-256 digest of a token value,
// base64url-encoded. Durable stores key records by fingerprint so a raw
// credential is never an index value, while lookups by presented token stay
// O(1).
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
