package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Token size constants (in bytes before encoding).
const (
	// TokenSize256 provides 256 bits of entropy (64 hex chars).
	TokenSize256 = 32

	// NonceSize is the number of random bytes behind a CSP nonce (128 bits).
	NonceSize = 16
)

func randomBytes(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate random token: %w", err)
	}
	return buf, nil
}

// GenerateHexToken creates a cryptographically secure random token of the
// specified byte length, hex encoded (lowercase). A TokenSize256 token is the
// 64 character bearer credential handed out for invitations.
func GenerateHexToken(size int) (string, error) {
	buf, err := randomBytes(size)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// GenerateNonce returns a fresh base64 (standard alphabet) nonce suitable for
// the CSP 'nonce-<value>' source expression.
func GenerateNonce() (string, error) {
	buf, err := randomBytes(NonceSize)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// HashToken returns the SHA-256 digest of a token as 64 lowercase hex chars.
//
// This is not password hashing. Tokens passed here carry full entropy from
// GenerateHexToken so a fast one-way hash is the right tool.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// EqualHash compares two digests in constant time.
func EqualHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
