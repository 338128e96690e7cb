package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/miguelbtcode/techmart-backend-sub002/config"
)

// NewRawRefreshToken returns a URL-safe random token carrying at least
// config.MinRefreshTokenBytes bytes of entropy.
func NewRawRefreshToken(size int) (string, error) {
	if size < config.MinRefreshTokenBytes {
		size = config.MinRefreshTokenBytes
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRefreshToken is the only form of a refresh token that is ever stored.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
