package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// StateIDBytes is the entropy of a login attempt identifier.
const StateIDBytes = 16

// GenerateSecureToken creates a cryptographically secure random token,
// base64 URL-encoded.
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// GenerateRandomHex returns n random bytes hex-encoded. n below
// StateIDBytes is raised to StateIDBytes.
func GenerateRandomHex(n int) (string, error) {
	if n < StateIDBytes {
		n = StateIDBytes
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
