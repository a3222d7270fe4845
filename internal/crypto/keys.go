package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes derived from the session secret. Each purpose yields an
// independent 32-byte key so a leak of one does not expose the others.
const (
	PurposeStateSigning   = "authbridge/state-envelope"
	PurposeSessionCookie  = "authbridge/session-cookie"
	PurposeSessionStorage = "authbridge/session-storage"
)

// DeriveKey expands secret into a 32-byte key bound to purpose.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret is empty")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", purpose, err)
	}
	return key, nil
}
