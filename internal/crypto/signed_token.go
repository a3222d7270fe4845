package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned for malformed or tampered tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a token outlived its TTL.
	ErrTokenExpired = errors.New("token expired")
)

// TokenSigner provides HMAC-signed JSON tokens with optional expiry
type TokenSigner struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewTokenSigner creates a new token signer. A zero ttl disables expiry.
func NewTokenSigner(signingKey []byte, ttl time.Duration) TokenSigner {
	return TokenSigner{
		signingKey: signingKey,
		ttl:        ttl,
		now:        time.Now,
	}
}

// TokenData wraps user data with metadata
type TokenData struct {
	Data      json.RawMessage `json:"data"`
	ExpiresAt time.Time       `json:"expires_at,omitzero"`
}

// Sign marshals v, wraps it with its expiry and returns "<base64 json>.<signature>".
func (ts *TokenSigner) Sign(v any) (string, error) {
	userData, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data: %w", err)
	}

	tokenData := TokenData{Data: userData}
	if ts.ttl > 0 {
		tokenData.ExpiresAt = ts.now().Add(ts.ttl)
	}

	jsonData, err := json.Marshal(tokenData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token data: %w", err)
	}

	signature := SignData(string(jsonData), ts.signingKey)
	return base64.URLEncoding.EncodeToString(jsonData) + "." + signature, nil
}

// Verify validates the signature, checks expiry, and unmarshals the data into v.
func (ts *TokenSigner) Verify(token string, v any) error {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(signature, ".") {
		return fmt.Errorf("%w: format", ErrInvalidToken)
	}

	jsonData, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: decode: %v", ErrInvalidToken, err)
	}

	if !ValidateSignedData(string(jsonData), signature, ts.signingKey) {
		return fmt.Errorf("%w: signature", ErrInvalidToken)
	}

	var tokenData TokenData
	if err := json.Unmarshal(jsonData, &tokenData); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", ErrInvalidToken, err)
	}

	if !tokenData.ExpiresAt.IsZero() && ts.now().After(tokenData.ExpiresAt) {
		return ErrTokenExpired
	}

	if err := json.Unmarshal(tokenData.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal user data: %w", err)
	}
	return nil
}
