package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTokenTTL is the lifetime of tokens when none is configured.
const DefaultTokenTTL = 15 * time.Minute

var b64 = base64.RawURLEncoding

type claims struct {
	Subject   string `json:"sub"`
	ExpiresAt int64  `json:"exp"`
}

// TokenIssuer issues and verifies short-lived bearer tokens of the form
// base64url(claims) "." base64url(HMAC-SHA256(claims)).
type TokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenIssuer creates a TokenIssuer signing with key. A non-positive ttl
// selects DefaultTokenTTL.
func NewTokenIssuer(key []byte, ttl time.Duration) (*TokenIssuer, error) {
	if len(key) < 16 {
		return nil, errors.New("auth: token signing key must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{key: key, ttl: ttl, now: time.Now}, nil
}

// Issue returns a token for email and the time it expires.
func (t *TokenIssuer) Issue(email string) (string, time.Time, error) {
	expiresAt := t.now().Add(t.ttl).Truncate(time.Second)

	payload, err := json.Marshal(claims{
		Subject:   strings.ToLower(strings.TrimSpace(email)),
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: failed to encode token: %w", err)
	}

	body := b64.EncodeToString(payload)
	return body + "." + b64.EncodeToString(t.mac(body)), expiresAt, nil
}

// Verify checks the token's signature and expiry and returns the email it
// was issued for.
func (t *TokenIssuer) Verify(token string) (string, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", fmt.Errorf("%w: malformed token", ErrUnauthorized)
	}

	got, err := b64.DecodeString(sig)
	if err != nil || !hmac.Equal(got, t.mac(body)) {
		return "", fmt.Errorf("%w: invalid token signature", ErrUnauthorized)
	}

	payload, err := b64.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("%w: malformed token", ErrUnauthorized)
	}
	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return "", fmt.Errorf("%w: malformed token", ErrUnauthorized)
	}

	if !t.now().Before(time.Unix(c.ExpiresAt, 0)) {
		return "", fmt.Errorf("%w: token expired", ErrUnauthorized)
	}
	return c.Subject, nil
}

func (t *TokenIssuer) mac(body string) []byte {
	m := hmac.New(sha256.New, t.key)
	m.Write([]byte(body))
	return m.Sum(nil)
}
