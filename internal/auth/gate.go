// Package auth decides whether a caller may issue upload URLs or change the
// index. A Gate admits callers whose email belongs to the configured domain
// and who present the shared secret; a TokenIssuer exchanges an admitted
// identity for a short-lived bearer token so the secret need not travel with
// every request.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized is returned for every denied request. Denials are final
// for that request.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Gate is a stateless allow-rule over caller identity.
type Gate struct {
	domain string
	secret string
}

// NewGate creates a Gate admitting emails at domain that present secret.
// Both are required.
func NewGate(domain, secret string) (*Gate, error) {
	domain = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(domain), "@")))
	secret = strings.TrimSpace(secret)

	if domain == "" {
		return nil, errors.New("auth: allowed email domain is required")
	}
	if secret == "" {
		return nil, errors.New("auth: shared secret is required")
	}
	return &Gate{domain: domain, secret: secret}, nil
}

// Authorize reports whether email and secret are admitted.
func (g *Gate) Authorize(email, secret string) bool {
	return g.Check(email, secret) == nil
}

// Check returns nil when email and secret are admitted, and an error wrapping
// ErrUnauthorized that names the failed rule otherwise.
func (g *Gate) Check(email, secret string) error {
	if err := g.CheckEmail(email); err != nil {
		return err
	}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("%w: missing secret", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(g.secret)) != 1 {
		return fmt.Errorf("%w: invalid secret", ErrUnauthorized)
	}
	return nil
}

// CheckEmail applies only the domain rule. The domain part of email must equal
// the configured domain, ignoring case.
func (g *Gate) CheckEmail(email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("%w: missing email", ErrUnauthorized)
	}

	at := strings.LastIndexByte(email, '@')
	if at <= 0 || email[at+1:] != g.domain {
		return fmt.Errorf("%w: email domain not allowed", ErrUnauthorized)
	}
	return nil
}

// Domain returns the configured email domain.
func (g *Gate) Domain() string {
	return g.domain
}
