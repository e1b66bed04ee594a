package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	g, err := NewGate("maciasspecialty.com", "s3cret")
	require.NoError(t, err)
	return g
}

func TestNewGateRequiresDomainAndSecret(t *testing.T) {
	_, err := NewGate("", "s3cret")
	assert.Error(t, err)

	_, err = NewGate("maciasspecialty.com", "  ")
	assert.Error(t, err)

	g, err := NewGate(" @MaciasSpecialty.com ", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "maciasspecialty.com", g.Domain())
}

func TestGateAuthorize(t *testing.T) {
	g := newTestGate(t)

	tests := []struct {
		name   string
		email  string
		secret string
		want   bool
	}{
		{"outside domain", "contractor@outside.com", "s3cret", false},
		{"admin with secret", "admin@maciasspecialty.com", "s3cret", true},
		{"admin mixed case with whitespace", "  Admin@MaciasSpecialty.COM ", " s3cret ", true},
		{"admin wrong secret", "admin@maciasspecialty.com", "guess", false},
		{"admin missing secret", "admin@maciasspecialty.com", "", false},
		{"subdomain", "admin@evil.maciasspecialty.com", "s3cret", false},
		{"suffix attack", "admin@notmaciasspecialty.com", "s3cret", false},
		{"domain in local part", "maciasspecialty.com@outside.com", "s3cret", false},
		{"no local part", "@maciasspecialty.com", "s3cret", false},
		{"missing email", "", "s3cret", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Authorize(tt.email, tt.secret))
		})
	}
}

func TestGateCheckNamesTheFailedRule(t *testing.T) {
	g := newTestGate(t)

	err := g.Check("contractor@outside.com", "s3cret")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "domain")

	err = g.Check("admin@maciasspecialty.com", "guess")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "secret")
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	issuer, err := NewTokenIssuer([]byte("0123456789abcdef"), 10*time.Minute)
	require.NoError(t, err)
	issuer.now = func() time.Time { return now }

	token, expiresAt, err := issuer.Issue("Admin@MaciasSpecialty.com")
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Minute), expiresAt)

	email, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "admin@maciasspecialty.com", email)

	issuer.now = func() time.Time { return expiresAt }
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokenRejectsTampering(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("0123456789abcdef"), 0)
	require.NoError(t, err)

	token, _, err := issuer.Issue("admin@maciasspecialty.com")
	require.NoError(t, err)

	body, sig, _ := strings.Cut(token, ".")
	forgedBody := b64.EncodeToString([]byte(`{"sub":"admin@maciasspecialty.com","exp":9999999999}`))

	for name, tok := range map[string]string{
		"forged claims": forgedBody + "." + sig,
		"truncated":     body,
		"bad signature": body + ".AAAA",
		"empty":         "",
	} {
		_, err := issuer.Verify(tok)
		assert.ErrorIs(t, err, ErrUnauthorized, name)
	}

	other, err := NewTokenIssuer([]byte("fedcba9876543210"), 0)
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
