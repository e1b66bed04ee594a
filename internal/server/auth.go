package server

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Identity headers, as sent by the admin upload page.
const (
	HeaderEmail  = "X-User-Email"
	HeaderSecret = "X-Admin-Pass"
)

type callerKey struct{}

func callerFrom(ctx context.Context) string {
	email, _ := ctx.Value(callerKey{}).(string)
	return email
}

// gated admits a request that carries either a valid bearer token or
// identity headers accepted by the gate. Denials are 403 with the reason.
func (s *Server) gated(next http.HandlerFunc) http.HandlerFunc {
	return s.limited(func(w http.ResponseWriter, r *http.Request) {
		email, err := s.authenticate(r)
		if err != nil {
			s.logger.Info("request denied",
				zap.String("path", r.URL.Path),
				zap.String("email", email),
				zap.Error(err),
			)
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, email)))
	})
}

func (s *Server) authenticate(r *http.Request) (string, error) {
	if token, ok := bearerToken(r); ok && s.tokens != nil {
		email, err := s.tokens.Verify(token)
		if err != nil {
			return "", err
		}
		// Tokens outlive configuration changes; keep the domain rule current.
		return email, s.gate.CheckEmail(email)
	}

	email := r.Header.Get(HeaderEmail)
	return email, s.gate.Check(email, r.Header.Get(HeaderSecret))
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// limited rejects requests with 429 once the shared limiter is exhausted.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many requests, retry shortly")
			return
		}
		next(w, r)
	}
}
