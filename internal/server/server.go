// Package server provides the HTTP API for uploading, registering and
// browsing plan sets.
//
// Endpoints:
//
//	POST /api/session              exchange identity headers for a bearer token
//	POST /api/files/upload-url     issue a signed PUT URL (gated)
//	POST /api/files/register       upsert a plan set record (gated)
//	GET  /api/files/list           browse the index
//	POST /api/files/download-url   issue a signed GET URL
//	GET  /api/debug                report which settings are configured
//	GET  /healthz                  liveness
//	PUT  /blobs/{key...}           signed upload, when the backend cannot sign
//	GET  /blobs/{key...}           signed download, when the backend cannot sign
//	GET  /metrics                  Prometheus metrics
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tomasbasham/planroom/internal/auth"
	"github.com/tomasbasham/planroom/internal/index"
	"github.com/tomasbasham/planroom/internal/storage"
)

const (
	// DefaultSignTTL is used when SIGN_URL_TTL_SECONDS is unset.
	DefaultSignTTL = 10 * time.Minute

	// DefaultMaxUploadBytes bounds uploads through the blob endpoint.
	DefaultMaxUploadBytes int64 = 512 << 20

	// DefaultContentType is bound to upload URLs when the caller names none.
	DefaultContentType = "application/pdf"
)

// Server holds the dependencies shared across HTTP handlers.
type Server struct {
	index  index.Repository
	signer storage.Signer
	gate   *auth.Gate
	logger *zap.Logger
	mux    *http.ServeMux

	tokens  *auth.TokenIssuer
	limiter *rate.Limiter
	metrics *httpMetrics

	// blobs and verifier are set when signed URLs are served by this server
	// rather than by the object store.
	blobs    storage.ObjectStore
	verifier *storage.HMACSigner

	signTTL        time.Duration
	maxUploadBytes int64
	debugInfo      map[string]any

	registry *prometheus.Registry
	srv      *http.Server
}

// Option configures optional Server behaviour.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithSignTTL sets the lifetime of issued signed URLs.
func WithSignTTL(ttl time.Duration) Option {
	return func(s *Server) { s.signTTL = ttl }
}

// WithTokens enables POST /api/session and bearer authentication.
func WithTokens(tokens *auth.TokenIssuer) Option {
	return func(s *Server) { s.tokens = tokens }
}

// WithBlobProxy serves URLs issued by verifier from store under
// storage.BlobPathPrefix.
func WithBlobProxy(store storage.ObjectStore, verifier *storage.HMACSigner) Option {
	return func(s *Server) {
		s.blobs = store
		s.verifier = verifier
	}
}

// WithMaxUploadBytes bounds the body of uploads through the blob endpoint.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUploadBytes = n }
}

// WithRateLimit limits how often gated endpoints may be called across all
// callers.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(limit, burst) }
}

// WithRegistry exposes HTTP metrics, and anything else registered on reg, at
// GET /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithDebugInfo sets the body served by GET /api/debug.
func WithDebugInfo(info map[string]any) Option {
	return func(s *Server) { s.debugInfo = info }
}

// New creates a Server wired to the given index, signer and gate.
func New(repo index.Repository, signer storage.Signer, gate *auth.Gate, opts ...Option) (*Server, error) {
	s := &Server{
		index:          repo,
		signer:         signer,
		gate:           gate,
		logger:         zap.NewNop(),
		signTTL:        DefaultSignTTL,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry != nil {
		m, err := newHTTPMetrics(s.registry)
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /api/files/upload-url", s.gated(s.handleUploadURL))
	s.mux.HandleFunc("POST /api/files/register", s.gated(s.handleRegister))
	s.mux.HandleFunc("GET /api/files/list", s.handleList)
	s.mux.HandleFunc("POST /api/files/download-url", s.handleDownloadURL)
	s.mux.HandleFunc("GET /api/debug", s.handleDebug)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.tokens != nil {
		s.mux.HandleFunc("POST /api/session", s.limited(s.handleSession))
	}
	if s.verifier != nil && s.blobs != nil {
		s.mux.HandleFunc("PUT "+storage.BlobPathPrefix+"{key...}", s.handleBlobPut)
		s.mux.HandleFunc("GET "+storage.BlobPathPrefix+"{key...}", s.handleBlobGet)
	}
	if s.registry != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	return s, nil
}

// Handler returns the server's root handler with logging and metrics
// middleware applied.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.mux)
}

// ListenAndServe starts the HTTP server on the given address and blocks until
// ctx is cancelled, after which it drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	// No read or write timeout: uploads through the blob endpoint can be
	// large and slow.
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
