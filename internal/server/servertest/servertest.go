// Package servertest runs a planroom server over a loopback listener for
// tests of its HTTP clients.
package servertest

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tomasbasham/planroom/internal/auth"
	"github.com/tomasbasham/planroom/internal/index"
	"github.com/tomasbasham/planroom/internal/server"
	"github.com/tomasbasham/planroom/internal/storage"
)

// Credentials accepted by servers started with New.
const (
	Domain = "maciasspecialty.com"
	Email  = "admin@maciasspecialty.com"
	Secret = "s3cret"
)

// Server is a running planroom server backed by memory.
type Server struct {
	*httptest.Server
	Store *storage.MemoryStore
}

// New starts a server whose signed URLs point back at itself. It is closed
// when the test finishes.
func New(t testing.TB, opts ...server.Option) *Server {
	t.Helper()

	// The signer needs the listener's address before the handler exists.
	var handler atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Load().(http.Handler).ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	store := storage.NewMemoryStore()

	signer, err := storage.NewHMACSigner(ts.URL, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	gate, err := auth.NewGate(Domain, Secret)
	require.NoError(t, err)

	tokens, err := auth.NewTokenIssuer([]byte("fedcba9876543210fedcba9876543210"), time.Minute)
	require.NoError(t, err)

	opts = append([]server.Option{
		server.WithBlobProxy(store, signer),
		server.WithTokens(tokens),
	}, opts...)

	srv, err := server.New(index.NewDocumentRepository(store, zap.NewNop()), signer, gate, opts...)
	require.NoError(t, err)
	handler.Store(srv.Handler())

	return &Server{Server: ts, Store: store}
}
