package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// BlobPathPrefix is the path under which the server serves objects for URLs
// issued by HMACSigner.
const BlobPathPrefix = "/blobs/"

// Query parameters carried by URLs issued by HMACSigner.
const (
	queryExpires     = "expires"
	queryContentType = "content_type"
	querySignature   = "signature"
)

// HMACSigner issues signed URLs for backends that cannot sign natively. The
// URLs point at the server's blob endpoint, which must call Verify before
// touching the backend. The signature covers the method, key, bound content
// type and expiry.
type HMACSigner struct {
	baseURL string
	key     []byte
	now     func() time.Time
}

// NewHMACSigner creates an HMACSigner issuing URLs rooted at baseURL (the
// externally reachable address of the server) and signed with key.
func NewHMACSigner(baseURL string, key []byte) (*HMACSigner, error) {
	if len(key) < 16 {
		return nil, errors.New("storage: HMAC signing key must be at least 16 bytes")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("storage: invalid public base URL %q", baseURL)
	}
	return &HMACSigner{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		key:     key,
		now:     time.Now,
	}, nil
}

// SignUpload returns a PUT URL bound to contentType.
func (s *HMACSigner) SignUpload(_ context.Context, key, contentType string, ttl time.Duration) (*SignedURL, error) {
	return s.sign(http.MethodPut, key, contentType, ttl)
}

// SignDownload returns a GET URL for key.
func (s *HMACSigner) SignDownload(_ context.Context, key string, ttl time.Duration) (*SignedURL, error) {
	return s.sign(http.MethodGet, key, "", ttl)
}

func (s *HMACSigner) sign(method, key, contentType string, ttl time.Duration) (*SignedURL, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("storage: signed URL expiry must be positive, got %s", ttl)
	}

	expiresAt := s.now().Add(ttl).Truncate(time.Second)
	expires := expiresAt.Unix()

	q := url.Values{}
	q.Set(queryExpires, strconv.FormatInt(expires, 10))
	if contentType != "" {
		q.Set(queryContentType, contentType)
	}
	q.Set(querySignature, s.signature(method, key, contentType, expires))

	return &SignedURL{
		Key:         key,
		Method:      method,
		URL:         s.baseURL + BlobPathPrefix + escapeKey(key) + "?" + q.Encode(),
		ContentType: contentType,
		ExpiresAt:   expiresAt,
	}, nil
}

// Verify checks that a request for key with the given method and
// Content-Type header is authorised by the signature in query. A tampered or
// foreign URL yields ErrSignatureInvalid, an outdated one
// ErrSignatureExpired, and a PUT whose Content-Type differs from the signed
// one ErrContentTypeMismatch.
func (s *HMACSigner) Verify(method, key, contentType string, query url.Values) error {
	expires, err := strconv.ParseInt(query.Get(queryExpires), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed expiry", ErrSignatureInvalid)
	}

	signedType := query.Get(queryContentType)
	got, err := hex.DecodeString(query.Get(querySignature))
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrSignatureInvalid)
	}
	want, _ := hex.DecodeString(s.signature(method, key, signedType, expires))
	if !hmac.Equal(got, want) {
		return ErrSignatureInvalid
	}

	if !s.now().Before(time.Unix(expires, 0)) {
		return ErrSignatureExpired
	}

	if method == http.MethodPut && contentType != signedType {
		return fmt.Errorf("%w: signed %q, got %q", ErrContentTypeMismatch, signedType, contentType)
	}
	return nil
}

func (s *HMACSigner) signature(method, key, contentType string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s\n%s\n%s\n%d", method, key, contentType, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
