// Package client talks to a planroom server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tomasbasham/planroom/internal/plan"
)

// Identity headers understood by gated endpoints.
const (
	headerEmail  = "X-User-Email"
	headerSecret = "X-Admin-Pass"
)

// ErrEmptyKey is returned when a download is requested without a key.
var ErrEmptyKey = errors.New("client: key not provided")

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("planroom: response %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status of err if it is an *APIError, and 0
// otherwise.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// SignedURL is a time-limited URL returned by the server.
type SignedURL struct {
	URL         string    `json:"url"`
	Key         string    `json:"key,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ListResult is the body of GET /api/files/list.
type ListResult struct {
	Items     []plan.Record `json:"items"`
	Districts []string      `json:"districts"`
}

// Client provides access to the planroom API. Gated calls are authenticated
// with a bearer token when one is set, and with identity headers otherwise.
type Client struct {
	addr   string
	client *http.Client

	email  string
	secret string
	token  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the http.Client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithIdentity sets the email and shared secret sent to gated endpoints.
func WithIdentity(email, secret string) Option {
	return func(c *Client) {
		c.email = email
		c.secret = secret
	}
}

// WithToken sets a bearer token obtained from OpenSession.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New returns a Client for the server at addr. http.DefaultClient is used
// unless WithHTTPClient is passed.
func New(addr string, opts ...Option) *Client {
	c := &Client{
		addr:   strings.TrimSuffix(addr, "/"),
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OpenSession exchanges the configured identity for a bearer token, which
// the client uses for later gated calls.
func (c *Client) OpenSession(ctx context.Context) (time.Time, error) {
	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/session", nil, &resp); err != nil {
		return time.Time{}, err
	}
	c.token = resp.Token
	return resp.ExpiresAt, nil
}

// IssueUploadURL asks for a signed PUT URL for filename under folder. An
// empty contentType lets the server choose its default.
func (c *Client) IssueUploadURL(ctx context.Context, folder, filename, contentType string) (*SignedURL, error) {
	body := map[string]string{
		"folder":      folder,
		"filename":    filename,
		"contentType": contentType,
	}

	var signed SignedURL
	if err := c.do(ctx, http.MethodPost, "/api/files/upload-url", body, &signed); err != nil {
		return nil, err
	}
	return &signed, nil
}

// Upload PUTs the payload to a URL issued by IssueUploadURL, sending the
// content type the URL was signed for.
func (c *Client) Upload(ctx context.Context, signed *SignedURL, payload io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signed.URL, payload)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", signed.ContentType)

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("client: upload: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return responseError(res)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// Register upserts rec in the index and returns the number of records it
// now holds.
func (c *Client) Register(ctx context.Context, rec plan.Record) (int, error) {
	var resp struct {
		OK    bool `json:"ok"`
		Count int  `json:"count"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/files/register", rec, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// List returns the records matching q.
func (c *Client) List(ctx context.Context, q plan.Query) (*ListResult, error) {
	vs := url.Values{}
	if q.Text != "" {
		vs.Set("q", q.Text)
	}
	if q.District != "" {
		vs.Set("district", q.District)
	}
	if q.Sort != plan.SortIndex {
		vs.Set("sort", string(q.Sort))
	}

	uri := "/api/files/list"
	if len(vs) > 0 {
		uri += "?" + vs.Encode()
	}

	var l ListResult
	if err := c.do(ctx, http.MethodGet, uri, nil, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// IssueDownloadURL asks for a signed GET URL for key.
func (c *Client) IssueDownloadURL(ctx context.Context, key string) (*SignedURL, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	var signed SignedURL
	if err := c.do(ctx, http.MethodPost, "/api/files/download-url", map[string]string{"key": key}, &signed); err != nil {
		return nil, err
	}
	return &signed, nil
}

func (c *Client) do(ctx context.Context, method, uri string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.addr+uri, body)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authenticate(req)

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return responseError(res)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode: %w", err)
	}
	return nil
}

func (c *Client) authenticate(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	if c.email != "" {
		req.Header.Set(headerEmail, c.email)
	}
	if c.secret != "" {
		req.Header.Set(headerSecret, c.secret)
	}
}

// responseError builds an APIError from the JSON error body, falling back to
// the raw body for responses that are not JSON, such as those of a cloud
// storage backend.
func responseError(res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))

	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(res.StatusCode)
	}
	return &APIError{StatusCode: res.StatusCode, Message: msg}
}
