// Package apiclient talks to the Rebelz platform API.
//
// Every request goes through Client.Fetch, which attaches the stored bearer
// token and turns a 401 into a logout: the token store is cleared and
// ErrUnauthorized is returned. Resource clients (Events, Registrations, ...)
// are thin typed wrappers over Fetch.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/KobaKhit/rebelzapp-sub001/internal/metrics"
	"github.com/KobaKhit/rebelzapp-sub001/internal/telemetry"
)

const (
	// DefaultBaseURL is used when no API URL is configured.
	DefaultBaseURL = "http://localhost:8000"

	defaultTimeout  = 20 * time.Second
	maxResponseBody = 4 << 20
)

var (
	// ErrUnauthorized means the server rejected the stored token. The token
	// has already been cleared when this is returned.
	ErrUnauthorized = errors.New("session expired or invalid; run 'rebelz login'")

	// ErrInvalidCredentials means /auth/token rejected the username/password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrNotFound matches an *APIError with status 404.
	ErrNotFound = errors.New("not found")

	// ErrForbidden matches an *APIError with status 403.
	ErrForbidden = errors.New("forbidden")
)

// Tokens is the token store as seen by the client.
type Tokens interface {
	Get() (string, bool)
	Clear(ctx context.Context) error
}

// Request describes one API call.
type Request struct {
	Method string
	// Path is appended to the base URL, e.g. "/events/12".
	Path string
	// Route is the path template used for metrics and span names,
	// e.g. "/events/{id}". Defaults to Path.
	Route  string
	Query  url.Values
	Header http.Header
	Body   []byte
	// Anonymous sends no bearer token, and a 401 is returned as a
	// response instead of clearing the store.
	Anonymous bool
}

// Response is a completed HTTP exchange. Non-2xx statuses other than 401
// are returned as-is.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	RequestID string
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRateLimit caps outbound requests at perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// Client is the authenticated platform client.
type Client struct {
	baseURL  string
	tokens   Tokens
	http     *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
	validate *validator.Validate
}

// New returns a client for baseURL (DefaultBaseURL when empty).
func New(baseURL string, tokens Tokens, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("token store is required")
	}
	base, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:  base,
		tokens:   tokens,
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   zap.NewNop(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultBaseURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid api url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid api url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid api url %q: missing host", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// BaseURL returns the resolved API base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// URL resolves path against the base URL.
func (c *Client) URL(path string, query url.Values) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return withQuery(path, query)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return withQuery(c.baseURL+path, query)
}

func withQuery(u string, query url.Values) string {
	if len(query) == 0 {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + query.Encode()
}

// Fetch performs req. JSON content negotiation headers are added unless the
// caller overrides them, and the bearer token is attached when one is
// stored. A 401 on an authenticated request clears the token store and
// returns ErrUnauthorized; there is no retry.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	route := req.Route
	if route == "" {
		route = req.Path
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	requestID := uuid.NewString()
	ctx, span := telemetry.StartRequestSpan(ctx, method, route)

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.URL(req.Path, req.Query), body)
	if err != nil {
		telemetry.EndRequestSpan(span, 0, requestID, err)
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header = c.headers(req)
	httpReq.Header.Set("X-Request-ID", requestID)
	telemetry.Inject(ctx, httpReq.Header)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.RecordRequest(method, route, 0, time.Since(start))
		telemetry.EndRequestSpan(span, 0, requestID, err)
		return nil, fmt.Errorf("api request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	metrics.RecordRequest(method, route, resp.StatusCode, time.Since(start))
	if err != nil {
		telemetry.EndRequestSpan(span, resp.StatusCode, requestID, err)
		return nil, fmt.Errorf("read response: %w", err)
	}
	telemetry.EndRequestSpan(span, resp.StatusCode, requestID, nil)

	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("route", route),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode == http.StatusUnauthorized && !req.Anonymous {
		c.expireSession(ctx)
		return nil, ErrUnauthorized
	}

	return &Response{
		Status:    resp.StatusCode,
		Header:    resp.Header,
		Body:      respBody,
		RequestID: requestID,
	}, nil
}

func (c *Client) headers(req Request) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	for k, vs := range req.Header {
		h.Del(k)
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	if !req.Anonymous && h.Get("Authorization") == "" {
		if tok, ok := c.tokens.Get(); ok {
			h.Set("Authorization", "Bearer "+tok)
		}
	}
	return h
}

// expireSession clears the stored token after the server rejected it.
func (c *Client) expireSession(ctx context.Context) {
	metrics.RecordUnauthorized()
	c.logger.Info("server rejected token, signing out")
	if err := c.tokens.Clear(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("failed to clear token after 401", zap.Error(err))
	}
}
