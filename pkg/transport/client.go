// Package transport sends authenticated, program-scoped requests to the
// academy API and returns every result as a Response envelope.
//
// GET requests (and POST queries) can be served from a cache.Manager.
// Network failures and 5xx responses are retried under a retry.Policy.
// Every failed request runs through the registered error interceptors.
// HTTP failures come back as an unsuccessful Response with a nil error.
// Only transport failures are returned as errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/txn2/academy-client/pkg/auth"
	"github.com/txn2/academy-client/pkg/cache"
	"github.com/txn2/academy-client/pkg/retry"
)

// Header names sent by the client.
const (
	HeaderAuthorization  = "Authorization"
	HeaderProgramContext = "X-Program-Context"
	HeaderRequestID      = "X-Request-ID"
)

const (
	// DefaultCacheTTL applies when a cached request gives no TTL.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent identifies the client to the API.
	DefaultUserAgent = "academy-client"

	maxResponseBytes = 10 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	CacheTTL  time.Duration
	Retry     retry.Policy
}

// ErrorInterceptor observes a failed request. err is a *StatusError or a
// *TransportError.
type ErrorInterceptor func(ctx context.Context, err error)

// Client is the HTTP transport shared by all domain services.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	cache     *cache.Manager
	programs  ProgramSource
	logger    *slog.Logger
	retry     retry.Policy
	userAgent string
	cacheTTL  time.Duration

	mu           sync.RWMutex
	tokens       auth.Tokens
	interceptors []ErrorInterceptor
}

// New creates a transport client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https: %q", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	c := &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    slog.Default(),
		retry:     cfg.Retry.WithDefaults(),
		userAgent: cfg.UserAgent,
		cacheTTL:  cfg.CacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetTokens installs credentials used for the Authorization header.
func (c *Client) SetTokens(t auth.Tokens) {
	c.mu.Lock()
	c.tokens = t
	c.mu.Unlock()
}

// ClearTokens drops the installed credentials.
func (c *Client) ClearTokens() {
	c.mu.Lock()
	c.tokens = auth.Tokens{}
	c.mu.Unlock()
}

// Tokens returns the installed credentials.
func (c *Client) Tokens() auth.Tokens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// Authenticated reports whether an access token is installed.
func (c *Client) Authenticated() bool {
	return !c.Tokens().Empty()
}

// UseErrorInterceptor appends fn to the interceptor chain.
func (c *Client) UseErrorInterceptor(fn ErrorInterceptor) {
	c.mu.Lock()
	c.interceptors = append(c.interceptors, fn)
	c.mu.Unlock()
}

// InvalidateCache removes cached responses whose key matches pattern.
func (c *Client) InvalidateCache(ctx context.Context, pattern string) (int, error) {
	if c.cache == nil {
		return 0, nil
	}
	return c.cache.InvalidatePattern(ctx, pattern)
}

// ClearCache removes every cached response.
func (c *Client) ClearCache(ctx context.Context) {
	if c.cache != nil {
		c.cache.Clear(ctx)
	}
}

// NewRequest builds a Request for method and path.
func NewRequest(method, path string, body any, opts ...RequestOption) Request {
	req := Request{Method: method, Path: path, Body: body}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// Do sends req. A non-2xx status yields an unsuccessful Response and a nil
// error. Only a failure to reach the server returns an error.
func (c *Client) Do(ctx context.Context, req Request) (*RawResponse, error) {
	return c.do(ctx, req, nil)
}

// do is Do with an optional check run on a fresh successful response before
// it is cached. A response that fails the check is returned but not cached.
func (c *Client) do(ctx context.Context, req Request, check func(*RawResponse) error) (*RawResponse, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	var body []byte
	if req.Body != nil {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	programID := ""
	if !req.SkipProgramContext && c.programs != nil {
		programID = c.programs.ProgramID()
	}

	cacheable := req.UseCache && c.cache != nil &&
		(req.Method == http.MethodGet || req.Method == http.MethodPost)
	var key string
	if cacheable {
		key = CacheKey(req.Method, req.Path, req.Params, programID, body)
		var hit RawResponse
		if c.cache.Get(ctx, key, &hit) {
			hit.Cached = true
			hit.StatusCode = http.StatusOK
			c.logger.Debug("transport: cache hit", "key", key)
			return &hit, nil
		}
	}

	requestID := uuid.NewString()
	send := func(ctx context.Context) (*exchange, error) {
		return c.roundTrip(ctx, req, body, programID, requestID)
	}

	var (
		ex  *exchange
		err error
	)
	if req.NoRetry {
		ex, err = send(ctx)
	} else {
		ex, err = retry.Do(ctx, c.retry, send, IsRetryable, retry.WithLogger(c.logger))
	}

	if err != nil {
		if !req.SkipInterceptors {
			c.intercept(ctx, err)
		}
		var se *StatusError
		if errors.As(err, &se) {
			return &RawResponse{
				Success:    false,
				Error:      se.Message,
				Message:    serverMessage(se.Body),
				StatusCode: se.StatusCode,
			}, nil
		}
		return nil, err
	}

	resp := normalizeSuccess(ex.status, ex.body)
	if cacheable && resp.Success {
		if check != nil {
			if err := check(resp); err != nil {
				c.logger.Debug("transport: response not cached", "key", key, "error", err)
				return resp, nil
			}
		}
		ttl := req.CacheTTL
		if ttl <= 0 {
			ttl = c.cacheTTL
		}
		c.cache.SetWithTTL(ctx, key, resp, ttl)
	}
	return resp, nil
}

// exchange is a completed 2xx HTTP exchange.
type exchange struct {
	status int
	body   []byte
}

func (c *Client) roundTrip(ctx context.Context, req Request, body []byte, programID, requestID string) (*exchange, error) {
	target := c.resolve(req.Path, req.Params)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(HeaderRequestID, requestID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token := c.Tokens().AccessToken; token != "" {
		httpReq.Header.Set(HeaderAuthorization, "Bearer "+token)
	}
	if programID != "" {
		httpReq.Header.Set(HeaderProgramContext, programID)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, newTransportError(req.Method, req.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, newTransportError(req.Method, req.Path, fmt.Errorf("reading response body: %w", err))
	}

	c.logger.Debug("transport: request completed",
		"method", req.Method, "path", req.Path, "status", resp.StatusCode,
		"request_id", requestID, "duration", time.Since(start))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, newStatusError(req.Method, req.Path, resp.StatusCode, errorMessage(resp.StatusCode, data), data)
	}
	return &exchange{status: resp.StatusCode, body: data}, nil
}

func (c *Client) resolve(path string, params url.Values) string {
	u := *c.baseURL
	// path arrives escaped from the services' URI templates.
	raw := strings.TrimRight(c.baseURL.EscapedPath(), "/") + "/" + strings.TrimLeft(path, "/")
	if p, err := url.PathUnescape(raw); err == nil {
		u.Path, u.RawPath = p, raw
	} else {
		u.Path, u.RawPath = raw, ""
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

func (c *Client) intercept(ctx context.Context, err error) {
	c.mu.RLock()
	chain := make([]ErrorInterceptor, len(c.interceptors))
	copy(chain, c.interceptors)
	c.mu.RUnlock()

	for _, fn := range chain {
		fn(ctx, err)
	}
}

// CacheKey builds the cache key for a request:
// METHOD:path?sortedQuery, then |program=<id> and |body=<json> when present.
func CacheKey(method, path string, params url.Values, programID string, body []byte) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(':')
	b.WriteString(path)
	if len(params) > 0 {
		b.WriteByte('?')
		b.WriteString(params.Encode())
	}
	if programID != "" {
		b.WriteString("|program=")
		b.WriteString(programID)
	}
	if len(body) > 0 {
		b.WriteString("|body=")
		b.Write(body)
	}
	return b.String()
}

// Get sends a GET request and decodes the data into T.
func Get[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (*Response[T], error) {
	return send[T](ctx, c, NewRequest(http.MethodGet, path, nil, opts...))
}

// Post sends a POST request with body and decodes the data into T.
func Post[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (*Response[T], error) {
	return send[T](ctx, c, NewRequest(http.MethodPost, path, body, opts...))
}

// Put sends a PUT request with body and decodes the data into T.
func Put[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (*Response[T], error) {
	return send[T](ctx, c, NewRequest(http.MethodPut, path, body, opts...))
}

// Patch sends a PATCH request with body and decodes the data into T.
func Patch[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (*Response[T], error) {
	return send[T](ctx, c, NewRequest(http.MethodPatch, path, body, opts...))
}

// Delete sends a DELETE request and decodes the data into T.
func Delete[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (*Response[T], error) {
	return send[T](ctx, c, NewRequest(http.MethodDelete, path, nil, opts...))
}

// send decodes the response into T. Only data that decodes is cached. When
// the data does not decode, the envelope is still returned with the error,
// since the server has already handled the request.
func send[T any](ctx context.Context, c *Client, req Request) (*Response[T], error) {
	raw, err := c.do(ctx, req, func(raw *RawResponse) error {
		_, err := Decode[T](raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return Decode[T](raw)
}
