package transport

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/txn2/academy-client/pkg/cache"
)

// Request describes one API call.
type Request struct {
	Method string
	Path   string
	Body   any
	Params url.Values
	Header http.Header

	UseCache           bool
	CacheTTL           time.Duration
	SkipProgramContext bool
	SkipInterceptors   bool
	NoRetry            bool
}

// RequestOption customizes a Request.
type RequestOption func(*Request)

// WithParams adds query parameters.
func WithParams(params url.Values) RequestOption {
	return func(r *Request) {
		if r.Params == nil {
			r.Params = url.Values{}
		}
		for k, vs := range params {
			for _, v := range vs {
				r.Params.Add(k, v)
			}
		}
	}
}

// WithParam adds a single query parameter.
func WithParam(key, value string) RequestOption {
	return WithParams(url.Values{key: {value}})
}

// WithCache enables the response cache for the request. A zero ttl uses
// the client default.
func WithCache(ttl time.Duration) RequestOption {
	return func(r *Request) {
		r.UseCache = true
		r.CacheTTL = ttl
	}
}

// WithoutCache bypasses the response cache.
func WithoutCache() RequestOption {
	return func(r *Request) {
		r.UseCache = false
	}
}

// SkipProgramContext omits the X-Program-Context header.
func SkipProgramContext() RequestOption {
	return func(r *Request) {
		r.SkipProgramContext = true
	}
}

// SkipInterceptors keeps the error interceptors from seeing a failure.
func SkipInterceptors() RequestOption {
	return func(r *Request) {
		r.SkipInterceptors = true
	}
}

// NoRetry sends the request exactly once.
func NoRetry() RequestOption {
	return func(r *Request) {
		r.NoRetry = true
	}
}

// WithHeader sets an extra request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = http.Header{}
		}
		r.Header.Set(key, value)
	}
}

// ProgramSource supplies the active program ID.
type ProgramSource interface {
	ProgramID() string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithCacheManager enables response caching.
func WithCacheManager(m *cache.Manager) Option {
	return func(c *Client) {
		c.cache = m
	}
}

// WithProgramSource sets where the X-Program-Context value comes from.
func WithProgramSource(src ProgramSource) Option {
	return func(c *Client) {
		c.programs = src
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}
