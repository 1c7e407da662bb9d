// Package httpclient builds the outbound HTTP client used for external
// APIs: pooled connections, bounded dial and header timeouts, and a fixed
// User-Agent on every request.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds a whole request when the caller sets none.
	DefaultTimeout = 30 * time.Second

	defaultMaxIdleConns          = 100
	defaultMaxIdleConnsPerHost   = 10
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultDialTimeout           = 30 * time.Second
	defaultDialKeepAlive         = 30 * time.Second

	defaultUserAgent = "idconsensus"
)

// Config holds configuration for creating an HTTP client. Zero values take
// the package defaults.
type Config struct {
	Timeout               time.Duration
	UserAgent             string
	MaxIdleConnsPerHost   int
	ResponseHeaderTimeout time.Duration

	// AfterResponse, when set, is called once per round trip with the
	// elapsed time and the transport error, if any.
	AfterResponse func(req *http.Request, resp *http.Response, elapsed time.Duration, err error)
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}
	if c.ResponseHeaderTimeout <= 0 {
		c.ResponseHeaderTimeout = defaultResponseHeaderTimeout
	}
}

// New returns an *http.Client configured from cfg. The caller's cfg is not
// modified.
func New(cfg Config) *http.Client {
	cfg.applyDefaults()

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultDialKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
	}

	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &roundTripper{
			next:          transport,
			userAgent:     cfg.UserAgent,
			afterResponse: cfg.AfterResponse,
		},
	}
}

// roundTripper injects the User-Agent and reports each round trip.
type roundTripper struct {
	next          http.RoundTripper
	userAgent     string
	afterResponse func(*http.Request, *http.Response, time.Duration, error)
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		// RoundTrip must not modify the caller's request
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", rt.userAgent)
	}

	start := time.Now()
	resp, err := rt.next.RoundTrip(req)
	if rt.afterResponse != nil {
		rt.afterResponse(req, resp, time.Since(start), err)
	}
	return resp, err
}
