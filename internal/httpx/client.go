// Package httpx builds the HTTP client shared by the login flow and the API
// client: one cookie jar, optional SOCKS5 proxy, and no automatic redirect
// following (the browser emulation layer walks redirects itself so it can
// inspect Location headers before they are consumed).
package httpx

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"
)

// DefaultTimeout bounds every request outside the approval poll loop.
const DefaultTimeout = 30 * time.Second

// Options configures the shared HTTP client.
type Options struct {
	// SOCKS5Proxy is a host:port address. Empty means direct connection.
	SOCKS5Proxy string

	// Timeout is the per-request timeout. Zero means DefaultTimeout.
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// New returns an HTTP client with a public-suffix-aware cookie jar. The jar
// is owned by a single login attempt at a time; callers must not share the
// client across concurrent attempts.
func New(opts Options) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
	}

	if opts.SOCKS5Proxy != "" {
		dialer, err := proxy.SOCKS5("tcp", opts.SOCKS5Proxy, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("create SOCKS5 dialer for %s: %w", opts.SOCKS5Proxy, err)
		}
		if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = ctxDialer.DialContext
		} else {
			return nil, fmt.Errorf("SOCKS5 dialer for %s does not support context dialing", opts.SOCKS5Proxy)
		}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}
