package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nordgo/nordgo/internal/log"
)

const maxBodyBytes = 2 << 20

var (
	// ErrRedirectCeiling means the provider kept redirecting past the
	// configured ceiling. Treated as a protocol mismatch by the flow.
	ErrRedirectCeiling = errors.New("redirect ceiling exceeded")

	// ErrUnexpectedPage means a response did not match any expected page
	// shape.
	ErrUnexpectedPage = errors.New("unexpected page shape")
)

// RedirectContext tracks one login attempt's walk through the provider's
// pages. It is created fresh per attempt and discarded at the terminal
// state; nothing in it survives across attempts.
type RedirectContext struct {
	Current   *url.URL
	Fields    map[string]string
	Redirects int
}

// NewRedirectContext returns an empty context for a fresh attempt.
func NewRedirectContext() *RedirectContext {
	return &RedirectContext{Fields: map[string]string{}}
}

func (rc *RedirectContext) merge(fields map[string]string) {
	for k, v := range fields {
		if v != "" {
			rc.Fields[k] = v
		}
	}
}

// Client fetches provider pages over a shared cookie-jar HTTP client,
// following redirects manually up to a hard ceiling.
type Client struct {
	hc           *http.Client
	maxRedirects int
}

// NewClient wraps hc, which must not follow redirects on its own (see
// httpx.New). maxRedirects bounds every redirect chain.
func NewClient(hc *http.Client, maxRedirects int) *Client {
	if maxRedirects <= 0 {
		maxRedirects = 15
	}
	return &Client{hc: hc, maxRedirects: maxRedirects}
}

// Request describes one emulated browser step.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header

	// Follow walks 3xx responses (within the same chain budget) until a
	// non-redirect response is reached.
	Follow bool
}

// Result is the normalized outcome of a step: status, final URL, raw
// Location for redirects, the body, and the classified page for HTML
// responses.
type Result struct {
	StatusCode int
	FinalURL   *url.URL
	Location   string
	Header     http.Header
	Body       []byte
	Page       *Page
}

// IsRedirect reports whether the result is an HTTP redirect.
func (r *Result) IsRedirect() bool {
	switch r.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Do performs one request, optionally following redirects, updating rc as it
// goes.
func (c *Client) Do(ctx context.Context, rc *RedirectContext, req Request) (*Result, error) {
	res, err := c.doOnce(ctx, rc, req.Method, req.URL, req.Body, req.Header)
	if err != nil {
		return nil, err
	}

	for req.Follow && res.IsRedirect() {
		next, err := c.resolveLocation(rc, res)
		if err != nil {
			return nil, err
		}
		res, err = c.doOnce(ctx, rc, http.MethodGet, next.String(), nil, nil)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Get fetches url following redirects.
func (c *Client) Get(ctx context.Context, rc *RedirectContext, url string) (*Result, error) {
	return c.Do(ctx, rc, Request{Method: http.MethodGet, URL: url, Follow: true})
}

// GetNoRedirect fetches url and returns redirect responses unfollowed so the
// caller can inspect the Location header.
func (c *Client) GetNoRedirect(ctx context.Context, rc *RedirectContext, url string) (*Result, error) {
	return c.Do(ctx, rc, Request{Method: http.MethodGet, URL: url})
}

// PostForm submits values as application/x-www-form-urlencoded.
func (c *Client) PostForm(ctx context.Context, rc *RedirectContext, target string, values url.Values) (*Result, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.Do(ctx, rc, Request{
		Method: http.MethodPost,
		URL:    target,
		Body:   []byte(values.Encode()),
		Header: header,
	})
}

// PostRaw submits a preassembled body with the given content type.
func (c *Client) PostRaw(ctx context.Context, rc *RedirectContext, target, contentType string, body []byte) (*Result, error) {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	return c.Do(ctx, rc, Request{Method: http.MethodPost, URL: target, Body: body, Header: header})
}

func (c *Client) doOnce(ctx context.Context, rc *RedirectContext, method, target string, body []byte, header http.Header) (*Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", target, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", target, err)
	}

	res := &Result{
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL,
		Location:   resp.Header.Get("Location"),
		Header:     resp.Header,
		Body:       data,
	}
	rc.Current = res.FinalURL

	if res.IsRedirect() {
		log.LogDebugWithFields("browser", "Redirect", map[string]any{
			"hop":      rc.Redirects,
			"status":   res.StatusCode,
			"location": res.Location,
		})
	} else {
		res.Page = Classify(data)
		rc.merge(res.Page.Fields)
		log.LogTraceWithFields("browser", "Page fetched", map[string]any{
			"url":    res.FinalURL.String(),
			"status": res.StatusCode,
			"kind":   res.Page.Kind.String(),
			"bytes":  len(data),
		})
	}
	return res, nil
}

func (c *Client) resolveLocation(rc *RedirectContext, res *Result) (*url.URL, error) {
	rc.Redirects++
	if rc.Redirects > c.maxRedirects {
		return nil, fmt.Errorf("%w after %d hops at %s", ErrRedirectCeiling, rc.Redirects-1, res.FinalURL)
	}
	if res.Location == "" {
		return nil, fmt.Errorf("%w: redirect without Location at %s", ErrUnexpectedPage, res.FinalURL)
	}
	next, err := res.FinalURL.Parse(res.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: bad Location %q at %s", ErrUnexpectedPage, res.Location, res.FinalURL)
	}
	return next, nil
}

// NextLocation resolves a redirect's Location header into an absolute URL,
// counting the hop against the chain ceiling. Callers that walk redirects
// themselves must use this so every hop draws from the same budget Do
// enforces.
func (c *Client) NextLocation(rc *RedirectContext, res *Result) (*url.URL, error) {
	return c.resolveLocation(rc, res)
}

// FollowToCode walks the post-approval redirect and auto-submitting-form
// chain starting from res, and intercepts the one-time authorization code
// from a Location header pointing back at brokerHost. The brokerage page
// itself is never loaded: its server-side rendering consumes the code, which
// would make the later session exchange fail.
func (c *Client) FollowToCode(ctx context.Context, rc *RedirectContext, res *Result, brokerHost string) (string, error) {
	for {
		switch {
		case res.IsRedirect():
			next, err := c.resolveLocation(rc, res)
			if err != nil {
				return "", err
			}
			if code := next.Query().Get("code"); code != "" && strings.EqualFold(next.Host, brokerHost) {
				log.LogDebugWithFields("browser", "Intercepted authorization code from redirect", map[string]any{
					"hop": rc.Redirects,
				})
				return code, nil
			}
			res, err = c.doOnce(ctx, rc, http.MethodGet, next.String(), nil, nil)
			if err != nil {
				return "", err
			}

		case res.Page != nil && res.Page.Kind == KindAutoSubmitForm:
			rc.Redirects++
			if rc.Redirects > c.maxRedirects {
				return "", fmt.Errorf("%w in form chain at %s", ErrRedirectCeiling, res.FinalURL)
			}
			form := res.Page.Form
			action, err := res.FinalURL.Parse(form.Action)
			if err != nil {
				return "", fmt.Errorf("%w: bad form action %q", ErrUnexpectedPage, form.Action)
			}
			log.LogDebugWithFields("browser", "Submitting intermediate form", map[string]any{
				"method": form.Method,
				"action": action.String(),
			})
			if form.Method == http.MethodPost {
				res, err = c.PostForm(ctx, rc, action.String(), form.Values)
			} else {
				withQuery := *action
				q := withQuery.Query()
				for k, vs := range form.Values {
					for _, v := range vs {
						q.Add(k, v)
					}
				}
				withQuery.RawQuery = q.Encode()
				res, err = c.doOnce(ctx, rc, http.MethodGet, withQuery.String(), nil, nil)
			}
			if err != nil {
				return "", err
			}

		default:
			// A loaded page carrying the code in its URL means the one-time
			// code may already be spent, but it is still worth returning.
			if res.FinalURL != nil {
				if code := res.FinalURL.Query().Get("code"); code != "" {
					log.LogWarnWithFields("browser", "Page was loaded with code in URL, code may be consumed", map[string]any{
						"url": res.FinalURL.String(),
					})
					return code, nil
				}
			}
			return "", fmt.Errorf("%w: stuck at %s (status %d)", ErrUnexpectedPage, res.FinalURL, res.StatusCode)
		}
	}
}
