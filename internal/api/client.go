// Package api issues authenticated requests to the brokerage. Every request
// carries the current session artifact; an authentication failure triggers
// exactly one re-login and one retry before the error is surfaced.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/nordgo/nordgo/internal/httpx"
	"github.com/nordgo/nordgo/internal/log"
	"github.com/nordgo/nordgo/internal/models"
	"github.com/nordgo/nordgo/internal/session"
)

// ErrAuthenticationFailed means a request still failed authentication after
// the one automatic re-login. Never retried again automatically; the user
// must re-authenticate explicitly.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrNoSession means no session is attached and none could be established.
var ErrNoSession = errors.New("no authenticated session")

// StatusError is a non-auth API failure with the response status and a
// truncated body.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("brokerage API error %d: %s", e.StatusCode, e.Body)
}

// Reauthenticator runs a full login and returns a fresh artifact. The auth
// flow controller satisfies this; it serializes concurrent calls itself.
type Reauthenticator func(ctx context.Context) (*session.Artifact, error)

// Client wraps the brokerage REST endpoints over one shared HTTP client.
type Client struct {
	hc         *http.Client
	store      *session.Store
	login      Reauthenticator
	brokerBase string
	apiBase    string
	identifier string

	mu       sync.Mutex
	artifact *session.Artifact
	bearer   bearerToken
}

// New builds a client. brokerBase hosts the legacy endpoints, apiBase the
// transaction API. identifier keys the persisted session.
func New(hc *http.Client, store *session.Store, login Reauthenticator, brokerBase, apiBase, identifier string) *Client {
	return &Client{
		hc:         hc,
		store:      store,
		login:      login,
		brokerBase: strings.TrimRight(brokerBase, "/"),
		apiBase:    strings.TrimRight(apiBase, "/"),
		identifier: identifier,
	}
}

// Artifact returns the session currently attached, or nil.
func (c *Client) Artifact() *session.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact
}

// EnsureSession attaches a usable session: the persisted one when it still
// probes valid, otherwise a fresh login. force skips the persisted session
// entirely.
func (c *Client) EnsureSession(ctx context.Context, force bool) error {
	c.mu.Lock()
	if c.artifact != nil && !force {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if !force {
		if artifact, ok := c.store.Load(c.identifier); ok {
			if c.store.Probe(ctx, artifact) {
				log.LogDebugWithFields("api", "Reusing persisted session", map[string]any{
					"saved_at": artifact.SavedAt,
				})
				c.adopt(artifact)
				return nil
			}
			log.Logf("Persisted session no longer valid, logging in again")
		}
	}

	return c.renewSession(ctx)
}

// renewSession runs the login flow once and persists the outcome. The
// artifact is adopted even when persisting fails: a store failure degrades
// to a session that only lives for this run.
func (c *Client) renewSession(ctx context.Context) error {
	if c.login == nil {
		return ErrNoSession
	}
	artifact, err := c.login(ctx)
	if err != nil {
		return err
	}
	if err := c.store.Save(c.identifier, artifact); err != nil {
		log.LogWarnWithFields("api", "Could not persist session", map[string]any{"error": err.Error()})
	}
	c.adopt(artifact)
	return nil
}

// adopt installs the artifact: cookies go into the shared jar, headers are
// attached per request. At most one artifact is current at any time.
func (c *Client) adopt(artifact *session.Artifact) {
	if base, err := url.Parse(c.brokerBase); err == nil && c.hc.Jar != nil {
		c.hc.Jar.SetCookies(base, artifact.HTTPCookies())
	}
	c.mu.Lock()
	c.artifact = artifact
	c.bearer = bearerToken{}
	c.mu.Unlock()
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// do sends the request built by build, re-authenticating and retrying
// exactly once on an authentication failure. A second failure surfaces
// ErrAuthenticationFailed and is never retried automatically.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		artifact := c.Artifact()
		if artifact == nil {
			if err := c.EnsureSession(ctx, false); err != nil {
				return nil, err
			}
			artifact = c.Artifact()
		}

		req, err := build()
		if err != nil {
			return nil, err
		}
		for name, value := range artifact.Headers {
			req.Header.Set(name, value)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", req.URL, err)
		}

		if !isAuthFailure(resp.StatusCode) {
			return resp, nil
		}
		resp.Body.Close()

		if attempt > 0 {
			if err := c.store.Invalidate(c.identifier); err != nil {
				log.LogWarnWithFields("api", "Could not remove invalid session", map[string]any{"error": err.Error()})
			}
			return nil, fmt.Errorf("%w: %s still rejected after re-login", ErrAuthenticationFailed, req.URL.Path)
		}

		log.Logf("Session rejected by %s, re-authenticating once", req.URL.Path)
		if err := c.store.Invalidate(c.identifier); err != nil {
			log.LogWarnWithFields("api", "Could not remove invalid session", map[string]any{"error": err.Error()})
		}
		if err := c.renewSession(ctx); err != nil {
			return nil, fmt.Errorf("%w: re-login failed: %s", ErrAuthenticationFailed, err)
		}
	}
}

// getJSON performs an authenticated GET against a legacy endpoint and
// decodes the response. 204 decodes as absent.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.brokerBase+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: httpx.ReadLimited(resp.Body, 200)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Accounts fetches all accounts of the authenticated user.
func (c *Client) Accounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	if err := c.getJSON(ctx, "/api/2/accounts", &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// AccountInfo fetches balance information for one account. The endpoint
// wraps the object in a single-element list.
func (c *Client) AccountInfo(ctx context.Context, accountID int) (*models.AccountInfo, error) {
	var infos []models.AccountInfo
	if err := c.getJSON(ctx, fmt.Sprintf("/api/2/accounts/%d/info", accountID), &infos); err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("account %d: empty info response", accountID)
	}
	info := infos[0]
	info.AccountID = accountID
	return &info, nil
}

// Positions fetches the current holdings of one account.
func (c *Client) Positions(ctx context.Context, accountID int) ([]models.Holding, error) {
	var holdings []models.Holding
	if err := c.getJSON(ctx, fmt.Sprintf("/api/2/accounts/%d/positions", accountID), &holdings); err != nil {
		return nil, err
	}
	return holdings, nil
}

// Trades fetches the executed trades of one account.
func (c *Client) Trades(ctx context.Context, accountID int) ([]models.Trade, error) {
	var trades []models.Trade
	if err := c.getJSON(ctx, fmt.Sprintf("/api/2/accounts/%d/trades", accountID), &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// Orders fetches pending and historical orders of one account.
func (c *Client) Orders(ctx context.Context, accountID int) ([]models.Order, error) {
	var orders []models.Order
	if err := c.getJSON(ctx, fmt.Sprintf("/api/2/accounts/%d/orders", accountID), &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Logout invalidates the persisted and in-memory session.
func (c *Client) Logout() error {
	c.mu.Lock()
	c.artifact = nil
	c.bearer = bearerToken{}
	c.mu.Unlock()
	return c.store.Invalidate(c.identifier)
}
