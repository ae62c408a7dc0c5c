package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nordgo/nordgo/internal/httpx"
	"github.com/nordgo/nordgo/internal/log"
)

// refreshMargin forces a token refresh shortly before the exp claim.
const refreshMargin = 30 * time.Second

type bearerToken struct {
	value  string
	expiry time.Time
}

func (t bearerToken) usable() bool {
	if t.value == "" {
		return false
	}
	// Tokens without a readable expiry are used until the server rejects
	// them.
	return t.expiry.IsZero() || time.Until(t.expiry) > refreshMargin
}

// bearerTokenValue returns a JWT for the transaction API, minting a new one
// when none is cached, the cached one is near expiry, or force is set.
func (c *Client) bearerTokenValue(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	cached := c.bearer
	c.mu.Unlock()
	if !force && cached.usable() {
		return cached.value, nil
	}

	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.brokerBase+"/nnxapi/authorization/v1/tokens", strings.NewReader("{}"))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: httpx.ReadLimited(resp.Body, 200)}
	}

	var payload struct {
		JWT string `json:"jwt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.JWT == "" {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: "token response missing jwt"}
	}

	token := bearerToken{value: payload.JWT, expiry: parseJWTExpiry(payload.JWT)}
	c.mu.Lock()
	c.bearer = token
	c.mu.Unlock()

	log.LogDebugWithFields("api", "Bearer token minted", map[string]any{"expiry": token.expiry})
	return token.value, nil
}

// parseJWTExpiry reads the exp claim without verifying the signature. The
// expiry is only client-side bookkeeping to avoid sending a token the
// server is about to reject; the server remains the authority.
func parseJWTExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
