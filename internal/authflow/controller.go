// Package authflow drives the multi-step MitID/Signicat login handshake and
// converts its outcome into a reusable session artifact.
//
// One Controller serves many attempts, but each attempt gets a fresh
// browser.RedirectContext and shares nothing with other attempts beyond the
// cookie jar of the injected HTTP client. Attempts for the same user
// identifier are serialized: a Run that arrives while another is in flight
// joins its outcome instead of starting a second handshake.
package authflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/nordgo/nordgo/internal/browser"
	"github.com/nordgo/nordgo/internal/log"
	"github.com/nordgo/nordgo/internal/session"
)

// Credentials start one login attempt. Never persisted; the artifact is the
// only thing that outlives the attempt.
type Credentials struct {
	// UserID is the MitID user identifier.
	UserID string

	// Method selects the MitID authenticator, e.g. "APP".
	Method string

	// Password is only used by non-app authenticator methods.
	Password string
}

// ProgressFunc receives state transitions with a human-readable status. It
// is invoked from the goroutine executing the flow and must be safe to call
// off the interactive thread.
type ProgressFunc func(state State, message string)

// PromptFunc asks the user for out-of-band input (the CPR number during the
// one-time identity-linking step).
type PromptFunc func(ctx context.Context, prompt string) (string, error)

// Config holds the provider and brokerage endpoints plus the poll bounds.
type Config struct {
	// BrokerBaseURL is the brokerage web origin, e.g. https://www.nordnet.dk.
	BrokerBaseURL string

	// APIBaseURL is the brokerage's separate API origin hosting the signicat
	// start endpoint, e.g. https://api.prod.nntech.io.
	APIBaseURL string

	// AuthorizeURL is the provider authorize endpoint used only as a
	// fallback when the start endpoint does not hand out a request URI.
	AuthorizeURL string

	// ClientID is the OIDC client id for the fallback authorize URL.
	ClientID string

	// PollInterval is the fixed delay between approval polls.
	PollInterval time.Duration

	// ApprovalMaxWait bounds the whole approval wait.
	ApprovalMaxWait time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BrokerBaseURL == "" {
		out.BrokerBaseURL = "https://www.nordnet.dk"
	}
	if out.APIBaseURL == "" {
		out.APIBaseURL = "https://api.prod.nntech.io"
	}
	if out.AuthorizeURL == "" {
		out.AuthorizeURL = "https://nordnet-login.app.signicat.com/auth/open/connect/authorize"
	}
	if out.ClientID == "" {
		out.ClientID = "prod-joyous-bag-934"
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 2 * time.Second
	}
	if out.ApprovalMaxWait <= 0 {
		out.ApprovalMaxWait = 5 * time.Minute
	}
	return out
}

func (c *Config) redirectURI() string { return c.BrokerBaseURL + "/login" }
func (c *Config) loginPageURL() string { return c.BrokerBaseURL + "/logind" }
func (c *Config) startURL() string {
	return c.APIBaseURL + "/authentication/v2/methods/signicat/start"
}
func (c *Config) sessionsURL() string {
	return c.BrokerBaseURL + "/nnxapi/authentication/v2/sessions"
}
func (c *Config) legacyLoginURL() string {
	return c.BrokerBaseURL + "/api/2/authentication/nnx-session/login"
}

// Controller owns the login state machine.
type Controller struct {
	cfg     Config
	hc      *http.Client
	browser *browser.Client
	report  ProgressFunc
	prompt  PromptFunc
	group   singleflight.Group
}

// NewController builds a controller over hc, which must carry a cookie jar
// and must not follow redirects on its own (httpx.New). report and prompt
// may be nil.
func NewController(cfg Config, hc *http.Client, bc *browser.Client, report ProgressFunc, prompt PromptFunc) *Controller {
	return &Controller{
		cfg:     cfg.withDefaults(),
		hc:      hc,
		browser: bc,
		report:  report,
		prompt:  prompt,
	}
}

// Run executes one login attempt for creds and returns the resulting
// artifact. Concurrent calls for the same UserID are collapsed onto the
// in-flight attempt.
func (c *Controller) Run(ctx context.Context, creds Credentials) (*session.Artifact, error) {
	v, err, shared := c.group.Do(creds.UserID, func() (any, error) {
		return c.run(ctx, creds)
	})
	if shared {
		log.LogDebugWithFields("authflow", "Joined in-flight login attempt", map[string]any{"user": creds.UserID})
	}
	if err != nil {
		return nil, err
	}
	return v.(*session.Artifact), nil
}

func (c *Controller) progress(state State, message string) {
	log.LogInfoWithFields("authflow", message, map[string]any{"state": string(state)})
	if c.report != nil {
		c.report(state, message)
	}
}

// run is the state machine. Strictly sequential within an attempt.
func (c *Controller) run(ctx context.Context, creds Credentials) (*session.Artifact, error) {
	rc := browser.NewRedirectContext()

	c.progress(StateInit, "Preparing login")
	authorizeURL, err := c.requestAuthorization(ctx, rc)
	if err != nil {
		return nil, fail(StateInit, err)
	}

	c.progress(StateAuthorizationRequested, "Contacting identity provider")
	auth, err := c.openProviderPages(ctx, rc, authorizeURL)
	if err != nil {
		return nil, fail(StateAuthorizationRequested, err)
	}

	c.progress(StateProviderLoginPage, "Starting MitID authentication")
	aux, err := c.initAuth(ctx, rc, auth)
	if err != nil {
		return nil, fail(StateProviderLoginPage, err)
	}

	c.progress(StateAppApprovalPending, "Waiting for approval in the MitID app")
	authCode, err := c.awaitApproval(ctx, rc, creds, aux)
	if err != nil {
		return nil, fail(StateAppApprovalPending, err)
	}

	// Approval already succeeded; finalize failures belong to the exchange
	// leg of the flow.
	res, err := c.finalizeAuth(ctx, rc, auth, authCode)
	if err != nil {
		return nil, fail(StateCallbackExchange, err)
	}

	// The provider decides whether identity linking is required; we only
	// react to the redirect it sends. Skipping this step is the normal case
	// for an identity that has linked before.
	res, linked, err := c.maybeLinkIdentity(ctx, rc, res)
	if err != nil {
		return nil, fail(StateIdentityLinking, err)
	}
	if linked {
		c.progress(StateIdentityLinking, "Identity linked")
	}

	c.progress(StateCallbackExchange, "Completing authentication")
	artifact, err := c.exchangeCallback(ctx, rc, res, creds)
	if err != nil {
		return nil, fail(StateCallbackExchange, err)
	}

	c.progress(StateAuthenticated, "Logged in")
	return artifact, nil
}

// requestAuthorization seeds brokerage cookies, registers the OIDC flow via
// the signicat start endpoint, and returns the provider authorize URL.
func (c *Controller) requestAuthorization(ctx context.Context, rc *browser.RedirectContext) (string, error) {
	res, err := c.browser.Get(ctx, rc, c.cfg.loginPageURL())
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login page returned status %d", res.StatusCode)
	}

	c.seedBrowserCookies()

	state := "NEXT_OIDC_STATE_" + uuid.NewString()
	payload, err := json.Marshal(map[string]string{
		"redirectUri": c.cfg.redirectURI(),
		"state":       state,
		"idp":         "MITID",
	})
	if err != nil {
		return "", err
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "*/*")
	header.Set("x-locale", "da-DK")
	header.Set("Origin", c.cfg.BrokerBaseURL)
	header.Set("Referer", c.cfg.BrokerBaseURL+"/")
	if csrf := rc.Fields[browser.FieldPageCSRF]; csrf != "" {
		header.Set("x-csrf-token", csrf)
	}

	res, err = c.browser.Do(ctx, rc, browser.Request{
		Method: http.MethodPost,
		URL:    c.cfg.startURL(),
		Body:   payload,
		Header: header,
	})
	if err != nil {
		return "", err
	}

	if res.StatusCode == http.StatusOK {
		var start struct {
			RequestURI string `json:"requestUri"`
			Data       struct {
				RequestURI string `json:"requestUri"`
			} `json:"data"`
		}
		if err := json.Unmarshal(res.Body, &start); err == nil {
			if uri := firstNonEmpty(start.Data.RequestURI, start.RequestURI); uri != "" {
				return uri, nil
			}
		}
		log.LogWarn("signicat start returned 200 without a request URI")
	} else {
		log.LogWarnWithFields("authflow", "Signicat start failed, falling back to static authorize URL", map[string]any{
			"status": res.StatusCode,
		})
	}

	// Fallback: construct the authorize URL directly. PAR-based providers
	// will reject it, but it keeps older endpoints working.
	conf := oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: c.cfg.redirectURI(),
		Scopes:      []string{"openid", "nin"},
		Endpoint:    oauth2.Endpoint{AuthURL: c.cfg.AuthorizeURL},
	}
	return conf.AuthCodeURL(state), nil
}

// seedBrowserCookies sets the cookies a real browser would create from
// client-side JavaScript; the emulation has no JS engine.
func (c *Controller) seedBrowserCookies() {
	base, err := url.Parse(c.cfg.BrokerBaseURL)
	if err != nil || c.hc.Jar == nil {
		return
	}
	dcid := fmt.Sprintf("dcid.1.%d.%s", time.Now().UnixMilli(), randomDigits(9))
	c.hc.Jar.SetCookies(base, []*http.Cookie{
		{Name: "consent_cookie", Value: "analytics,functional,marketing,necessary", Path: "/"},
		{Name: "lang", Value: "da", Path: "/"},
		{Name: "_dcid", Value: dcid, Path: "/"},
	})
}

// authenticatorEndpoints are the provider paths extracted from the
// authenticator page.
type authenticatorEndpoints struct {
	baseURL      string
	initAuth     string
	authCode     string
	finalizeAuth string
}

// openProviderPages follows the authorize redirect chain to the provider's
// entry page and on to the authenticator page, collecting its endpoints.
func (c *Controller) openProviderPages(ctx context.Context, rc *browser.RedirectContext, authorizeURL string) (*authenticatorEndpoints, error) {
	res, err := c.browser.Get(ctx, rc, authorizeURL)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authorize endpoint returned status %d", res.StatusCode)
	}
	if res.Page.Kind != browser.KindLoginEntry {
		return nil, fmt.Errorf("%w: expected login entry page, got %s", ErrProtocolMismatch, res.Page.Kind)
	}

	res, err = c.browser.Get(ctx, rc, res.Page.Fields[browser.FieldIndexURL])
	if err != nil {
		return nil, err
	}
	if res.Page.Kind != browser.KindAuthenticator {
		return nil, fmt.Errorf("%w: expected authenticator page, got %s", ErrProtocolMismatch, res.Page.Kind)
	}

	auth := &authenticatorEndpoints{
		baseURL:      res.Page.Fields[browser.FieldBaseURL],
		initAuth:     res.Page.Fields[browser.FieldInitAuthPath],
		authCode:     res.Page.Fields[browser.FieldAuthCodePath],
		finalizeAuth: res.Page.Fields[browser.FieldFinalizeAuthPath],
	}
	if auth.baseURL == "" || auth.initAuth == "" || auth.authCode == "" || auth.finalizeAuth == "" {
		return nil, fmt.Errorf("%w: authenticator page missing endpoint attributes", ErrProtocolMismatch)
	}
	return auth, nil
}

// approvalEndpoints is the decoded aux payload from init-auth: where to
// trigger the app push and where to poll for its outcome.
type approvalEndpoints struct {
	AuthURL string `json:"authUrl"`
	PollURL string `json:"pollUrl"`
}

func (c *Controller) initAuth(ctx context.Context, rc *browser.RedirectContext, auth *authenticatorEndpoints) (*approvalEndpoints, error) {
	res, err := c.browser.PostRaw(ctx, rc, auth.baseURL+auth.initAuth, "application/json", nil)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth init returned status %d: %s", res.StatusCode, trim(res.Body, 200))
	}

	var envelope struct {
		Aux string `json:"aux"`
	}
	if err := json.Unmarshal(res.Body, &envelope); err != nil || envelope.Aux == "" {
		return nil, fmt.Errorf("%w: auth init response missing aux payload", ErrProtocolMismatch)
	}
	raw, err := base64.StdEncoding.DecodeString(envelope.Aux)
	if err != nil {
		return nil, fmt.Errorf("%w: aux payload is not base64: %s", ErrProtocolMismatch, err)
	}

	var aux approvalEndpoints
	if err := json.Unmarshal(raw, &aux); err != nil || aux.PollURL == "" {
		return nil, fmt.Errorf("%w: aux payload missing poll endpoint", ErrProtocolMismatch)
	}
	return &aux, nil
}

// awaitApproval submits the approval request and polls the provider at the
// configured interval until a terminal outcome, the configured bound, or
// cancellation. Each poll is a single idempotent read; cancellation takes
// effect within one interval.
func (c *Controller) awaitApproval(ctx context.Context, rc *browser.RedirectContext, creds Credentials, aux *approvalEndpoints) (string, error) {
	payload := map[string]string{
		"userId": creds.UserID,
		"method": firstNonEmpty(creds.Method, "APP"),
	}
	if creds.Password != "" {
		// Only the non-app authenticator methods carry a secret.
		payload["password"] = creds.Password
	}
	trigger, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	res, err := c.browser.PostRaw(ctx, rc, aux.AuthURL, "application/json", trigger)
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("approval request returned status %d: %s", res.StatusCode, trim(res.Body, 200))
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.cfg.ApprovalMaxWait)
	defer deadline.Stop()

	for {
		code, terminal, err := c.pollOnce(ctx, rc, aux.PollURL)
		if err != nil || terminal {
			return code, err
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: cancelled while waiting for approval", ErrRejected)
		case <-deadline.C:
			return "", fmt.Errorf("%w after %s", ErrTimedOut, c.cfg.ApprovalMaxWait)
		case <-ticker.C:
		}
	}
}

// pollOnce reads the approval status once. terminal is true when the
// provider reported approval (code set) — errors cover the other terminal
// outcomes.
func (c *Controller) pollOnce(ctx context.Context, rc *browser.RedirectContext, pollURL string) (code string, terminal bool, err error) {
	res, err := c.browser.GetNoRedirect(ctx, rc, pollURL)
	if err != nil {
		return "", false, err
	}
	if res.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("approval poll returned status %d", res.StatusCode)
	}

	var status struct {
		Status   string `json:"status"`
		AuthCode string `json:"authCode"`
	}
	if err := json.Unmarshal(res.Body, &status); err != nil {
		return "", false, fmt.Errorf("%w: unreadable approval status: %s", ErrProtocolMismatch, err)
	}

	switch strings.ToLower(status.Status) {
	case "approved":
		if status.AuthCode == "" {
			return "", false, fmt.Errorf("%w: approval reported without authentication code", ErrProtocolMismatch)
		}
		return status.AuthCode, true, nil
	case "rejected":
		return "", false, fmt.Errorf("%w: approval declined in the app", ErrRejected)
	case "expired":
		return "", false, fmt.Errorf("%w: approval request expired", ErrTimedOut)
	case "pending", "":
		return "", false, nil
	default:
		return "", false, fmt.Errorf("%w: unknown approval status %q", ErrProtocolMismatch, status.Status)
	}
}

// finalizeAuth posts the authentication code back to the provider and asks
// it to finalize, returning the unfollowed finalize response.
func (c *Controller) finalizeAuth(ctx context.Context, rc *browser.RedirectContext, auth *authenticatorEndpoints, authCode string) (*browser.Result, error) {
	boundary := "---------------------------" + randomDigits(29)
	body := fmt.Sprintf("--%s\r\nContent-Disposition: form-data; name=%q\r\n\r\n%s\r\n--%s--\r\n",
		boundary, "authCode", authCode, boundary)

	res, err := c.browser.PostRaw(ctx, rc, auth.baseURL+auth.authCode, "multipart/form-data; boundary="+boundary, []byte(body))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth code submission returned status %d: %s", res.StatusCode, trim(res.Body, 200))
	}

	return c.browser.GetNoRedirect(ctx, rc, auth.baseURL+auth.finalizeAuth)
}

// maybeLinkIdentity walks finalize redirects looking for the provider's CPR
// page. The provider alone decides whether the one-time linking step runs;
// we never predict it from prior sessions.
func (c *Controller) maybeLinkIdentity(ctx context.Context, rc *browser.RedirectContext, res *browser.Result) (*browser.Result, bool, error) {
	for res.IsRedirect() && !strings.Contains(res.Location, "/cpr") {
		next, err := c.browser.NextLocation(rc, res)
		if err != nil {
			return nil, false, err
		}
		if next.Query().Get("code") != "" {
			// Already at the callback; no linking required.
			return res, false, nil
		}
		res, err = c.browser.GetNoRedirect(ctx, rc, next.String())
		if err != nil {
			return nil, false, err
		}
	}

	if !res.IsRedirect() || !strings.Contains(res.Location, "/cpr") {
		return res, false, nil
	}

	c.progress(StateIdentityLinking, "Identity linking required")
	loc, err := c.browser.NextLocation(rc, res)
	if err != nil {
		return nil, false, err
	}
	page, err := c.browser.Get(ctx, rc, loc.String())
	if err != nil {
		return nil, false, err
	}
	if page.Page.Kind != browser.KindIdentityLinking {
		return nil, false, fmt.Errorf("%w: expected CPR form, got %s", ErrProtocolMismatch, page.Page.Kind)
	}

	if c.prompt == nil {
		return nil, false, fmt.Errorf("%w: identity linking required but no prompt handler configured", ErrRejected)
	}
	cpr, err := c.prompt(ctx, "Enter CPR number (DDMMYYXXXX)")
	if err != nil {
		return nil, false, err
	}

	base := page.Page.Fields[browser.FieldBaseURL]
	verify, err := c.browser.PostForm(ctx, rc, base+page.Page.Fields[browser.FieldVerifyPath], url.Values{
		"cpr":      {strings.TrimSpace(cpr)},
		"remember": {"false"},
	})
	if err != nil {
		return nil, false, err
	}
	if verify.StatusCode != http.StatusOK || strings.Contains(string(verify.Body), `"success":false`) {
		return nil, false, fmt.Errorf("%w: CPR verification failed: %s", ErrRejected, trim(verify.Body, 200))
	}

	out, err := c.browser.GetNoRedirect(ctx, rc, base+page.Page.Fields[browser.FieldFinalizeCprPath])
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// exchangeCallback intercepts the one-time authorization code, exchanges it
// for a brokerage session, and assembles the artifact.
func (c *Controller) exchangeCallback(ctx context.Context, rc *browser.RedirectContext, res *browser.Result, creds Credentials) (*session.Artifact, error) {
	base, err := url.Parse(c.cfg.BrokerBaseURL)
	if err != nil {
		return nil, err
	}

	code, err := c.browser.FollowToCode(ctx, rc, res, base.Host)
	if err != nil {
		return nil, err
	}

	// Refresh brokerage cookies before the session exchange, without the
	// code parameter so server-side rendering cannot consume it.
	if _, err := c.browser.Get(ctx, rc, c.cfg.loginPageURL()); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"authenticationProvider": "SIGNICAT",
		"countryCode":            "DK",
		"signicat": map[string]any{
			"authorizationCode": code,
			"redirectUri":       c.cfg.redirectURI(),
			"useDtp":            true,
		},
	})
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	header.Set("client-id", "NEXT")
	header.Set("ntag", "NO_NTAG_RECEIVED_YET")
	header.Set("Origin", c.cfg.BrokerBaseURL)
	header.Set("Referer", c.cfg.BrokerBaseURL+"/")

	exchange, err := c.browser.Do(ctx, rc, browser.Request{
		Method: http.MethodPost,
		URL:    c.cfg.sessionsURL(),
		Body:   payload,
		Header: header,
	})
	if err != nil {
		return nil, err
	}
	if exchange.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("session exchange returned status %d: %s", exchange.StatusCode, trim(exchange.Body, 300))
	}

	login, err := c.browser.Do(ctx, rc, browser.Request{
		Method: http.MethodPost,
		URL:    c.cfg.legacyLoginURL(),
		Body:   []byte("{}"),
		Header: header,
	})
	if err != nil {
		return nil, err
	}
	if login.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("session login returned status %d: %s", login.StatusCode, trim(login.Body, 300))
	}

	ntag := login.Header.Get("ntag")
	if ntag == "" {
		return nil, fmt.Errorf("%w: login response missing ntag header", ErrProtocolMismatch)
	}

	headers := map[string]string{
		"client-id": "NEXT",
		"ntag":      ntag,
		"Accept":    "application/json",
	}
	return session.FromJar(c.hc.Jar, base, headers, creds.UserID), nil
}

func randomDigits(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable anyway; fall back to zeros
		// rather than aborting the flow over a boundary string.
		return strings.Repeat("0", n)
	}
	for i := range buf {
		buf[i] = '0' + buf[i]%10
	}
	return string(buf)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func trim(body []byte, limit int) string {
	if len(body) > limit {
		body = body[:limit]
	}
	return string(body)
}
