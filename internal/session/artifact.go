// Package session persists the authenticated brokerage session between runs.
package session

import (
	"net/http"
	"net/url"
	"time"
)

// Lifetime is the estimated server-side session lifetime. Display only; the
// server can revoke a session at any moment, so Store.Probe is the only
// authoritative validity check.
const Lifetime = 30 * time.Minute

// Artifact is the reusable outcome of a successful login: the brokerage
// session cookies and the request headers (including the ntag anti-forgery
// header) that together authenticate API calls.
type Artifact struct {
	// Identifier is the broker-assigned user id, when known.
	Identifier string `json:"identifier,omitempty"`

	Cookies map[string]string `json:"cookies"`
	Headers map[string]string `json:"headers"`
	SavedAt time.Time         `json:"saved_at"`
}

// Remaining estimates the time until the session expires. Zero when already
// past the estimated lifetime.
func (a *Artifact) Remaining() time.Duration {
	remaining := Lifetime - time.Since(a.SavedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Apply copies the artifact's headers and cookies onto a request. The caller
// picks the target; the artifact is only ever applied to brokerage requests.
func (a *Artifact) Apply(req *http.Request) {
	for name, value := range a.Headers {
		req.Header.Set(name, value)
	}
	for name, value := range a.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

// HTTPCookies returns the artifact's cookies in the shape expected by an
// http.CookieJar.
func (a *Artifact) HTTPCookies() []*http.Cookie {
	cookies := make([]*http.Cookie, 0, len(a.Cookies))
	for name, value := range a.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	return cookies
}

// FromJar builds an artifact from the cookies a jar holds for baseURL plus
// the given headers.
func FromJar(jar http.CookieJar, baseURL *url.URL, headers map[string]string, identifier string) *Artifact {
	cookies := make(map[string]string)
	for _, c := range jar.Cookies(baseURL) {
		cookies[c.Name] = c.Value
	}
	return &Artifact{
		Identifier: identifier,
		Cookies:    cookies,
		Headers:    headers,
		SavedAt:    time.Now(),
	}
}
