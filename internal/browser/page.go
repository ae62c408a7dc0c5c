// Package browser performs the mechanics of following the identity
// provider's page sequence without a rendering engine: fetch a page, pull
// the hidden fields and data-* attributes the next step needs, submit, and
// walk redirects with a hard ceiling. It attaches no meaning to the pages
// beyond classifying them; the login flow decides what each kind implies.
package browser

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Kind is the classification of a fetched provider page.
type Kind int

const (
	// KindUnknown means no expected marker matched. The flow surfaces this
	// as a protocol mismatch rather than ignoring it: it almost always means
	// the provider changed its pages and the emulation needs updating.
	KindUnknown Kind = iota

	// KindLoginEntry is the provider's entry page carrying the
	// data-index-url attribute pointing at the authenticator page.
	KindLoginEntry

	// KindAuthenticator is the authenticator page carrying the base URL and
	// the init-auth, auth-code and finalize-auth paths.
	KindAuthenticator

	// KindIdentityLinking is the one-time CPR verification form shown on
	// first login for an identity not yet linked to the provider account.
	KindIdentityLinking

	// KindAutoSubmitForm is an intermediate page whose only purpose is an
	// auto-submitting form (SAML POST binding).
	KindAutoSubmitForm
)

func (k Kind) String() string {
	switch k {
	case KindLoginEntry:
		return "login-entry"
	case KindAuthenticator:
		return "authenticator"
	case KindIdentityLinking:
		return "identity-linking"
	case KindAutoSubmitForm:
		return "auto-submit-form"
	default:
		return "unknown"
	}
}

// Field names extracted into Page.Fields.
const (
	FieldIndexURL         = "index_url"
	FieldBaseURL          = "base_url"
	FieldInitAuthPath     = "init_auth_path"
	FieldAuthCodePath     = "auth_code_path"
	FieldFinalizeAuthPath = "finalize_auth_path"
	FieldVerifyPath       = "verify_path"
	FieldFinalizeCprPath  = "finalize_cpr_path"
	FieldPageCSRF         = "page_csrf"
)

// Form is an HTML form found on an auto-submit page.
type Form struct {
	Action string
	Method string
	Values url.Values
}

// Page is the normalized outcome of classifying a response body.
type Page struct {
	Kind   Kind
	Fields map[string]string
	Form   *Form
}

// Classify maps raw response markup to a page kind plus the fields the next
// step needs. It is a pure function over the body; unknown pages come back
// as KindUnknown with whatever fields were still recognizable.
func Classify(body []byte) *Page {
	page := &Page{Kind: KindUnknown, Fields: map[string]string{}}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return page
	}

	var cprForm, authNode, entryNode, csrfNode *html.Node
	var firstForm *html.Node

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "main" && attr(n, "id") == "cpr-form":
				if cprForm == nil {
					cprForm = n
				}
			case attr(n, "data-init-auth-path") != "":
				if authNode == nil {
					authNode = n
				}
			case attr(n, "data-index-url") != "":
				if entryNode == nil {
					entryNode = n
				}
			case n.Data == "script" && hasAttr(n, "data-csrf"):
				if csrfNode == nil {
					csrfNode = n
				}
			case n.Data == "form":
				if firstForm == nil {
					firstForm = n
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if csrfNode != nil {
		page.Fields[FieldPageCSRF] = attr(csrfNode, "data-csrf")
	}

	switch {
	case cprForm != nil:
		page.Kind = KindIdentityLinking
		page.Fields[FieldBaseURL] = attr(cprForm, "data-base-url")
		page.Fields[FieldVerifyPath] = attr(cprForm, "data-verify-path")
		page.Fields[FieldFinalizeCprPath] = attr(cprForm, "data-finalize-cpr-path")

	case authNode != nil:
		page.Kind = KindAuthenticator
		page.Fields[FieldBaseURL] = attr(authNode, "data-base-url")
		page.Fields[FieldInitAuthPath] = attr(authNode, "data-init-auth-path")
		page.Fields[FieldAuthCodePath] = attr(authNode, "data-auth-code-path")
		page.Fields[FieldFinalizeAuthPath] = attr(authNode, "data-finalize-auth-path")

	case entryNode != nil:
		page.Kind = KindLoginEntry
		page.Fields[FieldIndexURL] = attr(entryNode, "data-index-url")

	case firstForm != nil && attr(firstForm, "action") != "":
		page.Kind = KindAutoSubmitForm
		page.Form = parseForm(firstForm)
	}

	return page
}

func parseForm(n *html.Node) *Form {
	form := &Form{
		Action: attr(n, "action"),
		Method: strings.ToUpper(attr(n, "method")),
		Values: url.Values{},
	}
	if form.Method == "" {
		form.Method = "GET"
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "input" {
			if name := attr(n, "name"); name != "" {
				form.Values.Set(name, attr(n, "value"))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return form
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
