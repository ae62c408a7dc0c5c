package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		kind   Kind
		fields map[string]string
	}{
		{
			name: "login entry",
			body: `<html><body><div data-index-url="https://idp.example/index"></div></body></html>`,
			kind: KindLoginEntry,
			fields: map[string]string{
				FieldIndexURL: "https://idp.example/index",
			},
		},
		{
			name: "authenticator",
			body: `<html><body><div data-base-url="https://idp.example"
				data-init-auth-path="/init" data-auth-code-path="/code"
				data-finalize-auth-path="/finalize"></div></body></html>`,
			kind: KindAuthenticator,
			fields: map[string]string{
				FieldBaseURL:          "https://idp.example",
				FieldInitAuthPath:     "/init",
				FieldAuthCodePath:     "/code",
				FieldFinalizeAuthPath: "/finalize",
			},
		},
		{
			name: "identity linking",
			body: `<html><body><main id="cpr-form" data-base-url="https://idp.example"
				data-verify-path="/cpr/verify" data-finalize-cpr-path="/cpr/done"></main></body></html>`,
			kind: KindIdentityLinking,
			fields: map[string]string{
				FieldBaseURL:         "https://idp.example",
				FieldVerifyPath:      "/cpr/verify",
				FieldFinalizeCprPath: "/cpr/done",
			},
		},
		{
			name: "csrf script",
			body: `<html><head><script data-csrf="tok123"></script></head><body><p>hi</p></body></html>`,
			kind: KindUnknown,
			fields: map[string]string{
				FieldPageCSRF: "tok123",
			},
		},
		{
			name: "plain page",
			body: `<html><body><h1>Maintenance</h1></body></html>`,
			kind: KindUnknown,
		},
		{
			name: "not html",
			body: `{"ok": true}`,
			kind: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := Classify([]byte(tt.body))
			assert.Equal(t, tt.kind, page.Kind)
			for k, v := range tt.fields {
				assert.Equal(t, v, page.Fields[k], "field %s", k)
			}
		})
	}
}

func TestClassifyAutoSubmitForm(t *testing.T) {
	body := `<html><body onload="document.forms[0].submit()">
		<form action="https://broker.example/saml" method="post">
			<input type="hidden" name="SAMLResponse" value="PHNhbWw+"/>
			<input type="hidden" name="RelayState" value="abc"/>
		</form></body></html>`

	page := Classify([]byte(body))
	assert.Equal(t, KindAutoSubmitForm, page.Kind)
	require.NotNil(t, page.Form)
	assert.Equal(t, "https://broker.example/saml", page.Form.Action)
	assert.Equal(t, "POST", page.Form.Method)
	assert.Equal(t, "PHNhbWw+", page.Form.Values.Get("SAMLResponse"))
	assert.Equal(t, "abc", page.Form.Values.Get("RelayState"))
}

func TestClassifyCprFormWinsOverAuthenticator(t *testing.T) {
	body := `<html><body>
		<div data-init-auth-path="/init" data-base-url="https://idp.example"></div>
		<main id="cpr-form" data-base-url="https://idp.example" data-verify-path="/v" data-finalize-cpr-path="/f"></main>
	</body></html>`

	page := Classify([]byte(body))
	assert.Equal(t, KindIdentityLinking, page.Kind)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "login-entry", KindLoginEntry.String())
	assert.Equal(t, "unknown", KindUnknown.String())
	assert.Equal(t, "auto-submit-form", KindAutoSubmitForm.String())
}
