package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordgo/nordgo/internal/httpx"
)

func testClient(t *testing.T, maxRedirects int) (*Client, *http.Client) {
	t.Helper()
	hc, err := httpx.New(httpx.Options{})
	require.NoError(t, err)
	return NewClient(hc, maxRedirects), hc
}

func TestGetFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>done</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	bc, _ := testClient(t, 5)
	rc := NewRedirectContext()

	res, err := bc.Get(context.Background(), rc, srv.URL+"/a")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "/b", res.FinalURL.Path)
	assert.Equal(t, 1, rc.Redirects)
	assert.Contains(t, string(res.Body), "done")
}

func TestGetNoRedirectExposesLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/next?code=abc", http.StatusFound)
	}))
	defer srv.Close()

	bc, _ := testClient(t, 5)
	rc := NewRedirectContext()

	res, err := bc.GetNoRedirect(context.Background(), rc, srv.URL+"/")
	require.NoError(t, err)
	assert.True(t, res.IsRedirect())
	assert.Equal(t, "/next?code=abc", res.Location)
	assert.Equal(t, 0, rc.Redirects)
}

func TestRedirectCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer srv.Close()

	bc, _ := testClient(t, 3)
	rc := NewRedirectContext()

	_, err := bc.Get(context.Background(), rc, srv.URL+"/loop")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRedirectCeiling)
}

func TestFieldsMergeAcrossPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/one", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><script data-csrf="tok"></script></head><body></body></html>`)
	})
	mux.HandleFunc("/two", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div data-index-url="/index"></div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	bc, _ := testClient(t, 5)
	rc := NewRedirectContext()

	_, err := bc.Get(context.Background(), rc, srv.URL+"/one")
	require.NoError(t, err)
	_, err = bc.Get(context.Background(), rc, srv.URL+"/two")
	require.NoError(t, err)

	assert.Equal(t, "tok", rc.Fields[FieldPageCSRF])
	assert.Equal(t, "/index", rc.Fields[FieldIndexURL])
}

func TestFollowToCodeInterceptsWithoutLoadingCallback(t *testing.T) {
	var callbackHits atomic.Int32

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/finalize", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/login?code=one-time-42&state=s", http.StatusFound)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		callbackHits.Add(1)
		fmt.Fprint(w, "<html><body>consumed</body></html>")
	})

	bc, _ := testClient(t, 5)
	rc := NewRedirectContext()

	res, err := bc.GetNoRedirect(context.Background(), rc, srv.URL+"/finalize")
	require.NoError(t, err)

	base, _ := url.Parse(srv.URL)
	code, err := bc.FollowToCode(context.Background(), rc, res, base.Host)
	require.NoError(t, err)
	assert.Equal(t, "one-time-42", code)
	assert.Equal(t, int32(0), callbackHits.Load(), "callback page must never be loaded")
}

func TestFollowToCodeSubmitsIntermediateForms(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/finalize", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><form action="%s/saml" method="post">
			<input type="hidden" name="SAMLResponse" value="resp"/>
		</form></body></html>`, srv.URL)
	})
	mux.HandleFunc("/saml", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "resp", r.PostForm.Get("SAMLResponse"))
		http.Redirect(w, r, srv.URL+"/login?code=after-saml", http.StatusFound)
	})

	bc, _ := testClient(t, 5)
	rc := NewRedirectContext()

	res, err := bc.GetNoRedirect(context.Background(), rc, srv.URL+"/finalize")
	require.NoError(t, err)

	base, _ := url.Parse(srv.URL)
	code, err := bc.FollowToCode(context.Background(), rc, res, base.Host)
	require.NoError(t, err)
	assert.Equal(t, "after-saml", code)
}

func TestNextLocationCountsAgainstCeiling(t *testing.T) {
	bc, _ := testClient(t, 2)
	rc := NewRedirectContext()

	base, err := url.Parse("https://idp.example/a")
	require.NoError(t, err)
	res := &Result{StatusCode: http.StatusFound, FinalURL: base, Location: "/b"}

	for i := 0; i < 2; i++ {
		next, err := bc.NextLocation(rc, res)
		require.NoError(t, err)
		assert.Equal(t, "/b", next.Path)
	}

	_, err = bc.NextLocation(rc, res)
	assert.ErrorIs(t, err, ErrRedirectCeiling)
}

func TestFollowToCodeUnexpectedPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><h1>error</h1></body></html>")
	}))
	defer srv.Close()

	bc, _ := testClient(t, 5)
	rc := NewRedirectContext()

	res, err := bc.GetNoRedirect(context.Background(), rc, srv.URL+"/")
	require.NoError(t, err)

	_, err = bc.FollowToCode(context.Background(), rc, res, "broker.example")
	assert.ErrorIs(t, err, ErrUnexpectedPage)
}
