package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordgo/nordgo/internal/httpx"
	"github.com/nordgo/nordgo/internal/models"
	"github.com/nordgo/nordgo/internal/session"
)

func freshArtifact(ntag string) *session.Artifact {
	return &session.Artifact{
		Identifier: "user1",
		Cookies:    map[string]string{"NOW": "live"},
		Headers:    map[string]string{"ntag": ntag, "client-id": "NEXT"},
		SavedAt:    time.Now(),
	}
}

func newTestClient(t *testing.T, srvURL string, login Reauthenticator) (*Client, *session.Store) {
	t.Helper()
	hc, err := httpx.New(httpx.Options{})
	require.NoError(t, err)

	store := session.NewStore(filepath.Join(t.TempDir(), "session.json"), hc, srvURL+"/probe")
	return New(hc, store, login, srvURL, srvURL, "user1"), store
}

func TestEnsureSessionLogsInWhenNothingPersisted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"accid": 1}]`)
	}))
	defer srv.Close()

	var logins atomic.Int32
	c, store := newTestClient(t, srv.URL, func(context.Context) (*session.Artifact, error) {
		logins.Add(1)
		return freshArtifact("tag-new"), nil
	})

	require.NoError(t, c.EnsureSession(context.Background(), false))
	assert.Equal(t, int32(1), logins.Load())
	assert.Equal(t, "tag-new", c.Artifact().Headers["ntag"])

	// The fresh session is persisted for the next run.
	persisted, ok := store.Load("user1")
	require.True(t, ok)
	assert.Equal(t, "tag-new", persisted.Headers["ntag"])
}

func TestEnsureSessionReusesValidPersistedSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"accid": 1}]`)
	}))
	defer srv.Close()

	c, store := newTestClient(t, srv.URL, func(context.Context) (*session.Artifact, error) {
		t.Fatal("login must not run when the persisted session probes valid")
		return nil, nil
	})
	require.NoError(t, store.Save("user1", freshArtifact("tag-old")))

	require.NoError(t, c.EnsureSession(context.Background(), false))
	assert.Equal(t, "tag-old", c.Artifact().Headers["ntag"])
}

func TestEnsureSessionForceSkipsPersisted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"accid": 1}]`)
	}))
	defer srv.Close()

	var logins atomic.Int32
	c, store := newTestClient(t, srv.URL, func(context.Context) (*session.Artifact, error) {
		logins.Add(1)
		return freshArtifact("tag-new"), nil
	})
	require.NoError(t, store.Save("user1", freshArtifact("tag-old")))

	require.NoError(t, c.EnsureSession(context.Background(), true))
	assert.Equal(t, int32(1), logins.Load())
	assert.Equal(t, "tag-new", c.Artifact().Headers["ntag"])
}

func TestExpiredSessionReauthenticatesOnceAndRetries(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"accid": 1}]`)
	})
	mux.HandleFunc("/api/2/accounts", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("ntag") != "tag-fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `[{"accid": 1, "accno": 42, "type": "AKTIEDEPOT"}]`)
	})

	var logins atomic.Int32
	c, store := newTestClient(t, srv.URL, func(context.Context) (*session.Artifact, error) {
		logins.Add(1)
		return freshArtifact("tag-fresh"), nil
	})
	require.NoError(t, store.Save("user1", freshArtifact("tag-stale")))

	require.NoError(t, c.EnsureSession(context.Background(), false))

	accounts, err := c.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, 1, accounts[0].ID)
	assert.Equal(t, int32(1), logins.Load(), "exactly one re-login")
}

func TestAuthFailureAfterReloginIsTerminal(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"accid": 1}]`)
	})
	var hits atomic.Int32
	mux.HandleFunc("/api/2/accounts", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	var logins atomic.Int32
	c, store := newTestClient(t, srv.URL, func(context.Context) (*session.Artifact, error) {
		logins.Add(1)
		return freshArtifact("tag-fresh"), nil
	})
	require.NoError(t, store.Save("user1", freshArtifact("tag-stale")))
	require.NoError(t, c.EnsureSession(context.Background(), false))

	_, err := c.Accounts(context.Background())
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, int32(1), logins.Load(), "re-login happens exactly once")
	assert.Equal(t, int32(2), hits.Load(), "one retry after re-login, never more")

	// The rejected session must not be offered again next run.
	_, ok := store.Load("user1")
	assert.False(t, ok)
}

func TestLoginFailurePersistsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	loginErr := fmt.Errorf("approval declined")
	c, store := newTestClient(t, srv.URL, func(context.Context) (*session.Artifact, error) {
		return nil, loginErr
	})

	err := c.EnsureSession(context.Background(), false)
	assert.ErrorIs(t, err, loginErr)

	_, ok := store.Load("user1")
	assert.False(t, ok, "a failed attempt must leave no session behind")
}

func TestAccountInfoUnwrapsList(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api/2/accounts/7/info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"account_sum": {"value": 1000, "currency": "DKK"}, "own_capital": {"value": 900, "currency": "DKK"}}]`)
	})

	c, _ := newTestClient(t, srv.URL, func(context.Context) (*session.Artifact, error) {
		return freshArtifact("tag"), nil
	})
	require.NoError(t, c.EnsureSession(context.Background(), false))

	info, err := c.AccountInfo(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, info.AccountID)
	assert.Equal(t, "1000 DKK", info.AccountSum.String())
}

func TestStatusError(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api/2/accounts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream broken")
	})

	c, _ := newTestClient(t, srv.URL, func(context.Context) (*session.Artifact, error) {
		return freshArtifact("tag"), nil
	})
	require.NoError(t, c.EnsureSession(context.Background(), false))

	_, err := c.Accounts(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Contains(t, se.Body, "upstream broken")
}

func TestTransactionsPaging(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/nnxapi/authorization/v1/tokens", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"jwt": "tok-1"})
	})
	mux.HandleFunc(transactionsBasePath+"/transaction-summary", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "1,2", r.URL.Query().Get("accids"))
		json.NewEncoder(w).Encode(map[string]int{"totalNumberOfTransactions": transactionsPageSize + 5})
	})
	mux.HandleFunc(transactionsBasePath+"/transactions/page", func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		count := transactionsPageSize
		if offset != "0" {
			count = 5
		}
		page := make([]models.Transaction, count)
		json.NewEncoder(w).Encode(map[string]any{"transactions": page})
	})

	c, _ := newTestClient(t, srv.URL, func(context.Context) (*session.Artifact, error) {
		return freshArtifact("tag"), nil
	})
	require.NoError(t, c.EnsureSession(context.Background(), false))

	var progressCalls [][2]int
	transactions, err := c.Transactions(context.Background(), []int{1, 2}, "", "", func(fetched, total int) {
		progressCalls = append(progressCalls, [2]int{fetched, total})
	})
	require.NoError(t, err)
	assert.Len(t, transactions, transactionsPageSize+5)
	require.Len(t, progressCalls, 2)
	assert.Equal(t, [2]int{transactionsPageSize, transactionsPageSize + 5}, progressCalls[0])
	assert.Equal(t, [2]int{transactionsPageSize + 5, transactionsPageSize + 5}, progressCalls[1])
}

func TestBearerTokenRefreshedOn401(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var minted atomic.Int32
	mux.HandleFunc("/nnxapi/authorization/v1/tokens", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"jwt": fmt.Sprintf("tok-%d", minted.Add(1))})
	})
	mux.HandleFunc(transactionsBasePath+"/transaction-summary", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]int{"totalNumberOfTransactions": 9})
	})

	c, _ := newTestClient(t, srv.URL, func(context.Context) (*session.Artifact, error) {
		return freshArtifact("tag"), nil
	})
	require.NoError(t, c.EnsureSession(context.Background(), false))

	total, err := c.TransactionCount(context.Background(), []int{1}, "", "")
	require.NoError(t, err)
	assert.Equal(t, 9, total)
	assert.Equal(t, int32(2), minted.Load())
}

func TestLogoutDropsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"accid": 1}]`)
	}))
	defer srv.Close()

	c, store := newTestClient(t, srv.URL, func(context.Context) (*session.Artifact, error) {
		return freshArtifact("tag"), nil
	})
	require.NoError(t, c.EnsureSession(context.Background(), false))

	require.NoError(t, c.Logout())
	assert.Nil(t, c.Artifact())
	_, ok := store.Load("user1")
	assert.False(t, ok)
}
