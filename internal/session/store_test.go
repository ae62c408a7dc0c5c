package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArtifact() *Artifact {
	return &Artifact{
		Identifier: "user1",
		Cookies:    map[string]string{"NOW": "abc", "xsrf": "def"},
		Headers:    map[string]string{"ntag": "tag-1", "client-id": "NEXT"},
		SavedAt:    time.Now(),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"), nil, "")

	require.NoError(t, store.Save("user1", testArtifact()))

	loaded, ok := store.Load("user1")
	require.True(t, ok)
	assert.Equal(t, "abc", loaded.Cookies["NOW"])
	assert.Equal(t, "tag-1", loaded.Headers["ntag"])
	assert.Equal(t, "user1", loaded.Identifier)
}

func TestSaveOwnerOnlyPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewStore(path, nil, "")

	require.NoError(t, store.Save("user1", testArtifact()))

	info, err := os.Stat(filepath.Join(filepath.Dir(path), "session-user1.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"), nil, "")

	_, ok := store.Load("nobody")
	assert.False(t, ok)
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "session.json"), nil, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session-user1.json"), []byte("{truncated"), 0o600))

	_, ok := store.Load("user1")
	assert.False(t, ok)
}

func TestLoadEmptyArtifact(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "session.json"), nil, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session-user1.json"), []byte(`{"cookies":{},"headers":{}}`), 0o600))

	_, ok := store.Load("user1")
	assert.False(t, ok)
}

func TestSaveReplacesPreviousArtifact(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"), nil, "")

	first := testArtifact()
	require.NoError(t, store.Save("user1", first))

	second := testArtifact()
	second.Headers["ntag"] = "tag-2"
	require.NoError(t, store.Save("user1", second))

	loaded, ok := store.Load("user1")
	require.True(t, ok)
	assert.Equal(t, "tag-2", loaded.Headers["ntag"])
}

func TestInvalidate(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"), nil, "")

	require.NoError(t, store.Save("user1", testArtifact()))
	require.NoError(t, store.Invalidate("user1"))

	_, ok := store.Load("user1")
	assert.False(t, ok)

	// Invalidating again is not an error.
	assert.NoError(t, store.Invalidate("user1"))
}

func TestEmptyIdentifierUsesBasePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewStore(path, nil, "")

	require.NoError(t, store.Save("", testArtifact()))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		valid  bool
	}{
		{"live session", http.StatusOK, `[{"accid": 1}]`, true},
		{"session resolves to no user", http.StatusOK, `[]`, false},
		{"rejected", http.StatusUnauthorized, ``, false},
		{"not json", http.StatusOK, `<html>login</html>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotNtag string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotNtag = r.Header.Get("ntag")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			store := NewStore(filepath.Join(t.TempDir(), "session.json"), srv.Client(), srv.URL+"/api/2/accounts")
			assert.Equal(t, tt.valid, store.Probe(context.Background(), testArtifact()))
			assert.Equal(t, "tag-1", gotNtag, "probe must authenticate with the artifact")
		})
	}
}

func TestProbeWithoutClient(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"), nil, "")
	assert.False(t, store.Probe(context.Background(), testArtifact()))
}

func TestArtifactRemaining(t *testing.T) {
	a := testArtifact()
	assert.Greater(t, a.Remaining(), time.Duration(0))

	a.SavedAt = time.Now().Add(-Lifetime - time.Minute)
	assert.Equal(t, time.Duration(0), a.Remaining())
}
