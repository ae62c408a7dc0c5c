package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/nordgo/nordgo/internal/httpx"
	"github.com/nordgo/nordgo/internal/log"
)

// ErrStorage wraps session file I/O failures. Callers treat it as "no
// session" and fall back to a fresh login; it is never fatal.
var ErrStorage = errors.New("session storage error")

// Store persists one artifact per user identifier under a base path. The
// file is the only cross-process shared state; writes are atomic and the
// last writer wins.
type Store struct {
	path string

	// probeClient and probeURL implement the cheap remote validity check.
	probeClient *http.Client
	probeURL    string
}

// NewStore creates a store rooted at path. The probe client and URL are used
// by Probe; both may be left zero when probing is not needed (tests).
func NewStore(path string, probeClient *http.Client, probeURL string) *Store {
	return &Store{path: path, probeClient: probeClient, probeURL: probeURL}
}

func (s *Store) file(identifier string) string {
	if identifier == "" {
		return s.path
	}
	ext := filepath.Ext(s.path)
	return s.path[:len(s.path)-len(ext)] + "-" + identifier + ext
}

// Load reads the persisted artifact for identifier. Missing or corrupt files
// report absent; a load failure never propagates to the caller.
func (s *Store) Load(identifier string) (*Artifact, bool) {
	data, err := os.ReadFile(s.file(identifier))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.LogWarnWithFields("session", "Failed to read session file, treating as absent", map[string]any{
				"path":  s.file(identifier),
				"error": err.Error(),
			})
		}
		return nil, false
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		log.LogWarnWithFields("session", "Corrupt session file, treating as absent", map[string]any{
			"path":  s.file(identifier),
			"error": err.Error(),
		})
		return nil, false
	}
	if len(artifact.Cookies) == 0 && len(artifact.Headers) == 0 {
		return nil, false
	}
	return &artifact, true
}

// Save writes the artifact atomically (temp file then rename) with
// owner-only permissions, replacing any prior artifact for identifier.
func (s *Store) Save(identifier string, artifact *Artifact) error {
	path := s.file(identifier)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("%w: create session directory: %v", ErrStorage, err)
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode artifact: %v", ErrStorage, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrStorage, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: restrict permissions: %v", ErrStorage, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write temp file: %v", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %v", ErrStorage, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: replace session file: %v", ErrStorage, err)
	}

	log.LogDebugWithFields("session", "Session saved", map[string]any{"path": path})
	return nil
}

// Invalidate removes the persisted artifact for identifier. Removing an
// absent artifact is not an error.
func (s *Store) Invalidate(identifier string) error {
	err := os.Remove(s.file(identifier))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove session file: %v", ErrStorage, err)
	}
	return nil
}

// Probe performs a lightweight authenticated read to decide whether the
// artifact can still be trusted. Presence on disk is never proof of
// validity: the server may have revoked the session, the clock may have
// drifted, or the file may be a partial write.
func (s *Store) Probe(ctx context.Context, artifact *Artifact) bool {
	if s.probeClient == nil || s.probeURL == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.probeURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")
	artifact.Apply(req)

	resp, err := s.probeClient.Do(req)
	if err != nil {
		log.LogDebugWithFields("session", "Probe request failed", map[string]any{"error": err.Error()})
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.LogDebugWithFields("session", "Probe rejected", map[string]any{"status": resp.StatusCode})
		return false
	}

	// The accounts endpoint returns a non-empty JSON array for a live
	// session; an empty list means the session no longer resolves to a user.
	var accounts []json.RawMessage
	if err := json.Unmarshal([]byte(httpx.ReadLimited(resp.Body, 1<<20)), &accounts); err != nil {
		return false
	}
	return len(accounts) > 0
}
