package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrNoBundle        = errors.New("credentials: no cookie bundle available")
	ErrNoUsableCookies = errors.New("credentials: bundle has no usable cookies")
)

// Store holds the one active cookie bundle used to authenticate browser
// sessions. The bundle is kept in memory and mirrored to a JSON file so it
// survives restarts; Replace swaps it atomically for every later run while
// runs already holding a copy are unaffected.
type Store struct {
	path string

	mu     sync.RWMutex
	bundle Bundle
}

// NewStore opens the store backed by the JSON file at path. A missing file is
// fine (the store starts empty); a malformed one is an error.
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("credentials: store path is required")
	}

	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: read bundle file: %w", err)
	}

	var raw Bundle
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("credentials: parse bundle file %s: %w", path, err)
	}
	s.bundle = Normalize(raw)

	return s, nil
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Active returns a copy of the current bundle, or ErrNoBundle when nothing
// has been loaded or uploaded yet.
func (s *Store) Active() (Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.bundle) == 0 {
		return nil, ErrNoBundle
	}
	return s.bundle.Clone(), nil
}

// Replace normalizes raw, persists it, and makes it the active bundle.
// Returns the number of cookies accepted.
func (s *Store) Replace(raw Bundle) (int, error) {
	bundle := Normalize(raw)
	if len(bundle) == 0 {
		return 0, ErrNoUsableCookies
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("credentials: encode bundle: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("credentials: ensure bundle directory: %w", err)
		}
	}

	// Write-then-rename so a crash mid-write never corrupts the active file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return 0, fmt.Errorf("credentials: write bundle file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, fmt.Errorf("credentials: replace bundle file: %w", err)
	}

	s.mu.Lock()
	s.bundle = bundle
	s.mu.Unlock()

	return len(bundle), nil
}
