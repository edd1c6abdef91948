package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"

	"github.com/sabarim/kitectl/internal/auth"
)

// Store is the session persistence collaborator. It reads credentials from the loaded
// Config and writes the session back into the config file, leaving every other key as
// found in the file. Values that came only from the environment are never written.
type Store struct {
	path string
	cfg  Config

	mu sync.Mutex
}

// NewStore returns a Store over cfg, writing to cfg.Path.
func NewStore(cfg Config) *Store {
	return &Store{path: cfg.Path, cfg: cfg}
}

// Load returns the credentials and the last persisted session. Missing credentials are not
// an error here; Login rejects them when they are needed.
func (s *Store) Load() (auth.Credentials, auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cfg.Credentials(), s.cfg.Session(), nil
}

// SaveSession writes the access token and expiry to the config file with owner-only
// permissions. An empty session clears both keys.
func (s *Store) SaveSession(session auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("yaml")

	if _, err := os.Stat(s.path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", s.path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading config file %s: %w", s.path, err)
	}

	v.Set("auth.access_token", session.AccessToken)
	v.Set("auth.token_expiry", session.ExpiryString())

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	v.SetConfigPermissions(0o600)
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("error writing config file %s: %w", s.path, err)
	}
	// WriteConfigAs only applies the mode on create.
	if err := os.Chmod(s.path, 0o600); err != nil {
		return fmt.Errorf("error securing config file %s: %w", s.path, err)
	}

	s.cfg.Auth.AccessToken = session.AccessToken
	s.cfg.Auth.TokenExpiry = session.ExpiryString()
	return nil
}
