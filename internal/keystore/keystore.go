// Package keystore persists provider API secrets on disk with restrictive
// permissions. Secrets are loaded on demand and never logged; callers that
// want to show key presence use Masked.
package keystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrNotFound is returned when no key is stored for a provider.
var ErrNotFound = errors.New("key not found")

var safeProvider = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Store keeps one secret per provider under a private directory. Files are
// created 0600, the directory 0700.
type Store struct {
	dir string
}

// New creates the store directory if needed and returns a Store.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("keystore requires a directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the secret for a provider, replacing any existing one.
func (s *Store) Save(provider, secret string) error {
	path, err := s.keyPath(provider)
	if err != nil {
		return err
	}
	if secret == "" {
		return errors.New("keystore: empty secret")
	}
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		return fmt.Errorf("keystore: %w", err)
	}
	return nil
}

// Load returns the secret for a provider, or ErrNotFound.
func (s *Store) Load(provider string) (string, error) {
	path, err := s.keyPath(provider)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("keystore: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Delete removes the secret for a provider. Deleting an absent key is not an
// error.
func (s *Store) Delete(provider string) error {
	path, err := s.keyPath(provider)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("keystore: %w", err)
	}
	return nil
}

// Masked returns a display form of the stored secret revealing only the last
// four characters, or an empty string when absent. Safe to log.
func (s *Store) Masked(provider string) string {
	secret, err := s.Load(provider)
	if err != nil {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func (s *Store) keyPath(provider string) (string, error) {
	if !safeProvider.MatchString(provider) {
		return "", fmt.Errorf("keystore: invalid provider name %q", provider)
	}
	return filepath.Join(s.dir, provider+".key"), nil
}
