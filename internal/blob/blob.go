// Package blob provides filesystem-backed blob storage with stable locators.
//
// Locators have the form "blob://<key>" where key is a slash-separated path
// relative to the blob root. Oversized bible documents, large novel texts and
// generated images all live here; the primary store keeps only the locator.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Scheme is the locator prefix for blobs managed by this store.
const Scheme = "blob://"

// ErrNotFound is returned when a locator does not resolve to a stored blob.
var ErrNotFound = errors.New("blob not found")

// Store reads and writes blobs under a root directory.
type Store struct {
	root string
}

// NewStore creates a blob store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("blob root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Locator returns the locator for a key.
func Locator(key string) string {
	return Scheme + strings.TrimPrefix(key, "/")
}

// Key extracts the key from a locator.
func Key(locator string) (string, error) {
	if !strings.HasPrefix(locator, Scheme) {
		return "", fmt.Errorf("unsupported storage location: %s", locator)
	}
	key := strings.TrimPrefix(locator, Scheme)
	if key == "" {
		return "", fmt.Errorf("invalid blob locator: %s", locator)
	}
	return key, nil
}

// Put stores data under key and returns the locator.
func (s *Store) Put(key string, data []byte) (string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create blob directory: %w", err)
	}
	// Write-then-rename so readers never observe a partial blob.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return Locator(key), nil
}

// Get reads the blob at the given locator.
func (s *Store) Get(locator string) ([]byte, error) {
	key, err := Key(locator)
	if err != nil {
		return nil, err
	}
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, locator)
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Delete removes the blob at the given locator. Missing blobs are not errors.
func (s *Store) Delete(locator string) error {
	key, err := Key(locator)
	if err != nil {
		return err
	}
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// resolve maps a key to an absolute path, rejecting escapes from the root.
func (s *Store) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid blob key: %s", key)
	}
	return filepath.Join(s.root, cleaned), nil
}
