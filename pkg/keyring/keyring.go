// Package keyring provides a latch.Store backed by the operating system
// keychain, for settings that hold secrets such as API tokens.
package keyring

import (
	"context"
	"errors"
	"fmt"

	zkr "github.com/zalando/go-keyring"
)

// Store keeps each setting as a keychain item of one service, with the
// storage key as the account name. Keychains cannot be enumerated, so Store
// does not implement latch.Lister.
type Store struct {
	service string
}

// New creates a Store for the given keychain service name.
func New(service string) *Store {
	return &Store{service: service}
}

// Get returns the secret stored for key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	v, err := zkr.Get(s.service, key)
	if errors.Is(err, zkr.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("keychain get %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value for key.
func (s *Store) Set(_ context.Context, key, value string) error {
	if err := zkr.Set(s.service, key, value); err != nil {
		return fmt.Errorf("keychain set %s: %w", key, err)
	}
	return nil
}

// Delete removes the secret for key.
func (s *Store) Delete(_ context.Context, key string) error {
	err := zkr.Delete(s.service, key)
	if err != nil && !errors.Is(err, zkr.ErrNotFound) {
		return fmt.Errorf("keychain delete %s: %w", key, err)
	}
	return nil
}

// Available reports whether the keychain is functional by probing it with a
// write/read/delete cycle.
func (s *Store) Available() bool {
	const probe = "latch-keyring-probe"
	if err := zkr.Set(s.service, probe, "ok"); err != nil {
		return false
	}
	_ = zkr.Delete(s.service, probe)
	return true
}
