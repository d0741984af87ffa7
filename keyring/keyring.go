// Package keyring provides credential storage backed by the system keyring
// (Secret Service on Linux, Keychain on macOS, Credential Manager on Windows).
package keyring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/yllada/vpn-pool/common"
)

// serviceName is the identifier used in the system keyring.
const serviceName = "vpn-pool"

// Common errors returned by keyring operations.
var (
	ErrNotFound     = common.ErrCredentialsNotFound
	ErrEmptyKey     = errors.New("credential key cannot be empty")
	ErrInvalidLogin = errors.New("stored login is malformed")
)

// Store is a common.CredentialStore over the system keyring.
type Store struct {
	service string
}

// New returns a Store scoped to the application's keyring service.
func New() *Store {
	return &Store{service: serviceName}
}

// Store saves secret under key.
func (s *Store) Store(key, secret string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if secret == "" {
		return errors.New("secret cannot be empty")
	}
	if err := keyring.Set(s.service, key, secret); err != nil {
		return fmt.Errorf("keyring set %s: %w", key, err)
	}
	return nil
}

// Get retrieves the secret stored under key.
func (s *Store) Get(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	secret, err := keyring.Get(s.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("keyring get %s: %w", key, err)
	}
	return secret, nil
}

// Delete removes the secret stored under key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := keyring.Delete(s.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a secret is stored under key.
func (s *Store) Exists(key string) bool {
	_, err := s.Get(key)
	return err == nil
}

// StoreLogin saves an OpenVPN username/password pair for account.
func StoreLogin(store common.CredentialStore, account, username, password string) error {
	if strings.ContainsAny(username, "\r\n") {
		return errors.New("username cannot contain line breaks")
	}
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	return store.Store(account, username+"\n"+password)
}

// Login returns the username/password pair saved for account.
func Login(store common.CredentialStore, account string) (username, password string, err error) {
	secret, err := store.Get(account)
	if err != nil {
		return "", "", err
	}
	username, password, ok := strings.Cut(secret, "\n")
	if !ok || username == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidLogin, account)
	}
	return username, password, nil
}
