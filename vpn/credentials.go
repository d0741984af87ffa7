// Package vpn provides VPN connection management functionality.
// This file contains the credentials sources that hand the client an
// --auth-user-pass file path.
package vpn

import (
	"fmt"
	"os"

	"github.com/yllada/vpn-pool/common"
	"github.com/yllada/vpn-pool/keyring"
)

// CredentialsSource resolves the credentials file passed to the client.
// release is called once the connection attempt or session has ended.
type CredentialsSource interface {
	Resolve(profileID string) (path string, release func(), err error)
}

// FileCredentials is a fixed credentials file, typically next to the profiles.
// The path is passed through as an opaque handle.
type FileCredentials struct {
	Path string
}

// Resolve returns the configured path.
func (f FileCredentials) Resolve(string) (string, func(), error) {
	return f.Path, func() {}, nil
}

// KeyringCredentials materialises a login stored in the keyring into a
// private temporary auth file for the lifetime of one session.
type KeyringCredentials struct {
	Store   common.CredentialStore
	Account string
	// TempDir holds the generated files; empty uses os.TempDir.
	TempDir string
}

// Resolve writes a 0600 auth file and returns a release func that removes it.
func (k KeyringCredentials) Resolve(profileID string) (string, func(), error) {
	username, password, err := keyring.Login(k.Store, k.Account)
	if err != nil {
		return "", nil, fmt.Errorf("credentials for %s: %w", profileID, err)
	}

	f, err := os.CreateTemp(k.TempDir, "vpn-pool-auth-*")
	if err != nil {
		return "", nil, fmt.Errorf("create auth file: %w", err)
	}
	path := f.Name()
	release := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			common.LogWarn("Could not remove auth file %s: %v", path, err)
		}
	}

	if err := f.Chmod(0600); err != nil {
		f.Close()
		release()
		return "", nil, fmt.Errorf("chmod auth file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%s\n%s\n", username, password); err != nil {
		f.Close()
		release()
		return "", nil, fmt.Errorf("write auth file: %w", err)
	}
	if err := f.Close(); err != nil {
		release()
		return "", nil, fmt.Errorf("close auth file: %w", err)
	}

	return path, release, nil
}
