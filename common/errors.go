// Package common provides shared constants, types, and utilities
// used across vpn-pool.
package common

import "errors"

// Sentinel errors for VPN operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Profile pool errors.
	ErrUnknownProfile     = errors.New("unknown profile")
	ErrNoAvailableProfile = errors.New("no available profile")

	// Connection errors.
	ErrSpawn                  = errors.New("failed to launch vpn client")
	ErrConnectionFailed       = errors.New("connection failed")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrTimeout                = errors.New("operation timed out")
	ErrCancelled              = errors.New("operation cancelled")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
