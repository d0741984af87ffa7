// Package common provides shared constants, types, and utilities
// used across vpn-pool.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "vpn-pool"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "vpn-pool"
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "VPNPOOL"
)

// File names used by the application.
const (
	ConfigFileName  = "config.yaml"
	HistoryFileName = "history.db"
	LogFileName     = "vpn-pool.log"
)

// OpenVPN integration defaults.
const (
	// DefaultProfilesDir is where profiles are discovered when nothing else is configured.
	DefaultProfilesDir = "./configs/ovpn_configs"
	// DefaultProfileExt is the file extension that marks a profile.
	DefaultProfileExt = ".ovpn"
	// DefaultAuthFileName is the credentials file looked up next to the profiles.
	DefaultAuthFileName = "vpn-auth.txt"
	// DefaultBinary is the VPN client executable.
	DefaultBinary = "openvpn"
	// DefaultElevation is prefixed to the client command line.
	DefaultElevation = "sudo"
	// DefaultClientLog receives the client's combined output, truncated per attempt.
	DefaultClientLog = "/tmp/openvpn.log"
	// SuccessMarker is printed by OpenVPN once the tunnel is fully up.
	SuccessMarker = "Initialization Sequence Completed"
	// DefaultManagementAddr is used by the management-socket detector.
	DefaultManagementAddr = "127.0.0.1:7505"
)

// Default timeouts and intervals.
const (
	// SettleDelay is the wait between spawning the client and the first check.
	SettleDelay = 3 * time.Second
	// PollInterval is the delay between checks while connecting.
	PollInterval = 1 * time.Second
	// MonitorInterval is how often the health monitor checks the client process.
	MonitorInterval = 5 * time.Second
	// ConnectionTimeout bounds a single connect attempt.
	ConnectionTimeout = 60 * time.Second
	// TerminateGrace is how long a SIGTERM'd client may take before it is killed.
	TerminateGrace = 5 * time.Second
	// ShutdownTimeout bounds cleanup on process exit.
	ShutdownTimeout = 10 * time.Second
)

// Credential sources.
const (
	CredentialsFile    = "file"
	CredentialsKeyring = "keyring"
)

// Success detectors.
const (
	DetectorLog        = "log"
	DetectorManagement = "management"
)
