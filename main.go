// Package main provides the entry point for vpn-pool.
// vpn-pool keeps a single OpenVPN tunnel up over a pool of profiles,
// chosen by name or at random, and tears it down when the client dies.
//
// Features:
//   - Profile discovery from a directory of .ovpn files
//   - Random selection among profiles not currently in use
//   - Connection supervision with automatic teardown on client exit
//   - Credentials from a file or the system keyring
//   - HTTP control API with Prometheus metrics
//   - Terminal user interface
//
// Usage:
//
//	vpn-pool [command] [flags]
//
// Environment:
//
//	The application requires OpenVPN to be installed on the system.
//	Settings may be overridden with VPNPOOL_* environment variables.
package main

import (
	"os"

	"github.com/yllada/vpn-pool/cli"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

func main() {
	os.Exit(cli.Execute(cli.BuildInfo{
		Version:   appVersion,
		BuildTime: buildTime,
		Commit:    commitSHA,
	}))
}
