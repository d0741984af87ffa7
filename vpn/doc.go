// Package vpn provides single-tunnel VPN connection management over a
// pool of client profiles.
//
// This package implements the core functionality including:
//
//   - Profile pool: Discovering profiles and tracking which one is bound
//   - Process supervision: Launching the external client and terminating it
//   - Connection state machine: Connecting, detecting success, disconnecting
//   - Health monitoring: Tearing the tunnel down when the client dies
//
// # Architecture
//
// The package is organized around these types:
//
//   - ProfilePool: Immutable set of discovered profiles with mutable Bound flags
//   - Supervisor and Handle: Launch a client process and observe or stop it
//   - SuccessDetector: Decides when a launched client has an established tunnel
//   - Manager: Owns the connection state and the current session
//   - HealthMonitor: Polls the client of an established session
//
// # Connection Flow
//
//  1. Manager.Connect binds the profile and moves to StateConnecting
//  2. Credentials are resolved and the Supervisor spawns the client
//  3. After a settle delay the SuccessDetector is polled once per interval
//  4. On success the Manager moves to StateConnected and starts a HealthMonitor
//  5. If the client exits first, the profile is released and Connect fails
//
// Every connection attempt is a session with its own ID. A HealthMonitor
// only ever acts on the session it was started for, so a monitor that
// outlives its session cannot disturb a newer one.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Blocking work
// such as credential lookup and process termination happens outside the
// Manager's lock.
package vpn
