// Package ui provides the terminal user interface for vpn-pool.
//
// The interface is a bubbletea program showing the discovered profiles,
// which one is bound, and the current connection state.
//
// # Keys
//
//   - up/down (k/j): move the selection
//   - enter: connect to the selected profile
//   - r: connect to a random available profile
//   - d: disconnect, or abort a connection attempt
//   - q, ctrl+c: disconnect and quit
//
// # Concurrency
//
// Connect and Disconnect block, so they run as tea.Cmds off the update
// loop. State changes made elsewhere, such as the health monitor tearing
// a dead tunnel down, reach the model through the Manager's Changes
// channel.
//
// # File Organization
//
//   - model.go: Model, messages and commands
//   - styles.go: lipgloss styles
package ui
