// Package vpn provides VPN connection management functionality.
// This file contains the lifecycle events the Manager reports to recorders.
package vpn

import "time"

// EventKind names a connection lifecycle event.
type EventKind string

const (
	// EventConnecting is emitted when a profile is bound and its client is about to launch.
	EventConnecting EventKind = "connecting"
	// EventConnected is emitted once the success detector sees the tunnel up.
	EventConnected EventKind = "connected"
	// EventConnectFailed ends an attempt that never reached Connected.
	EventConnectFailed EventKind = "connect_failed"
	// EventDisconnected ends an established session torn down on request.
	EventDisconnected EventKind = "disconnected"
	// EventTunnelLost ends an established session whose client exited on its own.
	EventTunnelLost EventKind = "tunnel_lost"
)

// Event is emitted by the Manager on every lifecycle transition.
type Event struct {
	SessionID string
	ProfileID string
	Kind      EventKind
	// State is the connection state after the event.
	State ConnectionState
	// Detail carries the failure reason, if any.
	Detail string
	// Duration is the connect time for EventConnected, the attempt length
	// for EventConnectFailed and the session length for EventDisconnected
	// and EventTunnelLost.
	Duration time.Duration
	// At is when the transition happened.
	At time.Time
}

// Recorder receives lifecycle events. Record is called synchronously and
// without the Manager's lock held; implementations must not block for long.
type Recorder interface {
	Record(Event)
}

// RecorderFunc adapts a function to a Recorder.
type RecorderFunc func(Event)

// Record calls f(e).
func (f RecorderFunc) Record(e Event) { f(e) }

// MultiRecorder fans an event out to several recorders.
type MultiRecorder []Recorder

// Record forwards e to every non-nil recorder in order.
func (m MultiRecorder) Record(e Event) {
	for _, r := range m {
		if r != nil {
			r.Record(e)
		}
	}
}
