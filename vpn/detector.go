// Package vpn provides VPN connection management functionality.
// This file contains the success detectors that decide when a
// launched client has a fully established tunnel.
package vpn

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yllada/vpn-pool/common"
)

// SuccessDetector reports whether the tunnel behind a handle is up.
// Established must not block for long; it is called on every poll tick.
type SuccessDetector interface {
	Established(h Handle) (bool, error)
}

// SpawnArgsProvider is implemented by detectors that need extra client arguments.
type SpawnArgsProvider interface {
	SpawnArgs() []string
}

// HandleReleaser is implemented by detectors that keep per-handle state.
type HandleReleaser interface {
	Release(h Handle)
}

// LogMarkerDetector looks for a literal marker in the client's log output.
type LogMarkerDetector struct {
	marker []byte
}

// NewLogMarkerDetector returns a detector for marker, defaulting to
// OpenVPN's "Initialization Sequence Completed".
func NewLogMarkerDetector(marker string) *LogMarkerDetector {
	if marker == "" {
		marker = common.SuccessMarker
	}
	return &LogMarkerDetector{marker: []byte(marker)}
}

// Established reports whether the marker appears anywhere in the log.
// A log file that does not exist yet counts as not established.
func (d *LogMarkerDetector) Established(h Handle) (bool, error) {
	data, err := os.ReadFile(h.LogPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read client log: %w", err)
	}
	return bytes.Contains(data, d.marker), nil
}

// ManagementDetector follows the client's management interface and
// reports success on a CONNECTED state line.
type ManagementDetector struct {
	addr        string
	dialTimeout time.Duration

	mu       sync.Mutex
	sessions map[Handle]*managementSession
}

// NewManagementDetector returns a detector for the management socket at addr.
func NewManagementDetector(addr string) *ManagementDetector {
	if addr == "" {
		addr = common.DefaultManagementAddr
	}
	return &ManagementDetector{
		addr:        addr,
		dialTimeout: 200 * time.Millisecond,
		sessions:    make(map[Handle]*managementSession),
	}
}

// SpawnArgs enables the management interface on the client.
func (d *ManagementDetector) SpawnArgs() []string {
	host, port, err := net.SplitHostPort(d.addr)
	if err != nil {
		return nil
	}
	return []string{"--management", host, port}
}

// Established dials the management socket on first use and reports
// whether a CONNECTED state has been seen since.
func (d *ManagementDetector) Established(h Handle) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[h]
	if !ok {
		conn, err := net.DialTimeout("tcp", d.addr, d.dialTimeout)
		if err != nil {
			// The client opens the socket some time after launch.
			return false, nil
		}
		s = &managementSession{conn: conn}
		d.sessions[h] = s
		go s.read()

		if _, err := conn.Write([]byte("state on\nstate\n")); err != nil {
			return false, fmt.Errorf("management socket: %w", err)
		}
	}
	return s.connected.Load(), nil
}

// Release closes the management connection held for h.
func (d *ManagementDetector) Release(h Handle) {
	d.mu.Lock()
	s, ok := d.sessions[h]
	delete(d.sessions, h)
	d.mu.Unlock()

	if ok {
		s.conn.Close()
	}
}

type managementSession struct {
	conn      net.Conn
	connected atomic.Bool
}

func (s *managementSession) read() {
	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		if state, ok := parseStateLine(scanner.Text()); ok {
			common.LogDebug("OpenVPN management state: %s", state)
			s.connected.Store(state == "CONNECTED")
		}
	}
}

// parseStateLine extracts the state name from a real-time notification
// (">STATE:1700000000,CONNECTED,SUCCESS,10.8.0.2,1.2.3.4") or from a
// reply to the "state" command (the same line without the prefix).
func parseStateLine(line string) (string, bool) {
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), ">STATE:"))
	parts := strings.Split(line, ",")
	if len(parts) < 2 || parts[0] == "" {
		return "", false
	}
	for _, r := range parts[0] {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return parts[1], true
}
