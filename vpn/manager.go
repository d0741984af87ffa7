// Package vpn provides VPN connection management functionality.
// This file contains the Manager, the connection state machine that
// drives a single tunnel over a pool of profiles.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yllada/vpn-pool/common"
)

// Common errors - re-exported from common package for convenience.
var (
	ErrUnknownProfile         = common.ErrUnknownProfile
	ErrNoAvailableProfile     = common.ErrNoAvailableProfile
	ErrSpawn                  = common.ErrSpawn
	ErrConnectionFailed       = common.ErrConnectionFailed
	ErrInvalidStateTransition = common.ErrInvalidStateTransition
	ErrTimeout                = common.ErrTimeout
	ErrCancelled              = common.ErrCancelled
)

// ConnectionState is the lifecycle state of the managed tunnel.
type ConnectionState int

const (
	// StateDisconnected indicates no tunnel and no bound profile.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates a client has been launched and is coming up.
	StateConnecting
	// StateConnected indicates an established tunnel watched by a health monitor.
	StateConnected
	// StateDisconnecting indicates the tunnel is being torn down.
	StateDisconnecting
)

// String returns a human-readable representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting..."
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting..."
	default:
		return "Unknown"
	}
}

// Key returns the lowercase machine name of the state.
func (s ConnectionState) Key() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Options configures a Manager. Zero values select defaults, except that a
// zero SettleDelay means no settle delay and a zero ConnectTimeout means
// a connect attempt may wait indefinitely.
type Options struct {
	Supervisor  Supervisor
	Detector    SuccessDetector
	Credentials CredentialsSource
	Recorder    Recorder

	SettleDelay     time.Duration
	PollInterval    time.Duration
	MonitorInterval time.Duration
	ConnectTimeout  time.Duration
}

// Status is a point-in-time view of the Manager.
type Status struct {
	State       ConnectionState
	ProfileID   string
	SessionID   string
	PID         int
	Since       time.Time
	ConnectedAt time.Time
}

// session is one connection instance, from Connect to teardown.
type session struct {
	id          string
	profileID   string
	handle      Handle
	release     func()
	monitor     *HealthMonitor
	startedAt   time.Time
	connectedAt time.Time
}

// Manager owns the connection state, the current session and the
// profile pool bookkeeping. All methods are safe for concurrent use.
type Manager struct {
	pool *ProfilePool
	opts Options
	now  func() time.Time

	mu      sync.Mutex
	state   ConnectionState
	current *session
	since   time.Time
	changed chan struct{}
}

// NewManager creates a Manager over pool.
func NewManager(pool *ProfilePool, opts Options) *Manager {
	if opts.Supervisor == nil {
		opts.Supervisor = NewExecSupervisor(SupervisorConfig{})
	}
	if opts.Detector == nil {
		opts.Detector = NewLogMarkerDetector(common.SuccessMarker)
	}
	if opts.Credentials == nil {
		opts.Credentials = FileCredentials{Path: filepath.Join(pool.Dir(), common.DefaultAuthFileName)}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = common.PollInterval
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = common.MonitorInterval
	}

	common.LogInfo("VPN manager initialized with %d profile(s)", pool.Len())

	return &Manager{
		pool:    pool,
		opts:    opts,
		now:     time.Now,
		state:   StateDisconnected,
		since:   time.Now(),
		changed: make(chan struct{}),
	}
}

// Pool returns the profile pool.
func (m *Manager) Pool() *ProfilePool {
	return m.pool
}

// GetConfig returns a snapshot of every profile and its binding state.
func (m *Manager) GetConfig() []Profile {
	return m.pool.List()
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the current state together with session details.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{State: m.state, Since: m.since}
	if s := m.current; s != nil {
		st.ProfileID = s.profileID
		st.SessionID = s.id
		st.ConnectedAt = s.connectedAt
		if s.handle != nil {
			st.PID = s.handle.PID()
		}
	}
	return st
}

// Changes returns a channel that is closed on the next state change.
func (m *Manager) Changes() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// Connect brings the tunnel up using profileID and blocks until it is
// established or the attempt has failed. On success a health monitor
// watches the client until Disconnect or the client's exit.
//
// Errors: ErrInvalidStateTransition unless disconnected, ErrUnknownProfile,
// ErrSpawn, ErrConnectionFailed when the client exits before the tunnel is
// up, ErrTimeout after ConnectTimeout, ErrCancelled when ctx is cancelled
// or Disconnect aborts the attempt.
func (m *Manager) Connect(ctx context.Context, profileID string) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: connect requested while %s", ErrInvalidStateTransition, state.Key())
	}
	profile, err := m.pool.Get(profileID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	sess := &session{
		id:        uuid.NewString(),
		profileID: profileID,
		startedAt: m.now(),
	}
	m.current = sess
	m.setState(StateConnecting)
	if err := m.pool.MarkBound(profileID); err != nil {
		m.resetLocked(sess)
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	common.LogInfo("Connecting using profile: %s", profileID)
	m.emit(Event{SessionID: sess.id, ProfileID: profileID, Kind: EventConnecting,
		State: StateConnecting, At: sess.startedAt})

	// A keyring lookup may wait on an unlock prompt; keep the lock free meanwhile.
	credentials, release, err := m.opts.Credentials.Resolve(profile.ID)
	if release == nil {
		release = func() {}
	}

	m.mu.Lock()
	if m.current != sess || m.state != StateConnecting {
		m.mu.Unlock()
		release()
		return fmt.Errorf("%w: attempt for %s was torn down", ErrCancelled, profileID)
	}
	if err == nil {
		err = m.spawnLocked(ctx, sess, profile, credentials, release)
	}
	if err != nil {
		m.resetLocked(sess)
		m.mu.Unlock()

		common.LogError("Could not start VPN client for %s: %v", profileID, err)
		m.emit(Event{SessionID: sess.id, ProfileID: profileID, Kind: EventConnectFailed,
			State: StateDisconnected, Detail: err.Error(), Duration: m.now().Sub(sess.startedAt)})
		return err
	}
	m.mu.Unlock()

	return m.awaitEstablished(ctx, sess)
}

// spawnLocked launches the client for sess. m.mu must be held.
func (m *Manager) spawnLocked(ctx context.Context, sess *session, profile Profile, credentials string, release func()) error {
	req := SpawnRequest{
		ProfileID:       profile.ID,
		ProfilePath:     profile.Path,
		CredentialsPath: credentials,
	}
	if p, ok := m.opts.Detector.(SpawnArgsProvider); ok {
		req.ExtraArgs = p.SpawnArgs()
	}

	handle, err := m.opts.Supervisor.Spawn(ctx, req)
	if err != nil {
		release()
		return err
	}

	sess.handle = handle
	sess.release = release
	return nil
}

// awaitEstablished polls the current attempt until it succeeds, fails,
// times out, is cancelled, or is torn down by someone else.
func (m *Manager) awaitEstablished(ctx context.Context, sess *session) error {
	var deadline <-chan time.Time
	if m.opts.ConnectTimeout > 0 {
		timer := time.NewTimer(m.opts.ConnectTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	// The client needs a moment before its output is meaningful.
	if err := m.wait(ctx, deadline, m.opts.SettleDelay); err != nil {
		return m.abortAttempt(sess, err)
	}

	common.LogInfo("Waiting for connection...")
	for {
		m.mu.Lock()
		if m.current != sess || m.state != StateConnecting {
			m.mu.Unlock()
			return fmt.Errorf("%w: attempt for %s was torn down", ErrCancelled, sess.profileID)
		}

		if sess.handle.Exited() {
			m.resetLocked(sess)
			m.mu.Unlock()

			m.releaseSession(sess)
			err := fmt.Errorf("%w: %s: client exited before the tunnel came up", ErrConnectionFailed, sess.profileID)
			if exitErr := sess.handle.ExitErr(); exitErr != nil {
				err = fmt.Errorf("%w (%v)", err, exitErr)
			}
			common.LogCritical("Connection failed: %v", err)
			m.emit(Event{SessionID: sess.id, ProfileID: sess.profileID, Kind: EventConnectFailed,
				State: StateDisconnected, Detail: err.Error(), Duration: m.now().Sub(sess.startedAt)})
			return err
		}

		established, err := m.opts.Detector.Established(sess.handle)
		if err != nil {
			common.LogWarn("Success check for %s failed: %v", sess.profileID, err)
		}
		if established {
			sess.connectedAt = m.now()
			sess.monitor = NewHealthMonitor(sess.handle, m.opts.MonitorInterval, func() {
				m.handleProcessExit(sess)
			})
			m.setState(StateConnected)
			sess.monitor.Start()
			m.mu.Unlock()

			common.LogInfo("Connected using profile: %s (pid %d)", sess.profileID, sess.handle.PID())
			m.emit(Event{SessionID: sess.id, ProfileID: sess.profileID, Kind: EventConnected,
				State: StateConnected, Duration: sess.connectedAt.Sub(sess.startedAt)})
			return nil
		}
		m.mu.Unlock()

		if err := m.wait(ctx, deadline, m.opts.PollInterval); err != nil {
			return m.abortAttempt(sess, err)
		}
	}
}

// wait sleeps for d unless ctx is cancelled or deadline fires first.
func (m *Manager) wait(ctx context.Context, deadline <-chan time.Time, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-deadline:
			return ErrTimeout
		default:
			return nil
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	case <-deadline:
		return ErrTimeout
	}
}

// abortAttempt tears down a connecting session after a timeout or cancel.
func (m *Manager) abortAttempt(sess *session, cause error) error {
	m.mu.Lock()
	if m.current != sess || m.state != StateConnecting {
		m.mu.Unlock()
		return fmt.Errorf("%w: attempt for %s was torn down", ErrCancelled, sess.profileID)
	}
	m.setState(StateDisconnecting)
	m.mu.Unlock()

	err := fmt.Errorf("connect %s: %w", sess.profileID, cause)
	common.LogError("Aborting connection attempt: %v", err)
	m.teardown(context.Background(), sess, EventConnectFailed, false, err.Error())
	return err
}

// Disconnect tears down the current connection or connection attempt.
// Exactly one teardown runs per session: a Disconnect racing another
// Disconnect or a monitor-triggered teardown fails with
// ErrInvalidStateTransition and leaves everything untouched.
func (m *Manager) Disconnect() error {
	return m.disconnect(context.Background())
}

func (m *Manager) disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDisconnected || m.state == StateDisconnecting {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: disconnect requested while %s", ErrInvalidStateTransition, state.Key())
	}
	sess := m.current
	kind, detail := EventDisconnected, ""
	if m.state == StateConnecting {
		kind, detail = EventConnectFailed, "connection attempt aborted by disconnect"
	}
	m.setState(StateDisconnecting)
	m.mu.Unlock()

	common.LogInfo("Disconnecting from %s...", sess.profileID)
	m.teardown(ctx, sess, kind, false, detail)
	common.LogInfo("Disconnected")
	return nil
}

// handleProcessExit is the health monitor callback. It acts only if sess
// is still the current, established session.
func (m *Manager) handleProcessExit(sess *session) {
	m.mu.Lock()
	if m.current != sess || m.state != StateConnected {
		m.mu.Unlock()
		common.LogDebug("Health monitor for stale session %s exiting quietly", sess.id)
		return
	}
	m.setState(StateDisconnecting)
	m.mu.Unlock()

	detail := "client process exited"
	if exitErr := sess.handle.ExitErr(); exitErr != nil {
		detail = fmt.Sprintf("%s: %v", detail, exitErr)
	}
	common.LogCritical("Connection issues, disconnecting current vpn %s (%s)", sess.profileID, detail)
	m.teardown(context.Background(), sess, EventTunnelLost, true, detail)
}

// teardown runs the disconnect sequence for sess. The caller must have
// moved the state to StateDisconnecting while sess was current.
func (m *Manager) teardown(ctx context.Context, sess *session, kind EventKind, fromMonitor bool, detail string) {
	if sess.monitor != nil {
		if fromMonitor {
			sess.monitor.cancel()
		} else {
			sess.monitor.Stop()
		}
	}

	if sess.handle != nil {
		if err := sess.handle.Terminate(ctx); err != nil {
			common.LogWarn("Terminating VPN client for %s: %v", sess.profileID, err)
		}
	}
	m.releaseSession(sess)

	m.mu.Lock()
	m.resetLocked(sess)
	m.mu.Unlock()

	started := sess.startedAt
	if !sess.connectedAt.IsZero() {
		started = sess.connectedAt
	}
	m.emit(Event{SessionID: sess.id, ProfileID: sess.profileID, Kind: kind,
		State: StateDisconnected, Detail: detail, Duration: m.now().Sub(started)})
}

// resetLocked unbinds sess's profile, drops the session and returns to
// StateDisconnected. m.mu must be held.
func (m *Manager) resetLocked(sess *session) {
	if err := m.pool.MarkUnbound(sess.profileID); err != nil {
		common.LogError("Unbinding %s: %v", sess.profileID, err)
	}
	if m.current == sess {
		m.current = nil
	}
	m.setState(StateDisconnected)
}

// releaseSession frees per-session resources held outside the Manager.
func (m *Manager) releaseSession(sess *session) {
	if r, ok := m.opts.Detector.(HandleReleaser); ok && sess.handle != nil {
		r.Release(sess.handle)
	}
	if sess.release != nil {
		sess.release()
	}
}

// ConnectRandom connects to a uniformly chosen unbound profile and
// returns its ID. It fails with ErrNoAvailableProfile when the pool is
// empty or every profile is bound.
func (m *Manager) ConnectRandom(ctx context.Context) (string, error) {
	if m.pool.Len() == 0 {
		common.LogWarn("No configs found in %s", m.pool.Dir())
	}
	id, err := m.pool.PickUnbound()
	if err != nil {
		return "", err
	}

	common.LogInfo("Connecting to random profile %s", id)
	return id, m.Connect(ctx, id)
}

// Close disconnects an active or connecting tunnel so that the client
// process is not orphaned, waiting for any in-flight teardown to finish.
// It is safe to call on a disconnected Manager.
func (m *Manager) Close(ctx context.Context) error {
	for {
		m.mu.Lock()
		state, changed := m.state, m.changed
		m.mu.Unlock()

		switch state {
		case StateDisconnected:
			return nil
		case StateConnecting, StateConnected:
			err := m.disconnect(ctx)
			if err == nil || !errors.Is(err, ErrInvalidStateTransition) {
				return err
			}
		case StateDisconnecting:
			select {
			case <-changed:
			case <-ctx.Done():
				return fmt.Errorf("%w: waiting for teardown: %v", ErrCancelled, ctx.Err())
			}
		}
	}
}

// setState records a transition and wakes Changes() waiters. m.mu must be held.
func (m *Manager) setState(state ConnectionState) {
	if m.state == state {
		return
	}
	common.LogDebug("State %s -> %s", m.state.Key(), state.Key())
	m.state = state
	m.since = m.now()
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Manager) emit(e Event) {
	if m.opts.Recorder == nil {
		return
	}
	if e.At.IsZero() {
		e.At = m.now()
	}
	m.opts.Recorder.Record(e)
}
