package vpn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var errFakeExit = errors.New("exit status 1")

// fakeHandle is a Handle whose lifetime is driven by the test.
type fakeHandle struct {
	pid     int
	logPath string

	// ignoreTerm keeps the process alive through Terminate.
	ignoreTerm bool

	exitOnce   sync.Once
	done       chan struct{}
	terminates atomic.Int32
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, done: make(chan struct{})}
}

func (h *fakeHandle) PID() int              { return h.pid }
func (h *fakeHandle) LogPath() string       { return h.logPath }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *fakeHandle) ExitErr() error {
	if h.Exited() {
		return errFakeExit
	}
	return nil
}

func (h *fakeHandle) Terminate(ctx context.Context) error {
	h.terminates.Add(1)
	if !h.ignoreTerm {
		h.exit()
	}
	return nil
}

// exit simulates the process dying.
func (h *fakeHandle) exit() {
	h.exitOnce.Do(func() { close(h.done) })
}

// fakeSupervisor hands out fakeHandles and records every request.
type fakeSupervisor struct {
	mu       sync.Mutex
	err      error
	requests []SpawnRequest
	handles  []*fakeHandle
	// exitImmediately makes every spawned handle exit right away.
	exitImmediately bool
	// spawned receives each handle as it is created, if non-nil.
	spawned chan *fakeHandle
}

func (s *fakeSupervisor) Spawn(ctx context.Context, req SpawnRequest) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	h := newFakeHandle(1000 + len(s.handles))
	if s.exitImmediately {
		h.exit()
	}
	s.handles = append(s.handles, h)
	if s.spawned != nil {
		s.spawned <- h
	}
	return h, nil
}

func (s *fakeSupervisor) last() *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) == 0 {
		return nil
	}
	return s.handles[len(s.handles)-1]
}

func (s *fakeSupervisor) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// fakeDetector reports success once set.
type fakeDetector struct {
	established atomic.Bool
	checks      atomic.Int32
	released    atomic.Int32
}

func (d *fakeDetector) Established(Handle) (bool, error) {
	d.checks.Add(1)
	return d.established.Load(), nil
}

func (d *fakeDetector) Release(Handle) {
	d.released.Add(1)
}

// eventLog collects recorded events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Kind)
	}
	return out
}

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, k := range l.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}
