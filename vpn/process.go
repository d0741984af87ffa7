// Package vpn provides VPN connection management functionality.
// This file contains the process supervisor that launches the external
// VPN client and tracks its lifetime.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/yllada/vpn-pool/common"
)

// SpawnRequest describes one client launch.
type SpawnRequest struct {
	ProfileID       string
	ProfilePath     string
	CredentialsPath string
	// ExtraArgs are appended after the profile and credentials arguments.
	ExtraArgs []string
}

// Handle is a launched client process. A handle belongs to exactly one
// connection attempt and is never reused.
type Handle interface {
	// PID returns the OS process id of the launched command.
	PID() int
	// LogPath returns the file receiving the client's combined output.
	LogPath() string
	// Exited reports, without blocking, whether the process has terminated.
	Exited() bool
	// Done is closed once the process has terminated.
	Done() <-chan struct{}
	// ExitErr returns the wait error once Done is closed.
	ExitErr() error
	// Terminate asks the process to stop and escalates to a kill after the
	// grace period or when ctx is cancelled. It is safe to call repeatedly.
	Terminate(ctx context.Context) error
}

// Supervisor launches VPN client processes.
type Supervisor interface {
	// Spawn starts the client and returns without waiting for the tunnel.
	// Failing to launch the binary returns an error wrapping ErrSpawn.
	Spawn(ctx context.Context, req SpawnRequest) (Handle, error)
}

// SupervisorConfig configures an ExecSupervisor.
type SupervisorConfig struct {
	// Binary is the client executable, e.g. "openvpn".
	Binary string
	// Elevation is prefixed to the command line, e.g. ["sudo"].
	Elevation []string
	// LogPath receives stdout and stderr; it is truncated on every spawn.
	LogPath string
	// Grace is how long Terminate waits after SIGTERM before killing.
	Grace time.Duration
}

// ExecSupervisor runs the client with os/exec.
type ExecSupervisor struct {
	cfg SupervisorConfig
}

// NewExecSupervisor creates a supervisor for the configured client binary.
func NewExecSupervisor(cfg SupervisorConfig) *ExecSupervisor {
	if cfg.Binary == "" {
		cfg.Binary = common.DefaultBinary
	}
	if cfg.LogPath == "" {
		cfg.LogPath = common.DefaultClientLog
	}
	if cfg.Grace <= 0 {
		cfg.Grace = common.TerminateGrace
	}
	return &ExecSupervisor{cfg: cfg}
}

// CommandLine returns the program and arguments Spawn would execute.
func (s *ExecSupervisor) CommandLine(req SpawnRequest) (string, []string) {
	args := []string{
		"--config", req.ProfilePath,
		"--auth-user-pass", req.CredentialsPath,
	}
	args = append(args, req.ExtraArgs...)

	if len(s.cfg.Elevation) == 0 {
		return s.cfg.Binary, args
	}

	full := make([]string, 0, len(s.cfg.Elevation)+len(args))
	full = append(full, s.cfg.Elevation[1:]...)
	full = append(full, s.cfg.Binary)
	full = append(full, args...)
	return s.cfg.Elevation[0], full
}

// Spawn launches the client with its output redirected to the log file.
func (s *ExecSupervisor) Spawn(ctx context.Context, req SpawnRequest) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	// With an elevation prefix the prefix itself always launches, so the
	// client binary has to be checked up front to report a spawn failure.
	if len(s.cfg.Elevation) > 0 {
		if _, err := exec.LookPath(s.cfg.Binary); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
		}
	}

	logFile, err := os.OpenFile(s.cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open client log: %v", ErrSpawn, err)
	}

	name, args := s.CommandLine(req)
	cmd := exec.Command(name, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, name, err)
	}
	common.LogDebug("VPN client started: %s %v (pid %d)", name, args, cmd.Process.Pid)

	p := &process{
		cmd:     cmd,
		logPath: s.cfg.LogPath,
		grace:   s.cfg.Grace,
		done:    make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		logFile.Close()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
		common.LogDebug("VPN client pid %d exited: %v", cmd.Process.Pid, err)
	}()

	return p, nil
}

// process is the os/exec backed Handle.
type process struct {
	cmd     *exec.Cmd
	logPath string
	grace   time.Duration

	mu      sync.Mutex
	exitErr error
	done    chan struct{}
}

func (p *process) PID() int {
	return p.cmd.Process.Pid
}

func (p *process) LogPath() string {
	return p.logPath
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

func (p *process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *process) Terminate(ctx context.Context) error {
	if p.Exited() {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		common.LogWarn("SIGTERM to pid %d failed, killing: %v", p.PID(), err)
		return p.kill()
	}

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
		common.LogWarn("VPN client pid %d ignored SIGTERM for %v, killing", p.PID(), p.grace)
	case <-ctx.Done():
	}
	return p.kill()
}

func (p *process) kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", p.PID(), err)
	}
	return nil
}
