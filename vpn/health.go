// Package vpn provides VPN connection management functionality.
// This file contains the HealthMonitor that watches the client process
// of an established connection and reports its unexpected exit.
package vpn

import (
	"sync"
	"time"

	"github.com/yllada/vpn-pool/common"
)

// HealthMonitor polls one connection's client process and also wakes as
// soon as the handle reports exit. It is started once
// per established connection and stops when the process exits or when the
// connection is torn down.
type HealthMonitor struct {
	mu       sync.Mutex
	interval time.Duration
	handle   Handle
	onExit   func()
	started  bool
	running  bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewHealthMonitor creates a monitor for handle. onExit runs on the
// monitor's goroutine after the process is found dead.
func NewHealthMonitor(handle Handle, interval time.Duration, onExit func()) *HealthMonitor {
	if interval <= 0 {
		interval = common.MonitorInterval
	}
	return &HealthMonitor{
		interval: interval,
		handle:   handle,
		onExit:   onExit,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins polling. Subsequent calls do nothing.
func (hm *HealthMonitor) Start() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if hm.started {
		return
	}
	hm.started = true
	hm.running = true

	common.LogDebug("Health monitor started for pid %d (interval: %v)", hm.handle.PID(), hm.interval)
	go hm.runLoop()
}

// Stop cancels the monitor and waits for its goroutine to finish.
// It must not be called from onExit.
func (hm *HealthMonitor) Stop() {
	hm.cancel()

	hm.mu.Lock()
	started := hm.started
	hm.mu.Unlock()
	if started {
		<-hm.done
	}
}

// cancel signals the monitor to stop without waiting for it.
func (hm *HealthMonitor) cancel() {
	hm.stopOnce.Do(func() { close(hm.stopChan) })
}

// IsRunning returns whether the monitor goroutine is still polling.
func (hm *HealthMonitor) IsRunning() bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.running
}

// Done is closed when the monitor goroutine has returned.
func (hm *HealthMonitor) Done() <-chan struct{} {
	return hm.done
}

func (hm *HealthMonitor) runLoop() {
	defer func() {
		hm.mu.Lock()
		hm.running = false
		hm.mu.Unlock()
		close(hm.done)
	}()

	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-hm.stopChan:
			return
		case <-hm.handle.Done():
		case <-ticker.C:
			if !hm.handle.Exited() {
				continue
			}
		}

		select {
		case <-hm.stopChan:
			// Torn down while the process was exiting; nothing to report.
			return
		default:
		}
		hm.onExit()
		return
	}
}
