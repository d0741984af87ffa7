package cli

import (
	"context"
	"errors"

	"github.com/yllada/vpn-pool/common"
	"github.com/yllada/vpn-pool/config"
	"github.com/yllada/vpn-pool/history"
	"github.com/yllada/vpn-pool/keyring"
	"github.com/yllada/vpn-pool/metrics"
	"github.com/yllada/vpn-pool/notify"
	"github.com/yllada/vpn-pool/vpn"
)

// Runtime is the fully wired manager together with its event sinks.
type Runtime struct {
	Config  *config.Config
	Manager *vpn.Manager
	Metrics *metrics.Metrics
	// History is nil when history_db is empty or could not be opened.
	History *history.Store

	notifier *notify.Notifier
}

// NewRuntime discovers the profiles and wires the manager from cfg.
// Optional sinks that fail to start are logged and skipped.
func NewRuntime(cfg *config.Config) (*Runtime, error) {
	pool, err := vpn.NewProfilePool(cfg.ProfilesDir, cfg.ProfileExt)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, Metrics: metrics.New()}
	recorders := vpn.MultiRecorder{rt.Metrics}

	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			common.LogWarn("History disabled: %v", err)
		} else {
			rt.History = store
			recorders = append(recorders, store)
		}
	}

	if cfg.Notifications {
		n, err := notify.New()
		if err != nil {
			common.LogWarn("Desktop notifications disabled: %v", err)
		} else {
			rt.notifier = n
			recorders = append(recorders, n)
		}
	}

	rt.Manager = vpn.NewManager(pool, vpn.Options{
		Supervisor: vpn.NewExecSupervisor(vpn.SupervisorConfig{
			Binary:    cfg.Binary,
			Elevation: cfg.Elevation,
			LogPath:   cfg.ClientLog,
			Grace:     cfg.TerminateGrace,
		}),
		Detector:        newDetector(cfg),
		Credentials:     newCredentials(cfg),
		Recorder:        recorders,
		SettleDelay:     cfg.SettleDelay,
		PollInterval:    cfg.PollInterval,
		MonitorInterval: cfg.MonitorInterval,
		ConnectTimeout:  cfg.ConnectTimeout,
	})
	rt.Metrics.Track(rt.Manager)

	return rt, nil
}

func newDetector(cfg *config.Config) vpn.SuccessDetector {
	if cfg.Detector == common.DetectorManagement {
		return vpn.NewManagementDetector(cfg.ManagementAddr)
	}
	return vpn.NewLogMarkerDetector(common.SuccessMarker)
}

func newCredentials(cfg *config.Config) vpn.CredentialsSource {
	if cfg.Credentials == common.CredentialsKeyring {
		return vpn.KeyringCredentials{Store: keyring.New(), Account: cfg.KeyringAccount}
	}
	return vpn.FileCredentials{Path: cfg.AuthPath()}
}

// Close tears down any tunnel and releases the event sinks.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if err := rt.Manager.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if rt.History != nil {
		if err := rt.History.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.notifier != nil {
		if err := rt.notifier.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// closeRuntime closes rt with the shutdown timeout, logging failures.
func closeRuntime(rt *Runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), common.ShutdownTimeout)
	defer cancel()
	if err := rt.Close(ctx); err != nil {
		common.LogError("Shutdown: %v", err)
	}
}
