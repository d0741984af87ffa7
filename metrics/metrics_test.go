package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yllada/vpn-pool/vpn"
)

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.Record(vpn.Event{Kind: vpn.EventConnecting, State: vpn.StateConnecting})

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("Handler returned status %d, want 200", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "vpnpool_state") || !strings.Contains(body, "go_") {
		t.Error("Handler response should contain vpnpool and go metrics")
	}
}

func TestMetricsRegistry(t *testing.T) {
	families, err := New().Registry().Gather()
	if err != nil {
		t.Fatalf("Registry.Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("Registry should have registered metrics")
	}
}

// fakeSource stands in for the Manager behind the live gauges.
type fakeSource struct {
	state vpn.ConnectionState
	pool  *vpn.ProfilePool
}

func (f *fakeSource) State() vpn.ConnectionState { return f.state }
func (f *fakeSource) Pool() *vpn.ProfilePool     { return f.pool }

func TestGauges_FollowSource(t *testing.T) {
	m := New()
	if got := testutil.ToFloat64(m.State); got != 0 {
		t.Errorf("untracked state = %v, want 0", got)
	}

	src := &fakeSource{pool: vpn.NewProfilePoolFromIDs("/profiles", "a.ovpn", "b.ovpn")}
	m.Track(src)

	src.state = vpn.StateConnecting
	if err := src.pool.MarkBound("a.ovpn"); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.State); got != 1 {
		t.Errorf("state = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ProfilesBound); got != 1 {
		t.Errorf("profiles bound = %v, want 1", got)
	}

	// Events arriving out of order must not leave the gauges stale.
	src.state = vpn.StateDisconnected
	if err := src.pool.MarkUnbound("a.ovpn"); err != nil {
		t.Fatal(err)
	}
	m.Record(vpn.Event{Kind: vpn.EventConnecting, State: vpn.StateConnecting})
	if got := testutil.ToFloat64(m.State); got != 0 {
		t.Errorf("state = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.ProfilesBound); got != 0 {
		t.Errorf("profiles bound = %v, want 0", got)
	}
}

func TestRecord_Lifecycle(t *testing.T) {
	m := New()

	m.Record(vpn.Event{Kind: vpn.EventConnecting, State: vpn.StateConnecting})
	m.Record(vpn.Event{Kind: vpn.EventConnected, State: vpn.StateConnected, Duration: 3 * time.Second})
	if got := testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("success")); got != 1 {
		t.Errorf("successful attempts = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.ConnectDuration); got != 1 {
		t.Errorf("connect duration series = %d, want 1", got)
	}

	m.Record(vpn.Event{Kind: vpn.EventTunnelLost, State: vpn.StateDisconnected, Duration: time.Minute})
	if got := testutil.ToFloat64(m.TunnelLost); got != 1 {
		t.Errorf("tunnel lost = %v, want 1", got)
	}
	if got := histogramCount(t, m, "vpnpool_session_duration_seconds"); got != 1 {
		t.Errorf("session duration samples = %d, want 1", got)
	}
}

func TestRecord_ConnectFailed(t *testing.T) {
	m := New()

	m.Record(vpn.Event{Kind: vpn.EventConnecting, State: vpn.StateConnecting})
	m.Record(vpn.Event{Kind: vpn.EventConnectFailed, State: vpn.StateDisconnected, Duration: 2 * time.Second})

	if got := testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed attempts = %v, want 1", got)
	}
	if got := histogramCount(t, m, "vpnpool_session_duration_seconds"); got != 0 {
		t.Errorf("session duration samples = %d, want 0 for an attempt that never connected", got)
	}
}

// histogramCount returns the sample count of the named histogram.
func histogramCount(t *testing.T, m *Metrics, name string) uint64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	t.Fatalf("histogram %s not found", name)
	return 0
}
