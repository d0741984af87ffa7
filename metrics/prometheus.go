// Package metrics provides Prometheus metrics for the VPN pool.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yllada/vpn-pool/vpn"
)

// Source is read by the live gauges at scrape time. *vpn.Manager implements it.
type Source interface {
	State() vpn.ConnectionState
	Pool() *vpn.ProfilePool
}

// Metrics holds all Prometheus metrics and implements vpn.Recorder.
type Metrics struct {
	// Connection state, read from the tracked Source
	State         prometheus.GaugeFunc
	ProfilesBound prometheus.GaugeFunc

	// Connection attempts
	ConnectAttempts *prometheus.CounterVec
	ConnectDuration prometheus.Histogram

	// Sessions
	SessionDuration prometheus.Histogram
	TunnelLost      prometheus.Counter

	registry *prometheus.Registry

	mu     sync.Mutex
	source Source
}

// New creates a new Metrics instance with all metrics registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.State = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vpnpool_state",
			Help: "Connection state (0 = disconnected, 1 = connecting, 2 = connected, 3 = disconnecting)",
		},
		func() float64 {
			if src := m.tracked(); src != nil {
				return float64(src.State())
			}
			return 0
		},
	)

	m.ProfilesBound = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vpnpool_profiles_bound",
			Help: "Number of profiles currently bound to a tunnel",
		},
		func() float64 {
			if src := m.tracked(); src != nil {
				return float64(src.Pool().BoundCount())
			}
			return 0
		},
	)

	m.ConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpnpool_connect_attempts_total",
			Help: "Total number of finished connection attempts",
		},
		[]string{"result"},
	)

	m.ConnectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vpnpool_connect_duration_seconds",
			Help:    "Time from launching the client to an established tunnel",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	m.SessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vpnpool_session_duration_seconds",
			Help:    "Lifetime of established tunnels",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	m.TunnelLost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vpnpool_tunnel_lost_total",
			Help: "Total number of tunnels torn down because the client died",
		},
	)

	m.registry.MustRegister(
		m.State,
		m.ProfilesBound,
		m.ConnectAttempts,
		m.ConnectDuration,
		m.SessionDuration,
		m.TunnelLost,
	)

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Track makes the state gauges follow src.
func (m *Metrics) Track(src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = src
}

func (m *Metrics) tracked() Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// Record updates the counters and histograms from a lifecycle event.
// Disconnected and tunnel-lost events always belong to established sessions.
func (m *Metrics) Record(e vpn.Event) {
	switch e.Kind {
	case vpn.EventConnected:
		m.ConnectAttempts.WithLabelValues("success").Inc()
		m.ConnectDuration.Observe(e.Duration.Seconds())
	case vpn.EventConnectFailed:
		m.ConnectAttempts.WithLabelValues("failed").Inc()
	case vpn.EventTunnelLost:
		m.TunnelLost.Inc()
		m.SessionDuration.Observe(e.Duration.Seconds())
	case vpn.EventDisconnected:
		m.SessionDuration.Observe(e.Duration.Seconds())
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
