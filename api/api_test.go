package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpn-pool/history"
	"github.com/yllada/vpn-pool/vpn"
)

type fakeController struct {
	connectErr    error
	disconnectErr error
	randomID      string
	connected     string
	status        vpn.Status
}

func (f *fakeController) Connect(ctx context.Context, id string) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = id
	f.status = vpn.Status{State: vpn.StateConnected, ProfileID: id, SessionID: "s-1", PID: 42,
		ConnectedAt: time.Unix(100, 0)}
	return nil
}

func (f *fakeController) ConnectRandom(ctx context.Context) (string, error) {
	if f.randomID == "" {
		return "", fmt.Errorf("%w: all 2 profiles are bound", vpn.ErrNoAvailableProfile)
	}
	return f.randomID, f.Connect(ctx, f.randomID)
}

func (f *fakeController) Disconnect() error {
	if f.disconnectErr != nil {
		return f.disconnectErr
	}
	f.status = vpn.Status{State: vpn.StateDisconnected}
	return nil
}

func (f *fakeController) GetConfig() []vpn.Profile {
	return []vpn.Profile{{ID: "a.ovpn", Path: "/p/a.ovpn"}, {ID: "b.ovpn", Path: "/p/b.ovpn", Bound: true}}
}

func (f *fakeController) Status() vpn.Status { return f.status }

type fakeHistory struct {
	limit   int
	entries []history.Entry
	err     error
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Debug(msg string, args ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(msg, args...))
}
func (l *recordingLogger) Info(string, ...interface{})  {}
func (l *recordingLogger) Warn(string, ...interface{})  {}
func (l *recordingLogger) Error(string, ...interface{}) {}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := &Server{Manager: &fakeController{}}
	w := do(t, s.Router(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestListProfiles(t *testing.T) {
	s := &Server{Manager: &fakeController{}}
	w := do(t, s.Router(), http.MethodGet, "/profiles")
	require.Equal(t, http.StatusOK, w.Code)

	var profiles []vpn.Profile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &profiles))
	require.Len(t, profiles, 2)
	assert.Equal(t, "a.ovpn", profiles[0].ID)
	assert.True(t, profiles[1].Bound)
}

func TestConnectAndStatus(t *testing.T) {
	ctrl := &fakeController{}
	r := (&Server{Manager: ctrl}).Router()

	w := do(t, r, http.MethodPost, "/connect/a.ovpn")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a.ovpn", ctrl.connected)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "connected", resp.State)
	assert.Equal(t, "a.ovpn", resp.ProfileID)
	assert.Equal(t, 42, resp.PID)
	require.NotNil(t, resp.ConnectedAt)

	w = do(t, r, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "s-1", resp.SessionID)

	w = do(t, r, http.MethodPost, "/disconnect")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "disconnected", resp.State)
	assert.Nil(t, resp.ConnectedAt)
}

func TestConnectRandom(t *testing.T) {
	ctrl := &fakeController{randomID: "b.ovpn"}
	w := do(t, (&Server{Manager: ctrl}).Router(), http.MethodPost, "/connect")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "b.ovpn", ctrl.connected)

	w = do(t, (&Server{Manager: &fakeController{}}).Router(), http.MethodPost, "/connect")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: x.ovpn", vpn.ErrUnknownProfile), http.StatusNotFound},
		{vpn.ErrInvalidStateTransition, http.StatusConflict},
		{fmt.Errorf("%w: exited", vpn.ErrConnectionFailed), http.StatusBadGateway},
		{vpn.ErrSpawn, http.StatusBadGateway},
		{fmt.Errorf("connect a.ovpn: %w", vpn.ErrTimeout), http.StatusGatewayTimeout},
		{vpn.ErrCancelled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ctrl := &fakeController{connectErr: tt.err}
			w := do(t, (&Server{Manager: ctrl}).Router(), http.MethodPost, "/connect/a.ovpn")
			assert.Equal(t, tt.code, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestDisconnectWhileDisconnected(t *testing.T) {
	ctrl := &fakeController{disconnectErr: fmt.Errorf("%w: disconnect requested while disconnected", vpn.ErrInvalidStateTransition)}
	w := do(t, (&Server{Manager: ctrl}).Router(), http.MethodPost, "/disconnect")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHistory(t *testing.T) {
	hist := &fakeHistory{entries: []history.Entry{{ID: 1, ProfileID: "a.ovpn", Kind: vpn.EventConnected}}}
	r := (&Server{Manager: &fakeController{}, History: hist}).Router()

	w := do(t, r, http.MethodGet, "/history?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, hist.limit)

	var entries []history.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, vpn.EventConnected, entries[0].Kind)

	w = do(t, r, http.MethodGet, "/history?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, (&Server{Manager: &fakeController{}}).Router(), http.MethodGet, "/history")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("vpnpool_state 0\n"))
	})
	w := do(t, (&Server{Manager: &fakeController{}, Metrics: metrics}).Router(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vpnpool_state")

	w = do(t, (&Server{Manager: &fakeController{}}).Router(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestLogging(t *testing.T) {
	logger := &recordingLogger{}
	s := &Server{Manager: &fakeController{}, Logger: logger}

	do(t, s.Router(), http.MethodGet, "/status")

	require.Len(t, logger.lines, 1)
	assert.True(t, strings.HasPrefix(logger.lines[0], "GET /status -> 200"), logger.lines[0])
}
