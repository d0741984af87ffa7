package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpn-pool/vpn"
)

type fakeController struct {
	profiles    []vpn.Profile
	status      vpn.Status
	connected   []string
	connectErr  error
	disconnects int
	changes     chan struct{}
}

func newFakeController(ids ...string) *fakeController {
	f := &fakeController{changes: make(chan struct{})}
	for _, id := range ids {
		f.profiles = append(f.profiles, vpn.Profile{ID: id})
	}
	return f
}

func (f *fakeController) Connect(ctx context.Context, id string) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = append(f.connected, id)
	f.status = vpn.Status{State: vpn.StateConnected, ProfileID: id}
	for i := range f.profiles {
		f.profiles[i].Bound = f.profiles[i].ID == id
	}
	return nil
}

func (f *fakeController) ConnectRandom(ctx context.Context) (string, error) {
	for _, p := range f.profiles {
		if !p.Bound {
			return p.ID, f.Connect(ctx, p.ID)
		}
	}
	return "", vpn.ErrNoAvailableProfile
}

func (f *fakeController) Disconnect() error {
	f.disconnects++
	if f.status.State == vpn.StateDisconnected {
		return vpn.ErrInvalidStateTransition
	}
	f.status = vpn.Status{State: vpn.StateDisconnected}
	for i := range f.profiles {
		f.profiles[i].Bound = false
	}
	return nil
}

func (f *fakeController) GetConfig() []vpn.Profile {
	out := make([]vpn.Profile, len(f.profiles))
	copy(out, f.profiles)
	return out
}

func (f *fakeController) Status() vpn.Status       { return f.status }
func (f *fakeController) Changes() <-chan struct{} { return f.changes }

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

// step applies msg and feeds the resulting command's message back once.
func step(t *testing.T, m Model, msg tea.Msg) (Model, tea.Msg) {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd == nil {
		return m, nil
	}
	return m, cmd()
}

func isQuit(msg tea.Msg) bool {
	_, ok := msg.(tea.QuitMsg)
	return ok
}

func TestModel_ConnectSelected(t *testing.T) {
	ctrl := newFakeController("a.ovpn", "b.ovpn")
	m := New(context.Background(), ctrl)

	m, msg := step(t, m, key("down"))
	assert.Nil(t, msg)
	assert.Equal(t, 1, m.cursor)

	m, msg = step(t, m, key("enter"))
	assert.True(t, m.busy)
	require.IsType(t, opResultMsg{}, msg)
	assert.Equal(t, []string{"b.ovpn"}, ctrl.connected)

	m, msg = step(t, m, msg)
	assert.False(t, m.busy)
	assert.Equal(t, "Connected to b.ovpn", m.message)
	require.IsType(t, refreshMsg{}, msg)

	m, _ = step(t, m, msg)
	assert.Equal(t, vpn.StateConnected, m.status.State)

	view := m.View()
	assert.Contains(t, view, "Connected")
	assert.Contains(t, view, "b.ovpn")
	assert.Contains(t, view, "bound")
}

func TestModel_IgnoresConnectWhileBusy(t *testing.T) {
	ctrl := newFakeController("a.ovpn")
	m := New(context.Background(), ctrl)
	m.busy = true

	_, msg := step(t, m, key("enter"))
	assert.Nil(t, msg)
	_, msg = step(t, m, key("r"))
	assert.Nil(t, msg)
	assert.Empty(t, ctrl.connected)
}

func TestModel_ConnectRandom(t *testing.T) {
	ctrl := newFakeController("a.ovpn")
	m := New(context.Background(), ctrl)

	_, msg := step(t, m, key("r"))
	result, ok := msg.(opResultMsg)
	require.True(t, ok)
	assert.Equal(t, "a.ovpn", result.profile)
	assert.NoError(t, result.err)
}

func TestModel_ConnectError(t *testing.T) {
	ctrl := newFakeController("a.ovpn")
	ctrl.connectErr = fmt.Errorf("%w: a.ovpn: client exited", vpn.ErrConnectionFailed)
	m := New(context.Background(), ctrl)

	m, msg := step(t, m, key("enter"))
	m, _ = step(t, m, msg)

	require.Error(t, m.err)
	assert.True(t, errors.Is(m.err, vpn.ErrConnectionFailed))
	assert.Contains(t, m.View(), "Error:")
}

func TestModel_Disconnect(t *testing.T) {
	ctrl := newFakeController("a.ovpn")
	m := New(context.Background(), ctrl)

	m, msg := step(t, m, key("d"))
	assert.Nil(t, msg)
	assert.Equal(t, "Not connected.", m.message)

	require.NoError(t, ctrl.Connect(context.Background(), "a.ovpn"))
	m.status = ctrl.Status()

	m, msg = step(t, m, key("d"))
	require.IsType(t, opResultMsg{}, msg)
	m, _ = step(t, m, msg)
	assert.Equal(t, "Disconnected", m.message)
	assert.Equal(t, 1, ctrl.disconnects)
}

func TestModel_QuitDisconnectsFirst(t *testing.T) {
	ctrl := newFakeController("a.ovpn")
	require.NoError(t, ctrl.Connect(context.Background(), "a.ovpn"))
	m := New(context.Background(), ctrl)

	m, msg := step(t, m, key("q"))
	assert.True(t, m.quitting)
	require.IsType(t, opResultMsg{}, msg)
	assert.Equal(t, 1, ctrl.disconnects)

	_, msg = step(t, m, msg)
	assert.True(t, isQuit(msg))
}

func TestModel_QuitWhenIdle(t *testing.T) {
	m := New(context.Background(), newFakeController("a.ovpn"))
	_, msg := step(t, m, key("ctrl+c"))
	assert.True(t, isQuit(msg))
}

func TestModel_RefreshClampsCursor(t *testing.T) {
	m := New(context.Background(), newFakeController("a.ovpn", "b.ovpn"))
	m.cursor = 1

	m, _ = step(t, m, refreshMsg{profiles: []vpn.Profile{{ID: "a.ovpn"}}})
	assert.Equal(t, 0, m.cursor)
}

func TestModel_ViewEmptyPool(t *testing.T) {
	m := New(context.Background(), newFakeController())
	view := m.View()
	assert.True(t, strings.Contains(view, "No configs found"))
	assert.Contains(t, view, "Disconnected")
}
