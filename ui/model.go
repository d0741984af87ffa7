// Package ui provides the terminal user interface for vpn-pool.
// This file contains the bubbletea model.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/vpn-pool/common"
	"github.com/yllada/vpn-pool/vpn"
)

// Controller is the subset of *vpn.Manager the interface drives.
type Controller interface {
	Connect(ctx context.Context, profileID string) error
	ConnectRandom(ctx context.Context) (string, error)
	Disconnect() error
	GetConfig() []vpn.Profile
	Status() vpn.Status
	Changes() <-chan struct{}
}

// refreshMsg carries a fresh snapshot of the controller.
type refreshMsg struct {
	status   vpn.Status
	profiles []vpn.Profile
}

// changedMsg reports a state change made by anyone.
type changedMsg struct{}

// opResultMsg reports the end of a blocking operation.
type opResultMsg struct {
	op      string
	profile string
	err     error
}

// Model is the bubbletea model of the interface.
type Model struct {
	ctx  context.Context
	ctrl Controller

	profiles []vpn.Profile
	status   vpn.Status
	cursor   int

	spinner  spinner.Model
	busy     bool
	message  string
	err      error
	quitting bool
}

// New creates the model. ctx bounds the connection attempts it starts.
func New(ctx context.Context, ctrl Controller) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return Model{
		ctx:      ctx,
		ctrl:     ctrl,
		profiles: ctrl.GetConfig(),
		status:   ctrl.Status(),
		spinner:  s,
	}
}

// Run starts the program and blocks until the user quits or ctx is done.
func Run(ctx context.Context, ctrl Controller) error {
	p := tea.NewProgram(New(ctx, ctrl), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if err != nil && errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForChange(m.ctrl.Changes()))
}

func refresh(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		return refreshMsg{status: ctrl.Status(), profiles: ctrl.GetConfig()}
	}
}

func waitForChange(changed <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-changed
		return changedMsg{}
	}
}

func connect(ctx context.Context, ctrl Controller, profile string) tea.Cmd {
	return func() tea.Msg {
		err := ctrl.Connect(ctx, profile)
		return opResultMsg{op: "connect", profile: profile, err: err}
	}
}

func connectRandom(ctx context.Context, ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		profile, err := ctrl.ConnectRandom(ctx)
		return opResultMsg{op: "connect", profile: profile, err: err}
	}
}

func disconnect(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		return opResultMsg{op: "disconnect", err: ctrl.Disconnect()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case changedMsg:
		return m, tea.Batch(refresh(m.ctrl), waitForChange(m.ctrl.Changes()))

	case refreshMsg:
		m.status = msg.status
		m.profiles = msg.profiles
		if m.cursor >= len(m.profiles) {
			m.cursor = max(len(m.profiles)-1, 0)
		}
		return m, nil

	case opResultMsg:
		return m.handleResult(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.quitting {
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		if m.status.State == vpn.StateDisconnected && !m.busy {
			return m, tea.Quit
		}
		m.message = "Disconnecting before exit..."
		return m, disconnect(m.ctrl)

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.profiles)-1 {
			m.cursor++
		}

	case "enter":
		if m.busy || len(m.profiles) == 0 {
			return m, nil
		}
		profile := m.profiles[m.cursor].ID
		m.busy = true
		m.err = nil
		m.message = fmt.Sprintf("Connecting to %s...", profile)
		return m, connect(m.ctx, m.ctrl, profile)

	case "r":
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.err = nil
		m.message = "Connecting to a random profile..."
		return m, connectRandom(m.ctx, m.ctrl)

	case "d":
		if m.status.State == vpn.StateDisconnected && !m.busy {
			m.message = "Not connected."
			return m, nil
		}
		m.err = nil
		m.message = "Disconnecting..."
		return m, disconnect(m.ctrl)
	}

	return m, nil
}

func (m Model) handleResult(msg opResultMsg) (tea.Model, tea.Cmd) {
	if msg.op == "connect" {
		m.busy = false
	}

	if m.quitting {
		if msg.op == "disconnect" || m.ctrl.Status().State == vpn.StateDisconnected {
			return m, tea.Quit
		}
		// A connect finished while quitting; tear it down before leaving.
		return m, disconnect(m.ctrl)
	}

	switch {
	case msg.err == nil && msg.op == "connect":
		m.message = fmt.Sprintf("Connected to %s", msg.profile)
	case msg.err == nil:
		m.message = "Disconnected"
	case errors.Is(msg.err, vpn.ErrCancelled) && msg.op == "connect":
		m.message = "Connection attempt aborted"
	default:
		m.message = ""
		m.err = msg.err
		common.LogError("%s failed: %v", msg.op, msg.err)
	}
	return m, refresh(m.ctrl)
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("VPN Pool"))
	b.WriteString("\n")

	state := m.status.State.String()
	if m.status.ProfileID != "" {
		state = fmt.Sprintf("%s  %s", state, m.status.ProfileID)
	}
	if m.status.State == vpn.StateConnected && !m.status.ConnectedAt.IsZero() {
		state = fmt.Sprintf("%s  (%s)", state, time.Since(m.status.ConnectedAt).Truncate(time.Second))
	}
	busy := m.busy || m.status.State == vpn.StateConnecting || m.status.State == vpn.StateDisconnecting
	if busy {
		state = m.spinner.View() + " " + state
	}
	b.WriteString(statusStyle(m.status.State == vpn.StateConnected, busy).Render(state))
	b.WriteString("\n")

	var list strings.Builder
	if len(m.profiles) == 0 {
		list.WriteString(messageStyle.Render("No configs found"))
	}
	for i, p := range m.profiles {
		cursor := "  "
		line := p.ID
		if i == m.cursor {
			cursor = "> "
			line = selectedStyle.Render(line)
		}
		if p.Bound {
			line += " " + boundStyle.Render("● bound")
		}
		list.WriteString(cursor + line)
		if i < len(m.profiles)-1 {
			list.WriteString("\n")
		}
	}
	b.WriteString(panelStyle.Render(list.String()))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	} else if m.message != "" {
		b.WriteString(messageStyle.Render(m.message))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("↑/↓ select • enter connect • r random • d disconnect • q quit"))
	b.WriteString("\n")
	return b.String()
}
