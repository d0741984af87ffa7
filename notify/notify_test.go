package notify

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpn-pool/vpn"
)

func TestForEvent(t *testing.T) {
	tests := []struct {
		kind    vpn.EventKind
		ok      bool
		title   string
		urgency byte
	}{
		{vpn.EventConnecting, false, "", 0},
		{vpn.EventConnected, true, "VPN Connected", UrgencyLow},
		{vpn.EventDisconnected, true, "VPN Disconnected", UrgencyLow},
		{vpn.EventTunnelLost, true, "VPN Connection Lost", UrgencyCritical},
		{vpn.EventConnectFailed, true, "VPN Connection Failed", UrgencyNormal},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			note, ok := ForEvent(vpn.Event{Kind: tt.kind, ProfileID: "a.ovpn", Detail: "boom"})
			assert.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.title, note.Title)
			assert.Contains(t, note.Message, "a.ovpn")
			assert.Equal(t, tt.urgency, note.urgency())
		})
	}
}

func TestNotification_Icon(t *testing.T) {
	assert.Equal(t, "network-vpn", Notification{Type: NotificationSuccess}.icon())
	assert.Equal(t, "dialog-error", Notification{Type: NotificationError}.icon())
	assert.Equal(t, "custom", Notification{Type: NotificationError, Icon: "custom"}.icon())
}

func TestNotifier_Record(t *testing.T) {
	sent := make(chan Notification, 1)
	n := &Notifier{send: func(ctx context.Context, note Notification) error {
		sent <- note
		return nil
	}}

	n.Record(vpn.Event{Kind: vpn.EventConnecting, ProfileID: "a.ovpn"})
	n.Record(vpn.Event{Kind: vpn.EventTunnelLost, ProfileID: "a.ovpn", Detail: "client process exited"})

	select {
	case note := <-sent:
		assert.Equal(t, "VPN Connection Lost", note.Title)
		assert.Equal(t, "a.ovpn went down: client process exited", note.Message)
	case <-time.After(time.Second):
		t.Fatal("notification not sent")
	}

	require.NoError(t, n.Close())
}

func TestNotifier_CloseWaitsForPending(t *testing.T) {
	var delivered atomic.Bool
	n := &Notifier{send: func(ctx context.Context, note Notification) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		time.Sleep(50 * time.Millisecond)
		delivered.Store(true)
		return nil
	}}

	n.Record(vpn.Event{Kind: vpn.EventDisconnected, ProfileID: "a.ovpn"})
	require.NoError(t, n.Close())
	assert.True(t, delivered.Load(), "Close returned before the last notification was sent")
}
