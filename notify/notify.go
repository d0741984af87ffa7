// Package notify shows desktop notifications for connection events over
// the freedesktop notification service on the D-Bus session bus.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpn-pool/common"
	"github.com/yllada/vpn-pool/vpn"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"
	notifyCall = busName + ".Notify"
	appName    = "VPN Pool"

	// sendTimeout bounds one call to the notification service.
	sendTimeout = 3 * time.Second
)

// Urgency levels of the freedesktop notification protocol.
const (
	UrgencyLow      byte = 0
	UrgencyNormal   byte = 1
	UrgencyCritical byte = 2
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotificationInfo NotificationType = iota
	NotificationSuccess
	NotificationWarning
	NotificationError
)

// Notification represents a system notification
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Icon    string
}

// icon returns the explicit icon or a default for the type.
func (n Notification) icon() string {
	if n.Icon != "" {
		return n.Icon
	}
	switch n.Type {
	case NotificationWarning:
		return "dialog-warning"
	case NotificationError:
		return "dialog-error"
	default:
		return "network-vpn"
	}
}

func (n Notification) urgency() byte {
	switch n.Type {
	case NotificationError:
		return UrgencyCritical
	case NotificationWarning:
		return UrgencyNormal
	default:
		return UrgencyLow
	}
}

// Notifier is a vpn.Recorder that turns lifecycle events into desktop
// notifications. Delivery is asynchronous and best effort; Close waits
// for notifications still in flight.
type Notifier struct {
	conn *dbus.Conn
	send func(context.Context, Notification) error
	wg   sync.WaitGroup
}

// New connects to the session bus.
func New() (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	n := &Notifier{conn: conn}
	n.send = n.sendDBus
	return n, nil
}

// Close waits for pending notifications and releases the bus connection.
func (n *Notifier) Close() error {
	n.wg.Wait()
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

// Show displays a notification synchronously.
func (n *Notifier) Show(ctx context.Context, note Notification) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return n.send(ctx, note)
}

func (n *Notifier) sendDBus(ctx context.Context, note Notification) error {
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(note.urgency()),
	}
	obj := n.conn.Object(busName, dbus.ObjectPath(objectPath))
	call := obj.CallWithContext(ctx, notifyCall, 0,
		appName,
		uint32(0),
		note.icon(),
		note.Title,
		note.Message,
		[]string{},
		hints,
		int32(-1),
	)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	return nil
}

// Record shows a notification for events a user cares about.
func (n *Notifier) Record(e vpn.Event) {
	note, ok := ForEvent(e)
	if !ok {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.Show(context.Background(), note); err != nil {
			common.LogWarn("Error showing notification: %v", err)
		}
	}()
}

// ForEvent builds the notification for e, if any.
func ForEvent(e vpn.Event) (Notification, bool) {
	switch e.Kind {
	case vpn.EventConnected:
		return Notification{
			Title:   "VPN Connected",
			Message: "Connected to " + e.ProfileID,
			Type:    NotificationSuccess,
		}, true
	case vpn.EventDisconnected:
		return Notification{
			Title:   "VPN Disconnected",
			Message: "Disconnected from " + e.ProfileID,
			Type:    NotificationInfo,
		}, true
	case vpn.EventTunnelLost:
		return Notification{
			Title:   "VPN Connection Lost",
			Message: fmt.Sprintf("%s went down: %s", e.ProfileID, e.Detail),
			Type:    NotificationError,
		}, true
	case vpn.EventConnectFailed:
		return Notification{
			Title:   "VPN Connection Failed",
			Message: fmt.Sprintf("Could not connect to %s: %s", e.ProfileID, e.Detail),
			Type:    NotificationWarning,
		}, true
	default:
		return Notification{}, false
	}
}
