package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpn-pool/vpn"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s.Record(vpn.Event{SessionID: "s1", ProfileID: "a.ovpn", Kind: vpn.EventConnecting, At: base})
	s.Record(vpn.Event{SessionID: "s1", ProfileID: "a.ovpn", Kind: vpn.EventConnected,
		Duration: 4 * time.Second, At: base.Add(4 * time.Second)})
	s.Record(vpn.Event{SessionID: "s1", ProfileID: "a.ovpn", Kind: vpn.EventTunnelLost,
		Detail: "client process exited", Duration: time.Minute, At: base.Add(time.Minute)})

	entries, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	latest := entries[0]
	assert.Equal(t, vpn.EventTunnelLost, latest.Kind)
	assert.Equal(t, "client process exited", latest.Detail)
	assert.Equal(t, time.Minute, latest.Duration)
	assert.True(t, base.Add(time.Minute).Equal(latest.CreatedAt))
	assert.Equal(t, vpn.EventConnecting, entries[2].Kind)
}

func TestStore_RecentLimit(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Insert(context.Background(), vpn.Event{
			SessionID: "s", ProfileID: "a.ovpn", Kind: vpn.EventConnecting,
			At: time.Unix(int64(i), 0),
		}))
	}

	entries, err := s.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].CreatedAt.After(entries[1].CreatedAt))
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	require.NoError(t, err)
	s.Record(vpn.Event{SessionID: "s", ProfileID: "b.ovpn", Kind: vpn.EventDisconnected})
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.ovpn", entries[0].ProfileID)
}
