package keyring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gokeyring "github.com/zalando/go-keyring"
)

func TestStore_Lifecycle(t *testing.T) {
	gokeyring.MockInit()
	s := New()

	_, err := s.Get("work")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, s.Exists("work"))

	require.NoError(t, s.Store("work", "secret"))
	assert.True(t, s.Exists("work"))

	got, err := s.Get("work")
	require.NoError(t, err)
	assert.Equal(t, "secret", got)

	require.NoError(t, s.Delete("work"))
	require.NoError(t, s.Delete("work"))
	assert.False(t, s.Exists("work"))
}

func TestStore_EmptyKey(t *testing.T) {
	gokeyring.MockInit()
	s := New()

	assert.ErrorIs(t, s.Store("", "x"), ErrEmptyKey)
	_, err := s.Get("")
	assert.ErrorIs(t, err, ErrEmptyKey)
	assert.ErrorIs(t, s.Delete(""), ErrEmptyKey)
}

func TestLoginRoundTrip(t *testing.T) {
	gokeyring.MockInit()
	s := New()

	require.NoError(t, StoreLogin(s, "pool", "alice", "p4ss\nword"))

	user, pass, err := Login(s, "pool")
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "p4ss\nword", pass)
}

func TestStoreLogin_Validation(t *testing.T) {
	gokeyring.MockInit()
	s := New()

	assert.Error(t, StoreLogin(s, "pool", "", "pw"))
	assert.Error(t, StoreLogin(s, "pool", "bob", ""))
	assert.Error(t, StoreLogin(s, "pool", "bo\nb", "pw"))
}

func TestLogin_Malformed(t *testing.T) {
	gokeyring.MockInit()
	s := New()

	require.NoError(t, s.Store("pool", "no-separator"))
	_, _, err := Login(s, "pool")
	assert.ErrorIs(t, err, ErrInvalidLogin)
}
