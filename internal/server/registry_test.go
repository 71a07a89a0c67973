package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRegistry(t *testing.T) {
	t.Run("register and remove", func(t *testing.T) {
		r := NewSessionRegistry()

		assert.Nil(t, r.Register("conn-a", alice))
		assert.True(t, r.IsOnline(alice.Id))

		connId, ok := r.LookupConnection(alice.Id)
		require.True(t, ok)
		assert.Equal(t, "conn-a", connId)

		sess, ok := r.Session("conn-a")
		require.True(t, ok)
		assert.Equal(t, alice, sess.User)

		sess, current, ok := r.Remove("conn-a")
		require.True(t, ok)
		assert.True(t, current)
		assert.Equal(t, "conn-a", sess.ConnectionId)
		assert.False(t, r.IsOnline(alice.Id))

		_, _, ok = r.Remove("conn-a")
		assert.False(t, ok, "expected second remove to be a no-op")
	})

	t.Run("last writer wins", func(t *testing.T) {
		r := NewSessionRegistry()
		r.Register("conn-a1", alice)

		replaced := r.Register("conn-a2", alice)
		require.NotNil(t, replaced)
		assert.Equal(t, "conn-a1", replaced.ConnectionId)

		connId, _ := r.LookupConnection(alice.Id)
		assert.Equal(t, "conn-a2", connId)

		// the superseded connection going away keeps the user online
		_, current, ok := r.Remove("conn-a1")
		assert.True(t, ok)
		assert.False(t, current)
		assert.True(t, r.IsOnline(alice.Id))

		_, current, _ = r.Remove("conn-a2")
		assert.True(t, current)
		assert.False(t, r.IsOnline(alice.Id))
	})

	t.Run("online users are sorted", func(t *testing.T) {
		r := NewSessionRegistry()
		r.Register("conn-c", carol)
		r.Register("conn-a", alice)
		r.Register("conn-b", bob)

		assert.Equal(t, []int{1, 2, 3}, r.OnlineUsers())
	})

	t.Run("unknown user", func(t *testing.T) {
		r := NewSessionRegistry()
		_, ok := r.LookupConnection(42)
		assert.False(t, ok)
		assert.Empty(t, r.OnlineUsers())
	})
}
