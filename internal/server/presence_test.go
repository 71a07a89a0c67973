package server

import (
	"testing"

	"github.com/npezzotti/go-watchparty/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceBroadcaster_BroadcastStatus(t *testing.T) {
	conns := newConnections()
	a := newTestClient(t, nil, "conn-a", alice)
	a2 := newTestClient(t, nil, "conn-a2", alice)
	b := newTestClient(t, nil, "conn-b", bob)
	c := newTestClient(t, nil, "conn-c", carol)
	conns.add(a)
	conns.add(a2)
	conns.add(b)
	conns.add(c)

	p := NewPresenceBroadcaster(testutil.TestLogger(t), conns)
	p.BroadcastStatus(alice.Id, StatusOffline)

	assert.Empty(t, drain(a), "expected the subject's own connection to be skipped")
	assert.Empty(t, drain(a2), "expected every connection of the subject to be skipped")
	for _, other := range []*Client{b, c} {
		msgs := drain(other)
		require.Len(t, msgs, 1)
		assert.Equal(t, EventPresenceChanged, msgs[0].Event)
		assert.Equal(t, &Presence{UserId: alice.Id, Status: StatusOffline}, msgs[0].Notification.Presence)
	}
}
