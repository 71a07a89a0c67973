package server

import (
	"github.com/npezzotti/go-watchparty/internal/stats"
)

// Disconnect reconciles server state after a connection ends: it leaves every
// room the connection was in, closes its conversation views and, when the
// session was still the user's current one, takes the user offline.
// Repeated calls for the same connection are no-ops.
func (cs *ChatServer) Disconnect(c *Client) {
	if !cs.conns.remove(c.id) {
		return
	}
	defer cs.clientsWg.Done()

	sess, current, registered := cs.sessions.Remove(c.id)

	for _, roomId := range cs.rooms.RoomsOf(c.id) {
		cs.leaveRoom(roomId, c.id)
	}
	for _, view := range cs.views.RoomsOf(c.id) {
		cs.views.Leave(view, c.id)
	}

	if registered && current {
		cs.presence.BroadcastStatus(sess.User.Id, StatusOffline)
	}

	cs.stats.Decr(stats.NumActiveClients)
	cs.log.Printf("disconnected %q (user %d, current session: %t)", c.id, c.user.Id, current)
}
