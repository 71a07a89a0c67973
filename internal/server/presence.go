package server

import "log"

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// PresenceBroadcaster tells every other live connection when a user comes
// online or goes offline. Delivery is best effort.
type PresenceBroadcaster struct {
	log   *log.Logger
	conns *connections
}

func NewPresenceBroadcaster(logger *log.Logger, conns *connections) *PresenceBroadcaster {
	return &PresenceBroadcaster{log: logger, conns: conns}
}

// BroadcastStatus sends presence-changed to every live connection that does
// not belong to the subject, superseded sessions included.
func (p *PresenceBroadcaster) BroadcastStatus(userId int, status Status) {
	msg := PresenceMsg(userId, status)

	sent := 0
	for _, c := range p.conns.all() {
		if c.user.Id == userId {
			continue
		}
		if c.queueMessage(msg) {
			sent++
		}
	}

	p.log.Printf("user %d is %s, notified %d connections", userId, status, sent)
}
