package server

import (
	"encoding/json"
	"log"

	"github.com/npezzotti/go-watchparty/internal/stats"
)

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// SignalingRelay forwards opaque WebRTC signaling payloads to one specific
// connection. Nothing is buffered or retried.
type SignalingRelay struct {
	log   *log.Logger
	conns *connections
	stats stats.StatsProvider
}

func NewSignalingRelay(logger *log.Logger, conns *connections, su stats.StatsProvider) *SignalingRelay {
	return &SignalingRelay{log: logger, conns: conns, stats: su}
}

// Relay reports whether the payload was queued for the target. A missing
// target or a full send queue drops the signal silently.
func (r *SignalingRelay) Relay(from, to string, kind SignalKind, payload json.RawMessage) bool {
	target, ok := r.conns.get(to)
	if !ok {
		r.log.Printf("dropping %s from %q: connection %q not found", kind, from, to)
		r.stats.Incr(stats.NumSignalsDropped)
		return false
	}

	if !target.queueMessage(SignalMsg(from, kind, payload)) {
		r.stats.Incr(stats.NumSignalsDropped)
		return false
	}

	r.stats.Incr(stats.NumSignalsRelayed)
	return true
}
