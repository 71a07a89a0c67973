package server

import (
	"slices"
	"sync"

	"github.com/npezzotti/go-watchparty/internal/types"
)

// Session binds one live connection to an authenticated user.
type Session struct {
	ConnectionId string
	User         types.User
}

// SessionRegistry tracks live sessions and the set of online users. A user
// has at most one current session; registering again supersedes the old one
// without closing its connection.
type SessionRegistry struct {
	mu     sync.RWMutex
	byUser map[int]*Session
	byConn map[string]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byUser: make(map[int]*Session),
		byConn: make(map[string]*Session),
	}
}

// Register records the session and returns the one it superseded, if any.
func (r *SessionRegistry) Register(connectionId string, user types.User) (replaced *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := &Session{ConnectionId: connectionId, User: user}
	if prev, ok := r.byUser[user.Id]; ok && prev.ConnectionId != connectionId {
		replaced = prev
	}

	r.byUser[user.Id] = sess
	r.byConn[connectionId] = sess
	return replaced
}

func (r *SessionRegistry) LookupConnection(userId int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.byUser[userId]
	if !ok {
		return "", false
	}
	return sess.ConnectionId, true
}

func (r *SessionRegistry) Session(connectionId string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.byConn[connectionId]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Remove drops the session bound to connectionId. current reports whether it
// was still the user's session on file; only then is the user taken offline.
func (r *SessionRegistry) Remove(connectionId string) (sess Session, current bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byConn[connectionId]
	if !ok {
		return Session{}, false, false
	}
	delete(r.byConn, connectionId)

	if onFile, found := r.byUser[s.User.Id]; found && onFile == s {
		delete(r.byUser, s.User.Id)
		current = true
	}

	return *s, current, true
}

func (r *SessionRegistry) IsOnline(userId int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byUser[userId]
	return ok
}

// OnlineUsers returns the online user ids in ascending order.
func (r *SessionRegistry) OnlineUsers() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
