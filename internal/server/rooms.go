package server

import (
	"slices"
	"sync"

	"github.com/npezzotti/go-watchparty/internal/types"
)

type room struct {
	members map[string]*types.RoomMember
	// order holds connection ids in join order.
	order []string
}

func (r *room) snapshot() []types.RoomMember {
	members := make([]types.RoomMember, 0, len(r.order))
	for _, connId := range r.order {
		members = append(members, *r.members[connId])
	}
	return members
}

// MemberPatch carries the voice-chat fields to change; nil fields are kept.
type MemberPatch struct {
	IsSpeaking  *bool
	IsMuted     *bool
	InVoiceChat *bool
}

func (p MemberPatch) apply(m *types.RoomMember) {
	if p.IsSpeaking != nil {
		m.IsSpeaking = *p.IsSpeaking
	}
	if p.IsMuted != nil {
		m.IsMuted = *p.IsMuted
	}
	if p.InVoiceChat != nil {
		m.InVoiceChat = *p.InVoiceChat
	}
}

// RoomStore holds room membership keyed by connection id. Rooms are created
// on first join and dropped when their last member leaves. Every method
// returns copies, so callers may broadcast results without holding the lock.
type RoomStore struct {
	mu    sync.Mutex
	rooms map[string]*room
	// byConn is the reverse index used on disconnect.
	byConn map[string]map[string]struct{}
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms:  make(map[string]*room),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds member to the room, replacing any entry for the same connection.
// created reports whether the room did not exist before.
func (s *RoomStore) Join(roomId string, member types.RoomMember) (members []types.RoomMember, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomId]
	if !ok {
		r = &room{members: make(map[string]*types.RoomMember)}
		s.rooms[roomId] = r
		created = true
	}

	connId := member.ConnectionId
	if _, exists := r.members[connId]; !exists {
		r.order = append(r.order, connId)
	}
	m := member
	r.members[connId] = &m

	if s.byConn[connId] == nil {
		s.byConn[connId] = make(map[string]struct{})
	}
	s.byConn[connId][roomId] = struct{}{}

	return r.snapshot(), created
}

// Leave removes the connection from the room. ok is false when the room or
// member is unknown. An empty remaining slice with ok set means the room was
// deleted.
func (s *RoomStore) Leave(roomId, connectionId string) (member types.RoomMember, remaining []types.RoomMember, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, found := s.rooms[roomId]
	if !found {
		return types.RoomMember{}, nil, false
	}
	m, found := r.members[connectionId]
	if !found {
		return types.RoomMember{}, nil, false
	}

	member = *m
	delete(r.members, connectionId)
	if i := slices.Index(r.order, connectionId); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}

	if rooms := s.byConn[connectionId]; rooms != nil {
		delete(rooms, roomId)
		if len(rooms) == 0 {
			delete(s.byConn, connectionId)
		}
	}

	if len(r.members) == 0 {
		delete(s.rooms, roomId)
		return member, []types.RoomMember{}, true
	}

	return member, r.snapshot(), true
}

// UpdateMemberState applies patch to the member. When the room or member is
// gone it returns ok=false and changes nothing.
func (s *RoomStore) UpdateMemberState(roomId, connectionId string, patch MemberPatch) (member types.RoomMember, members []types.RoomMember, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, found := s.rooms[roomId]
	if !found {
		return types.RoomMember{}, nil, false
	}
	m, found := r.members[connectionId]
	if !found {
		return types.RoomMember{}, r.snapshot(), false
	}

	patch.apply(m)
	return *m, r.snapshot(), true
}

// Snapshot returns the members in join order, or nil for an unknown room.
func (s *RoomStore) Snapshot(roomId string) []types.RoomMember {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomId]
	if !ok {
		return nil
	}
	return r.snapshot()
}

func (s *RoomStore) Member(roomId, connectionId string) (types.RoomMember, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomId]
	if !ok {
		return types.RoomMember{}, false
	}
	m, ok := r.members[connectionId]
	if !ok {
		return types.RoomMember{}, false
	}
	return *m, true
}

// RoomsOf returns the rooms the connection belongs to, sorted.
func (s *RoomStore) RoomsOf(connectionId string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.byConn[connectionId]))
	for id := range s.byConn[connectionId] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *RoomStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}
