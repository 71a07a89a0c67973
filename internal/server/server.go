package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/stats"
	"github.com/npezzotti/go-watchparty/internal/types"
)

type Options struct {
	PersistTimeout    time.Duration
	MessagesPerSecond float64
}

// ChatServer owns the process-local coordination state and dispatches the
// inbound events of every connection.
type ChatServer struct {
	log               *log.Logger
	stats             stats.StatsProvider
	sessions          *SessionRegistry
	rooms             *RoomStore
	views             *RoomStore
	conns             *connections
	relay             *SignalingRelay
	presence          *PresenceBroadcaster
	coordinator       *Coordinator
	messagesPerSecond float64
	clientsWg         sync.WaitGroup
}

func NewChatServer(logger *log.Logger, db database.Repository, unread database.UnreadStore, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	if db == nil || unread == nil {
		return nil, errors.New("repository and unread store are required")
	}

	for _, name := range []string{
		stats.NumActiveClients,
		stats.NumActiveRooms,
		stats.NumMessagesDelivered,
		stats.NumSignalsRelayed,
		stats.NumSignalsDropped,
	} {
		su.RegisterMetric(name)
	}

	sessions := NewSessionRegistry()
	rooms := NewRoomStore()
	views := NewRoomStore()
	conns := newConnections()

	return &ChatServer{
		log:               logger,
		stats:             su,
		sessions:          sessions,
		rooms:             rooms,
		views:             views,
		conns:             conns,
		relay:             NewSignalingRelay(logger, conns, su),
		presence:          NewPresenceBroadcaster(logger, conns),
		coordinator:       NewCoordinator(logger, db, unread, sessions, conns, views, su, opts.PersistTimeout),
		messagesPerSecond: opts.MessagesPerSecond,
	}, nil
}

// RegisterClient binds an authenticated connection. A previous session of the
// same user is superseded but its connection is left open.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.clientsWg.Add(1)
	cs.conns.add(c)

	if replaced := cs.sessions.Register(c.id, c.user); replaced != nil {
		cs.log.Printf("session %q of %q superseded by %q", replaced.ConnectionId, c.user.Username, c.id)
	}
	cs.stats.Incr(stats.NumActiveClients)
	cs.log.Printf("registered connection %q for %q", c.id, c.user.Username)

	c.queueMessage(OnlineUsersMsg(cs.sessions.OnlineUsers()))
	cs.presence.BroadcastStatus(c.user.Id, StatusOnline)
}

// OnlineUsers returns the ids of all users with a current session.
func (cs *ChatServer) OnlineUsers() []int {
	return cs.sessions.OnlineUsers()
}

// Conversation loads a conversation on behalf of one of its participants.
func (cs *ChatServer) Conversation(ctx context.Context, conversationId, userId int) (types.Conversation, error) {
	return cs.coordinator.Conversation(ctx, conversationId, userId)
}

func (cs *ChatServer) handle(c *Client, msg *ClientMessage) {
	switch {
	case msg.JoinRoom != nil:
		cs.handleJoinRoom(c, msg.Id, msg.JoinRoom)
	case msg.LeaveRoom != nil:
		cs.handleLeaveRoom(c, msg.Id, msg.LeaveRoom)
	case msg.JoinVoice != nil:
		cs.handleJoinVoice(c, msg.Id, msg.JoinVoice)
	case msg.LeaveVoice != nil:
		cs.handleLeaveVoice(c, msg.Id, msg.LeaveVoice)
	case msg.ToggleMute != nil:
		cs.handleStateChange(c, msg.Id, msg.ToggleMute.RoomId, EventMuteChanged,
			MemberPatch{IsMuted: &msg.ToggleMute.IsMuted}, msg.ToggleMute.IsMuted)
	case msg.SpeakingState != nil:
		cs.handleStateChange(c, msg.Id, msg.SpeakingState.RoomId, EventSpeakingChanged,
			MemberPatch{IsSpeaking: &msg.SpeakingState.IsSpeaking}, msg.SpeakingState.IsSpeaking)
	case msg.SignalOffer != nil:
		cs.handleSignal(c, SignalOffer, msg.SignalOffer)
	case msg.SignalAnswer != nil:
		cs.handleSignal(c, SignalAnswer, msg.SignalAnswer)
	case msg.SignalCandidate != nil:
		cs.handleSignal(c, SignalCandidate, msg.SignalCandidate)
	case msg.SendMessage != nil:
		cs.handleSendMessage(c, msg.Id, msg.SendMessage)
	case msg.MarkRead != nil:
		cs.handleMarkRead(c, msg.Id, msg.MarkRead)
	case msg.OpenConversation != nil:
		cs.handleOpenConversation(c, msg.Id, msg.OpenConversation)
	case msg.CloseConversation != nil:
		cs.views.Leave(conversationView(msg.CloseConversation.ConversationId), c.id)
		c.queueMessage(NoErrOK(msg.Id, nil))
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (cs *ChatServer) memberFor(c *Client, info MemberInfo) types.RoomMember {
	m := types.RoomMember{
		ConnectionId: c.id,
		UserId:       c.user.Id,
		Username:     c.user.Username,
		AvatarRef:    c.user.AvatarRef,
	}
	if info.Username != "" {
		m.Username = info.Username
	}
	if info.AvatarRef != "" {
		m.AvatarRef = info.AvatarRef
	}
	return m
}

// joinRoom adds the connection to the room and announces it. A repeated join
// replaces the entry, keeps its voice state and is not announced again.
func (cs *ChatServer) joinRoom(c *Client, roomId string, member types.RoomMember) []types.RoomMember {
	existing, rejoin := cs.rooms.Member(roomId, c.id)
	if rejoin {
		member.IsMuted = existing.IsMuted
		member.IsSpeaking = existing.IsSpeaking
		member.InVoiceChat = existing.InVoiceChat || member.InVoiceChat
	}

	members, created := cs.rooms.Join(roomId, member)
	if created {
		cs.stats.Incr(stats.NumActiveRooms)
		cs.log.Printf("created room %q", roomId)
	}

	if !rejoin {
		cs.conns.sendToMembers(members, MemberEventMsg(EventMemberJoined, roomId, member), c.id)
	}
	return members
}

func (cs *ChatServer) handleJoinRoom(c *Client, id int, req *JoinRoom) {
	if req.RoomId == "" {
		c.queueMessage(ErrBadRequest(id, "room id is required"))
		return
	}

	members := cs.joinRoom(c, req.RoomId, cs.memberFor(c, req.Member))
	c.queueMessage(NoErrOK(id, nil))
	c.queueMessage(RoomMembersMsg(req.RoomId, members))
}

// leaveRoom removes the connection from the room and notifies the remaining
// members, voice-left first when the member was in voice chat. It reports
// whether the connection was a member.
func (cs *ChatServer) leaveRoom(roomId, connectionId string) bool {
	member, remaining, ok := cs.rooms.Leave(roomId, connectionId)
	if !ok {
		return false
	}

	if len(remaining) == 0 {
		cs.stats.Decr(stats.NumActiveRooms)
		cs.log.Printf("room %q is empty, removed", roomId)
		return true
	}

	if member.InVoiceChat {
		cs.conns.sendToMembers(remaining, MemberEventMsg(EventVoiceLeft, roomId, member), connectionId)
	}
	cs.conns.sendToMembers(remaining, MemberEventMsg(EventMemberLeft, roomId, member), connectionId)
	return true
}

func (cs *ChatServer) handleLeaveRoom(c *Client, id int, req *LeaveRoom) {
	if !cs.leaveRoom(req.RoomId, c.id) {
		cs.log.Printf("%q is not in room %q", c.id, req.RoomId)
	}
	c.queueMessage(NoErrOK(id, nil))
}

func (cs *ChatServer) handleJoinVoice(c *Client, id int, req *JoinRoom) {
	if req.RoomId == "" {
		c.queueMessage(ErrBadRequest(id, "room id is required"))
		return
	}

	existing, isMember := cs.rooms.Member(req.RoomId, c.id)
	if isMember && existing.InVoiceChat {
		c.queueMessage(NoErrOK(id, nil))
		return
	}

	var (
		member  types.RoomMember
		members []types.RoomMember
	)
	if isMember {
		inVoice := true
		var ok bool
		member, members, ok = cs.rooms.UpdateMemberState(req.RoomId, c.id, MemberPatch{InVoiceChat: &inVoice})
		if !ok {
			c.queueMessage(NoErrOK(id, nil))
			return
		}
	} else {
		member = cs.memberFor(c, req.Member)
		member.InVoiceChat = true
		members = cs.joinRoom(c, req.RoomId, member)
	}

	c.queueMessage(NoErrOK(id, nil))
	c.queueMessage(RoomMembersMsg(req.RoomId, members))
	cs.conns.sendToMembers(members, MemberEventMsg(EventVoiceJoined, req.RoomId, member), c.id)
}

func (cs *ChatServer) handleLeaveVoice(c *Client, id int, req *LeaveRoom) {
	existing, ok := cs.rooms.Member(req.RoomId, c.id)
	if !ok || !existing.InVoiceChat {
		c.queueMessage(NoErrOK(id, nil))
		return
	}

	off := false
	member, members, ok := cs.rooms.UpdateMemberState(req.RoomId, c.id, MemberPatch{
		InVoiceChat: &off,
		IsSpeaking:  &off,
	})
	c.queueMessage(NoErrOK(id, nil))
	if ok {
		cs.conns.sendToMembers(members, MemberEventMsg(EventVoiceLeft, req.RoomId, member), c.id)
	}
}

func (cs *ChatServer) handleStateChange(c *Client, id int, roomId, event string, patch MemberPatch, state bool) {
	_, members, ok := cs.rooms.UpdateMemberState(roomId, c.id, patch)
	c.queueMessage(NoErrOK(id, nil))
	if ok {
		cs.conns.sendToMembers(members, StateChangeMsg(event, roomId, c.id, state), c.id)
	}
}

func (cs *ChatServer) handleSignal(c *Client, kind SignalKind, sig *Signal) {
	cs.relay.Relay(c.id, sig.TargetConnectionId, kind, sig.Payload)
}

func (cs *ChatServer) handleSendMessage(c *Client, id int, req *SendMessage) {
	msg, err := cs.coordinator.Deliver(DeliverRequest{
		ConversationId: req.ConversationId,
		SenderId:       c.user.Id,
		Content:        req.Content,
		MessageType:    req.MessageType,
		ReplyTo:        req.ReplyTo,
	})
	if err != nil {
		cs.log.Printf("deliver from %q to conversation %d: %v", c.id, req.ConversationId, err)
		c.queueMessage(errorResponse(id, err))
		return
	}

	c.queueMessage(NoErrAccepted(id, map[string]any{"message_id": msg.Id}))
}

func (cs *ChatServer) handleMarkRead(c *Client, id int, req *ConversationRef) {
	if err := cs.coordinator.MarkRead(req.ConversationId, c.user.Id); err != nil {
		cs.log.Printf("mark read by %q in conversation %d: %v", c.id, req.ConversationId, err)
		c.queueMessage(errorResponse(id, err))
		return
	}
	c.queueMessage(NoErrOK(id, nil))
}

func (cs *ChatServer) handleOpenConversation(c *Client, id int, req *ConversationRef) {
	if req.ConversationId <= 0 {
		c.queueMessage(ErrBadRequest(id, "conversation id is required"))
		return
	}
	cs.views.Join(conversationView(req.ConversationId), cs.memberFor(c, MemberInfo{}))
	c.queueMessage(NoErrOK(id, nil))
}

// Shutdown stops every live connection and waits for their read loops to
// finish reconciling.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	for _, c := range cs.conns.all() {
		c.stopClient()
	}

	done := make(chan struct{})
	go func() {
		cs.clientsWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
