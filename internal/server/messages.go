package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/npezzotti/go-watchparty/internal/types"
)

// Outbound event names.
const (
	EventResponse            = "response"
	EventRoomMembers         = "room-members"
	EventMemberJoined        = "member-joined"
	EventMemberLeft          = "member-left"
	EventVoiceJoined         = "voice-joined"
	EventVoiceLeft           = "voice-left"
	EventMuteChanged         = "mute-changed"
	EventSpeakingChanged     = "speaking-changed"
	EventSignalDelivered     = "signal-delivered"
	EventMessageDelivered    = "message-delivered"
	EventConversationUpdated = "conversation-updated"
	EventMessagesRead        = "messages-read"
	EventPresenceChanged     = "presence-changed"
	EventOnlineUsers         = "online-users"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	JoinRoom          *JoinRoom        `json:"join_room,omitempty"`
	LeaveRoom         *LeaveRoom       `json:"leave_room,omitempty"`
	JoinVoice         *JoinRoom        `json:"join_voice,omitempty"`
	LeaveVoice        *LeaveRoom       `json:"leave_voice,omitempty"`
	ToggleMute        *ToggleMute      `json:"toggle_mute,omitempty"`
	SpeakingState     *SpeakingState   `json:"speaking_state,omitempty"`
	SignalOffer       *Signal          `json:"signal_offer,omitempty"`
	SignalAnswer      *Signal          `json:"signal_answer,omitempty"`
	SignalCandidate   *Signal          `json:"signal_candidate,omitempty"`
	SendMessage       *SendMessage     `json:"send_message,omitempty"`
	MarkRead          *ConversationRef `json:"mark_read,omitempty"`
	OpenConversation  *ConversationRef `json:"open_conversation,omitempty"`
	CloseConversation *ConversationRef `json:"close_conversation,omitempty"`
}

// MemberInfo lets a client override how it is displayed in a room. Empty
// fields fall back to the authenticated identity.
type MemberInfo struct {
	Username  string `json:"username,omitempty"`
	AvatarRef string `json:"avatar_ref,omitempty"`
}

type JoinRoom struct {
	RoomId string     `json:"room_id"`
	Member MemberInfo `json:"member"`
}

type LeaveRoom struct {
	RoomId string `json:"room_id"`
}

type ToggleMute struct {
	RoomId  string `json:"room_id"`
	IsMuted bool   `json:"is_muted"`
}

type SpeakingState struct {
	RoomId     string `json:"room_id"`
	IsSpeaking bool   `json:"is_speaking"`
}

type Signal struct {
	TargetConnectionId string          `json:"target_connection_id"`
	Payload            json.RawMessage `json:"payload"`
}

type SendMessage struct {
	ConversationId int    `json:"conversation_id"`
	Content        string `json:"content"`
	MessageType    string `json:"message_type"`
	ReplyTo        *int   `json:"reply_to,omitempty"`
}

type ConversationRef struct {
	ConversationId int `json:"conversation_id"`
}

type ServerMessage struct {
	BaseMessage
	Event        string         `json:"event"`
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	RoomMembers         *RoomMembers        `json:"room_members,omitempty"`
	Member              *MemberEvent        `json:"member,omitempty"`
	StateChange         *MemberStateChange  `json:"state_change,omitempty"`
	Signal              *SignalDelivery     `json:"signal,omitempty"`
	ConversationUpdated *ConversationUpdate `json:"conversation_updated,omitempty"`
	MessagesRead        *MessagesRead       `json:"messages_read,omitempty"`
	Presence            *Presence           `json:"presence,omitempty"`
	OnlineUsers         []int               `json:"online_users,omitempty"`
}

type RoomMembers struct {
	RoomId  string             `json:"room_id"`
	Members []types.RoomMember `json:"members"`
}

type MemberEvent struct {
	RoomId string           `json:"room_id"`
	Member types.RoomMember `json:"member"`
}

type MemberStateChange struct {
	RoomId       string `json:"room_id"`
	ConnectionId string `json:"connection_id"`
	State        bool   `json:"state"`
}

type SignalDelivery struct {
	FromConnectionId string          `json:"from_connection_id"`
	Kind             SignalKind      `json:"kind"`
	Payload          json.RawMessage `json:"payload"`
}

type ConversationUpdate struct {
	ConversationId int                  `json:"conversation_id"`
	UnreadCount    *int                 `json:"unread_count,omitempty"`
	LastMessage    types.MessageSummary `json:"last_message"`
}

type MessagesRead struct {
	ConversationId int       `json:"conversation_id"`
	ReaderId       int       `json:"reader_id"`
	ReadAt         time.Time `json:"read_at"`
}

type Presence struct {
	UserId int    `json:"user_id"`
	Status Status `json:"status"`
}

func newNotification(event string, n *Notification) *ServerMessage {
	return &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		Event:        event,
		Notification: n,
	}
}

func RoomMembersMsg(roomId string, members []types.RoomMember) *ServerMessage {
	return newNotification(EventRoomMembers, &Notification{
		RoomMembers: &RoomMembers{RoomId: roomId, Members: members},
	})
}

// MemberEventMsg builds member-joined/left and voice-joined/left events.
func MemberEventMsg(event, roomId string, member types.RoomMember) *ServerMessage {
	return newNotification(event, &Notification{
		Member: &MemberEvent{RoomId: roomId, Member: member},
	})
}

// StateChangeMsg builds mute-changed and speaking-changed events.
func StateChangeMsg(event, roomId, connectionId string, state bool) *ServerMessage {
	return newNotification(event, &Notification{
		StateChange: &MemberStateChange{RoomId: roomId, ConnectionId: connectionId, State: state},
	})
}

func SignalMsg(from string, kind SignalKind, payload json.RawMessage) *ServerMessage {
	return newNotification(EventSignalDelivered, &Notification{
		Signal: &SignalDelivery{FromConnectionId: from, Kind: kind, Payload: payload},
	})
}

func MessageDeliveredMsg(msg types.Message) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       EventMessageDelivered,
		Message:     &msg,
	}
}

func ConversationUpdatedMsg(conversationId int, unread *int, last types.MessageSummary) *ServerMessage {
	return newNotification(EventConversationUpdated, &Notification{
		ConversationUpdated: &ConversationUpdate{
			ConversationId: conversationId,
			UnreadCount:    unread,
			LastMessage:    last,
		},
	})
}

func MessagesReadMsg(conversationId, readerId int, readAt time.Time) *ServerMessage {
	return newNotification(EventMessagesRead, &Notification{
		MessagesRead: &MessagesRead{ConversationId: conversationId, ReaderId: readerId, ReadAt: readAt},
	})
}

func PresenceMsg(userId int, status Status) *ServerMessage {
	return newNotification(EventPresenceChanged, &Notification{
		Presence: &Presence{UserId: userId, Status: status},
	})
}

func OnlineUsersMsg(userIds []int) *ServerMessage {
	return newNotification(EventOnlineUsers, &Notification{OnlineUsers: userIds})
}

func newResponse(id, code int, errMsg string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Event: EventResponse,
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
			Data:         data,
		},
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return newResponse(id, http.StatusOK, "", data)
}

func NoErrAccepted(id int, data any) *ServerMessage {
	return newResponse(id, http.StatusAccepted, "", data)
}

func ErrBadRequest(id int, reason string) *ServerMessage {
	return newResponse(id, http.StatusBadRequest, reason, nil)
}

func ErrUnauthorizedMsg(id int) *ServerMessage {
	return newResponse(id, http.StatusUnauthorized, "unauthorized", nil)
}

func ErrForbidden(id int) *ServerMessage {
	return newResponse(id, http.StatusForbidden, "not a participant", nil)
}

func ErrNotFoundMsg(id int) *ServerMessage {
	return newResponse(id, http.StatusNotFound, "not found", nil)
}

func ErrTooManyRequests(id int) *ServerMessage {
	return newResponse(id, http.StatusTooManyRequests, "too many requests", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return newResponse(id, http.StatusInternalServerError, "internal server error", nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return newResponse(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := newResponse(0, http.StatusBadRequest, "invalid message format", nil)
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
