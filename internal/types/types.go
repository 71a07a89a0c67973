package types

import (
	"time"
)

type User struct {
	Id        int    `json:"id"`
	Username  string `json:"username"`
	AvatarRef string `json:"avatar_ref,omitempty"`
}

// RoomMember is one connection's participation in a room. Members are
// identified by ConnectionId, never by their visible fields.
type RoomMember struct {
	ConnectionId string `json:"connection_id"`
	UserId       int    `json:"user_id"`
	Username     string `json:"username"`
	AvatarRef    string `json:"avatar_ref,omitempty"`
	IsSpeaking   bool   `json:"is_speaking"`
	IsMuted      bool   `json:"is_muted"`
	InVoiceChat  bool   `json:"in_voice_chat"`
}

type ReadReceipt struct {
	UserId int       `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

type Message struct {
	Id             int           `json:"id"`
	ConversationId int           `json:"conversation_id"`
	SenderId       int           `json:"sender_id"`
	Content        string        `json:"content"`
	MessageType    string        `json:"message_type"`
	ReplyTo        *int          `json:"reply_to,omitempty"`
	ReadBy         []ReadReceipt `json:"read_by"`
	CreatedAt      time.Time     `json:"created_at"`
}

// MessageSummary is the short form of a message carried by
// conversation-updated notifications.
type MessageSummary struct {
	Id          int       `json:"id"`
	SenderId    int       `json:"sender_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`
}

func (m Message) Summary() MessageSummary {
	return MessageSummary{
		Id:          m.Id,
		SenderId:    m.SenderId,
		Content:     m.Content,
		MessageType: m.MessageType,
		CreatedAt:   m.CreatedAt,
	}
}

type Conversation struct {
	Id             int         `json:"id"`
	Participants   []int       `json:"participants"`
	LastMessageId  *int        `json:"last_message_id,omitempty"`
	LastActivityAt time.Time   `json:"last_activity_at"`
	UnreadCount    map[int]int `json:"unread_count"`
}
