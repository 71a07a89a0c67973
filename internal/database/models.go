package database

import "time"

type Account struct {
	Id        int
	Username  string
	AvatarRef string
	CreatedAt time.Time
}

type Message struct {
	Id             int
	ConversationId int
	SenderId       int
	Content        string
	MessageType    string
	ReplyTo        *int
	Deleted        bool
	CreatedAt      time.Time
}

type CreateMessageParams struct {
	ConversationId int
	SenderId       int
	Content        string
	MessageType    string
	ReplyTo        *int
	CreatedAt      time.Time
}

type Conversation struct {
	Id             int
	Participants   []int
	LastMessageId  *int
	LastActivityAt time.Time
}
