package database

import (
	"context"
	"time"
)

// Repository is the durable store behind the real-time layer.
type Repository interface {
	Ping(ctx context.Context) error
	GetAccountById(ctx context.Context, accountId int) (Account, error)
	GetParticipants(ctx context.Context, conversationId int) ([]int, error)
	GetConversation(ctx context.Context, conversationId int) (Conversation, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	MarkMessagesRead(ctx context.Context, conversationId, readerId int, readAt time.Time) (int, error)
}

// UnreadStore keeps per-participant unread counters. IncrementUnread must be
// an atomic per-key increment and must apply at most once per message id, so
// callers can retry it freely.
type UnreadStore interface {
	IncrementUnread(ctx context.Context, conversationId, messageId int, accountIds []int) (map[int]int, error)
	ResetUnread(ctx context.Context, conversationId, accountId int) error
	UnreadCounts(ctx context.Context, conversationId int) (map[int]int, error)
}
