package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRepository) GetAccountById(ctx context.Context, accountId int) (Account, error) {
	args := m.Called(ctx, accountId)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockRepository) GetParticipants(ctx context.Context, conversationId int) ([]int, error) {
	args := m.Called(ctx, conversationId)
	if ids, ok := args.Get(0).([]int); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) GetConversation(ctx context.Context, conversationId int) (Conversation, error) {
	args := m.Called(ctx, conversationId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) MarkMessagesRead(ctx context.Context, conversationId, readerId int, readAt time.Time) (int, error) {
	args := m.Called(ctx, conversationId, readerId, readAt)
	return args.Int(0), args.Error(1)
}

type MockUnreadStore struct {
	mock.Mock
}

func (m *MockUnreadStore) IncrementUnread(ctx context.Context, conversationId, messageId int, accountIds []int) (map[int]int, error) {
	args := m.Called(ctx, conversationId, messageId, accountIds)
	if counts, ok := args.Get(0).(map[int]int); ok {
		return counts, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockUnreadStore) ResetUnread(ctx context.Context, conversationId, accountId int) error {
	args := m.Called(ctx, conversationId, accountId)
	return args.Error(0)
}
func (m *MockUnreadStore) UnreadCounts(ctx context.Context, conversationId int) (map[int]int, error) {
	args := m.Called(ctx, conversationId)
	if counts, ok := args.Get(0).(map[int]int); ok {
		return counts, args.Error(1)
	}
	return nil, args.Error(1)
}
