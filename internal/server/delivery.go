package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/stats"
	"github.com/npezzotti/go-watchparty/internal/types"
)

const (
	maxContentLength      = 4096
	maxUnreadRetries      = 3
	defaultPersistTimeout = 5 * time.Second
)

var messageTypes = []string{"text", "image", "video", "audio", "file"}

type DeliverRequest struct {
	ConversationId int
	SenderId       int
	Content        string
	MessageType    string
	ReplyTo        *int
}

func (r DeliverRequest) validate() error {
	if r.ConversationId <= 0 {
		return fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content cannot be empty", ErrValidation)
	}
	if utf8.RuneCountInString(r.Content) > maxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrValidation, maxContentLength)
	}
	if !slices.Contains(messageTypes, r.MessageType) {
		return fmt.Errorf("%w: unknown message type %q", ErrValidation, r.MessageType)
	}
	if r.ReplyTo != nil && *r.ReplyTo <= 0 {
		return fmt.Errorf("%w: invalid reply reference", ErrValidation)
	}
	return nil
}

// conversationView is the key under which a conversation's open views are
// stored in the views RoomStore.
func conversationView(conversationId int) string {
	return strconv.Itoa(conversationId)
}

// Coordinator persists chat messages, maintains unread counters and fans
// out delivery events to live participants.
type Coordinator struct {
	log      *log.Logger
	db       database.Repository
	unread   database.UnreadStore
	sessions *SessionRegistry
	conns    *connections
	views    *RoomStore
	stats    stats.StatsProvider
	timeout  time.Duration
	// newBackOff builds the retry policy for unread increments.
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

func NewCoordinator(logger *log.Logger, db database.Repository, unread database.UnreadStore,
	sessions *SessionRegistry, conns *connections, views *RoomStore, su stats.StatsProvider, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = defaultPersistTimeout
	}

	return &Coordinator{
		log:      logger,
		db:       db,
		unread:   unread,
		sessions: sessions,
		conns:    conns,
		views:    views,
		stats:    su,
		timeout:  timeout,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxUnreadRetries)
		},
		now: Now,
	}
}

func (c *Coordinator) participants(ctx context.Context, conversationId, userId int) ([]int, error) {
	participants, err := c.db.GetParticipants(ctx, conversationId)
	if err != nil {
		return nil, fmt.Errorf("%w: get participants: %v", ErrPersistence, err)
	}
	if !slices.Contains(participants, userId) {
		return nil, ErrNotParticipant
	}
	return participants, nil
}

// Deliver persists the message and notifies the participants. A failure
// before the append leaves no trace: no unread change and no events. Once the
// append succeeded the message stands, whatever happens to the sender.
func (c *Coordinator) Deliver(req DeliverRequest) (types.Message, error) {
	if err := req.validate(); err != nil {
		return types.Message{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	participants, err := c.participants(ctx, req.ConversationId, req.SenderId)
	if err != nil {
		return types.Message{}, err
	}

	dbMsg, err := c.db.CreateMessage(ctx, database.CreateMessageParams{
		ConversationId: req.ConversationId,
		SenderId:       req.SenderId,
		Content:        req.Content,
		MessageType:    req.MessageType,
		ReplyTo:        req.ReplyTo,
		CreatedAt:      c.now(),
	})
	if err != nil {
		c.log.Printf("create message in conversation %d: %v", req.ConversationId, err)
		return types.Message{}, fmt.Errorf("%w: create message: %v", ErrPersistence, err)
	}

	msg := types.Message{
		Id:             dbMsg.Id,
		ConversationId: dbMsg.ConversationId,
		SenderId:       dbMsg.SenderId,
		Content:        dbMsg.Content,
		MessageType:    dbMsg.MessageType,
		ReplyTo:        dbMsg.ReplyTo,
		ReadBy:         []types.ReadReceipt{},
		CreatedAt:      dbMsg.CreatedAt,
	}

	recipients := make([]int, 0, len(participants))
	for _, p := range participants {
		if p != req.SenderId {
			recipients = append(recipients, p)
		}
	}

	counts, err := c.incrementUnread(msg, recipients)
	if err != nil {
		// the message is durable, so delivery still goes ahead
		c.log.Printf("increment unread for message %d: %v", msg.Id, err)
	}

	c.fanOut(msg, participants, counts)
	c.stats.Incr(stats.NumMessagesDelivered)

	return msg, nil
}

// incrementUnread retries the increment with backoff. The store applies it at
// most once per message, so a retry after an ambiguous failure is safe.
func (c *Coordinator) incrementUnread(msg types.Message, recipients []int) (map[int]int, error) {
	if len(recipients) == 0 {
		return map[int]int{}, nil
	}

	var counts map[int]int
	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		var err error
		counts, err = c.unread.IncrementUnread(ctx, msg.ConversationId, msg.Id, recipients)
		return err
	}

	if err := backoff.Retry(op, c.newBackOff()); err != nil {
		return nil, err
	}
	return counts, nil
}

// fanOut sends message-delivered to every live participant and, to
// recipients without the conversation open, a conversation-updated summary.
func (c *Coordinator) fanOut(msg types.Message, participants []int, counts map[int]int) {
	view := conversationView(msg.ConversationId)
	delivered := MessageDeliveredMsg(msg)

	for _, p := range participants {
		connId, ok := c.sessions.LookupConnection(p)
		if !ok {
			continue
		}
		client, ok := c.conns.get(connId)
		if !ok {
			continue
		}

		client.queueMessage(delivered)

		if p == msg.SenderId {
			continue
		}
		if _, open := c.views.Member(view, connId); open {
			continue
		}

		var unread *int
		if n, ok := counts[p]; ok {
			unread = &n
		}
		client.queueMessage(ConversationUpdatedMsg(msg.ConversationId, unread, msg.Summary()))
	}
}

// MarkRead records the reader's receipts and resets their unread counter.
// Calling it with nothing unread is a no-op.
func (c *Coordinator) MarkRead(conversationId, readerId int) error {
	if conversationId <= 0 {
		return fmt.Errorf("%w: conversation id is required", ErrValidation)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	participants, err := c.participants(ctx, conversationId, readerId)
	if err != nil {
		return err
	}

	readAt := c.now()
	n, err := c.db.MarkMessagesRead(ctx, conversationId, readerId, readAt)
	if err != nil {
		return fmt.Errorf("%w: mark messages read: %v", ErrPersistence, err)
	}

	if err := c.unread.ResetUnread(ctx, conversationId, readerId); err != nil {
		return fmt.Errorf("%w: reset unread: %v", ErrPersistence, err)
	}

	if n == 0 {
		return nil
	}

	notice := MessagesReadMsg(conversationId, readerId, readAt)
	for _, p := range participants {
		if p == readerId {
			continue
		}
		if connId, ok := c.sessions.LookupConnection(p); ok {
			if client, ok := c.conns.get(connId); ok {
				client.queueMessage(notice)
			}
		}
	}

	return nil
}

// Conversation returns the conversation as seen by userId, with the current
// unread counters of every participant.
func (c *Coordinator) Conversation(ctx context.Context, conversationId, userId int) (types.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conv, err := c.db.GetConversation(ctx, conversationId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Conversation{}, ErrNotFound
		}
		return types.Conversation{}, fmt.Errorf("%w: get conversation: %v", ErrPersistence, err)
	}
	if !slices.Contains(conv.Participants, userId) {
		return types.Conversation{}, ErrNotParticipant
	}

	counts, err := c.unread.UnreadCounts(ctx, conversationId)
	if err != nil {
		return types.Conversation{}, fmt.Errorf("%w: unread counts: %v", ErrPersistence, err)
	}

	return types.Conversation{
		Id:             conv.Id,
		Participants:   conv.Participants,
		LastMessageId:  conv.LastMessageId,
		LastActivityAt: conv.LastActivityAt,
		UnreadCount:    counts,
	}, nil
}
