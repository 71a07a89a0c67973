package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

func (db *PgRepository) GetAccountById(ctx context.Context, id int) (Account, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, avatar_ref, created_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var account Account
	err := row.Scan(
		&account.Id,
		&account.Username,
		&account.AvatarRef,
		&account.CreatedAt,
	)

	return account, err
}

// GetParticipants returns the account ids taking part in the conversation.
// An unknown conversation yields an empty slice.
func (db *PgRepository) GetParticipants(ctx context.Context, conversationId int) ([]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT account_id FROM conversation_participants "+
			"WHERE conversation_id = $1 ORDER BY account_id",
		conversationId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make([]int, 0, 2)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		participants = append(participants, id)
	}

	return participants, rows.Err()
}

// GetConversation loads the conversation row and its participants.
// sql.ErrNoRows means the conversation does not exist.
func (db *PgRepository) GetConversation(ctx context.Context, conversationId int) (Conversation, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, last_message_id, last_activity_at FROM conversations "+
			"WHERE id = $1 LIMIT 1",
		conversationId,
	)

	var (
		conv   Conversation
		lastId sql.NullInt64
	)
	if err := row.Scan(&conv.Id, &lastId, &conv.LastActivityAt); err != nil {
		return Conversation{}, err
	}
	if lastId.Valid {
		id := int(lastId.Int64)
		conv.LastMessageId = &id
	}

	participants, err := db.GetParticipants(ctx, conversationId)
	if err != nil {
		return Conversation{}, err
	}
	conv.Participants = participants

	return conv, nil
}

// CreateMessage appends the message and moves the conversation's last
// message pointer in one transaction.
func (db *PgRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var replyTo sql.NullInt64
	if params.ReplyTo != nil {
		replyTo = sql.NullInt64{Int64: int64(*params.ReplyTo), Valid: true}
	}

	res := tx.QueryRowContext(ctx,
		"INSERT INTO messages (conversation_id, sender_id, content, message_type, reply_to, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at",
		params.ConversationId,
		params.SenderId,
		params.Content,
		params.MessageType,
		replyTo,
		params.CreatedAt,
	)

	msg := Message{
		ConversationId: params.ConversationId,
		SenderId:       params.SenderId,
		Content:        params.Content,
		MessageType:    params.MessageType,
		ReplyTo:        params.ReplyTo,
	}
	if err = res.Scan(&msg.Id, &msg.CreatedAt); err != nil {
		return Message{}, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET last_message_id = $1, last_activity_at = $2 WHERE id = $3",
		msg.Id,
		msg.CreatedAt,
		msg.ConversationId,
	)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// MarkMessagesRead records a read receipt for every message in the
// conversation sent by someone else that the reader has not read yet and
// returns how many receipts were added.
func (db *PgRepository) MarkMessagesRead(ctx context.Context, conversationId, readerId int, readAt time.Time) (int, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, account_id, read_at)
		SELECT m.id, $2, $3 FROM messages m
		WHERE m.conversation_id = $1
			AND m.sender_id <> $2
			AND NOT m.deleted
			AND NOT EXISTS (
				SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.account_id = $2
			)
		ON CONFLICT (message_id, account_id) DO NOTHING`,
		conversationId,
		readerId,
		readAt,
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

// IncrementUnread bumps the counter of every account in accountIds by one.
// The unread_increments marker makes a repeated call for the same message a
// no-op, and the upsert is a single atomic statement per row.
func (db *PgRepository) IncrementUnread(ctx context.Context, conversationId, messageId int, accountIds []int) (map[int]int, error) {
	if len(accountIds) == 0 {
		return map[int]int{}, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO unread_increments (message_id, applied_at) VALUES ($1, $2) "+
			"ON CONFLICT (message_id) DO NOTHING",
		messageId,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}

	applied, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if applied == 1 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO unread_counts (conversation_id, account_id, count)
			SELECT $1, id, 1 FROM unnest($2::int[]) AS id
			ON CONFLICT (conversation_id, account_id)
			DO UPDATE SET count = unread_counts.count + 1`,
			conversationId,
			pq.Array(toInt64s(accountIds)),
		)
		if err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return db.unreadCounts(ctx, conversationId, accountIds)
}

// ResetUnread sets the reader's counter to zero, creating it when missing.
func (db *PgRepository) ResetUnread(ctx context.Context, conversationId, accountId int) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO unread_counts (conversation_id, account_id, count) VALUES ($1, $2, 0) "+
			"ON CONFLICT (conversation_id, account_id) DO UPDATE SET count = 0",
		conversationId,
		accountId,
	)

	return err
}

func (db *PgRepository) UnreadCounts(ctx context.Context, conversationId int) (map[int]int, error) {
	return db.unreadCounts(ctx, conversationId, nil)
}

func (db *PgRepository) unreadCounts(ctx context.Context, conversationId int, accountIds []int) (map[int]int, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if accountIds == nil {
		rows, err = db.conn.QueryContext(ctx,
			"SELECT account_id, count FROM unread_counts WHERE conversation_id = $1",
			conversationId,
		)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			"SELECT account_id, count FROM unread_counts WHERE conversation_id = $1 AND account_id = ANY($2)",
			conversationId,
			pq.Array(toInt64s(accountIds)),
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var accountId, count int
		if err := rows.Scan(&accountId, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[accountId] = count
	}

	return counts, rows.Err()
}

func toInt64s(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
