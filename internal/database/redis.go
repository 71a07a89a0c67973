package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const appliedMarkerTTL = 24 * time.Hour

// incrementScript applies the increments only when the per-message marker is
// newly set, so retries for the same message never double count.
var incrementScript = redis.NewScript(`
if redis.call('SET', KEYS[2], '1', 'NX', 'EX', ARGV[1]) then
	for i = 2, #ARGV do
		redis.call('HINCRBY', KEYS[1], ARGV[i], 1)
	end
end
return redis.call('HMGET', KEYS[1], unpack(ARGV, 2))
`)

// RedisUnreadStore keeps unread counters in one hash per conversation.
type RedisUnreadStore struct {
	client *redis.Client
}

func NewRedisUnreadStore(ctx context.Context, addr string) (*RedisUnreadStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisUnreadStore{client: client}, nil
}

func unreadKey(conversationId int) string {
	return "unread:" + strconv.Itoa(conversationId)
}

func appliedKey(messageId int) string {
	return "unread:applied:" + strconv.Itoa(messageId)
}

func (s *RedisUnreadStore) IncrementUnread(ctx context.Context, conversationId, messageId int, accountIds []int) (map[int]int, error) {
	if len(accountIds) == 0 {
		return map[int]int{}, nil
	}

	args := make([]any, 0, len(accountIds)+1)
	args = append(args, int(appliedMarkerTTL.Seconds()))
	for _, id := range accountIds {
		args = append(args, id)
	}

	res, err := incrementScript.Run(ctx, s.client,
		[]string{unreadKey(conversationId), appliedKey(messageId)},
		args...,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("increment unread: %w", err)
	}

	counts := make(map[int]int, len(accountIds))
	for i, v := range res {
		if v == nil || i >= len(accountIds) {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(str)
		if err != nil {
			return nil, fmt.Errorf("parse unread count: %w", err)
		}
		counts[accountIds[i]] = n
	}

	return counts, nil
}

// ResetUnread sets the reader's counter to zero, creating it when missing.
func (s *RedisUnreadStore) ResetUnread(ctx context.Context, conversationId, accountId int) error {
	return s.client.HSet(ctx, unreadKey(conversationId), strconv.Itoa(accountId), 0).Err()
}

func (s *RedisUnreadStore) UnreadCounts(ctx context.Context, conversationId int) (map[int]int, error) {
	raw, err := s.client.HGetAll(ctx, unreadKey(conversationId)).Result()
	if err != nil {
		return nil, err
	}

	counts := make(map[int]int, len(raw))
	for field, value := range raw {
		id, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("parse unread count: %w", err)
		}
		counts[id] = n
	}

	return counts, nil
}

func (s *RedisUnreadStore) Close() error {
	return s.client.Close()
}
