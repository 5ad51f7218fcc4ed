package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
)

const windowKeyPrefix = "ctx:win:"

// RedisCache stores each conversation window as a Redis list with a TTL.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func windowKey(conversationID string) string {
	return windowKeyPrefix + conversationID
}

// Read returns the cached window oldest first, or ErrCacheMiss when absent.
// An empty list is indistinguishable from an absent one and also misses.
func (c *RedisCache) Read(ctx context.Context, conversationID string) ([]channel.Message, error) {
	raw, err := c.client.LRange(ctx, windowKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange window: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrCacheMiss
	}

	msgs := make([]channel.Message, 0, len(raw))
	for _, entry := range raw {
		var msg channel.Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			// poisoned entry; drop the whole window and rebuild from the store
			c.client.Del(ctx, windowKey(conversationID))
			return nil, ErrCacheMiss
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Push appends msg to the window list, trims it to max entries, and refreshes
// the TTL.
func (c *RedisCache) Push(ctx context.Context, conversationID string, msg channel.Message, max int) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	key := windowKey(conversationID)
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, encoded)
	pipe.LTrim(ctx, key, int64(-max), -1)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push window: %w", err)
	}
	return nil
}

// Replace swaps the whole window atomically.
func (c *RedisCache) Replace(ctx context.Context, conversationID string, msgs []channel.Message) error {
	key := windowKey(conversationID)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	for _, msg := range msgs {
		encoded, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		pipe.RPush(ctx, key, encoded)
	}
	if len(msgs) > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace window: %w", err)
	}
	return nil
}
