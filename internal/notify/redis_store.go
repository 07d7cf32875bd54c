package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps every notification under its own key with a PX expiry, so
// each one disappears independently. A per-scope sorted set indexes the ids.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store from an existing Redis client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "notify:",
	}
}

func (s *RedisStore) key(scope, id string) string {
	return s.prefix + scope + ":" + id
}

func (s *RedisStore) indexKey(scope string) string {
	return s.prefix + scope + ":index"
}

// Save stores a notification for ttl.
func (s *RedisStore) Save(ctx context.Context, n Notification, ttl time.Duration) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(n.Scope, n.ID), payload, ttl)
		pipe.ZAdd(ctx, s.indexKey(n.Scope), redis.Z{
			Score:  float64(n.CreatedAt.UnixMilli()),
			Member: n.ID,
		})
		pipe.PExpire(ctx, s.indexKey(n.Scope), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

// Active returns live notifications of scope, oldest first.
func (s *RedisStore) Active(ctx context.Context, scope string) ([]Notification, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(scope), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if len(ids) == 0 {
		return []Notification{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(scope, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load notifications: %w", err)
	}

	out := make([]Notification, 0, len(values))
	var expired []any
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var n Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			return nil, fmt.Errorf("unmarshal notification: %w", err)
		}
		out = append(out, n)
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(scope), expired...).Err(); err != nil {
			return nil, fmt.Errorf("prune notifications: %w", err)
		}
	}
	return out, nil
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
