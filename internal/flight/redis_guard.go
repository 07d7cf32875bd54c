package flight

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"akademik/api/internal/util"
)

// releaseScript deletes the key only while it still carries our token, so a
// lease that expired and was retaken by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard implements Guard with SET NX PX.
type RedisGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisGuard creates a guard from an existing Redis client
func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{
		client: client,
		prefix: "flight:",
	}
}

func (g *RedisGuard) key(name string) string {
	return g.prefix + name
}

func (g *RedisGuard) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token := util.NewID("")
	ok, err := g.client.SetNX(ctx, g.key(key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire flight %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, g.client, []string{g.key(key)}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to release flight lease")
		}
	}, nil
}

// Ping checks if Redis is reachable
func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}
