package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultKeyPrefix = "uploads:assemble:"

// Only the holder whose token is stored may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker coordinates assembly across server instances that share the
// same chunk directory.
type RedisLocker struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    zerolog.Logger
}

func NewRedisLocker(client redis.UniversalClient, keyPrefix string, logger zerolog.Logger) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisLocker{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, func(), error) {
	if ttl < time.Second {
		ttl = DefaultTTL
	}

	redisKey := l.keyPrefix + key
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("failed to acquire lease for %s: %w", key, err)
	}
	if !acquired {
		return false, nil, nil
	}

	release := func() {
		// the request context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("Failed to release lease")
		}
	}

	return true, release, nil
}

func (l *RedisLocker) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, l.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lease for %s: %w", key, err)
	}
	return n > 0, nil
}
