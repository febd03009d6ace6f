package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultTTL = 5 * time.Minute

// Locker hands out exclusive, non-blocking leases keyed by session id.
type Locker interface {
	// TryLock returns acquired=false without waiting when another holder owns
	// key. release must be called exactly once when acquired is true.
	TryLock(ctx context.Context, key string, ttl time.Duration) (acquired bool, release func(), err error)

	// IsLocked reports whether key is currently held.
	IsLocked(ctx context.Context, key string) (bool, error)
}

type LockerType string

const (
	LockerTypeLocal LockerType = "local"
	LockerTypeRedis LockerType = "redis"
)

type Config struct {
	Type      LockerType    `mapstructure:"type"`
	TTL       time.Duration `mapstructure:"ttl"`
	RedisAddr string        `mapstructure:"redisAddr"`
	RedisDB   int           `mapstructure:"redisDb"`
	KeyPrefix string        `mapstructure:"keyPrefix"`
}

func NewLocker(config *Config, logger zerolog.Logger) (Locker, error) {
	switch config.Type {
	case LockerTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr: config.RedisAddr,
			DB:   config.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.RedisAddr, err)
		}
		return NewRedisLocker(client, config.KeyPrefix, logger), nil
	default:
		return NewLocalLocker(), nil
	}
}
