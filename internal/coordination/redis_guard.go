// Package coordination provides execution guards shared across processes.
package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/booking-guard/internal/application"
	"github.com/example/booking-guard/internal/logging"
)

// DefaultLockTTL bounds how long a crashed holder can block a user's scans.
const DefaultLockTTL = 15 * time.Minute

const keyPrefix = "bookingguard:lock:"

// releaseScript deletes the lock only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Client is the subset of the Redis client used by RedisGuard.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisGuard is an application.ExecutionGuard backed by a Redis key per lock.
type RedisGuard struct {
	client Client
	ttl    time.Duration
	token  func() string
	logger *slog.Logger
}

// NewRedisGuard constructs a guard. A non-positive ttl uses DefaultLockTTL.
func NewRedisGuard(client Client, ttl time.Duration, logger *slog.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisGuard{client: client, ttl: ttl, token: uuid.NewString, logger: logging.Component(logger, "coordination.redis_guard")}
}

// Acquire sets the lock key if it is absent. It returns
// application.ErrScanInProgress when another holder owns the key.
func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := g.token()

	ok, err := g.client.SetNX(ctx, redisKey, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, application.ErrScanInProgress
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, g.client, []string{redisKey}, token).Err(); err != nil {
			g.logger.Warn("failed to release lock", "key", key, "error", err)
		}
	}, nil
}

// NewClient connects to Redis at addr and verifies the connection with a ping.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return client, nil
}
