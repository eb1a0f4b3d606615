package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SpeedyCraftah/go-chat-app/internal/models"
)

const rateLimitTTL = time.Minute

// RedisStore handles Redis operations: the bounded session cache and
// rate limit counters. Optional; the server runs without it.
type RedisStore struct {
	client     *redis.Client
	sessionTTL time.Duration
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string, sessionTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	if sessionTTL <= 0 {
		sessionTTL = 5 * time.Minute
	}

	return &RedisStore{client: client, sessionTTL: sessionTTL}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// sessionKey returns the cache key for a session token.
func sessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

// rateLimitKey returns the key for a caller's rate limit counter.
func rateLimitKey(caller string) string {
	return fmt.Sprintf("ratelimit:%s", caller)
}

// GetCachedSession retrieves a cached session by token. Returns
// (nil, nil) on cache miss; misses fall through to the data store.
func (s *RedisStore) GetCachedSession(ctx context.Context, token string) (*models.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CacheSession stores a session under its token with the configured TTL.
// The TTL bounds staleness; logout invalidates explicitly.
func (s *RedisStore) CacheSession(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey(session.Token), data, s.sessionTTL).Err()
}

// InvalidateSession removes a session token from the cache.
func (s *RedisStore) InvalidateSession(ctx context.Context, token string) error {
	return s.client.Del(ctx, sessionKey(token)).Err()
}

// IncrRateLimit increments and returns the caller's request count for
// the current window. The TTL is set only when the counter is created,
// so the window expires on schedule even under steady traffic.
func (s *RedisStore) IncrRateLimit(ctx context.Context, caller string) (int64, error) {
	key := rateLimitKey(caller)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, rateLimitTTL).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}
