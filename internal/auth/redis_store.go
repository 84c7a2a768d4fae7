package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "mediavault:session:"

// RedisSessionStore persists sessions in Redis so multiple replicas can share
// authentication state. Expiry is delegated to Redis key TTLs.
type RedisSessionStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// RedisStoreOption configures a RedisSessionStore.
type RedisStoreOption func(*RedisSessionStore)

// WithKeyPrefix overrides the key namespace used for session entries.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisSessionStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithCommandTimeout bounds individual Redis commands.
func WithCommandTimeout(timeout time.Duration) RedisStoreOption {
	return func(s *RedisSessionStore) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewRedisSessionStore wraps an existing Redis client as a SessionStore.
func NewRedisSessionStore(client redis.UniversalClient, opts ...RedisStoreOption) (*RedisSessionStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	store := &RedisSessionStore{
		client:  client,
		prefix:  defaultRedisKeyPrefix,
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

type redisSessionPayload struct {
	Role      Role      `json:"role"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *RedisSessionStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

func (s *RedisSessionStore) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// Save records the session and lets Redis expire the key at expiresAt.
func (s *RedisSessionStore) Save(tokenHash string, role Role, issuedAt, expiresAt time.Time) error {
	payload, err := json.Marshal(redisSessionPayload{Role: role, IssuedAt: issuedAt, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	ctx, cancel := s.commandContext()
	defer cancel()
	if err := s.client.Set(ctx, s.key(tokenHash), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get retrieves the session record for the provided token hash.
func (s *RedisSessionStore) Get(tokenHash string) (SessionRecord, bool, error) {
	ctx, cancel := s.commandContext()
	defer cancel()
	raw, err := s.client.Get(ctx, s.key(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, fmt.Errorf("get session: %w", err)
	}
	var payload redisSessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return SessionRecord{}, false, fmt.Errorf("decode session: %w", err)
	}
	return SessionRecord{
		TokenHash: tokenHash,
		Role:      payload.Role,
		IssuedAt:  payload.IssuedAt,
		ExpiresAt: payload.ExpiresAt,
	}, true, nil
}

// Delete removes the session from Redis.
func (s *RedisSessionStore) Delete(tokenHash string) error {
	ctx, cancel := s.commandContext()
	defer cancel()
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op: Redis reclaims expired keys on its own.
func (s *RedisSessionStore) PurgeExpired(time.Time) error {
	return nil
}

// Ping verifies Redis connectivity.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
