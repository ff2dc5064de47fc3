package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the well-known key the bearer token is persisted under.
const DefaultKey = "healthsync_auth_token"

// ErrStoreUnavailable wraps backend failures from a [CredentialStore].
var ErrStoreUnavailable = errors.New("credential store unavailable")

// CredentialStore persists at most one bearer token.
//
// Get reports ok=false when nothing is stored. Clear on an empty store is a
// no-op. Implementations must be safe for concurrent use.
type CredentialStore interface {
	Set(ctx context.Context, token string) error
	Get(ctx context.Context) (token string, ok bool, err error)
	Clear(ctx context.Context) error
}

// RedisStore keeps the token in a single Redis string key.
type RedisStore struct {
	redis redis.UniversalClient
	key   string
}

// NewRedisStore creates a [RedisStore]. An empty key selects [DefaultKey].
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{redis: client, key: key}
}

// Key returns the Redis key in use.
func (s *RedisStore) Key() string { return s.key }

// Set writes token with no expiry; expiry is judged from the token claims.
func (s *RedisStore) Set(ctx context.Context, token string) error {
	if err := s.redis.Set(ctx, s.key, token, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get reads the stored token.
func (s *RedisStore) Get(ctx context.Context) (string, bool, error) {
	v, err := s.redis.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return v, true, nil
}

// Clear deletes the key. Deleting a missing key is not an error.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
