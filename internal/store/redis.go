package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/owlvin/internal/domain"
	"github.com/soyeahso/owlvin/internal/persona"
)

// RedisProfileStore implements persona.Store using Redis. Profiles are stored
// as JSON under "users:<key>:profile" with no expiry.
type RedisProfileStore struct {
	client *redis.Client
}

// NewRedisProfileStore creates a Redis-backed profile store.
func NewRedisProfileStore(client *redis.Client) *RedisProfileStore {
	return &RedisProfileStore{client: client}
}

// DialRedis connects to Redis and verifies the connection with a PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisProfileStore) key(userKey string) string {
	return "users:" + userKey + ":profile"
}

// Get returns the profile stored under key, or persona.ErrNotFound.
func (s *RedisProfileStore) Get(ctx context.Context, key string) (*domain.Profile, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, persona.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	var p domain.Profile
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	return &p, nil
}

// Put creates or replaces the profile stored under key.
func (s *RedisProfileStore) Put(ctx context.Context, key string, p domain.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisProfileStore) Close() error {
	return s.client.Close()
}
