package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// TokenStore remembers revoked token ids until they expire.
type TokenStore interface {
	Revoke(ctx context.Context, id string, ttl time.Duration) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

type MemoryTokenStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{revoked: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryTokenStore) Revoke(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, exp := range m.revoked {
		if !exp.After(now) {
			delete(m.revoked, k)
		}
	}
	m.revoked[id] = now.Add(ttl)
	return nil
}

func (m *MemoryTokenStore) IsRevoked(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.revoked[id]
	if !ok {
		return false, nil
	}
	if !exp.After(m.now()) {
		delete(m.revoked, id)
		return false, nil
	}
	return true, nil
}

type RedisTokenStore struct {
	client *redis.Client
}

func NewRedisTokenStore(ctx context.Context, url string) (*RedisTokenStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisTokenStore{client: client}, nil
}

func revokedKey(id string) string {
	return "revoked:" + id
}

func (r *RedisTokenStore) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	return r.client.Set(ctx, revokedKey(id), 1, ttl).Err()
}

func (r *RedisTokenStore) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisTokenStore) Close() error {
	return r.client.Close()
}
