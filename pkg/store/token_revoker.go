package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// TokenRevoker tracks revoked token IDs until expiry.
type TokenRevoker interface {
	Revoke(id string, ttl time.Duration) error
	IsRevoked(id string) (bool, error)
}

// MemoryTokenRevoker keeps revoked IDs in-process (single instance only).
type MemoryTokenRevoker struct {
	entries *cache.Cache
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		entries: cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

// Revoke marks an ID as revoked until its expiry.
func (r *MemoryTokenRevoker) Revoke(id string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.entries.Set(id, struct{}{}, ttl)
	return nil
}

// IsRevoked checks if the ID is revoked.
func (r *MemoryTokenRevoker) IsRevoked(id string) (bool, error) {
	_, found := r.entries.Get(id)
	return found, nil
}

// RedisTokenRevoker stores revoked IDs in Redis with TTL.
type RedisTokenRevoker struct {
	client *redis.Client
}

// NewRedisTokenRevoker builds a Redis-backed revoker.
func NewRedisTokenRevoker(client *redis.Client) *RedisTokenRevoker {
	return &RedisTokenRevoker{client: client}
}

// Revoke marks an ID as revoked until expiry.
func (r *RedisTokenRevoker) Revoke(id string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, revocationKey(id), "1", ttl).Err()
}

// IsRevoked checks if the ID is revoked.
func (r *RedisTokenRevoker) IsRevoked(id string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := r.client.Exists(ctx, revocationKey(id)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

func revocationKey(id string) string {
	return "betareader:revoked:" + id
}
