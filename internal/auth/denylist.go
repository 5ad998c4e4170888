package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Denylist records tokens that were logged out before they expired. Entries
// only need to live until the token's own expiry.
type Denylist interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryDenylist keeps revocations in process memory. Used when no Redis is
// configured; revocations are lost on restart.
type MemoryDenylist struct {
	c *cache.Cache
}

var _ Denylist = (*MemoryDenylist)(nil)

func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{c: cache.New(cache.NoExpiration, 10*time.Minute)}
}

func (d *MemoryDenylist) Revoke(_ context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	d.c.Set(tokenID, struct{}{}, ttl)
	return nil
}

func (d *MemoryDenylist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	_, found := d.c.Get(tokenID)
	return found, nil
}

const redisKeyPrefix = "journal:revoked:"

// RedisDenylist shares revocations between instances through Redis keys that
// expire together with the token.
type RedisDenylist struct {
	client *redis.Client
}

var _ Denylist = (*RedisDenylist)(nil)

func NewRedisDenylist(client *redis.Client) *RedisDenylist {
	return &RedisDenylist{client: client}
}

func (d *RedisDenylist) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, redisKeyPrefix+tokenID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("auth: revoking token in redis: %w", err)
	}
	return nil
}

func (d *RedisDenylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := d.client.Exists(ctx, redisKeyPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("auth: checking revocation in redis: %w", err)
	}
	return n > 0, nil
}

// ConnectRedis parses a redis:// URL, applies pool and timeout settings and
// pings the server.
func ConnectRedis(ctx context.Context, uri string) (*redis.Client, error) {
	opt, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing redis url: %w", err)
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("auth: pinging redis: %w", err)
	}
	return client, nil
}
