package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MimeLyc/iwbot/internal/identity"
)

const defaultRedisPrefix = "iwbot:identity:"

// RedisIdentityCache keeps identity lookups in Redis, letting key TTLs do
// the expiry. Several bot processes can share it.
type RedisIdentityCache struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ identity.Backend = (*RedisIdentityCache)(nil)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func NewRedisIdentityCache(opts RedisOptions) (*RedisIdentityCache, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return NewRedisIdentityCacheWithClient(client, opts.Prefix), nil
}

func NewRedisIdentityCacheWithClient(client redis.UniversalClient, prefix string) *RedisIdentityCache {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisIdentityCache{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisIdentityCache) Close() error {
	return r.client.Close()
}

func (r *RedisIdentityCache) key(lang, title string) string {
	return r.prefix + lang + ":" + title
}

func (r *RedisIdentityCache) GetIdentity(ctx context.Context, lang, title string, _ time.Time) (identity.Lookup, bool, error) {
	data, err := r.client.Get(ctx, r.key(lang, title)).Bytes()
	if errors.Is(err, redis.Nil) {
		return identity.Lookup{}, false, nil
	}
	if err != nil {
		return identity.Lookup{}, false, err
	}
	var ret identity.Lookup
	if err := json.Unmarshal(data, &ret); err != nil {
		return identity.Lookup{}, false, fmt.Errorf("decode %s: %w", r.key(lang, title), err)
	}
	return ret, true, nil
}

func (r *RedisIdentityCache) PutIdentity(ctx context.Context, lang, title string, l identity.Lookup, expiresAt time.Time) error {
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(r.now())
		if ttl <= 0 {
			return nil
		}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(lang, title), data, ttl).Err()
}

// ClearIdentities deletes every key under the prefix.
func (r *RedisIdentityCache) ClearIdentities(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 500).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
