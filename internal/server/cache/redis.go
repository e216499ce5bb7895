package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/achertok/contacthub/internal/common"
	goredis "github.com/redis/go-redis/v9"
)

// Redis adapts a go-redis client to the Cache interface. Every call is
// bounded by the per-call timeout so a slow backend surfaces as an error,
// not a hang.
type Redis struct {
	client  *goredis.Client
	timeout time.Duration
}

// NewRedis connects to the Redis instance at addr and pings it once to fail
// fast on startup misconfiguration.
func NewRedis(addr, password string, timeout time.Duration) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: ping %s: %s", common.ErrCacheUnavailable, addr, err)
	}
	return &Redis{client: client, timeout: timeout}, nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", common.ErrorNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %s", common.ErrCacheUnavailable, key, err)
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %s", common.ErrCacheUnavailable, key, err)
	}
	return nil
}

func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incr %s: %s", common.ErrCacheUnavailable, key, err)
	}
	// First increment created the key; attach the window TTL.
	if n == 1 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("%w: expire %s: %s", common.ErrCacheUnavailable, key, err)
		}
	}
	return n, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %s", common.ErrCacheUnavailable, key, err)
	}
	return nil
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	d, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: ttl %s: %s", common.ErrCacheUnavailable, key, err)
	}
	// go-redis reports missing keys as -2 and keys without expiry as -1.
	if d < 0 {
		return 0, common.ErrorNotFound
	}
	return d, nil
}
