package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr string

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var presenceTouchScript = redis.NewScript(`
-- KEYS[1] = liveness key
-- ARGV[1] = ttl_ms (int)
-- ARGV[2] = now unix ms (stored as last-seen)
--
-- Returns:
--  1 if the key was newly created (offline -> online transition)
--  0 if the key already existed (heartbeat refresh)
local created = redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[1], 'NX')
if created then
  return 1
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[1])
return 0
`)

var presenceClearScript = redis.NewScript(`
-- KEYS[1] = liveness key
-- Returns 1 if the key existed (online -> offline transition), 0 otherwise.
return redis.call('DEL', KEYS[1])
`)

// PresenceTouch refreshes a user's liveness key with the given TTL.
// It reports whether this heartbeat created the key, i.e. whether the user
// transitioned from offline to online.
//
// Safety properties:
// - Atomic create-or-refresh using Lua.
// - TTL expiry marks the user offline even if the process crashes.
func PresenceTouch(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration, now time.Time) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return false, fmt.Errorf("key is required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be > 0")
	}

	res, err := presenceTouchScript.Run(ctx, rdb, []string{key}, ttl.Milliseconds(), now.UnixMilli()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// PresenceClear removes a user's liveness key (explicit disconnect).
// It reports whether the key existed.
func PresenceClear(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return false, fmt.Errorf("key is required")
	}
	res, err := presenceClearScript.Run(ctx, rdb, []string{key}).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// PresenceAlive reports whether a liveness key currently exists.
func PresenceAlive(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	n, err := rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
