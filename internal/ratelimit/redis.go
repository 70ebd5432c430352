package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window keys outlive the window by one second so a slow EXPIRE cannot
// leave a counter behind forever.
const windowKeyTTL = 2 * time.Second

// RedisLimiter shares fixed one-second windows across dispatch instances.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: strings.TrimSpace(prefix),
	}
}

// Allow increments the key's window counter in Redis and reports whether it
// stays within limit. The INCR and EXPIRE run in one transaction, so every
// window key carries a TTL even when two instances race on its first request.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	if l == nil || l.client == nil || key == "" || limit <= 0 {
		return Result{Allowed: true}, nil
	}
	second := now.Unix()
	reset := time.Unix(second+1, 0).UTC()

	windowKey := l.windowKey(key, second)
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, windowKeyTTL)
	if _, errExec := pipe.Exec(ctx); errExec != nil {
		return Result{}, fmt.Errorf("ratelimit: redis window incr: %w", errExec)
	}

	count := incr.Val()
	if count > int64(limit) {
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, Reset: reset}, nil
}

func (l *RedisLimiter) windowKey(key string, second int64) string {
	parts := []string{key, strconv.FormatInt(second, 10)}
	if l.prefix != "" {
		parts = append([]string{l.prefix}, parts...)
	}
	return strings.Join(parts, ":")
}
