package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// After a Redis failure the manager serves checks from memory for this long
// before probing Redis again.
const memoryFallbackWindow = 30 * time.Second

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

type redisTarget struct {
	addr     string
	password string
	prefix   string
	db       int
}

func redisTargetFromSettings(cfg SettingsConfig) redisTarget {
	target := redisTarget{
		addr:     strings.TrimSpace(cfg.RedisAddr),
		password: strings.TrimSpace(cfg.RedisPassword),
		prefix:   strings.TrimSpace(cfg.RedisPrefix),
		db:       cfg.RedisDB,
	}
	if target.db < 0 {
		target.db = 0
	}
	return target
}

// Manager picks the limiter backend for each check. Redis is preferred when
// enabled in settings so account limits hold across dispatch instances; the
// in-memory limiter covers everything else. A limit check never fails hard:
// backend trouble degrades to the memory limiter, not to an error.
type Manager struct {
	settings  SettingsProvider
	nowFn     func() time.Time
	memory    *MemoryLimiter
	newClient RedisClientFactory

	mu           sync.Mutex
	redisLimiter *RedisLimiter
	redisTarget  redisTarget
	memoryUntil  time.Time
}

// NewManager constructs a Manager with default dependencies when nil.
func NewManager(settings SettingsProvider, nowFn func() time.Time, newClient RedisClientFactory) *Manager {
	if settings == nil {
		settings = LoadSettingsConfig
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newClient == nil {
		newClient = redis.NewClient
	}
	return &Manager{
		settings:  settings,
		nowFn:     nowFn,
		memory:    NewMemoryLimiter(),
		newClient: newClient,
	}
}

// Allow checks whether the account's request fits its per-second limit.
func (m *Manager) Allow(ctx context.Context, key string, limit int) (Result, error) {
	if m == nil || key == "" || limit <= 0 {
		return Result{Allowed: true}, nil
	}
	now := m.nowFn()
	cfg := m.settings()

	if cfg.RedisEnabled {
		if result, served := m.allowShared(ctx, key, limit, now, cfg); served {
			return result, nil
		}
	}
	return m.memory.Allow(ctx, key, limit, now)
}

// allowShared runs the check against Redis. A false second return means the
// caller should fall back to the memory limiter.
func (m *Manager) allowShared(ctx context.Context, key string, limit int, now time.Time, cfg SettingsConfig) (Result, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if m.inMemoryFallback(now) {
		return Result{}, false
	}
	limiter, errEnsure := m.ensureRedis(ctx, cfg)
	if errEnsure != nil {
		m.enterMemoryFallback(errEnsure, cfg, now)
		return Result{}, false
	}
	result, errAllow := limiter.Allow(ctx, key, limit, now)
	if errAllow != nil {
		m.enterMemoryFallback(errAllow, cfg, now)
		return Result{}, false
	}
	return result, true
}

func (m *Manager) inMemoryFallback(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.memoryUntil.IsZero() {
		return false
	}
	if now.Before(m.memoryUntil) {
		return true
	}
	m.memoryUntil = time.Time{}
	return false
}

func (m *Manager) enterMemoryFallback(err error, cfg SettingsConfig, now time.Time) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.memoryUntil.IsZero() && now.Before(m.memoryUntil) {
		return
	}
	m.memoryUntil = now.Add(memoryFallbackWindow)
	log.WithError(err).WithFields(log.Fields{
		"redis_addr": cfg.RedisAddr,
		"retry_in":   memoryFallbackWindow,
	}).Warn("ratelimit: redis unavailable, account limits enforced per instance")
}

// ensureRedis returns a limiter for the configured target, reconnecting when
// the settings snapshot changed the address, credentials, or key prefix.
func (m *Manager) ensureRedis(ctx context.Context, cfg SettingsConfig) (*RedisLimiter, error) {
	target := redisTargetFromSettings(cfg)
	if target.addr == "" {
		return nil, errors.New("ratelimit: redis enabled without an address")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redisLimiter != nil && m.redisTarget == target {
		return m.redisLimiter, nil
	}
	if m.redisLimiter != nil {
		_ = m.redisLimiter.client.Close()
		m.redisLimiter = nil
	}

	client := m.newClient(&redis.Options{
		Addr:     target.addr,
		Password: target.password,
		DB:       target.db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.redisLimiter = NewRedisLimiter(client, target.prefix)
	m.redisTarget = target
	return m.redisLimiter, nil
}
