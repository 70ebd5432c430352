package ratelimit

import (
	"context"
	"testing"
	"time"
)

func staticSettings(cfg SettingsConfig) SettingsProvider {
	return func() SettingsConfig { return cfg }
}

func TestManager_MemoryBackend(t *testing.T) {
	now := time.Unix(1700000000, 0)
	manager := NewManager(staticSettings(SettingsConfig{}), func() time.Time { return now }, nil)

	for i := 0; i < 2; i++ {
		result, err := manager.Allow(context.Background(), "a:1", 2)
		if err != nil || !result.Allowed {
			t.Fatalf("allow %d: got %v %v", i, result, err)
		}
	}
	result, err := manager.Allow(context.Background(), "a:1", 2)
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected third request denied")
	}
}

func TestManager_ZeroLimitAllows(t *testing.T) {
	manager := NewManager(staticSettings(SettingsConfig{}), nil, nil)
	result, err := manager.Allow(context.Background(), "a:1", 0)
	if err != nil || !result.Allowed {
		t.Fatalf("expected zero limit to allow, got %v %v", result, err)
	}
}

func TestManager_RedisUnreachableFallsBackToMemory(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cfg := SettingsConfig{RedisEnabled: true, RedisAddr: "127.0.0.1:1", RedisPrefix: "modo:rl"}
	manager := NewManager(staticSettings(cfg), func() time.Time { return now }, nil)

	// The ping to the dead address trips the fallback; the check itself
	// still succeeds against the memory limiter.
	result, err := manager.Allow(context.Background(), "a:1", 1)
	if err != nil {
		t.Fatalf("allow with dead redis: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected first request allowed via memory fallback")
	}

	result, err = manager.Allow(context.Background(), "a:1", 1)
	if err != nil {
		t.Fatalf("allow second: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected memory limiter to enforce the limit during fallback")
	}
}
