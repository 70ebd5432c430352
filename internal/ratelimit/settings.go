package ratelimit

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	internalsettings "github.com/modo-studio/modo-dispatch/internal/settings"
)

// SettingsConfig is the rate limit portion of the settings snapshot.
type SettingsConfig struct {
	Limit         int
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// LoadSettingsConfig reads the rate limit keys from the current settings
// snapshot, falling back to defaults for anything unset or malformed.
func LoadSettingsConfig() SettingsConfig {
	return SettingsConfig{
		Limit:         settingInt(internalsettings.RateLimitKey, internalsettings.DefaultRateLimit),
		RedisEnabled:  settingBool(internalsettings.RateLimitRedisEnabledKey),
		RedisAddr:     settingString(internalsettings.RateLimitRedisAddrKey, ""),
		RedisPassword: settingString(internalsettings.RateLimitRedisPasswordKey, ""),
		RedisDB:       settingInt(internalsettings.RateLimitRedisDBKey, 0),
		RedisPrefix:   settingString(internalsettings.RateLimitRedisPrefixKey, internalsettings.DefaultRateLimitRedisPrefix),
	}
}

// DefaultSettingsLimit returns the deployment-wide per-second limit.
// Zero means unlimited.
func DefaultSettingsLimit() int {
	return LoadSettingsConfig().Limit
}

// Settings values arrive as JSON; the dashboard stores numbers and booleans
// natively but older rows may carry them as strings, so the helpers accept
// both shapes.

func settingInt(key string, fallback int) int {
	raw, ok := internalsettings.DBConfigValue(key)
	if !ok {
		return fallback
	}
	raw = bytes.TrimSpace(raw)

	var parsed int
	if errInt := json.Unmarshal(raw, &parsed); errInt == nil {
		if parsed < 0 {
			return fallback
		}
		return parsed
	}
	var text string
	if errStr := json.Unmarshal(raw, &text); errStr == nil {
		parsed, errAtoi := strconv.Atoi(strings.TrimSpace(text))
		if errAtoi == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}

func settingBool(key string) bool {
	raw, ok := internalsettings.DBConfigValue(key)
	if !ok {
		return false
	}
	raw = bytes.TrimSpace(raw)

	var parsed bool
	if errBool := json.Unmarshal(raw, &parsed); errBool == nil {
		return parsed
	}
	var text string
	if errStr := json.Unmarshal(raw, &text); errStr == nil {
		enabled, errParse := strconv.ParseBool(strings.TrimSpace(text))
		return errParse == nil && enabled
	}
	return false
}

func settingString(key, fallback string) string {
	raw, ok := internalsettings.DBConfigValue(key)
	if !ok {
		return fallback
	}
	var text string
	if errStr := json.Unmarshal(bytes.TrimSpace(raw), &text); errStr != nil {
		return fallback
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback
	}
	return text
}
