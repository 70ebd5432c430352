package settings

// DB config keys and defaults for settings.
const (
	// SiteNameKey is the DB config key for the deployment display name.
	SiteNameKey = "SITE_NAME"
	// DefaultSiteName is the fallback deployment display name.
	DefaultSiteName = "MODO Dispatch"
	// RateLimitKey controls the per-account generate rate limit per second.
	RateLimitKey = "RATE_LIMIT"
	// RateLimitRedisEnabledKey toggles Redis-backed rate limiting.
	RateLimitRedisEnabledKey = "RATE_LIMIT_REDIS_ENABLED"
	// RateLimitRedisAddrKey defines the Redis address for rate limiting.
	RateLimitRedisAddrKey = "RATE_LIMIT_REDIS_ADDR"
	// RateLimitRedisPasswordKey defines the Redis password for rate limiting.
	RateLimitRedisPasswordKey = "RATE_LIMIT_REDIS_PASSWORD"
	// RateLimitRedisDBKey defines the Redis DB index for rate limiting.
	RateLimitRedisDBKey = "RATE_LIMIT_REDIS_DB"
	// RateLimitRedisPrefixKey defines the Redis key prefix for rate limiting.
	RateLimitRedisPrefixKey = "RATE_LIMIT_REDIS_PREFIX"
	// ChainReloadIntervalSecondsKey controls the fallback chain snapshot reload interval.
	ChainReloadIntervalSecondsKey = "CHAIN_RELOAD_INTERVAL_SECONDS"
	// DefaultRateLimit is the fallback rate limit (0 means unlimited).
	DefaultRateLimit = 0
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "modo:rl"
	// DefaultChainReloadIntervalSeconds is the fallback chain reload interval.
	DefaultChainReloadIntervalSeconds = 15
)
