package cache

import (
	"fmt"

	"podlog/internal/config"
	"podlog/internal/podlog"
)

// NewCacheFromConfig creates a Cache implementation based on the cache config type.
func NewCacheFromConfig(cfg config.CacheConfig, clock podlog.Clock) (podlog.Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryCache(clock, cfg.MaxEntries), nil
	case "none":
		return NopCache{}, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
