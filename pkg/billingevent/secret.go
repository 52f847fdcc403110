package billingevent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/billingsync/pkg/clock"
	"github.com/dmitrymomot/billingsync/pkg/ttlcache"
)

// SecretSource yields the shared secret deliveries must present.
type SecretSource interface {
	Secret(ctx context.Context) (string, error)
}

// StaticSecret is a secret fixed at startup. Empty disables authentication.
type StaticSecret string

func (s StaticSecret) Secret(context.Context) (string, error) { return string(s), nil }

// CachedSecret fetches the secret from an external store and keeps it for ttl,
// so rotations are picked up without a restart.
type CachedSecret struct {
	cache *ttlcache.Cache[string]
	ttl   time.Duration
	fetch ttlcache.Fetcher[string]
}

// NewCachedSecret wraps fetch with a TTL cache. When a refresh fails the
// last known secret keeps being served.
func NewCachedSecret(fetch ttlcache.Fetcher[string], ttl time.Duration, clk clock.Clock) *CachedSecret {
	return &CachedSecret{
		cache: ttlcache.New[string](clk, ttlcache.WithStaleOnError()),
		ttl:   ttl,
		fetch: fetch,
	}
}

func (s *CachedSecret) Secret(ctx context.Context) (string, error) {
	return s.cache.GetOrRefresh(ctx, s.ttl, s.fetch)
}

// RedisSecret reads the secret stored under key. A missing or empty key is an
// error: an external source must never silently disable authentication.
func RedisSecret(client redis.UniversalClient, key string) ttlcache.Fetcher[string] {
	return func(ctx context.Context) (string, error) {
		v, err := client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("secret key %q not found", key)
		}
		if err != nil {
			return "", err
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return "", fmt.Errorf("secret key %q is empty", key)
		}
		return v, nil
	}
}
