package cache

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"time"
)

// NullCacheValue marks a key whose source had nothing, so repeated misses
// do not reach the source.
const NullCacheValue = "$NULL$"

// ReadThrough serves values of type T from a Cache and falls back to a
// loader on miss. Values are stored as JSON.
type ReadThrough[T any] struct {
	Cache Cache
	// TTL is jittered on every write. EmptyTTL applies to NullCacheValue.
	TTL      time.Duration
	EmptyTTL time.Duration
}

// Get returns the value for key and whether one exists. A loader reporting
// found=false is remembered as NullCacheValue; loader errors are not cached.
// Cache failures degrade to a direct load.
func (r ReadThrough[T]) Get(ctx context.Context, key string, load func(context.Context) (T, bool, error)) (T, bool, error) {
	var zero T
	if raw, err := r.Cache.Get(ctx, key); err == nil && raw != "" {
		if raw == NullCacheValue {
			return zero, false, nil
		}
		var v T
		if json.Unmarshal([]byte(raw), &v) == nil {
			return v, true, nil
		}
	}

	v, found, err := load(ctx)
	if err != nil {
		return zero, false, err
	}
	if !found {
		if r.EmptyTTL > 0 {
			_ = r.Cache.Set(ctx, key, NullCacheValue, r.EmptyTTL)
		}
		return zero, false, nil
	}
	if data, err := json.Marshal(v); err == nil {
		_ = r.Cache.Set(ctx, key, string(data), JitterTTL(r.TTL))
	}
	return v, true, nil
}

// JitterTTL shortens ttl by up to a tenth so keys written together expire apart.
func JitterTTL(ttl time.Duration) time.Duration {
	spread := int64(ttl / 10)
	if spread <= 0 {
		return ttl
	}
	return ttl - time.Duration(rand.Int64N(spread+1))
}
