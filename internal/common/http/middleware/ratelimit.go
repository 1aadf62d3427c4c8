package middleware

import (
	"context"
	"fmt"
	"time"

	"nodeo/internal/common/cache"
	pkgerrors "nodeo/pkg/errors"
	"nodeo/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const rateKeyPrefix = "eval:rate:"

// RateLimitPolicy caps requests per window. A zero max disables that scope.
type RateLimitPolicy struct {
	Window   time.Duration `yaml:"window"`
	IPMax    int           `yaml:"ipMax"`
	RouteMax int           `yaml:"routeMax"`
}

// RateLimiter enforces fixed-window limits using Redis.
type RateLimiter struct {
	counter      cache.Counter
	window       time.Duration
	redisTimeout time.Duration
}

func NewRateLimiter(counter cache.Counter, window, redisTimeout time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if redisTimeout <= 0 {
		redisTimeout = time.Second
	}
	return &RateLimiter{counter: counter, window: window, redisTimeout: redisTimeout}
}

// Allow counts one hit on key and fails with TooManyRequests above max.
func (l *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if l.counter == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = l.window
	}

	ctxCache, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	acquired, err := l.counter.SetNX(ctxCache, key, 1, window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	var count int64
	if acquired {
		count = 1
	} else {
		count, err = l.counter.Incr(ctxCache, key)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		// A key that lost its expiry would block forever.
		ttl, ttlErr := l.counter.TTL(ctxCache, key)
		if ttlErr == nil && ttl <= 0 {
			_ = l.counter.Expire(ctxCache, key, window)
		}
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// RateLimitMiddleware enforces per-route rate limiting. A nil limiter lets
// every request through.
func RateLimitMiddleware(limiter *RateLimiter, routeKey string, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		if policy.IPMax > 0 {
			key := fmt.Sprintf("%sip:%s:%s", rateKeyPrefix, c.ClientIP(), routeKey)
			if err := limiter.Allow(c.Request.Context(), key, policy.IPMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		if policy.RouteMax > 0 {
			key := fmt.Sprintf("%sroute:%s", rateKeyPrefix, routeKey)
			if err := limiter.Allow(c.Request.Context(), key, policy.RouteMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		c.Next()
	}
}
