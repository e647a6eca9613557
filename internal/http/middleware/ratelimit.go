package middleware

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig config for the Redis-backed API request limiter.
type RateLimitConfig struct {
	Redis          *redis.Client
	DefaultRPS     int           // fallback if tenant_rps not set
	KeyPrefix      string        // e.g. "rl:tenant:"
	Window         time.Duration // usually 1s
	RetryAfterHint bool          // set Retry-After header when limited
	Now            func() time.Time
}

// RateLimitMiddleware applies a fixed-window per-tenant request limit to the
// API itself. It expects tenant_id in echo.Context (set by APIKeyMiddleware)
// and fails open when Redis is unavailable.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:tenant:"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID, ok := TenantIDFromCtx(c)
			if !ok {
				return next(c)
			}

			max := cfg.DefaultRPS
			if m, ok := c.Get(ctxTenantRPS).(int); ok && m > 0 {
				max = m
			}
			if max <= 0 || cfg.Redis == nil {
				return next(c)
			}

			// rl:tenant:{id}:{window index}
			now := cfg.Now()
			slot := now.UnixNano() / int64(cfg.Window)
			key := cfg.KeyPrefix + tenantID + ":" + strconv.FormatInt(slot, 10)

			ctx := c.Request().Context()
			pipe := cfg.Redis.Pipeline()
			cnt := pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, cfg.Window*2)
			if _, err := pipe.Exec(ctx); err != nil {
				c.Logger().Warnf("rate limit check skipped: %v", err)
				return next(c)
			}

			if cnt.Val() > int64(max) {
				if cfg.RetryAfterHint {
					remain := cfg.Window - time.Duration(now.UnixNano()%int64(cfg.Window))
					secs := int((remain + time.Second - 1) / time.Second)
					c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				}
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			}
			return next(c)
		}
	}
}
