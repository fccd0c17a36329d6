package security

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles reservation traffic per caller using a fixed
// one-minute window counter in Redis. With no Redis client it is a
// no-op, so the memory and sqlite deployments run unthrottled.
type RateLimiter struct {
	redis *redis.Client
	limit int
}

func NewRateLimiter(redisClient *redis.Client, limit int) *RateLimiter {
	return &RateLimiter{redis: redisClient, limit: limit}
}

// ReserveLimit caps reservation attempts per customer per minute.
// Anonymous requests fall back to the caller's IP.
func (r *RateLimiter) ReserveLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if r.redis == nil || r.limit <= 0 {
				return next(c)
			}

			who := c.Request().Header.Get("X-Customer-ID")
			if who == "" {
				who = c.RealIP()
			}
			key := fmt.Sprintf("ratelimit:reserve:%s", who)

			ctx := c.Request().Context()
			count, err := r.redis.Incr(ctx, key).Result()
			if err != nil {
				// Redis trouble must not take reservations down.
				log.Printf("ratelimit: incr failed: %v", err)
				return next(c)
			}
			if count == 1 {
				r.redis.Expire(ctx, key, time.Minute)
			}
			if count > int64(r.limit) {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "too many reservation attempts, slow down",
				})
			}
			return next(c)
		}
	}
}
