package middleware

import (
	"fmt"
	"time"

	"github.com/fundsafe/backend/internal/http/dto"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitMiddleware is a fixed-window counter per caller and path. It
// keys on the actor when one is set and on the client IP otherwise. Redis
// errors fail open.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limit <= 0 {
			return c.Next()
		}

		who := c.IP()
		if actor := GetActor(c); actor.ID != "" {
			who = actor.ID
		}
		key := fmt.Sprintf("rl:%s:%s:%s", c.Method(), c.Path(), who)

		ctx := c.UserContext()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Warn("rate limit unavailable", zap.Error(err))
			return c.Next()
		}

		if count == 1 {
			rdb.Expire(ctx, key, window)
		}

		if count > int64(limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
				Error:     "rate limit exceeded",
				Kind:      "rate_limited",
				RequestID: GetRequestID(c),
			})
		}

		return c.Next()
	}
}
