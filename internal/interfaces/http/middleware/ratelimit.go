package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bookviz-api/pkg/logger"
)

// RateLimitConfig bounds requests per user for one action.
type RateLimitConfig struct {
	Enabled bool
	Limit   int
	Window  time.Duration
	Action  string
}

// RateLimiter is a sliding window counter keyed by an arbitrary string.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// KeyFunc builds the limiter key of a user and action.
type KeyFunc func(userID, action string) string

// RateLimit rejects requests beyond cfg.Limit per cfg.Window for the caller.
// Limiter failures let the request through.
func RateLimit(cfg RateLimitConfig, limiter RateLimiter, key KeyFunc) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" {
			userID = c.ClientIP()
		}

		allowed, err := limiter.Allow(c.Request.Context(), key(userID, cfg.Action), cfg.Limit, cfg.Window)
		if err != nil {
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "error", err.Error())
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", cfg.Window.String())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":     "1006",
				"message":  "rate limit exceeded",
				"trace_id": c.GetString("trace_id"),
			})
			return
		}
		c.Next()
	}
}
