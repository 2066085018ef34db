// Package gin adapts the rate-limiting engine to the Gin framework. It
// mirrors the net/http middleware: X-RateLimit-* headers on every limited
// request, the canonical 429 JSON body on denial.
package gin

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/marketkit/api-ratelimit/pkg/limiter"
)

const defaultAPIPrefix = "/api/"

// Option configures the middleware.
type Option func(*settings)

type settings struct {
	apiPrefix string
}

// WithAPIPrefix scopes enforcement to paths under prefix (default "/api/").
func WithAPIPrefix(prefix string) Option {
	return func(s *settings) {
		if prefix != "" {
			s.apiPrefix = prefix
		}
	}
}

// RateLimiter returns a Gin middleware backed by the engine.
//
// Example:
//
//	router := gin.Default()
//	router.Use(ginmw.RateLimiter(eng))
func RateLimiter(eng *limiter.Engine, options ...Option) gin.HandlerFunc {
	s := &settings{apiPrefix: defaultAPIPrefix}
	for _, opt := range options {
		opt(s)
	}

	return func(c *gin.Context) {
		if !strings.HasPrefix(c.Request.URL.Path, s.apiPrefix) {
			c.Next()
			return
		}

		res := eng.Check(c.Request.Context(), c.Request)

		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt, 10))
			if res.Degraded {
				c.Header("X-RateLimit-Mode", "local")
			}
		}

		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(res.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"message":    "Too many requests. Try again in " + strconv.Itoa(res.RetryAfter) + " seconds.",
				"retryAfter": res.RetryAfter,
			})
			return
		}

		c.Next()

		if res.EntryID != "" {
			eng.Observe(c.Request.Context(), c.Request, res, c.Writer.Status())
		}
	}
}
