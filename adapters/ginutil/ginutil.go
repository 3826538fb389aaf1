// Package ginutil carries the small shared pieces of the gin adapter:
// JSON error responders, the rate limiter gate, CORS, and request ids.
package ginutil

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Rate limit bucket names, one per gated endpoint.
const (
	RLWebhook = "webhook"
	RLVerify  = "verify"
	RLStatus  = "status"
)

// RateLimiter is the limiter surface handlers depend on. A nil limiter
// allows everything.
type RateLimiter interface {
	AllowNamed(bucket, key string) (bool, error)
}

// AllowNamed gates a request through the named bucket keyed by client IP.
// Limiter errors fail open: throttling is protective, not authoritative.
func AllowNamed(c *gin.Context, rl RateLimiter, bucket string) bool {
	if rl == nil {
		return true
	}
	ok, err := rl.AllowNamed(bucket, c.ClientIP())
	if err != nil {
		return true
	}
	return ok
}

func BadRequest(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": code})
}

func Unauthorized(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": code})
}

func MethodNotAllowed(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"ok": false, "error": "method_not_allowed"})
}

func TooMany(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"ok": false, "error": "rate_limited"})
}

func ServerError(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": code})
}

func UpstreamError(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"ok": false, "error": "upstream_unavailable"})
}

// SecretEqual compares a presented secret with the expected one in
// constant time. An empty expected secret never matches.
func SecretEqual(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// CORS opens the API to any browser origin and answers preflight with 204.
// The endpoints are consumed cross-origin from the static app pages.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Cache-Control", "no-store, max-age=0")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestID tags each request with a uuid, echoed in the X-Request-Id
// header and available to handlers for log correlation.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}
