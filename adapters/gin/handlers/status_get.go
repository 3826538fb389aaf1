package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/daily-proof/accesskit/adapters/ginutil"
	core "github.com/daily-proof/accesskit/core"
)

// HandleStatusGET answers bearer-token introspection with a boolean only.
// The decision combines the token signature with a fresh store lookup, so
// a revocation after issuance flips the answer.
func HandleStatusGET(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLStatus) {
			ginutil.TooMany(c)
			return
		}
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			ginutil.Unauthorized(c, "missing_bearer")
			return
		}
		bearer := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if bearer == "" {
			ginutil.Unauthorized(c, "missing_bearer")
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": svc.Status(c.Request.Context(), bearer)})
	}
}
