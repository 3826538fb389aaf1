// Package authgin wires the access gateway endpoints onto a gin engine.
package authgin

import (
	"github.com/gin-gonic/gin"

	"github.com/daily-proof/accesskit/adapters/gin/handlers"
	"github.com/daily-proof/accesskit/adapters/ginutil"
	core "github.com/daily-proof/accesskit/core"
)

// Routes registers the gateway endpoints under /api. CORS is open because
// the static app pages call these endpoints cross-origin.
func Routes(r *gin.Engine, svc *core.Service, webhookSecret string, rl ginutil.RateLimiter) {
	// Wrong verbs get 405, not 404.
	r.HandleMethodNotAllowed = true

	api := r.Group("/api")
	api.Use(ginutil.CORS(), ginutil.RequestID())

	api.POST("/webhook", handlers.HandleWebhookPOST(svc, webhookSecret, rl))

	verify := handlers.HandleVerify(svc, rl)
	api.GET("/verify", verify)
	api.POST("/verify", verify)

	api.GET("/status", handlers.HandleStatusGET(svc, rl))

	// Preflight requests terminate in the CORS middleware with 204.
	noop := func(c *gin.Context) {}
	api.OPTIONS("/verify", noop)
	api.OPTIONS("/status", noop)
	api.OPTIONS("/webhook", noop)
}
