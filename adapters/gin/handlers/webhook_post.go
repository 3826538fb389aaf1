package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/daily-proof/accesskit/adapters/ginutil"
	core "github.com/daily-proof/accesskit/core"
)

// HandleWebhookPOST ingests purchase notifications from the commerce
// platform. The caller authenticates with the shared secret as a query
// parameter or x-webhook-secret header, or with an HMAC-SHA256 of the raw
// body in x-signature; the platform cannot always send custom headers, so
// the secret-in-URL form is an accepted degraded mode.
func HandleWebhookPOST(svc *core.Service, webhookSecret string, rl ginutil.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLWebhook) {
			ginutil.TooMany(c)
			return
		}
		if webhookSecret == "" {
			ginutil.ServerError(c, "webhook_secret_not_configured")
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			ginutil.BadRequest(c, "unreadable_body")
			return
		}
		if !callerAuthenticated(c, webhookSecret, body) {
			ginutil.Unauthorized(c, "unauthorized")
			return
		}

		payload, ok := parsePayload(c.ContentType(), body)
		if !ok {
			ginutil.BadRequest(c, "unparseable_body")
			return
		}

		ev := core.PurchaseEvent{
			Email:       strings.TrimSpace(payload["email"]),
			ProductName: strings.TrimSpace(payload["product_name"]),
			Cancelled:   truthy(payload["cancelled"]),
			Refunded:    truthy(payload["refunded"]),
		}
		if ev.ProductName == "" {
			ev.ProductName = strings.TrimSpace(payload["product_permalink"])
		}

		out, err := svc.ApplyPurchaseEvent(c.Request.Context(), ev)
		if errors.Is(err, core.ErrMissingEmail) {
			ginutil.BadRequest(c, "missing_email")
			return
		}
		if err != nil {
			ginutil.ServerError(c, "store_write_failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":        true,
			"action":    out.Action,
			"plan":      out.Plan,
			"emailHash": out.EmailHash,
		})
	}
}

func callerAuthenticated(c *gin.Context, secret string, body []byte) bool {
	if ginutil.SecretEqual(c.Query("secret"), secret) {
		return true
	}
	if ginutil.SecretEqual(c.GetHeader("x-webhook-secret"), secret) {
		return true
	}
	if sig := c.GetHeader("x-signature"); sig != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		want := hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(strings.ToLower(sig)), []byte(want))
	}
	return false
}

// parsePayload accepts the platform's form-encoded delivery or JSON,
// flattened to string values.
func parsePayload(contentType string, body []byte) (map[string]string, bool) {
	if strings.Contains(contentType, "application/json") {
		var raw map[string]any
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, false
		}
		out := make(map[string]string, len(raw))
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				out[k] = val
			case bool:
				if val {
					out[k] = "true"
				} else {
					out[k] = "false"
				}
			case float64:
				out[k] = strconv.FormatFloat(val, 'f', -1, 64)
			}
		}
		return out, true
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, false
	}
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out, true
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
