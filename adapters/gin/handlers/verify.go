package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/daily-proof/accesskit/adapters/ginutil"
	core "github.com/daily-proof/accesskit/core"
	"github.com/daily-proof/accesskit/entitlement"
)

// HandleVerify serves both GET (query string) and POST (JSON body)
// verification requests from the unlock page. A GET carrying an email but
// no plan claim answers from the entitlement store alone. A failed
// verification is a normal 200 denial; only malformed requests and
// upstream outages are error statuses. The response never reveals whether
// the email exists in the commerce system beyond the boolean access flags.
func HandleVerify(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	type verifyReq struct {
		Email      string `json:"email"`
		Plan       string `json:"plan"`
		LicenseKey string `json:"licenseKey"`
		// older page revisions send snake_case
		LicenseKeyAlt string `json:"license_key"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLVerify) {
			ginutil.TooMany(c)
			return
		}

		var email, plan, licenseKey string
		switch c.Request.Method {
		case http.MethodGet:
			email = c.Query("email")
			plan = c.Query("plan")
			licenseKey = c.Query("license_key")
			if email == "" {
				// Liveness probe from a bare browser hit.
				c.JSON(http.StatusOK, gin.H{"ok": true, "message": "verify endpoint live"})
				return
			}
			if plan == "" {
				// No plan claim: read-only store probe across both
				// plan keys, no commerce call, no token.
				rec, err := svc.CheckEntitlement(c.Request.Context(), strings.ToLower(strings.TrimSpace(email)))
				if err != nil {
					ginutil.ServerError(c, "store_lookup_failed")
					return
				}
				resp := gin.H{
					"ok":        true,
					"emailHash": entitlement.HashEmail(email),
					"access":    rec.Active,
					"plan":      nil,
				}
				if rec.Active {
					resp["plan"] = rec.Plan
				}
				c.JSON(http.StatusOK, resp)
				return
			}
		case http.MethodPost:
			var req verifyReq
			if err := c.ShouldBindJSON(&req); err != nil {
				ginutil.BadRequest(c, "invalid_request")
				return
			}
			email = req.Email
			plan = req.Plan
			licenseKey = req.LicenseKey
			if licenseKey == "" {
				licenseKey = req.LicenseKeyAlt
			}
		default:
			ginutil.MethodNotAllowed(c)
			return
		}

		email = strings.ToLower(strings.TrimSpace(email))
		licenseKey = strings.TrimSpace(licenseKey)

		res, err := svc.VerifyAccess(c.Request.Context(), email, plan, licenseKey)
		switch {
		case errors.Is(err, core.ErrMissingEmail):
			ginutil.BadRequest(c, "missing_email")
			return
		case errors.Is(err, core.ErrInvalidPlan):
			ginutil.BadRequest(c, "invalid_plan")
			return
		case errors.Is(err, core.ErrMissingLicenseKey):
			ginutil.BadRequest(c, "missing_license_key")
			return
		case err != nil:
			ginutil.UpstreamError(c)
			return
		}

		resp := gin.H{
			"ok":            true,
			"plan":          res.Plan,
			"lifetime":      res.Lifetime,
			"monthlyActive": res.MonthlyActive,
			"emailHash":     res.EmailHash,
		}
		if res.Token != "" {
			resp["token"] = res.Token
		}
		c.JSON(http.StatusOK, resp)
	}
}
