package handlers_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	authgin "github.com/daily-proof/accesskit/adapters/gin"
	"github.com/daily-proof/accesskit/commerce"
	core "github.com/daily-proof/accesskit/core"
	"github.com/daily-proof/accesskit/entitlement"
	memorystore "github.com/daily-proof/accesskit/storage/memory"
	accesstest "github.com/daily-proof/accesskit/testing"
	"github.com/daily-proof/accesskit/token"
)

const webhookSecret = "hook-secret"

type fixture struct {
	router   *gin.Engine
	store    *memorystore.EntitlementStore
	platform *accesstest.FakePlatform
	tokens   *token.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	platform := accesstest.NewFakePlatform()
	t.Cleanup(platform.Close)

	store := memorystore.NewEntitlementStore()
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	verifier := commerce.NewClient("test-token", "prod-life", "prod-month", log,
		commerce.WithBaseURL(platform.URL()))
	tokens := token.New("signing-secret", 0)
	svc := core.NewService(store, verifier, tokens, log)

	r := gin.New()
	authgin.Routes(r, svc, webhookSecret, nil)
	return &fixture{router: r, store: store, platform: platform, tokens: tokens}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestWebhookLifetimeGrant(t *testing.T) {
	f := newFixture(t)

	form := url.Values{}
	form.Set("email", "a@b.com")
	form.Set("product_name", "Lifetime Plan")
	form.Set("cancelled", "false")

	req := httptest.NewRequest(http.MethodPost, "/api/webhook?secret="+webhookSecret,
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	require.Equal(t, true, body["ok"])
	require.Equal(t, "granted", body["action"])
	require.Equal(t, "lifetime", body["plan"])

	hash := entitlement.HashEmail("a@b.com")
	require.Equal(t, hash, body["emailHash"])

	v, ok, err := f.store.Get(req.Context(), entitlement.StoreKey(entitlement.PlanLifetime, hash))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entitlement.ValueGranted, v)
}

func TestWebhookMonthlyRefundRevokes(t *testing.T) {
	f := newFixture(t)
	hash := entitlement.HashEmail("a@b.com")
	key := entitlement.StoreKey(entitlement.PlanMonthly, hash)
	f.store.Put(context.Background(), key, entitlement.ValueGranted, entitlement.MonthlyTTL)

	payload := map[string]any{
		"email":        "a@b.com",
		"product_name": "Monthly Plan",
		"refunded":     true,
	}
	raw, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-webhook-secret", webhookSecret)

	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	require.Equal(t, "revoked", body["action"])

	v, ok, err := f.store.Get(req.Context(), key)
	require.NoError(t, err)
	require.True(t, ok, "revoked marker should remain readable, not deleted")
	require.Equal(t, entitlement.ValueRevoked, v)
}

func TestWebhookBodySignatureAuth(t *testing.T) {
	f := newFixture(t)

	form := url.Values{}
	form.Set("email", "a@b.com")
	form.Set("product_name", "Monthly Plan")
	raw := []byte(form.Encode())

	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(raw)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("x-signature", hex.EncodeToString(mac.Sum(nil)))

	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook?secret=wrong",
		strings.NewReader("email=a%40b.com&product_name=Monthly"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := f.do(req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookMissingEmail(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook?secret="+webhookSecret,
		strings.NewReader("product_name=Monthly"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := f.do(req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyLifetimeUnknownKeyDenialIsOK200(t *testing.T) {
	f := newFixture(t)
	// Nothing registered: the platform answers the key with 404 and a
	// success:false body. That must surface as a 200 denial, not 502.
	payload, _ := json.Marshal(map[string]string{
		"email":      "a@b.com",
		"plan":       "lifetime",
		"licenseKey": "WRONG-KEY",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/verify", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code, "a denial is a normal response, not a server error")

	body := decode(t, w)
	require.Equal(t, true, body["ok"])
	require.Equal(t, "lifetime", body["plan"])
	require.Equal(t, false, body["lifetime"])
	require.NotContains(t, body, "token")
}

func TestVerifyLifetimeRefundedDenialIsOK200(t *testing.T) {
	f := newFixture(t)
	f.platform.AddLicense("KEY-1", "a@b.com")
	f.platform.RefundLicense("KEY-1")

	payload, _ := json.Marshal(map[string]string{
		"email":      "a@b.com",
		"plan":       "lifetime",
		"licenseKey": "KEY-1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/verify", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	require.Equal(t, true, body["ok"])
	require.Equal(t, false, body["lifetime"])
	require.NotContains(t, body, "token")
}

func TestVerifyLifetimeSuccessIssuesToken(t *testing.T) {
	f := newFixture(t)
	f.platform.AddLicense("KEY-1", "a@b.com")

	payload, _ := json.Marshal(map[string]string{
		"email":      "A@B.com",
		"plan":       "lifetime",
		"licenseKey": "KEY-1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/verify", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	require.Equal(t, true, body["lifetime"])
	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)

	claims, ok := f.tokens.Verify(tok)
	require.True(t, ok)
	require.Equal(t, entitlement.PlanLifetime, claims.Plan)
	require.Equal(t, entitlement.HashEmail("a@b.com"), claims.Subject)
}

func TestVerifyMonthlyViaQuery(t *testing.T) {
	f := newFixture(t)
	f.platform.AddSubscriber(accesstest.Subscriber{Email: "sub@example.com", Status: "alive"})

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/verify?email=sub@example.com&plan=monthly", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	require.Equal(t, true, body["monthlyActive"])
	require.NotEmpty(t, body["token"])
}

func TestVerifyInvalidPlanIsClientError(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/verify?email=a@b.com&plan=weekly", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyLifetimeWithoutKeyIsClientError(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/verify?email=a@b.com&plan=lifetime", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyGETWithoutPlanProbesStore(t *testing.T) {
	f := newFixture(t)
	hash := entitlement.HashEmail("a@b.com")
	f.store.Put(context.Background(), entitlement.StoreKey(entitlement.PlanLifetime, hash), entitlement.ValueGranted, 0)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/verify?email=a@b.com", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	require.Equal(t, true, body["ok"])
	require.Equal(t, true, body["access"])
	require.Equal(t, "lifetime", body["plan"])
	require.Equal(t, hash, body["emailHash"])
	require.NotContains(t, body, "token", "the probe never issues tokens")
}

func TestVerifyGETWithoutPlanUnknownEmail(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/verify?email=nobody@b.com", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	require.Equal(t, true, body["ok"])
	require.Equal(t, false, body["access"])
	require.Nil(t, body["plan"])
}

func TestVerifyGETWithoutEmailIsLiveness(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/verify", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, true, body["ok"])
	require.Contains(t, body, "message")
}

func TestVerifyPreflight(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodOptions, "/api/verify", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.platform.AddSubscriber(accesstest.Subscriber{Email: "sub@example.com", Status: "alive"})

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/verify?email=sub@example.com&plan=monthly", nil))
	require.Equal(t, http.StatusOK, w.Code)
	tok, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, tok)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode(t, w)["ok"])
}

func TestStatusRotatedSecret(t *testing.T) {
	f := newFixture(t)

	// Token signed under a different (rotated-away) secret.
	stale := token.New("old-secret", 0)
	tok, err := stale.Issue(entitlement.HashEmail("a@b.com"), entitlement.PlanLifetime)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, decode(t, w)["ok"])
}

func TestStatusMissingBearer(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
