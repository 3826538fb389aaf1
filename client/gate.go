// Package client models the app-side gate: a persisted entitlement
// record plus bearer token, a render-or-paywall decision, and
// revalidation against the access gateway. The browser's localStorage is
// abstracted behind LocalStore so the gate can be exercised without a
// browser environment.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/daily-proof/accesskit/entitlement"
)

// LocalStore is the persisted client-side key-value surface.
type LocalStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// Persisted keys, matching the app's localStorage schema.
const (
	KeyAuthToken  = "dp_auth_token"
	KeyPaid       = "dp_paid"
	KeyTrialStart = "dp_trial_start"
)

// PaidRecord is the locally cached entitlement snapshot.
type PaidRecord struct {
	Plan       entitlement.Plan `json:"plan"`
	UnlockedAt time.Time        `json:"unlocked_at"`
}

// Decision is what the gate tells the UI to do.
type Decision int

const (
	// ShowPaywall redirects to the pricing page.
	ShowPaywall Decision = iota
	// OpenApp renders the protected application.
	OpenApp
)

// ErrNotVerified means the gateway answered but did not confirm the
// purchase.
var ErrNotVerified = errors.New("purchase not verified")

// Gate talks to the access gateway and keeps the local record current.
type Gate struct {
	baseURL    string
	store      LocalStore
	httpClient *http.Client
	now        func() time.Time
}

// NewGate builds a gate against the gateway at baseURL.
func NewGate(baseURL string, store LocalStore, httpClient *http.Client) *Gate {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Gate{
		baseURL:    strings.TrimRight(baseURL, "/"),
		store:      store,
		httpClient: httpClient,
		now:        time.Now,
	}
}

type verifyResponse struct {
	OK            bool             `json:"ok"`
	Token         string           `json:"token"`
	Plan          entitlement.Plan `json:"plan"`
	Lifetime      bool             `json:"lifetime"`
	MonthlyActive bool             `json:"monthlyActive"`
	Error         string           `json:"error"`
}

// Unlock verifies a purchase claim with the gateway and, on success,
// persists the token and entitlement record. Monthly unlocks also set the
// trial marker when absent, matching the pricing page behavior.
func (g *Gate) Unlock(ctx context.Context, email, licenseKey string, plan entitlement.Plan) error {
	payload, err := json.Marshal(map[string]string{
		"email":      strings.ToLower(strings.TrimSpace(email)),
		"licenseKey": strings.TrimSpace(licenseKey),
		"plan":       string(plan),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/verify", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("verify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !body.OK {
		if body.Error != "" {
			return fmt.Errorf("%w: %s", ErrNotVerified, body.Error)
		}
		return ErrNotVerified
	}
	if body.Token == "" {
		return ErrNotVerified
	}

	if err := g.store.Set(KeyAuthToken, body.Token); err != nil {
		return err
	}
	unlockedPlan := body.Plan
	if unlockedPlan == "" || unlockedPlan == entitlement.PlanNone {
		unlockedPlan = plan
	}
	rec, err := json.Marshal(PaidRecord{Plan: unlockedPlan, UnlockedAt: g.now()})
	if err != nil {
		return err
	}
	if err := g.store.Set(KeyPaid, string(rec)); err != nil {
		return err
	}
	if unlockedPlan == entitlement.PlanMonthly {
		if _, ok := g.store.Get(KeyTrialStart); !ok {
			if err := g.store.Set(KeyTrialStart, g.now().Format(time.RFC3339)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Check decides whether to open the app. No local token means paywall;
// with a token the gateway's status answer is authoritative, and any
// failure fails closed. A definitive "no" clears the stale local state.
func (g *Gate) Check(ctx context.Context) Decision {
	tok, ok := g.store.Get(KeyAuthToken)
	if !ok || tok == "" {
		return ShowPaywall
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/status", nil)
	if err != nil {
		return ShowPaywall
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return ShowPaywall
	}
	defer resp.Body.Close()

	var body struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ShowPaywall
	}
	if resp.StatusCode == http.StatusOK && body.OK {
		return OpenApp
	}
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized {
		g.store.Delete(KeyAuthToken)
		g.store.Delete(KeyPaid)
	}
	return ShowPaywall
}

// Paid returns the locally cached entitlement record, if any. It is a UI
// hint only; Check remains the access decision.
func (g *Gate) Paid() (PaidRecord, bool) {
	raw, ok := g.store.Get(KeyPaid)
	if !ok {
		return PaidRecord{}, false
	}
	var rec PaidRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return PaidRecord{}, false
	}
	return rec, true
}

// StartTrial sets the trial marker unless one already exists and returns
// the trial start time.
func (g *Gate) StartTrial() (time.Time, error) {
	if raw, ok := g.store.Get(KeyTrialStart); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, nil
		}
	}
	start := g.now()
	if err := g.store.Set(KeyTrialStart, start.Format(time.RFC3339)); err != nil {
		return time.Time{}, err
	}
	return start, nil
}
