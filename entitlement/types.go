package entitlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Plan is the purchased offering tier.
type Plan string

const (
	PlanMonthly  Plan = "monthly"
	PlanLifetime Plan = "lifetime"
	PlanNone     Plan = "none"
)

// ParsePlan validates a client-supplied plan value. Anything outside the
// two purchasable tiers is a client error, not a denial.
func ParsePlan(s string) (Plan, bool) {
	switch Plan(strings.ToLower(strings.TrimSpace(s))) {
	case PlanMonthly:
		return PlanMonthly, true
	case PlanLifetime:
		return PlanLifetime, true
	}
	return PlanNone, false
}

// Store values. Revoked markers are written rather than deleting, so a
// revoked subject stays distinguishable from one that never purchased.
const (
	ValueGranted = "1"
	ValueRevoked = "0"
)

const (
	// MonthlyTTL is generously longer than one billing cycle so a timely
	// renewal event resets it before it lapses; a missed renewal lets
	// access lapse with no cleanup job.
	MonthlyTTL = 35 * 24 * time.Hour

	// RevokeTTL bounds how long a stale granted value can survive if the
	// revoke overwrite races a concurrent grant.
	RevokeTTL = 60 * time.Second
)

// Record is a snapshot of a subject's entitlement as read from the store.
type Record struct {
	Plan      Plan       `json:"plan"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HashEmail returns the stable pseudonymous subject key for an email:
// sha256 hex over the lowercased, trimmed address. Raw emails never appear
// in store keys.
func HashEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// StoreKey builds the namespaced store key for a plan and subject hash.
func StoreKey(plan Plan, emailHash string) string {
	return "access:" + string(plan) + ":" + emailHash
}

// ClassifyProduct maps a commerce product name to a plan by
// case-insensitive substring match. Names matching neither keyword default
// to monthly, matching the upstream webhook's behavior for renamed or
// bundled products.
func ClassifyProduct(productName string) Plan {
	name := strings.ToLower(productName)
	if strings.Contains(name, "lifetime") {
		return PlanLifetime
	}
	return PlanMonthly
}

// Store is the durable key-value cache of access decisions. Writes with
// ttl <= 0 persist until overwritten.
type Store interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
}
