// Package core implements the access decisions the HTTP gateway exposes:
// applying purchase webhook events to the entitlement store, verifying
// purchase claims against the commerce platform, and answering bearer
// token status checks.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/daily-proof/accesskit/commerce"
	"github.com/daily-proof/accesskit/entitlement"
	"github.com/daily-proof/accesskit/token"
)

// Client-error sentinels. Handlers map these to 400s.
var (
	ErrMissingEmail      = errors.New("missing email")
	ErrInvalidPlan       = errors.New("invalid plan")
	ErrMissingLicenseKey = errors.New("missing license key")
)

// Service coordinates the verifier, the store, and the token service. It
// holds no mutable state; every write is an idempotent overwrite keyed by
// the event itself, so concurrent deliveries converge without locking.
type Service struct {
	store    entitlement.Store
	verifier commerce.Verifier
	tokens   *token.Service
	log      *logrus.Entry
}

func NewService(store entitlement.Store, verifier commerce.Verifier, tokens *token.Service, log *logrus.Logger) *Service {
	return &Service{
		store:    store,
		verifier: verifier,
		tokens:   tokens,
		log:      logrus.NewEntry(log),
	}
}

// PurchaseEvent is a normalized commerce webhook notification.
type PurchaseEvent struct {
	Email       string
	ProductName string
	Cancelled   bool
	Refunded    bool
}

// Action is the store transition an event produced.
type Action string

const (
	ActionGranted Action = "granted"
	ActionRevoked Action = "revoked"
)

// EventOutcome reports what an event did. EmailHash is the only subject
// identifier that ever leaves the service.
type EventOutcome struct {
	Action    Action
	Plan      entitlement.Plan
	EmailHash string
}

// ApplyPurchaseEvent classifies the event's plan and grant/revoke
// direction and overwrites the store accordingly. Revocations write a
// revoked marker with a short TTL instead of deleting, so a lost
// overwrite race cannot leave a stale grant alive for long.
func (s *Service) ApplyPurchaseEvent(ctx context.Context, ev PurchaseEvent) (EventOutcome, error) {
	if ev.Email == "" {
		return EventOutcome{}, ErrMissingEmail
	}

	plan := entitlement.ClassifyProduct(ev.ProductName)
	emailHash := entitlement.HashEmail(ev.Email)
	key := entitlement.StoreKey(plan, emailHash)
	log := s.log.WithFields(logrus.Fields{"plan": plan, "subject": emailHash})

	if ev.Cancelled || ev.Refunded {
		if err := s.store.Put(ctx, key, entitlement.ValueRevoked, entitlement.RevokeTTL); err != nil {
			return EventOutcome{}, fmt.Errorf("revoke write: %w", err)
		}
		log.Info("entitlement revoked")
		return EventOutcome{Action: ActionRevoked, Plan: plan, EmailHash: emailHash}, nil
	}

	ttl := entitlement.MonthlyTTL
	if plan == entitlement.PlanLifetime {
		ttl = 0
	}
	if err := s.store.Put(ctx, key, entitlement.ValueGranted, ttl); err != nil {
		return EventOutcome{}, fmt.Errorf("grant write: %w", err)
	}
	log.Info("entitlement granted")
	return EventOutcome{Action: ActionGranted, Plan: plan, EmailHash: emailHash}, nil
}

// AccessResult is the outcome of an on-demand verification. A denial is a
// normal result (Lifetime and MonthlyActive both false, empty Token), not
// an error.
type AccessResult struct {
	Plan          entitlement.Plan
	EmailHash     string
	Lifetime      bool
	MonthlyActive bool
	Token         string
}

// VerifyAccess checks a purchase claim with the commerce platform and, on
// success, refreshes the store and issues a bearer token. Upstream
// failures return an error and never grant.
func (s *Service) VerifyAccess(ctx context.Context, email, planValue, licenseKey string) (AccessResult, error) {
	if email == "" {
		return AccessResult{}, ErrMissingEmail
	}
	plan, ok := entitlement.ParsePlan(planValue)
	if !ok {
		return AccessResult{}, ErrInvalidPlan
	}
	emailHash := entitlement.HashEmail(email)
	result := AccessResult{Plan: plan, EmailHash: emailHash}

	var verified bool
	var err error
	switch plan {
	case entitlement.PlanLifetime:
		if licenseKey == "" {
			return AccessResult{}, ErrMissingLicenseKey
		}
		verified, err = s.verifier.VerifyLifetime(ctx, licenseKey, email)
	case entitlement.PlanMonthly:
		verified, err = s.verifier.VerifyMonthly(ctx, email)
	}
	if err != nil {
		return AccessResult{}, fmt.Errorf("commerce verification: %w", err)
	}
	if !verified {
		return result, nil
	}

	ttl := entitlement.MonthlyTTL
	if plan == entitlement.PlanLifetime {
		ttl = 0
		result.Lifetime = true
	} else {
		result.MonthlyActive = true
	}
	if err := s.store.Put(ctx, entitlement.StoreKey(plan, emailHash), entitlement.ValueGranted, ttl); err != nil {
		// The upstream said yes; a cache write failure must not turn
		// that into a denial, but the token is still issued from the
		// verified answer, not the cache.
		s.log.WithError(err).WithField("subject", emailHash).Warn("entitlement cache write failed")
	}

	tok, err := s.tokens.Issue(emailHash, plan)
	if err != nil {
		return AccessResult{}, fmt.Errorf("token issue: %w", err)
	}
	result.Token = tok
	return result, nil
}

// Status answers a bearer token check. A token is good only if its
// signature verifies, it is within the max age policy, and the store
// still carries a granted record for its subject and plan; entitlement
// can be revoked after issuance, so the token alone is never trusted.
func (s *Service) Status(ctx context.Context, bearer string) bool {
	claims, ok := s.tokens.Verify(bearer)
	if !ok {
		return false
	}
	value, found, err := s.store.Get(ctx, entitlement.StoreKey(claims.Plan, claims.Subject))
	if err != nil {
		s.log.WithError(err).Warn("store lookup failed during status check")
		return false
	}
	return found && value == entitlement.ValueGranted
}

// CheckEntitlement is a read-only probe of both plan keys for an email,
// preferring lifetime. It never contacts the commerce platform.
func (s *Service) CheckEntitlement(ctx context.Context, email string) (entitlement.Record, error) {
	if email == "" {
		return entitlement.Record{}, ErrMissingEmail
	}
	emailHash := entitlement.HashEmail(email)
	for _, plan := range []entitlement.Plan{entitlement.PlanLifetime, entitlement.PlanMonthly} {
		value, found, err := s.store.Get(ctx, entitlement.StoreKey(plan, emailHash))
		if err != nil {
			return entitlement.Record{}, fmt.Errorf("store lookup: %w", err)
		}
		if found && value == entitlement.ValueGranted {
			return entitlement.Record{Plan: plan, Active: true}, nil
		}
	}
	return entitlement.Record{Plan: entitlement.PlanNone, Active: false}, nil
}
