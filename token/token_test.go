package token

import (
	"strings"
	"testing"
	"time"

	"github.com/daily-proof/accesskit/entitlement"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	svc := New("test-secret", 0)

	tok, err := svc.Issue(entitlement.HashEmail("a@b.com"), entitlement.PlanLifetime)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, ok := svc.Verify(tok)
	if !ok {
		t.Fatal("freshly issued token must verify")
	}
	if claims.Plan != entitlement.PlanLifetime {
		t.Errorf("plan = %q, want lifetime", claims.Plan)
	}
	if claims.Subject != entitlement.HashEmail("a@b.com") {
		t.Errorf("subject mismatch")
	}
}

func TestVerifyRejectsMutation(t *testing.T) {
	svc := New("test-secret", 0)
	tok, err := svc.Issue("subject", entitlement.PlanMonthly)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Flipping any single byte must invalidate the token.
	for i := 0; i < len(tok); i++ {
		mutated := []byte(tok)
		if mutated[i] == 'a' {
			mutated[i] = 'b'
		} else {
			mutated[i] = 'a'
		}
		if _, ok := svc.Verify(string(mutated)); ok {
			t.Fatalf("mutated token at byte %d still verified", i)
		}
	}
}

func TestVerifyRejectsRotatedSecret(t *testing.T) {
	old := New("old-secret", 0)
	tok, err := old.Issue("subject", entitlement.PlanLifetime)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	rotated := New("new-secret", 0)
	if _, ok := rotated.Verify(tok); ok {
		t.Fatal("token signed under rotated secret must not verify")
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	svc := New("test-secret", 0)
	for _, tok := range []string{
		"",
		"justonepart",
		"a.b.c",
		".sigonly",
		"payloadonly.",
		"!!notbase58!!.deadbeef",
		"3vQB7B6MrGQZaxCuFg4oh.nothex",
	} {
		if _, ok := svc.Verify(tok); ok {
			t.Errorf("malformed token %q verified", tok)
		}
	}
}

func TestVerifyEnforcesMaxAge(t *testing.T) {
	svc := New("test-secret", 24*time.Hour)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	tok, err := svc.Issue("subject", entitlement.PlanMonthly)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, ok := svc.Verify(tok); !ok {
		t.Fatal("token should verify within max age")
	}

	svc.now = func() time.Time { return base.Add(25 * time.Hour) }
	if _, ok := svc.Verify(tok); ok {
		t.Fatal("token should fail once max age has elapsed")
	}
}

func TestTokenShape(t *testing.T) {
	svc := New("test-secret", 0)
	tok, err := svc.Issue("subject", entitlement.PlanMonthly)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 2 {
		t.Fatalf("token must have exactly two segments, got %d", len(parts))
	}
	// hex-encoded sha256 HMAC
	if len(parts[1]) != 64 {
		t.Errorf("signature segment length = %d, want 64", len(parts[1]))
	}
}
