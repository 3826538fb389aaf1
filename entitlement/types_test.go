package entitlement

import "testing"

func TestHashEmailNormalization(t *testing.T) {
	a := HashEmail(" E@X.com ")
	b := HashEmail("e@x.com")
	if a != b {
		t.Fatalf("expected normalized hashes to match: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected sha256 hex length 64, got %d", len(a))
	}
}

func TestHashEmailDistinct(t *testing.T) {
	if HashEmail("a@b.com") == HashEmail("c@d.com") {
		t.Fatal("different emails must not collide")
	}
}

func TestParsePlan(t *testing.T) {
	cases := []struct {
		in   string
		want Plan
		ok   bool
	}{
		{"monthly", PlanMonthly, true},
		{" Lifetime ", PlanLifetime, true},
		{"LIFETIME", PlanLifetime, true},
		{"", PlanNone, false},
		{"weekly", PlanNone, false},
		{"none", PlanNone, false},
	}
	for _, c := range cases {
		got, ok := ParsePlan(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("ParsePlan(%q) = %v, %v; want %v, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestClassifyProduct(t *testing.T) {
	if ClassifyProduct("Daily Proof — Lifetime Plan") != PlanLifetime {
		t.Error("lifetime product misclassified")
	}
	if ClassifyProduct("Daily Proof Monthly") != PlanMonthly {
		t.Error("monthly product misclassified")
	}
	// Unrecognized names fall back to monthly.
	if ClassifyProduct("Daily Proof Bundle") != PlanMonthly {
		t.Error("unknown product should default to monthly")
	}
}

func TestStoreKeyShape(t *testing.T) {
	h := HashEmail("a@b.com")
	got := StoreKey(PlanLifetime, h)
	want := "access:lifetime:" + h
	if got != want {
		t.Fatalf("StoreKey = %q, want %q", got, want)
	}
}
