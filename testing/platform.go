// Package testing provides utilities for testing applications that use
// accesskit. It provides a fake commerce platform server that answers the
// license-verification and subscriber/sales lookups the verifier performs,
// enabling integration tests without real platform credentials.
//
// Example usage:
//
//	platform := testing.NewFakePlatform()
//	defer platform.Close()
//
//	platform.AddLicense("KEY-1", "buyer@example.com")
//	verifier := commerce.NewClient(token, "life", "month", log,
//		commerce.WithBaseURL(platform.URL()))
package testing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Subscriber is a canned monthly-subscriber record.
type Subscriber struct {
	Email       string `json:"email"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
	EndedAt     string `json:"ended_at"`
}

// Sale is a canned sales record for the fallback lookup.
type Sale struct {
	Email     string `json:"email"`
	ProductID string `json:"product_id"`
	Refunded  bool   `json:"refunded"`
	Cancelled bool   `json:"cancelled"`
}

// FakePlatform is an HTTP test server imitating the commerce platform API
// surface the verifier depends on.
type FakePlatform struct {
	server *httptest.Server

	mu          sync.Mutex
	licenses    map[string]licenseRecord // license key -> record
	subscribers []Subscriber
	sales       []Sale

	// FailSubscribers forces the subscriber endpoint to return 500 so
	// tests can exercise the sales fallback.
	FailSubscribers bool
}

type licenseRecord struct {
	email    string
	refunded bool
}

// NewFakePlatform starts the fake server. Call Close when done.
func NewFakePlatform() *FakePlatform {
	p := &FakePlatform{licenses: map[string]licenseRecord{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/licenses/verify", p.handleLicenseVerify)
	mux.HandleFunc("/products/", p.handleSubscribers)
	mux.HandleFunc("/sales", p.handleSales)

	p.server = httptest.NewServer(mux)
	return p
}

// URL returns the base URL to pass as the verifier's API base.
func (p *FakePlatform) URL() string { return p.server.URL }

// Close shuts down the test server.
func (p *FakePlatform) Close() { p.server.Close() }

// AddLicense registers a valid license key bound to a purchaser email.
func (p *FakePlatform) AddLicense(key, email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.licenses[key] = licenseRecord{email: email}
}

// RefundLicense marks an existing license as refunded.
func (p *FakePlatform) RefundLicense(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := p.licenses[key]
	rec.refunded = true
	p.licenses[key] = rec
}

// AddSubscriber appends a subscriber record.
func (p *FakePlatform) AddSubscriber(s Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, s)
}

// AddSale appends a sales record.
func (p *FakePlatform) AddSale(s Sale) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sales = append(p.sales, s)
}

func (p *FakePlatform) handleLicenseVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	key := r.PostFormValue("license_key")

	p.mu.Lock()
	rec, ok := p.licenses[key]
	p.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "That license does not exist"})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"purchase": map[string]any{
			"email":    rec.email,
			"refunded": rec.refunded,
		},
	})
}

func (p *FakePlatform) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/subscribers") {
		http.NotFound(w, r)
		return
	}
	if p.FailSubscribers {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	p.mu.Lock()
	subs := append([]Subscriber(nil), p.subscribers...)
	p.mu.Unlock()

	// Single page of results; later pages are empty.
	if page > 1 {
		subs = nil
	}
	if subs == nil {
		subs = []Subscriber{}
	}
	json.NewEncoder(w).Encode(map[string]any{"success": true, "subscribers": subs})
}

func (p *FakePlatform) handleSales(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(r.URL.Query().Get("email"))

	p.mu.Lock()
	var matched []Sale
	for _, s := range p.sales {
		if strings.ToLower(s.Email) == email {
			matched = append(matched, s)
		}
	}
	p.mu.Unlock()

	if matched == nil {
		matched = []Sale{}
	}
	json.NewEncoder(w).Encode(map[string]any{"success": true, "sales": matched})
}
