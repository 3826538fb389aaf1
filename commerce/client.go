// Package commerce queries the commerce platform that is the source of
// truth for purchases. All checks fail closed: a transport error, a
// non-success HTTP status, or a payload the platform flags as refunded or
// cancelled means "not verified", never "verified".
package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Verifier answers whether a purchase claim is genuine and currently
// active. Lifetime purchases are proven by license key; monthly purchases
// by an active subscriber record for the email.
type Verifier interface {
	VerifyLifetime(ctx context.Context, licenseKey, email string) (bool, error)
	VerifyMonthly(ctx context.Context, email string) (bool, error)
}

const (
	defaultBaseURL = "https://api.gumroad.com/v2"
	defaultTimeout = 8 * time.Second

	// maxSubscriberPages bounds the subscriber scan; this sits in the
	// synchronous path of a user-facing unlock.
	maxSubscriberPages = 10
)

// Client talks to the platform's REST API.
type Client struct {
	baseURL     string
	accessToken string
	lifetimeID  string
	monthlyID   string
	httpClient  *http.Client
	log         *logrus.Entry
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (tests point this at a fake).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient builds a verifier for the given platform credentials.
// lifetimeProductID and monthlyProductID scope checks to the correct
// offerings.
func NewClient(accessToken, lifetimeProductID, monthlyProductID string, log *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     defaultBaseURL,
		accessToken: accessToken,
		lifetimeID:  lifetimeProductID,
		monthlyID:   monthlyProductID,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		log:         logrus.NewEntry(log),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type licenseResponse struct {
	Success  bool `json:"success"`
	Purchase struct {
		Email        string `json:"email"`
		Refunded     bool   `json:"refunded"`
		Chargebacked bool   `json:"chargebacked"`
	} `json:"purchase"`
}

// VerifyLifetime checks a license key against the lifetime product. An
// empty key fails immediately with no network call. When the platform
// returns the purchaser email it must match the claimed one.
func (c *Client) VerifyLifetime(ctx context.Context, licenseKey, email string) (bool, error) {
	licenseKey = strings.TrimSpace(licenseKey)
	if licenseKey == "" {
		return false, nil
	}

	form := url.Values{}
	form.Set("access_token", c.accessToken)
	form.Set("product_id", c.lifetimeID)
	form.Set("license_key", licenseKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/licenses/verify", strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	// An unknown or disabled key answers 404 with a success:false body;
	// that is a denial, not an outage. Errors are reserved for transport
	// failures and statuses that don't carry a parseable verdict.
	if resp.StatusCode == http.StatusNotFound {
		var body licenseResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&body); decodeErr == nil && !body.Success {
			return false, nil
		}
		return false, fmt.Errorf("commerce api status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("commerce api status %d", resp.StatusCode)
	}

	var body licenseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	if !body.Success {
		return false, nil
	}
	if body.Purchase.Refunded || body.Purchase.Chargebacked {
		return false, nil
	}
	if body.Purchase.Email != "" && !emailEqual(body.Purchase.Email, email) {
		c.log.WithField("product", "lifetime").Warn("license valid but purchaser email does not match claim")
		return false, nil
	}
	return true, nil
}

type subscriber struct {
	Email       string `json:"email"`
	UserEmail   string `json:"user_email"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
	EndedAt     string `json:"ended_at"`
}

func (s subscriber) email() string {
	if s.Email != "" {
		return s.Email
	}
	return s.UserEmail
}

func (s subscriber) active() bool {
	if s.CancelledAt != "" || s.EndedAt != "" {
		return false
	}
	switch strings.ToLower(s.Status) {
	case "", "alive", "active":
		return true
	}
	return false
}

type subscribersResponse struct {
	Success     bool         `json:"success"`
	Subscribers []subscriber `json:"subscribers"`
}

type salesResponse struct {
	Success bool `json:"success"`
	Sales   []struct {
		Email     string `json:"email"`
		ProductID string `json:"product_id"`
		Refunded  bool   `json:"refunded"`
		Cancelled bool   `json:"cancelled"`
	} `json:"sales"`
}

// VerifyMonthly scans the monthly product's subscribers for an active
// record matching the email. If the subscriber endpoint fails it falls
// back to a sales-by-email lookup, which is a weaker signal and is logged
// as such.
func (c *Client) VerifyMonthly(ctx context.Context, email string) (bool, error) {
	ok, err := c.findActiveSubscriber(ctx, email)
	if err == nil {
		return ok, nil
	}
	c.log.WithError(err).Warn("subscriber lookup failed, falling back to sales search")

	ok, salesErr := c.findActiveSale(ctx, email)
	if salesErr != nil {
		return false, fmt.Errorf("subscriber lookup: %w (sales fallback: %v)", err, salesErr)
	}
	if ok {
		c.log.WithField("product", "monthly").Warn("granting on sales-record fallback; subscriber state unconfirmed")
	}
	return ok, nil
}

func (c *Client) findActiveSubscriber(ctx context.Context, email string) (bool, error) {
	for page := 1; page <= maxSubscriberPages; page++ {
		q := url.Values{}
		q.Set("access_token", c.accessToken)
		q.Set("page", strconv.Itoa(page))

		endpoint := fmt.Sprintf("%s/products/%s/subscribers?%s", c.baseURL, url.PathEscape(c.monthlyID), q.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return false, err
		}

		var body subscribersResponse
		if err := c.do(req, &body); err != nil {
			return false, err
		}
		if !body.Success {
			return false, fmt.Errorf("subscriber lookup reported failure")
		}
		for _, sub := range body.Subscribers {
			if emailEqual(sub.email(), email) {
				return sub.active(), nil
			}
		}
		if len(body.Subscribers) == 0 {
			return false, nil
		}
	}
	return false, nil
}

func (c *Client) findActiveSale(ctx context.Context, email string) (bool, error) {
	q := url.Values{}
	q.Set("access_token", c.accessToken)
	q.Set("email", strings.ToLower(strings.TrimSpace(email)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sales?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	var body salesResponse
	if err := c.do(req, &body); err != nil {
		return false, err
	}
	if !body.Success {
		return false, fmt.Errorf("sales lookup reported failure")
	}
	for _, sale := range body.Sales {
		if !emailEqual(sale.Email, email) {
			continue
		}
		if sale.ProductID != "" && sale.ProductID != c.monthlyID {
			continue
		}
		if sale.Refunded || sale.Cancelled {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("commerce api status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func emailEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
