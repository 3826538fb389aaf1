// Package token issues and verifies the compact bearer credential the
// client gate holds after a successful purchase verification. A token binds
// a subject hash and plan under a shared-secret HMAC; it carries no other
// state and every other component treats it as opaque.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"github.com/daily-proof/accesskit/entitlement"
)

// Claims is the signed payload. Subject is the email hash, never the raw
// address.
type Claims struct {
	Subject  string           `json:"sub"`
	Plan     entitlement.Plan `json:"plan"`
	IssuedAt int64            `json:"iat"`
}

// Service signs and verifies tokens with a process-wide secret. Rotating
// the secret invalidates everything previously issued; tokens are cheap to
// re-issue via re-verification, so that is acceptable.
type Service struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// New constructs a token service. maxAge bounds how long an issued token
// verifies; maxAge <= 0 means tokens never age out.
func New(secret string, maxAge time.Duration) *Service {
	return &Service{secret: []byte(secret), maxAge: maxAge, now: time.Now}
}

// The delimiter joins the base58 payload and the hex signature; neither
// alphabet emits '.'.
const delimiter = "."

func (s *Service) sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue serializes the claims with the current timestamp and returns
// payload.signature.
func (s *Service) Issue(subject string, plan entitlement.Plan) (string, error) {
	claims := Claims{Subject: subject, Plan: plan, IssuedAt: s.now().Unix()}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return base58.Encode(payload) + delimiter + s.sign(payload), nil
}

// Verify recomputes the HMAC over the embedded payload and compares with
// the embedded signature in constant time. Malformed tokens, signature
// mismatches, and tokens past the max age all fail closed.
func (s *Service) Verify(tok string) (Claims, bool) {
	parts := strings.Split(tok, delimiter)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Claims{}, false
	}
	payload, err := base58.Decode(parts[0])
	if err != nil {
		return Claims{}, false
	}
	sig, err := hex.DecodeString(parts[1])
	if err != nil {
		return Claims{}, false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return Claims{}, false
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, false
	}
	if claims.Subject == "" {
		return Claims{}, false
	}
	if s.maxAge > 0 {
		issued := time.Unix(claims.IssuedAt, 0)
		if s.now().Sub(issued) > s.maxAge {
			return Claims{}, false
		}
	}
	return claims, true
}
