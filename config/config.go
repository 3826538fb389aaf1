// Package config loads the immutable process configuration. It is read
// once at startup and passed into every component constructor; business
// logic never reads the environment directly.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds everything the service needs at startup.
type Config struct {
	HTTPAddr string

	// Commerce platform
	CommerceAccessToken string
	LifetimeProductID   string
	MonthlyProductID    string

	// Secrets
	WebhookSecret      string
	TokenSigningSecret string

	// Token policy
	TokenMaxAge time.Duration

	// Storage backends. RedisAddr takes precedence when both are set;
	// with neither set the server falls back to the in-memory store.
	RedisAddr   string
	DatabaseURL string
	DBSchema    string
}

// required environment variables, checked as a group so the operator sees
// every missing one at once.
var required = []string{
	"COMMERCE_ACCESS_TOKEN",
	"COMMERCE_PRODUCT_ID_LIFETIME",
	"COMMERCE_PRODUCT_ID_MONTHLY",
	"WEBHOOK_SECRET",
	"TOKEN_SIGNING_SECRET",
}

// Load reads the environment. A missing required variable is a
// configuration error naming every absent variable, not a crash.
func Load() (*Config, error) {
	var missing []string
	for _, name := range required {
		if strings.TrimSpace(os.Getenv(name)) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}

	maxAge, err := getenvDuration("TOKEN_MAX_AGE", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPAddr:            getenvDefault("HTTP_ADDR", ":8080"),
		CommerceAccessToken: os.Getenv("COMMERCE_ACCESS_TOKEN"),
		LifetimeProductID:   os.Getenv("COMMERCE_PRODUCT_ID_LIFETIME"),
		MonthlyProductID:    os.Getenv("COMMERCE_PRODUCT_ID_MONTHLY"),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		TokenSigningSecret:  os.Getenv("TOKEN_SIGNING_SECRET"),
		TokenMaxAge:         maxAge,
		RedisAddr:           strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBSchema:            getenvDefault("DB_SCHEMA", "public"),
	}, nil
}

func getenvDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
