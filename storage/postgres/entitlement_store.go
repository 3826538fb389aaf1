package pgstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EntitlementStore implements entitlement.Store on Postgres, for
// deployments without a managed key-value service. Expiry is an
// expires_at column: reads ignore expired rows, and a periodic purge
// (see PurgeExpired) reclaims them.
type EntitlementStore struct {
	pg     *pgxpool.Pool
	schema string
}

func NewEntitlementStore(pg *pgxpool.Pool, schema string) *EntitlementStore {
	s := strings.TrimSpace(schema)
	if s == "" {
		s = "public"
	}
	return &EntitlementStore{pg: pg, schema: s}
}

func (s *EntitlementStore) table() string { return s.schema + ".entitlements" }

func (s *EntitlementStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	_, err := s.pg.Exec(ctx, `
		INSERT INTO `+s.table()+` (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()
	`, key, value, expiresAt)
	return err
}

func (s *EntitlementStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pg.QueryRow(ctx, `
		SELECT value FROM `+s.table()+`
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
	`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// PurgeExpired deletes rows whose TTL has elapsed. Reads already exclude
// them, so this is housekeeping only; it is scheduled from the server's
// cron runner.
func (s *EntitlementStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pg.Exec(ctx, `
		DELETE FROM `+s.table()+` WHERE expires_at IS NOT NULL AND expires_at <= now()
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
