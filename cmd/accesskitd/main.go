// accesskitd is the Daily Proof access gateway: it ingests commerce
// webhook events, verifies purchases on demand, and issues the bearer
// tokens the app's client gate presents.
package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	authgin "github.com/daily-proof/accesskit/adapters/gin"
	"github.com/daily-proof/accesskit/adapters/ginutil"
	"github.com/daily-proof/accesskit/commerce"
	"github.com/daily-proof/accesskit/config"
	core "github.com/daily-proof/accesskit/core"
	"github.com/daily-proof/accesskit/entitlement"
	memorylimiter "github.com/daily-proof/accesskit/ratelimit/memory"
	redislimiter "github.com/daily-proof/accesskit/ratelimit/redis"
	memorystore "github.com/daily-proof/accesskit/storage/memory"
	pgstore "github.com/daily-proof/accesskit/storage/postgres"
	redisstore "github.com/daily-proof/accesskit/storage/redis"
	"github.com/daily-proof/accesskit/token"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if os.Getenv("LOG_LEVEL") == "debug" {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("configuration error")
	}

	store, rl, cleanup := buildStorage(cfg, log)
	defer cleanup()

	verifier := commerce.NewClient(cfg.CommerceAccessToken, cfg.LifetimeProductID, cfg.MonthlyProductID, log)
	tokens := token.New(cfg.TokenSigningSecret, cfg.TokenMaxAge)
	svc := core.NewService(store, verifier, tokens, log)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	authgin.Routes(r, svc, cfg.WebhookSecret, rl)

	log.WithField("addr", cfg.HTTPAddr).Info("access gateway listening")
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

// buildStorage picks the entitlement store and rate limiter backend:
// Redis when configured, then Postgres (with a scheduled expired-row
// purge), then the in-memory fallback for local development.
func buildStorage(cfg *config.Config, log *logrus.Logger) (entitlement.Store, ginutil.RateLimiter, func()) {
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.WithError(err).Fatal("redis unreachable")
		}
		log.WithField("addr", cfg.RedisAddr).Info("using redis entitlement store")
		return redisstore.NewEntitlementStore(rdb), redislimiter.New(rdb, nil), func() { rdb.Close() }
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("postgres pool")
		}
		store := pgstore.NewEntitlementStore(pool, cfg.DBSchema)

		c := cron.New()
		_, err = c.AddFunc("17 * * * *", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			purged, err := store.PurgeExpired(ctx)
			if err != nil {
				log.WithError(err).Warn("expired entitlement purge failed")
				return
			}
			if purged > 0 {
				log.WithField("rows", purged).Info("purged expired entitlements")
			}
		})
		if err != nil {
			log.WithError(err).Fatal("scheduling purge job")
		}
		c.Start()

		log.Info("using postgres entitlement store")
		return store, memorylimiter.New(nil), func() {
			c.Stop()
			pool.Close()
		}
	}

	log.Warn("no REDIS_ADDR or DATABASE_URL set; entitlements will not survive a restart")
	store := memorystore.NewEntitlementStore()
	return store, memorylimiter.New(nil), func() { store.Close() }
}
