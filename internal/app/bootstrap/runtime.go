package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq" // database/sql driver for the catalog lookup
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/machinery-leadbot/internal/catalog"
	appconfig "github.com/wolfman30/machinery-leadbot/internal/config"
	"github.com/wolfman30/machinery-leadbot/internal/session"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildSessionStore returns the Redis store when a client is available, otherwise the in-process store.
// The in-process store only serializes recipients within one process.
func BuildSessionStore(client *redis.Client, cfg *appconfig.Config, logger *logging.Logger) session.Store {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		logger.Warn("redis not configured; using in-memory session store")
		return session.NewMemoryStore()
	}
	lockWait := cfg.EffectiveSessionLockWait()
	if cfg.SessionLockWait > 0 && lockWait != cfg.SessionLockWait {
		logger.Warn("SESSION_LOCK_WAIT is shorter than one event's dispatch budget; raised",
			"configured", cfg.SessionLockWait, "lock_wait", lockWait)
	}
	if client == nil {
		logger.Warn("redis not configured; using in-memory session store")
		return session.NewMemoryStore(session.WithMemoryLockWait(lockWait))
	}
	return session.NewRedisStore(client,
		session.WithSessionTTL(cfg.SessionTTL),
		session.WithLockTTL(cfg.SessionLockTTL),
		session.WithLockWait(lockWait),
	)
}

// ConnectPostgres opens a pgx pool, or returns nil when DATABASE_URL is empty.
func ConnectPostgres(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("connected to postgres")
	return pool, nil
}

// BuildCatalog selects the catalog source named by CATALOG_SOURCE.
// The returned *sql.DB is nil for the static catalog; callers close it otherwise.
func BuildCatalog(cfg *appconfig.Config, logger *logging.Logger) (catalog.Lookup, *sql.DB, error) {
	if logger == nil {
		logger = logging.Default()
	}
	source := "static"
	if cfg != nil && cfg.CatalogSource != "" {
		source = cfg.CatalogSource
	}

	switch source {
	case "static":
		logger.Info("using static machinery catalog")
		return catalog.DefaultLookup(), nil, nil
	case "postgres", "sql":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, nil, fmt.Errorf("bootstrap: CATALOG_SOURCE=%s requires DATABASE_URL", source)
		}
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: open catalog db: %w", err)
		}
		logger.Info("using postgres machinery catalog")
		return catalog.NewSQLLookup(db), db, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown CATALOG_SOURCE %q", source)
	}
}
