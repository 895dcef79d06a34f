// Package dedup implements the idempotency guard: a durable,
// TTL-bounded set of already-processed event signatures. The webhook
// handler and the compensating poller both consult it, so Acquire must
// be atomic under concurrent callers.
package dedup

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// Guard atomically checks-and-marks event signatures.
type Guard interface {
	// Acquire returns false if the signature was already seen within
	// the dedup window; the caller must then drop the event with no
	// side effects. Returns true exactly once per signature per window.
	Acquire(ctx context.Context, signature string) (bool, error)

	// CleanupExpired lazily evicts entries older than the window and
	// returns how many were removed.
	CleanupExpired(ctx context.Context) (int, error)

	Close() error
}

// Config selects and parameterizes the guard backend.
type Config struct {
	// Backend is one of "sqlite", "memory", "redis".
	Backend   string
	Window    time.Duration
	RedisAddr string
}

// Open selects the guard backend from config. Backend selection
// failure is a warning, not a fatal error: the guard falls back to the
// SQLite default so the pipeline keeps its durability guarantee.
func Open(cfg Config, db *sql.DB, logger *zap.SugaredLogger) Guard {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}

	switch cfg.Backend {
	case "", "sqlite":
		return NewSQLiteGuard(db, cfg.Window)

	case "memory":
		return NewMemoryGuard(cfg.Window)

	case "redis":
		guard, err := NewRedisGuard(cfg.RedisAddr, cfg.Window)
		if err != nil {
			logger.Warnw("Redis dedup backend unavailable, falling back to sqlite",
				"addr", cfg.RedisAddr,
				"error", err,
			)
			return NewSQLiteGuard(db, cfg.Window)
		}
		return guard

	default:
		logger.Warnw("Unknown dedup backend, falling back to sqlite",
			"backend", cfg.Backend,
		)
		return NewSQLiteGuard(db, cfg.Window)
	}
}
