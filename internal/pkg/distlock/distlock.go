// Package distlock provides the per-campaign distributed locks the sweep
// uses so that two worker processes never orchestrate the same campaign at
// once. Locks are Redis-backed when a client is available and fall back to
// PostgreSQL advisory locks otherwise, so single-instance deployments work
// without Redis.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is the interface for distributed locking. A Lock instance is owned by
// a single goroutine; concurrent lockers create separate instances for the
// same key.
type Lock interface {
	// Acquire tries to take the lock without blocking. Returns true on success.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if this instance still owns it.
	Release(ctx context.Context) error
}

// NewLock creates a lock for the given key using the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking);
// otherwise falls back to a PostgreSQL advisory lock on db.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	if redisClient != nil {
		return newRedisLock(redisClient, key, ttl)
	}
	return newPGAdvisoryLock(db, key)
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// pg_try_advisory_lock / pg_advisory_unlock are session-scoped: the lock is
// released automatically if the DB connection drops, giving crash-safety
// comparable to Redis TTL expiry.

type pgAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// newPGAdvisoryLock derives a deterministic 64-bit lock id from the key.
func newPGAdvisoryLock(db *sql.DB, key string) *pgAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &pgAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *pgAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

func (l *pgAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
