package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// =============================================================================
// ACCOUNT CAPACITY STORES
// =============================================================================
// Shared daily-send budgets per account. The sweep checks these before the
// authoritative row reservation so that multiple worker processes converge on
// the limit without hammering Postgres. Counters are keyed by UTC day and
// expire on their own.

// capacityLuaScript atomically checks the limit and increments the counter,
// avoiding the GET -> check -> INCR race of naive implementations.
const capacityLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return 0
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end
return 1
`

// RedisCapacityStore tracks daily send counts in Redis, shared across worker
// processes.
type RedisCapacityStore struct {
	redis  *redis.Client
	script *redis.Script
	now    func() time.Time
}

// NewRedisCapacityStore creates a Redis-backed capacity store.
func NewRedisCapacityStore(client *redis.Client) *RedisCapacityStore {
	return &RedisCapacityStore{
		redis:  client,
		script: redis.NewScript(capacityLuaScript),
		now:    time.Now,
	}
}

// Reserve reserves one send slot for the account today. Returns false when
// the daily limit is reached.
func (s *RedisCapacityStore) Reserve(ctx context.Context, accountID string, limit int) (bool, error) {
	key := fmt.Sprintf("oe:cap:%s:%s", accountID, s.now().UTC().Format("2006-01-02"))

	// 48h TTL: the key outlives its day comfortably and cleans itself up.
	res, err := s.script.Run(ctx, s.redis, []string{key}, limit, 48*3600).Int()
	if err != nil {
		return false, fmt.Errorf("capacity reserve %s: %w", accountID, err)
	}
	return res == 1, nil
}

// MemoryCapacityStore is the process-local fallback for single-instance
// deployments without Redis.
type MemoryCapacityStore struct {
	mu     sync.Mutex
	day    string
	counts map[string]int
	now    func() time.Time
}

// NewMemoryCapacityStore creates an in-process capacity store.
func NewMemoryCapacityStore() *MemoryCapacityStore {
	return &MemoryCapacityStore{
		counts: make(map[string]int),
		now:    time.Now,
	}
}

// Reserve reserves one send slot for the account today. Counters reset when
// the UTC day rolls over.
func (s *MemoryCapacityStore) Reserve(_ context.Context, accountID string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := s.now().UTC().Format("2006-01-02")
	if day != s.day {
		s.day = day
		s.counts = make(map[string]int)
	}

	if s.counts[accountID]+1 > limit {
		return false, nil
	}
	s.counts[accountID]++
	return true, nil
}
