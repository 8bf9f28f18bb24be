package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements the delivery queue on Redis. Delayed jobs live in a
// ZSET scored by due time, runnable jobs in a ZSET scored by negated priority,
// and job bodies in per-job hashes. All multi-key transitions run as Lua
// scripts so concurrent producers and workers can't observe a half-applied
// state.
type RedisQueue struct {
	redis *redis.Client

	// Retention bounds for finished jobs (counts, not time).
	keepCompleted int
	keepFailed    int

	// claimTimeout is how long a claimed job may sit before ReclaimStale
	// treats its worker as crashed and returns it to the waiting set.
	claimTimeout time.Duration

	enqueueScript *redis.Script
	promoteScript *redis.Script
	claimScript   *redis.Script
	removeScript  *redis.Script
	finishScript  *redis.Script
	failScript    *redis.Script
	reclaimScript *redis.Script
}

const keyPrefix = "oq"

// enqueueLuaScript atomically dedups on the job id and routes the job to the
// delayed or waiting set. Returns 0 when the id is still outstanding. A
// finished id being reused must also leave the retention lists, otherwise a
// later trim would delete the live job's hash.
const enqueueLuaScript = `
local jobKey = KEYS[1]
local delayedKey = KEYS[2]
local waitingKey = KEYS[3]
local doneKey = KEYS[4]
local failedKey = KEYS[5]
local id = ARGV[1]
local payload = ARGV[2]
local priority = tonumber(ARGV[3])
local dueAt = tonumber(ARGV[4])
local nowMs = tonumber(ARGV[5])

local state = redis.call("HGET", jobKey, "state")
if state == "delayed" or state == "waiting" or state == "claimed" then
    return 0
end
if state == "completed" then
    redis.call("LREM", doneKey, 0, id)
elseif state == "failed" then
    redis.call("LREM", failedKey, 0, id)
end

redis.call("HSET", jobKey,
    "payload", payload,
    "priority", priority,
    "attempts", 0,
    "due_at", dueAt,
    "last_error", "")

if dueAt > nowMs then
    redis.call("HSET", jobKey, "state", "delayed")
    redis.call("ZADD", delayedKey, dueAt, id)
else
    redis.call("HSET", jobKey, "state", "waiting")
    redis.call("ZADD", waitingKey, -priority, id)
end
return 1
`

// promoteLuaScript moves every due delayed job into the waiting set.
const promoteLuaScript = `
local delayedKey = KEYS[1]
local waitingKey = KEYS[2]
local jobPrefix = ARGV[1]
local nowMs = ARGV[2]

local due = redis.call("ZRANGEBYSCORE", delayedKey, "-inf", nowMs)
for _, id in ipairs(due) do
    local jobKey = jobPrefix .. id
    local priority = tonumber(redis.call("HGET", jobKey, "priority") or "0")
    redis.call("ZREM", delayedKey, id)
    redis.call("ZADD", waitingKey, -priority, id)
    redis.call("HSET", jobKey, "state", "waiting")
end
return #due
`

// claimLuaScript pops the highest-priority waiting job, marks it claimed,
// and records its visibility deadline in the claimed set.
const claimLuaScript = `
local waitingKey = KEYS[1]
local claimedKey = KEYS[2]
local jobPrefix = ARGV[1]
local claimedAt = ARGV[2]
local deadline = tonumber(ARGV[3])

local ids = redis.call("ZRANGE", waitingKey, 0, 0)
if #ids == 0 then
    return false
end
local id = ids[1]
redis.call("ZREM", waitingKey, id)
redis.call("ZADD", claimedKey, deadline, id)
redis.call("HSET", jobPrefix .. id, "state", "claimed", "claimed_at", claimedAt)
return id
`

// removeLuaScript deletes a job only while it is still delayed or waiting.
// Claimed jobs are never recalled.
const removeLuaScript = `
local jobKey = KEYS[1]
local delayedKey = KEYS[2]
local waitingKey = KEYS[3]
local id = ARGV[1]

local state = redis.call("HGET", jobKey, "state")
if state == "delayed" or state == "waiting" then
    redis.call("ZREM", delayedKey, id)
    redis.call("ZREM", waitingKey, id)
    redis.call("DEL", jobKey)
    return 1
end
return 0
`

// finishLuaScript records a terminal outcome and trims the retention list,
// deleting job hashes that fall off the end.
const finishLuaScript = `
local jobKey = KEYS[1]
local listKey = KEYS[2]
local claimedKey = KEYS[3]
local id = ARGV[1]
local state = ARGV[2]
local keep = tonumber(ARGV[3])
local jobPrefix = ARGV[4]

redis.call("ZREM", claimedKey, id)
redis.call("HSET", jobKey, "state", state)
redis.call("LPUSH", listKey, id)

local evicted = redis.call("LRANGE", listKey, keep, -1)
for _, old in ipairs(evicted) do
    redis.call("DEL", jobPrefix .. old)
end
redis.call("LTRIM", listKey, 0, keep - 1)
return 1
`

// failLuaScript counts a worker-side failure: either re-delays the job for
// retry or reports that attempts are exhausted (the caller then finishes it
// as failed).
const failLuaScript = `
local jobKey = KEYS[1]
local delayedKey = KEYS[2]
local claimedKey = KEYS[3]
local id = ARGV[1]
local maxAttempts = tonumber(ARGV[2])
local retryAt = tonumber(ARGV[3])
local errMsg = ARGV[4]

redis.call("ZREM", claimedKey, id)
local attempts = redis.call("HINCRBY", jobKey, "attempts", 1)
redis.call("HSET", jobKey, "last_error", errMsg)

if attempts >= maxAttempts then
    return -1
end

redis.call("HSET", jobKey, "state", "delayed", "due_at", retryAt)
redis.call("ZADD", delayedKey, retryAt, id)
return attempts
`

// reclaimLuaScript returns claimed jobs whose visibility deadline passed to
// the waiting set, attempts preserved.
const reclaimLuaScript = `
local claimedKey = KEYS[1]
local waitingKey = KEYS[2]
local jobPrefix = ARGV[1]
local nowMs = ARGV[2]

local stale = redis.call("ZRANGEBYSCORE", claimedKey, "-inf", nowMs)
for _, id in ipairs(stale) do
    local jobKey = jobPrefix .. id
    local priority = tonumber(redis.call("HGET", jobKey, "priority") or "0")
    redis.call("ZREM", claimedKey, id)
    redis.call("ZADD", waitingKey, -priority, id)
    redis.call("HSET", jobKey, "state", "waiting")
end
return #stale
`

// NewRedisQueue creates a Redis-backed delivery queue. keepCompleted and
// keepFailed bound how many finished jobs are retained per queue.
func NewRedisQueue(client *redis.Client, keepCompleted, keepFailed int) *RedisQueue {
	if keepCompleted <= 0 {
		keepCompleted = 1000
	}
	if keepFailed <= 0 {
		keepFailed = 5000
	}
	return &RedisQueue{
		redis:         client,
		keepCompleted: keepCompleted,
		keepFailed:    keepFailed,
		claimTimeout:  5 * time.Minute,
		enqueueScript: redis.NewScript(enqueueLuaScript),
		promoteScript: redis.NewScript(promoteLuaScript),
		claimScript:   redis.NewScript(claimLuaScript),
		removeScript:  redis.NewScript(removeLuaScript),
		finishScript:  redis.NewScript(finishLuaScript),
		failScript:    redis.NewScript(failLuaScript),
		reclaimScript: redis.NewScript(reclaimLuaScript),
	}
}

// SetClaimTimeout overrides the visibility timeout for claimed jobs.
func (q *RedisQueue) SetClaimTimeout(d time.Duration) {
	if d > 0 {
		q.claimTimeout = d
	}
}

func jobKey(queue, id string) string { return keyPrefix + ":" + queue + ":job:" + id }
func jobPrefix(queue string) string  { return keyPrefix + ":" + queue + ":job:" }
func delayedKey(queue string) string { return keyPrefix + ":" + queue + ":delayed" }
func waitingKey(queue string) string { return keyPrefix + ":" + queue + ":waiting" }
func claimedKey(queue string) string { return keyPrefix + ":" + queue + ":claimed" }
func doneKey(queue string) string    { return keyPrefix + ":" + queue + ":completed" }
func failedKey(queue string) string  { return keyPrefix + ":" + queue + ":failed" }

// Enqueue adds a job, deduplicating on jobID. Returns false when an
// outstanding job with the same id already exists.
func (q *RedisQueue) Enqueue(ctx context.Context, queue, jobID string, payload []byte, opts Options) (bool, error) {
	now := time.Now()
	dueAt := now.Add(opts.Delay)

	res, err := q.enqueueScript.Run(ctx, q.redis,
		[]string{jobKey(queue, jobID), delayedKey(queue), waitingKey(queue), doneKey(queue), failedKey(queue)},
		jobID, payload, opts.Priority, dueAt.UnixMilli(), now.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue %s/%s: %w", queue, jobID, err)
	}
	return res == 1, nil
}

// ListDelayed returns jobs whose delay has not yet elapsed, soonest first.
func (q *RedisQueue) ListDelayed(ctx context.Context, queue string) ([]Job, error) {
	ids, err := q.redis.ZRange(ctx, delayedKey(queue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list delayed %s: %w", queue, err)
	}
	return q.fetchJobs(ctx, queue, ids)
}

// ListWaiting returns runnable jobs, highest priority first.
func (q *RedisQueue) ListWaiting(ctx context.Context, queue string) ([]Job, error) {
	ids, err := q.redis.ZRange(ctx, waitingKey(queue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list waiting %s: %w", queue, err)
	}
	return q.fetchJobs(ctx, queue, ids)
}

// Remove deletes a not-yet-claimed job; claimed jobs are left alone.
func (q *RedisQueue) Remove(ctx context.Context, queue, jobID string) error {
	err := q.removeScript.Run(ctx, q.redis,
		[]string{jobKey(queue, jobID), delayedKey(queue), waitingKey(queue)},
		jobID,
	).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("remove %s/%s: %w", queue, jobID, err)
	}
	return nil
}

// PromoteDue moves delayed jobs whose due time has arrived into the waiting
// set. Consumers call this at the top of each poll cycle.
func (q *RedisQueue) PromoteDue(ctx context.Context, queue string) (int, error) {
	n, err := q.promoteScript.Run(ctx, q.redis,
		[]string{delayedKey(queue), waitingKey(queue)},
		jobPrefix(queue), time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote %s: %w", queue, err)
	}
	return n, nil
}

// Claim pops the next runnable job for a worker. Returns nil when the queue
// is empty.
func (q *RedisQueue) Claim(ctx context.Context, queue string) (*Job, error) {
	now := time.Now()
	id, err := q.claimScript.Run(ctx, q.redis,
		[]string{waitingKey(queue), claimedKey(queue)},
		jobPrefix(queue), now.UnixMilli(), now.Add(q.claimTimeout).UnixMilli(),
	).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", queue, err)
	}

	jobs, err := q.fetchJobs(ctx, queue, []string{id})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

// Complete records a successful job and trims completed retention.
func (q *RedisQueue) Complete(ctx context.Context, queue, jobID string) error {
	err := q.finishScript.Run(ctx, q.redis,
		[]string{jobKey(queue, jobID), doneKey(queue), claimedKey(queue)},
		jobID, string(StateCompleted), q.keepCompleted, jobPrefix(queue),
	).Err()
	if err != nil {
		return fmt.Errorf("complete %s/%s: %w", queue, jobID, err)
	}
	return nil
}

// Fail records a worker-side failure. The job is re-delayed per the queue's
// retry policy; once attempts are exhausted it moves to the failed set and is
// retained for inspection.
func (q *RedisQueue) Fail(ctx context.Context, queue, jobID string, jobErr error) error {
	policy := PolicyFor(queue)

	// The attempt number isn't known until the script increments it, so the
	// retry delay is computed from the current count first.
	attempts, err := q.redis.HGet(ctx, jobKey(queue, jobID), "attempts").Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("fail %s/%s: %w", queue, jobID, err)
	}
	retryAt := time.Now().Add(policy.NextDelay(attempts + 1))

	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}

	res, err := q.failScript.Run(ctx, q.redis,
		[]string{jobKey(queue, jobID), delayedKey(queue), claimedKey(queue)},
		jobID, policy.MaxAttempts, retryAt.UnixMilli(), msg,
	).Int()
	if err != nil {
		return fmt.Errorf("fail %s/%s: %w", queue, jobID, err)
	}

	if res == -1 {
		// Attempts exhausted: terminal failure, retained.
		err = q.finishScript.Run(ctx, q.redis,
			[]string{jobKey(queue, jobID), failedKey(queue), claimedKey(queue)},
			jobID, string(StateFailed), q.keepFailed, jobPrefix(queue),
		).Err()
		if err != nil {
			return fmt.Errorf("fail terminal %s/%s: %w", queue, jobID, err)
		}
	}
	return nil
}

// ReclaimStale returns claimed jobs whose worker missed the visibility
// deadline to the waiting set, attempts preserved. Returns how many were
// reclaimed.
func (q *RedisQueue) ReclaimStale(ctx context.Context, queue string) (int, error) {
	n, err := q.reclaimScript.Run(ctx, q.redis,
		[]string{claimedKey(queue), waitingKey(queue)},
		jobPrefix(queue), time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("reclaim %s: %w", queue, err)
	}
	return n, nil
}

// ListFailed returns the retained terminally-failed jobs, newest first.
func (q *RedisQueue) ListFailed(ctx context.Context, queue string) ([]Job, error) {
	ids, err := q.redis.LRange(ctx, failedKey(queue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed %s: %w", queue, err)
	}
	return q.fetchJobs(ctx, queue, ids)
}

func (q *RedisQueue) fetchJobs(ctx context.Context, queue string, ids []string) ([]Job, error) {
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		fields, err := q.redis.HGetAll(ctx, jobKey(queue, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("fetch job %s/%s: %w", queue, id, err)
		}
		if len(fields) == 0 {
			continue // trimmed between listing and fetch
		}

		priority, _ := strconv.Atoi(fields["priority"])
		attempts, _ := strconv.Atoi(fields["attempts"])
		dueMs, _ := strconv.ParseInt(fields["due_at"], 10, 64)

		jobs = append(jobs, Job{
			ID:       id,
			Queue:    queue,
			Payload:  []byte(fields["payload"]),
			Priority: priority,
			Attempts: attempts,
			State:    JobState(fields["state"]),
			DueAt:    time.UnixMilli(dueMs),
			LastErr:  fields["last_error"],
		})
	}
	return jobs, nil
}
