package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/config"
	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/repository"
)

// Policy is a fixed window: at most MaxAttempts per Window for one key.
type Policy = config.RateLimitPolicy

// RateLimitStore counts attempts per (identifier, endpoint). Hit must apply
// the increment and the window reset atomically per key and return the
// record as it stands afterwards.
type RateLimitStore interface {
	Hit(ctx context.Context, identifier, endpoint string, now time.Time, window time.Duration) (model.RateLimitRecord, error)
	Reset(ctx context.Context, identifier, endpoint string) error
}

// RateLimitResult is the outcome of one Check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
}

// RateLimiter applies policies on top of a RateLimitStore.
type RateLimiter struct {
	store RateLimitStore
	log   zerolog.Logger

	Now func() time.Time
}

func NewRateLimiter(store RateLimitStore, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{store: store, log: log, Now: utcNow}
}

// Check counts one attempt for (identifier, endpoint) and reports whether
// it is within policy. Rejected attempts still count. The only error is a
// store fault; callers must not read it as a denial.
func (l *RateLimiter) Check(ctx context.Context, identifier, endpoint string, p Policy) (RateLimitResult, error) {
	now := l.Now().UTC()
	rec, err := l.store.Hit(ctx, identifier, endpoint, now, p.Window)
	if err != nil {
		l.log.Error().Err(err).Str("endpoint", endpoint).Msg("rate limit store failed")
		return RateLimitResult{}, fmt.Errorf("rate limit hit: %w", err)
	}
	res := RateLimitResult{
		Allowed:   rec.Attempts <= p.MaxAttempts,
		Limit:     p.MaxAttempts,
		Remaining: max(0, p.MaxAttempts-rec.Attempts),
		ResetAt:   rec.WindowStart.Add(p.Window),
	}
	if !res.Allowed {
		res.RetryAfter = max(res.ResetAt.Sub(now), 0)
	}
	return res, nil
}

// Reset forgets every attempt of a key, e.g. after a successful login.
func (l *RateLimiter) Reset(ctx context.Context, identifier, endpoint string) error {
	if err := l.store.Reset(ctx, identifier, endpoint); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}

// SQLRateLimitStore is the durable store backed by the rate_limits table.
type SQLRateLimitStore struct{ repo *repository.RateLimitRepo }

func NewSQLRateLimitStore(db *sql.DB) *SQLRateLimitStore {
	return &SQLRateLimitStore{repo: repository.NewRateLimitRepo(db)}
}

func (s *SQLRateLimitStore) Hit(ctx context.Context, identifier, endpoint string, now time.Time, window time.Duration) (model.RateLimitRecord, error) {
	return s.repo.Hit(ctx, identifier, endpoint, now, window)
}

func (s *SQLRateLimitStore) Reset(ctx context.Context, identifier, endpoint string) error {
	return s.repo.Delete(ctx, identifier, endpoint)
}

// Prune deletes rows whose window started before cutoff.
func (s *SQLRateLimitStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.DeleteExpired(ctx, cutoff)
}

// MemoryRateLimitStore keeps counters in process memory. It is not shared
// between instances and forgets everything on restart.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	// sweepAt bounds the map: once it holds this many keys, expired ones
	// are dropped on the next hit.
	sweepAt int
}

type memoryEntry struct {
	attempts int
	start    time.Time
	window   time.Duration
}

func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{entries: map[string]memoryEntry{}, sweepAt: 10000}
}

func memoryKey(identifier, endpoint string) string { return endpoint + "\x00" + identifier }

func (s *MemoryRateLimitStore) Hit(_ context.Context, identifier, endpoint string, now time.Time, window time.Duration) (model.RateLimitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) >= s.sweepAt {
		s.sweep(now)
	}
	k := memoryKey(identifier, endpoint)
	e, ok := s.entries[k]
	if !ok || now.Sub(e.start) >= window {
		e = memoryEntry{attempts: 1, start: now, window: window}
	} else {
		e.attempts++
		e.window = window
	}
	s.entries[k] = e
	return model.RateLimitRecord{Identifier: identifier, Endpoint: endpoint, Attempts: e.attempts, WindowStart: e.start}, nil
}

func (s *MemoryRateLimitStore) Reset(_ context.Context, identifier, endpoint string) error {
	s.mu.Lock()
	delete(s.entries, memoryKey(identifier, endpoint))
	s.mu.Unlock()
	return nil
}

func (s *MemoryRateLimitStore) sweep(now time.Time) {
	for k, e := range s.entries {
		if now.Sub(e.start) >= e.window {
			delete(s.entries, k)
		}
	}
}

// fixedWindowScript increments a hash counter and restarts the window when
// it has elapsed, in one server-side step.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])

	local state = redis.call('HMGET', key, 'attempts', 'window_start_ms')
	local attempts = tonumber(state[1])
	local start = tonumber(state[2])

	if attempts == nil or start == nil or now_ms - start >= window_ms then
		attempts = 1
		start = now_ms
	else
		attempts = attempts + 1
	end

	redis.call('HSET', key, 'attempts', attempts, 'window_start_ms', start)
	local ttl = start + window_ms - now_ms
	if ttl <= 0 then ttl = window_ms end
	redis.call('PEXPIRE', key, ttl)

	return { attempts, start }
`)

// RedisRateLimitStore shares counters between instances through redis.
type RedisRateLimitStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisRateLimitStore(rdb redis.UniversalClient, prefix string) *RedisRateLimitStore {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisRateLimitStore{rdb: rdb, prefix: prefix}
}

func (s *RedisRateLimitStore) key(identifier, endpoint string) string {
	return s.prefix + ":" + endpoint + ":" + identifier
}

func (s *RedisRateLimitStore) Hit(ctx context.Context, identifier, endpoint string, now time.Time, window time.Duration) (model.RateLimitRecord, error) {
	vals, err := fixedWindowScript.Run(ctx, s.rdb, []string{s.key(identifier, endpoint)},
		now.UnixMilli(), window.Milliseconds()).Result()
	if err != nil {
		return model.RateLimitRecord{}, err
	}
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 2 {
		return model.RateLimitRecord{}, fmt.Errorf("unexpected rate limit script result %#v", vals)
	}
	return model.RateLimitRecord{
		Identifier:  identifier,
		Endpoint:    endpoint,
		Attempts:    int(asInt64(arr[0])),
		WindowStart: time.UnixMilli(asInt64(arr[1])).UTC(),
	}, nil
}

func (s *RedisRateLimitStore) Reset(ctx context.Context, identifier, endpoint string) error {
	return s.rdb.Del(ctx, s.key(identifier, endpoint)).Err()
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// NewRateLimitStore picks the store named by cfg.Store. A redis store
// without a reachable client falls back to memory.
func NewRateLimitStore(cfg config.RateLimitConfig, db *sql.DB, rdb *redis.Client, log zerolog.Logger) RateLimitStore {
	switch cfg.Store {
	case config.RateLimitStoreMemory:
		return NewMemoryRateLimitStore()
	case config.RateLimitStoreRedis:
		if rdb == nil {
			log.Warn().Msg("redis unavailable; rate limiting falls back to the in-memory store")
			return NewMemoryRateLimitStore()
		}
		return NewRedisRateLimitStore(rdb, cfg.Prefix)
	default:
		return NewSQLRateLimitStore(db)
	}
}
