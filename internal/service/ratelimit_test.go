package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/authguard/internal/config"
)

var loginPolicy = Policy{Window: 15 * time.Minute, MaxAttempts: 5}

// newTestRedis starts an in-process redis and returns a client for it.
func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func rateLimitStores(t *testing.T) map[string]RateLimitStore {
	_, rdb := newTestRedis(t)
	return map[string]RateLimitStore{
		"sql":    NewSQLRateLimitStore(newTestDB(t)),
		"memory": NewMemoryRateLimitStore(),
		"redis":  NewRedisRateLimitStore(rdb, "rl"),
	}
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	for name, store := range rateLimitStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := newClock()
			l := NewRateLimiter(store, testLogger())
			l.Now = c.Now

			for want := 4; want >= 0; want-- {
				res, err := l.Check(ctx, "1.2.3.4", "login", loginPolicy)
				require.NoError(t, err)
				assert.True(t, res.Allowed)
				assert.Equal(t, 5, res.Limit)
				assert.Equal(t, want, res.Remaining)
				assert.Equal(t, testStart.Add(15*time.Minute), res.ResetAt)
				assert.Zero(t, res.RetryAfter)
				c.Advance(time.Minute)
			}

			res, err := l.Check(ctx, "1.2.3.4", "login", loginPolicy)
			require.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.Equal(t, 0, res.Remaining)
			assert.Equal(t, 10*time.Minute, res.RetryAfter)

			// other keys are independent
			res, err = l.Check(ctx, "5.6.7.8", "login", loginPolicy)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			res, err = l.Check(ctx, "1.2.3.4", "register", loginPolicy)
			require.NoError(t, err)
			assert.True(t, res.Allowed)

			c.t = testStart.Add(15 * time.Minute)
			res, err = l.Check(ctx, "1.2.3.4", "login", loginPolicy)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 4, res.Remaining)
			assert.Equal(t, c.t.Add(15*time.Minute), res.ResetAt)
		})
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	for name, store := range rateLimitStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := newClock()
			l := NewRateLimiter(store, testLogger())
			l.Now = c.Now

			for i := 0; i < 6; i++ {
				_, err := l.Check(ctx, "ip", "login", loginPolicy)
				require.NoError(t, err)
			}
			require.NoError(t, l.Reset(ctx, "ip", "login"))

			res, err := l.Check(ctx, "ip", "login", loginPolicy)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 4, res.Remaining)

			// resetting an unknown key is not an error
			assert.NoError(t, l.Reset(ctx, "nobody", "login"))
		})
	}
}

func TestRateLimiter_ConcurrentHitsAdmitExactlyMax(t *testing.T) {
	for name, store := range rateLimitStores(t) {
		t.Run(name, func(t *testing.T) {
			c := newClock()
			l := NewRateLimiter(store, testLogger())
			l.Now = c.Now

			const callers = 20
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				allowed int
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := l.Check(context.Background(), "burst", "login", loginPolicy)
					if !assert.NoError(t, err) {
						return
					}
					if res.Allowed {
						mu.Lock()
						allowed++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, loginPolicy.MaxAttempts, allowed)
		})
	}
}

func TestSQLRateLimitStore_Prune(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewSQLRateLimitStore(db)

	_, err := store.Hit(ctx, "old", "login", testStart, time.Minute)
	require.NoError(t, err)
	_, err = store.Hit(ctx, "new", "login", testStart.Add(time.Hour), time.Minute)
	require.NoError(t, err)

	n, err := store.Prune(ctx, testStart.Add(30*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var left []string
	rows, err := db.QueryContext(ctx, "SELECT identifier FROM rate_limits")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		left = append(left, id)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"new"}, left)
}

func TestNewRateLimitStore(t *testing.T) {
	db := newTestDB(t)

	_, ok := NewRateLimitStore(config.RateLimitConfig{Store: config.RateLimitStoreSQL}, db, nil, testLogger()).(*SQLRateLimitStore)
	assert.True(t, ok)
	_, ok = NewRateLimitStore(config.RateLimitConfig{Store: config.RateLimitStoreMemory}, db, nil, testLogger()).(*MemoryRateLimitStore)
	assert.True(t, ok)
	// redis without a client degrades to memory
	_, ok = NewRateLimitStore(config.RateLimitConfig{Store: config.RateLimitStoreRedis}, db, nil, testLogger()).(*MemoryRateLimitStore)
	assert.True(t, ok)
	_, rdb := newTestRedis(t)
	_, ok = NewRateLimitStore(config.RateLimitConfig{Store: config.RateLimitStoreRedis}, db, rdb, testLogger()).(*RedisRateLimitStore)
	assert.True(t, ok)
}

func TestMemoryRateLimitStore_SweepsExpiredKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRateLimitStore()
	s.sweepAt = 2

	_, _ = s.Hit(ctx, "a", "login", testStart, time.Minute)
	_, _ = s.Hit(ctx, "b", "login", testStart, time.Minute)
	_, err := s.Hit(ctx, "c", "login", testStart.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.entries, 1)
}

func TestRedisRateLimitStore_KeyExpiry(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	store := NewRedisRateLimitStore(rdb, "authguard-test")

	rec, err := store.Hit(ctx, "ip", "login", testStart, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, testStart, rec.WindowStart)
	assert.Equal(t, 15*time.Minute, mr.TTL("authguard-test:login:ip"))

	// later hits keep the window end, not the full window
	rec, err = store.Hit(ctx, "ip", "login", testStart.Add(5*time.Minute), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, testStart, rec.WindowStart)
	assert.Equal(t, 10*time.Minute, mr.TTL("authguard-test:login:ip"))

	// a hit after the window starts a fresh one
	rec, err = store.Hit(ctx, "ip", "login", testStart.Add(15*time.Minute), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, testStart.Add(15*time.Minute), rec.WindowStart)

	// redis drops the key once the window is over
	mr.FastForward(15 * time.Minute)
	assert.False(t, mr.Exists("authguard-test:login:ip"))
	rec, err = store.Hit(ctx, "ip", "login", testStart.Add(31*time.Minute), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)

	require.NoError(t, store.Reset(ctx, "ip", "login"))
	assert.False(t, mr.Exists("authguard-test:login:ip"))
}
