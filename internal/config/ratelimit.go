package config

import (
	"strings"
	"time"
)

// Rate-limit stores selectable with RATE_LIMIT_STORE.
const (
	RateLimitStoreSQL    = "sql"
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// RateLimitPolicy caps attempts per key within a window.
type RateLimitPolicy struct {
	Window      time.Duration
	MaxAttempts int
}

// RateLimitConfig selects the counter store and holds the named policies.
type RateLimitConfig struct {
	Enabled bool
	Store   string
	Prefix  string // redis key namespace

	Login         RateLimitPolicy
	Register      RateLimitPolicy
	PasswordReset RateLimitPolicy
	EmailVerify   RateLimitPolicy
	API           RateLimitPolicy
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables. Each policy can be
// overridden with RATE_LIMIT_<NAME>_WINDOW and RATE_LIMIT_<NAME>_MAX.
func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:       envBool("RATE_LIMIT_ENABLED", true),
		Store:         strings.ToLower(envStr("RATE_LIMIT_STORE", RateLimitStoreSQL)),
		Prefix:        envStr("RATE_LIMIT_PREFIX", "rl"),
		Login:         policy("LOGIN", 15*time.Minute, 5),
		Register:      policy("REGISTER", time.Hour, 3),
		PasswordReset: policy("PASSWORD_RESET", time.Hour, 3),
		EmailVerify:   policy("EMAIL_VERIFY", time.Hour, 5),
		API:           policy("API", time.Minute, 60),
	}
	switch cfg.Store {
	case RateLimitStoreSQL, RateLimitStoreMemory, RateLimitStoreRedis:
	default:
		cfg.Store = RateLimitStoreSQL
	}
	return cfg
}

func policy(name string, window time.Duration, max int) RateLimitPolicy {
	p := RateLimitPolicy{
		Window:      envDur("RATE_LIMIT_"+name+"_WINDOW", window),
		MaxAttempts: envInt("RATE_LIMIT_"+name+"_MAX", max),
	}
	if p.Window <= 0 {
		p.Window = window
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// LongestWindow is the widest window across the named policies. Rows older
// than this can no longer affect any decision.
func (c RateLimitConfig) LongestWindow() time.Duration {
	longest := c.Login.Window
	for _, p := range []RateLimitPolicy{c.Register, c.PasswordReset, c.EmailVerify, c.API} {
		if p.Window > longest {
			longest = p.Window
		}
	}
	return longest
}
