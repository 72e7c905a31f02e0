package config // package config loads application configuration from environment variables

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/authguard/internal/database"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable.
type Config struct {
	Env                 string // application environment (e.g. "dev", "prod")
	Port                string // HTTP port to listen on
	DBDriver            string // "mysql" or "sqlite"
	DBDSN               string // full DSN, or the sqlite file path
	DBUser              string // mysql username
	DBPass              string // mysql password (optional)
	DBHost              string // mysql host address
	DBPort              string // mysql port number
	DBName              string // mysql database name
	JWTSecret           string // secret used to sign JWTs
	AccessTTLMin        int    // access token time-to-live in minutes
	SessionTTLHours     int    // session cookie lifetime in hours
	BcryptCost          int    // bcrypt cost for password hashing
	LogLevel            string // zerolog level name
	SessionCookieName   string
	SessionCookieSecure bool
}

// Load reads an optional .env file, then the environment. Required
// variables are enforced by must() and missing values cause the program to
// exit with a fatal log message.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("config: .env not loaded: %v", err)
	}
	cfg := Config{
		Env:                 envStr("APP_ENV", "dev"),
		Port:                envStr("APP_PORT", "8080"),
		DBDriver:            strings.ToLower(envStr("DB_DRIVER", database.DriverSQLite)),
		DBDSN:               os.Getenv("DB_DSN"),
		DBPass:              os.Getenv("DB_PASS"), // empty allowed
		JWTSecret:           must("JWT_SECRET"),
		AccessTTLMin:        envInt("ACCESS_TOKEN_TTL_MIN", 15),
		SessionTTLHours:     envInt("SESSION_TTL_HOURS", 24*7),
		BcryptCost:          envInt("BCRYPT_COST", 12),
		LogLevel:            envStr("LOG_LEVEL", "info"),
		SessionCookieName:   envStr("SESSION_COOKIE_NAME", "session"),
		SessionCookieSecure: envBool("SESSION_COOKIE_SECURE", true),
	}
	// MySQL without a full DSN needs every connection part.
	if cfg.DBDriver == database.DriverMySQL && cfg.DBDSN == "" {
		cfg.DBUser = must("DB_USER")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	}
	return cfg
}

// DSN returns the connection string for the configured driver.
func (c Config) DSN() string {
	if c.DBDriver == database.DriverMySQL {
		if c.DBDSN != "" {
			return c.DBDSN
		}
		return database.MySQLDSN(c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName)
	}
	path := c.DBDSN
	if path == "" {
		path = "authguard.db"
	}
	return database.SQLiteDSN(path)
}

// AccessTTL is the lifetime of JWTs issued at login.
func (c Config) AccessTTL() time.Duration { return time.Duration(c.AccessTTLMin) * time.Minute }

// SessionTTL is the lifetime of a session cookie.
func (c Config) SessionTTL() time.Duration { return time.Duration(c.SessionTTLHours) * time.Hour }

// IsProd reports whether the service runs in production.
func (c Config) IsProd() bool {
	return strings.EqualFold(c.Env, "prod") || strings.EqualFold(c.Env, "production")
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
