package config

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the redis instance backing the redis rate-limit
// store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
	Insecure bool // skip certificate verification (self-signed dev setups)
}

// LoadRedisConfig reads REDIS_* variables. REDIS_HOST and REDIS_PORT
// together take precedence over REDIS_ADDR.
func LoadRedisConfig() RedisConfig {
	addr := envStr("REDIS_ADDR", "localhost:6379")
	if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
		addr = net.JoinHostPort(host, port)
	}
	return RedisConfig{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
		TLS:      envBool("REDIS_TLS", false),
		Insecure: envBool("REDIS_TLS_INSECURE", false),
	}
}

// NewRedisClient connects using rc and pings with a short timeout. It
// returns nil when the server is unreachable; callers degrade to the
// in-process store.
func NewRedisClient(rc RedisConfig) *redis.Client {
	var tlsConf *tls.Config
	if rc.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: rc.Insecure}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      rc.Addr,
		Password:  rc.Password,
		DB:        rc.DB,
		TLSConfig: tlsConf,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
