package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/config"
	"github.com/iliyamo/authguard/internal/database"
	"github.com/iliyamo/authguard/internal/handler"
	"github.com/iliyamo/authguard/internal/middleware"
	"github.com/iliyamo/authguard/internal/queue"
	"github.com/iliyamo/authguard/internal/router"
	"github.com/iliyamo/authguard/internal/service"
	"github.com/iliyamo/authguard/internal/utils"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open database")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	// Services
	audit := service.NewAuditService(db, config.LoadSuspicionConfig(), log)
	qcfg := config.LoadAuditQueueConfig()
	if qcfg.Enabled {
		pub := service.NewAuditPublisher(qcfg, log)
		defer pub.Close()
		audit.SetSink(pub)
		go func() {
			if err := queue.StartAuditConsumer(ctx, qcfg, log); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("audit consumer stopped")
			}
		}()
	}

	perms := service.NewPermissionService(db, audit, log)
	if _, err := perms.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("initialize permissions")
	}

	rlcfg := config.LoadRateLimitConfig()
	var rdb *redis.Client
	if rlcfg.Store == config.RateLimitStoreRedis {
		if rdb = config.NewRedisClient(config.LoadRedisConfig()); rdb != nil {
			defer rdb.Close()
		}
	}
	store := service.NewRateLimitStore(rlcfg, db, rdb, log)
	if sqlStore, ok := store.(*service.SQLRateLimitStore); ok {
		go pruneRateLimits(ctx, sqlStore, rlcfg.LongestWindow(), log)
	}
	limiter := service.NewRateLimiter(store, log)

	jwtEngine := utils.NewJWTEngine(cfg.JWTSecret, nil)
	sessions := service.NewSessionService(db, cfg.SessionTTL())
	users := service.NewUserService(db, sessions, audit, cfg.BcryptCost, log)
	tokens := service.NewAPITokenService(db, audit, log)
	devices := service.NewDeviceService(db, audit, log)

	// HTTP
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).
				Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))

	guard := &middleware.Security{
		Sessions: sessions, Tokens: tokens, JWT: jwtEngine, Users: users, Perms: perms,
		Audit: audit, CookieName: cfg.SessionCookieName, Log: log,
	}
	router.Register(e, router.Deps{
		DB: db,
		Auth: &handler.AuthHandler{
			Cfg: cfg, Users: users, Sessions: sessions, JWT: jwtEngine, Devices: devices,
			Audit: audit, Perms: perms, Limiter: limiter, Log: log,
		},
		Tokens:    &handler.TokenHandler{Tokens: tokens, Guard: guard, Log: log},
		Devices:   &handler.DeviceHandler{Devices: devices, Log: log},
		Security:  &handler.SecurityHandler{Audit: audit, Log: log},
		Admin:     &handler.AdminHandler{Users: users, Audit: audit, Perms: perms, Log: log},
		Guard:     guard,
		Limiter:   limiter,
		Audit:     audit,
		RateLimit: rlcfg,
		Log:       log,
	})

	addr := ":" + cfg.Port
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Str("rate_limit_store", rlcfg.Store).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

// pruneRateLimits drops expired counter rows once per window until ctx ends.
func pruneRateLimits(ctx context.Context, store *service.SQLRateLimitStore, window time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.Prune(ctx, now.UTC().Add(-window))
			if err != nil {
				log.Error().Err(err).Msg("prune rate limits")
				continue
			}
			log.Debug().Int64("rows", n).Msg("pruned rate limits")
		}
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.IsProd() {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", "authguard").Logger()
	}
	w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
