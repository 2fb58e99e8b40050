package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/proofmarked/stepup-gateway/internal/adapter/cache"
	"github.com/proofmarked/stepup-gateway/internal/audit"
	"github.com/proofmarked/stepup-gateway/internal/bootstrap"
	"github.com/proofmarked/stepup-gateway/internal/config"
	httptransport "github.com/proofmarked/stepup-gateway/internal/http"
	"github.com/proofmarked/stepup-gateway/internal/http/handler"
	httpmiddleware "github.com/proofmarked/stepup-gateway/internal/http/middleware"
	"github.com/proofmarked/stepup-gateway/internal/idp"
	apimiddleware "github.com/proofmarked/stepup-gateway/internal/middleware"
	"github.com/proofmarked/stepup-gateway/internal/server"
	"github.com/proofmarked/stepup-gateway/internal/service"
	"github.com/proofmarked/stepup-gateway/internal/session"
	"github.com/proofmarked/stepup-gateway/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newAuditRecorder,
			newRedisClient,
			newThrottle,
			newRateLimiter,
			newIdPAPI,
			idp.NewFactory,
			newCookieStore,
			service.NewLoginService,
			service.NewStepUpService,
			service.NewEnrollService,
			service.NewAccountService,
			handler.NewAuthHandler,
			newGateway,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdminInvited, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

// newPGXPool connects the audit pool. The audit trail is optional: with no
// DATABASE_URL the gateway runs without one.
func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newAuditRecorder(pool *pgxpool.Pool, node *snowflake.Node, logger *zap.Logger) audit.Recorder {
	if pool == nil {
		logger.Info("audit trail disabled: no database configured")
		return audit.NopRecorder{}
	}
	return audit.NewPostgresRecorder(pool, node, logger)
}

// newRedisClient connects the throttle backend. Optional like the audit
// pool: with no REDIS_ADDR brute-force throttling is disabled.
func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newThrottle(client redis.UniversalClient, cfg config.Config, logger *zap.Logger) cacheadapter.Throttle {
	if client == nil {
		logger.Info("attempt throttle disabled: no redis configured")
		return cacheadapter.NopThrottle{}
	}
	return cacheadapter.NewRedisThrottle(client, cfg.AuthAttemptLimit, cfg.AuthAttemptTTL)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newIdPAPI(cfg config.Config) idp.API {
	client := &http.Client{Timeout: cfg.IdPTimeout}
	return idp.NewHTTPClient(cfg.IdPURL, cfg.IdPAnonKey, cfg.IdPServiceKey, client)
}

func newCookieStore(cfg config.Config) *session.CookieStore {
	return session.NewCookieStore(cfg.SecureCookies)
}

func newGateway(cfg config.Config, cookies *session.CookieStore, factory *idp.Factory, logger *zap.Logger) *httpmiddleware.Gateway {
	return httpmiddleware.NewGateway(cfg, cookies, factory, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
