package runtime

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/bookly/service_layer/internal/app"
	"github.com/bookly/service_layer/internal/app/httpapi"
	"github.com/bookly/service_layer/internal/app/storage/postgres"
	redisstore "github.com/bookly/service_layer/internal/app/storage/redis"
	"github.com/bookly/service_layer/internal/config"
	"github.com/bookly/service_layer/internal/middleware"
	"github.com/bookly/service_layer/internal/platform/migrations"
	"github.com/bookly/service_layer/pkg/logger"
)

const (
	connectTimeout         = 5 * time.Second
	auditCapacity          = 500
	limiterCleanupInterval = 5 * time.Minute
)

// Application wires stores, services and the HTTP server from configuration.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	server  *http.Server
	limiter *middleware.RateLimiter
	audit   *httpapi.AuditLog
	closers []func() error
}

// NewApplication builds the application. With migrate set, the database
// schema is applied before the stores are used.
func NewApplication(ctx context.Context, cfg *config.Config, log *logger.Logger, migrate bool) (*Application, error) {
	if log == nil {
		log = logger.New(cfg.Logging)
	}
	a := &Application{cfg: cfg, log: log}

	secret, err := parseSigningKey(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("auth.jwt_secret: %w", err)
	}

	stores, err := a.buildStores(ctx, migrate)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	a.app, err = app.New(stores, app.Options{
		JWTSecret:     secret,
		JWTIssuer:     cfg.Auth.JWTIssuer,
		SessionTTL:    cfg.Auth.SessionTTL,
		SweepSchedule: cfg.Auth.SweepSchedule,
		HashCost:      cfg.Auth.HashCost,
	}, log.Named("app"))
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.audit, err = httpapi.NewAuditLog(auditCapacity, cfg.Server.AuditLog)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	a.closers = append(a.closers, a.audit.Close)

	a.limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, log.Named("ratelimit"))
	handler := httpapi.NewHandler(a.app, httpapi.Options{
		Tokens:         cfg.Auth.Tokens,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Limiter:        a.limiter,
		Audit:          a.audit,
		Logger:         log,
	})
	a.server = httpapi.NewServer(cfg.Server.Addr(), handler)
	return a, nil
}

// App exposes the composed services.
func (a *Application) App() *app.Application {
	return a.app
}

// Handler exposes the HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.server.Handler
}

// Run starts lifecycle services and the HTTP server and blocks until ctx is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return err
	}
	a.limiter.StartCleanup(ctx, limiterCleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server and services, then releases connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases database, redis and audit resources in reverse order of
// acquisition. It does not stop running services.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// buildStores selects backends. Without a DSN the application uses the
// in-memory store; a Redis address moves sessions to Redis.
func (a *Application) buildStores(ctx context.Context, migrate bool) (app.Stores, error) {
	var stores app.Stores

	if a.cfg.Database.DSN != "" {
		db, err := openDatabase(ctx, a.cfg.Database)
		if err != nil {
			return app.Stores{}, err
		}
		a.closers = append(a.closers, db.Close)
		if migrate {
			if err := migrations.Apply(ctx, db); err != nil {
				return app.Stores{}, err
			}
			a.log.Info("database schema applied")
		}
		pg := postgres.New(db)
		stores.Users = pg
		stores.Bookings = pg
		stores.Sessions = pg
		a.log.WithField("driver", a.cfg.Database.Driver).Info("using relational store")
	} else {
		a.log.Warn("database dsn not set; using in-memory store")
	}

	if a.cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return app.Stores{}, fmt.Errorf("ping redis: %w", err)
		}
		stores.Sessions = redisstore.NewSessionStore(client, a.cfg.Redis.Prefix)
		a.log.WithField("addr", a.cfg.Redis.Addr).Info("using redis session store")
	}

	return stores, nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// parseSigningKey decodes the session signing secret. Values prefixed with
// "base64:" or "hex:" are decoded; anything else is used as raw bytes. An
// empty value disables session login.
func parseSigningKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	var key []byte
	switch {
	case strings.HasPrefix(value, "base64:"):
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "base64:"))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 key: %w", err)
		}
		key = decoded
	case strings.HasPrefix(value, "hex:"):
		decoded, err := hex.DecodeString(strings.TrimPrefix(value, "hex:"))
		if err != nil {
			return nil, fmt.Errorf("invalid hex key: %w", err)
		}
		key = decoded
	default:
		key = []byte(value)
	}

	if len(key) < 16 {
		return nil, fmt.Errorf("key must be at least 16 bytes, got %d", len(key))
	}
	return key, nil
}
