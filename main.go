package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Mehedi107/job-task/api"
	"github.com/Mehedi107/job-task/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	var (
		store   storage.Backend
		closers = map[string]gfshutdown.Operation{}
	)
	switch driver := envOr("STORE_DRIVER", "aztables"); driver {
	case "aztables":
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		if connStr == "" {
			log.Fatal("missing STORAGE_CONNECTION_STRING")
		}
		s, err := storage.New(connStr, envOr("TASKS_TABLE", "tasks"), envOr("USERS_TABLE", "users"))
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		store = s
		if queueName := os.Getenv("EVENTS_QUEUE"); queueName != "" {
			pub, err := storage.NewQueuePublisher(connStr, queueName)
			if err != nil {
				log.Fatalf("events queue: %v", err)
			}
			store = storage.NewNotifier(store, pub, logger)
		}
	case "sqlite":
		s, err := storage.OpenSQLite(envOr("SQLITE_PATH", "taskboard.db"))
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		store = s
		closers["sqlite"] = func(context.Context) error { return s.Close() }
	default:
		log.Fatalf("invalid STORE_DRIVER %q", driver)
	}

	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		ttl := 5 * time.Minute
		if v := os.Getenv("TASKS_CACHE_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid TASKS_CACHE_TTL: %q", v)
			}
			ttl = d
		}
		rc := redis.NewClient(parseRedisOptions(redisConn))
		store = storage.NewCache(store, rc, ttl)
		closers["redis"] = func(context.Context) error { return rc.Close() }
	}

	auth := newAuthenticator()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	closers["tracer"] = tp.Shutdown

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(middleware.Recover())
	e.Use(api.GzipRequestMiddleware())
	e.Use(api.RequestLogger(logger))
	e.Use(echoprometheus.NewMiddleware("taskboard"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, store, auth, logger)

	listenAddr := ":" + envOr("PORT", "3000")
	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	shutdownTimeout := 10 * time.Second
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid SHUTDOWN_TIMEOUT: %q", v)
		}
		shutdownTimeout = d
	}

	// the server stops first so in-flight requests can still use the store
	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			if err := e.Shutdown(ctx); err != nil {
				return err
			}
			for name, op := range closers {
				if err := op(ctx); err != nil {
					log.WithError(err).WithField("resource", name).Warn("close failed")
				}
			}
			return nil
		},
	})
	code := <-wait
	log.WithField("code", code).Info("server stopped")
	os.Exit(code)
}

// newAuthenticator returns nil when no token verification is configured, in
// which case the owner email sent by clients is trusted.
func newAuthenticator() api.Authenticator {
	audience := os.Getenv("AUTH_AUDIENCE")
	issuer := os.Getenv("AUTH_ISSUER")
	if jwksURL := os.Getenv("AUTH_JWKS_URL"); jwksURL != "" {
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		return api.NewAuth(jwks, audience, issuer)
	}
	if secret := os.Getenv("AUTH_TEST_SECRET"); secret != "" {
		log.Warn("AUTH_TEST_SECRET set, accepting HS256 test tokens")
		return api.NewTestAuth([]byte(secret), audience, issuer)
	}
	log.Warn("no auth configured, trusting client supplied owner emails")
	return nil
}

// parseRedisOptions accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func parseRedisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
