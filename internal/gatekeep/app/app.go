package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/gatekeep/internal/gatekeep/http"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/metrics"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store/drivers/postgres"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store/drivers/redis"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatekeep/pkg/cors"
	"github.com/aussiebroadwan/gatekeep/pkg/csp"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeep/pkg/ratelimit"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

const (
	// BuildVersion is overridden at build time via -ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the gatekeep service together.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db       store.Store
	limiters *ratelimit.Registry
	verifier jwtx.Verifier

	invitationService   *service.InvitationService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "gatekeep",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initStore(); err != nil {
		return nil, err
	}

	if err := app.initSecurity(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Handler is the fully wrapped HTTP handler served by Run.
func (app *Application) Handler() http.Handler { return app.server.Handler }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("gatekeep starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"store", app.cfg.StoreDriver,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.housekeepingService.Stop()
			_ = app.db.Close()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gatekeep...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("gatekeep stopped")
	return nil
}

// initStore opens the configured driver and applies migrations.
func (app *Application) initStore() error {
	var (
		db  store.Store
		err error
	)
	switch app.cfg.StoreDriver {
	case DriverSQLite:
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.SQLiteFile)
		db, err = sqlite.NewStore(dsn)
	case DriverPostgres:
		db, err = postgres.NewStore(app.cfg.PostgresDSN)
	case DriverRedis:
		db, err = redis.NewStore(app.cfg.RedisURL,
			redis.WithKeyPrefix(app.cfg.RedisKeyPrefix),
			redis.WithRetention(app.cfg.RedisRetention),
		)
	default:
		return fmt.Errorf("%w %q", ErrUnknownDriver, app.cfg.StoreDriver)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", app.cfg.StoreDriver, err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply store migrations: %w", err)
	}

	app.logger.Info("store ready", "driver", app.cfg.StoreDriver)
	return nil
}

// initSecurity builds the limiter pools and the admin token verifier.
func (app *Application) initSecurity() error {
	pools := app.cfg.Limiters()
	for name, cfg := range pools {
		cfg.OnEvict = func(string) {
			metrics.RateLimitEvictions.WithLabelValues(name).Inc()
		}
		pools[name] = cfg
	}

	limiters, err := ratelimit.NewRegistry(pools)
	if err != nil {
		return fmt.Errorf("failed to build rate limiters: %w", err)
	}
	app.limiters = limiters

	verifier, err := jwtx.NewVerifierHS256([]byte(app.cfg.AdminJWTSecret), jwtx.VerifyOptions{
		Issuer:   app.cfg.AdminJWTIssuer,
		Audience: app.cfg.AdminJWTAudience,
		Leeway:   30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to build admin token verifier: %w", err)
	}
	app.verifier = verifier
	return nil
}

func (app *Application) initServices() {
	app.invitationService = &service.InvitationService{
		Store: app.db,
		TTL:   app.cfg.InvitationTTL,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.verifier,
		BuildVersion,
		app.db,
		app.limiters,
		app.logger,
	)

	router.InvitationService = app.invitationService
	router.RedirectHosts = app.cfg.RedirectHosts
	// Validate has already rejected malformed entries.
	router.TrustedProxies, _ = app.cfg.Proxies()
	router.Use(app.browserPolicies()...)
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// browserPolicies returns the CORS, CSP and static header middleware that
// runs on every response, after request logging.
func (app *Application) browserPolicies() []httpx.Middleware {
	origins := cors.ParseOrigins(app.cfg.AllowedOrigins)
	if len(origins) == 0 {
		app.logger.Warn("no allowed origins configured, cross-origin requests will be refused")
	}

	corsOpts := cors.Options{
		Allowed:          origins,
		AllowCredentials: app.cfg.CORSCredentials,
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:           app.cfg.CORSMaxAge,
		OnDenied: func(string) {
			metrics.CORSDenied.Inc()
		},
	}

	// An unvalidated Env resolves to "", which NewBuilder treats as production.
	cspEnv, _ := app.cfg.Environment()
	cspCfg := csp.Config{
		Environment: cspEnv,
		ReportURI:   app.cfg.CSPReportURI,
	}
	if app.cfg.AnalyticsHost != "" {
		cspCfg.Analytics = &csp.Analytics{
			ScriptHost:       app.cfg.AnalyticsHost,
			APIHost:          app.cfg.AnalyticsAPIHost,
			DeriveAssetsHost: true,
		}
	}

	return []httpx.Middleware{
		cors.Middleware(corsOpts),
		csp.Middleware(csp.NewBuilder(cspCfg), nil),
		httpx.SecurityHeaders,
	}
}
