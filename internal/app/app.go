// Package app wires together configuration, infrastructure, and domain
// services into a runnable sandboxd process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/sandboxplatform/sandboxd/internal/audit"
	"github.com/sandboxplatform/sandboxd/internal/auth"
	"github.com/sandboxplatform/sandboxd/internal/config"
	"github.com/sandboxplatform/sandboxd/internal/httpserver"
	"github.com/sandboxplatform/sandboxd/internal/platform"
	"github.com/sandboxplatform/sandboxd/internal/runtime"
	"github.com/sandboxplatform/sandboxd/internal/telemetry"
	"github.com/sandboxplatform/sandboxd/internal/vault"
	"github.com/sandboxplatform/sandboxd/pkg/apikey"
	"github.com/sandboxplatform/sandboxd/pkg/environment"
	"github.com/sandboxplatform/sandboxd/pkg/sandbox"
	"github.com/sandboxplatform/sandboxd/pkg/sandbox/hub"
	"github.com/sandboxplatform/sandboxd/pkg/user"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting sandboxd",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
		"dev_runtime", cfg.DevRuntime,
	)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(telemetry.All()...)

	rt, err := newRuntimeAdapter(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing runtime adapter: %w", err)
	}

	secretsVault, err := newVault(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing secrets vault: %w", err)
	}

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	envService := environment.NewService(db, secretsVault, logger)
	sandboxService := sandbox.NewService(db, rt, envService, auditWriter, logger)
	envService.SetSandboxDestroyer(sandboxService)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg, rt, secretsVault, auditWriter, envService, sandboxService)
	case "worker":
		return runWorker(ctx, auditWriter, sandboxService, logger)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func newRuntimeAdapter(cfg *config.Config, logger *slog.Logger) (runtime.Adapter, error) {
	if cfg.DevRuntime {
		logger.Info("runtime: using process-tree dev adapter (SANDBOXD_DEV_RUNTIME=true)")
		return runtime.NewDevAdapter(), nil
	}
	return runtime.NewDockerAdapter(cfg.RuntimeHost, logger)
}

func newVault(cfg *config.Config, logger *slog.Logger) (*vault.Vault, error) {
	var key []byte
	var err error
	if cfg.SecretsMasterKey != "" {
		key, err = vault.DecodeKey(cfg.SecretsMasterKey)
		if err != nil {
			return nil, fmt.Errorf("decoding secrets master key: %w", err)
		}
	} else {
		key, err = vault.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generating dev secrets key: %w", err)
		}
		logger.Warn("vault: using auto-generated dev key (set SANDBOXD_SECRETS_MASTER_KEY in production)")
	}
	return vault.New(key)
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, rt runtime.Adapter, secretsVault *vault.Vault, auditWriter *audit.Writer, envService *environment.Service, sandboxService *sandbox.Service) error {
	// Session manager.
	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = auth.GenerateDevSecret()
		logger.Info("session: using auto-generated dev secret (set SANDBOXD_SESSION_SECRET in production)")
	}
	sessionMaxAge, err := time.ParseDuration(cfg.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("parsing session max age %q: %w", cfg.SessionMaxAge, err)
	}
	sessionMgr, err := auth.NewSessionManager(sessionSecret, sessionMaxAge)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	// OIDC authenticator (optional — nil if not configured).
	var oidcAuth *auth.OIDCAuthenticator
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		oidcAuth, err = auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return fmt.Errorf("initializing OIDC authenticator: %w", err)
		}
		logger.Info("OIDC authentication enabled", "issuer", cfg.OIDCIssuerURL)
	} else {
		logger.Info("OIDC authentication disabled (OIDC_ISSUER_URL not set)")
	}

	// API key authenticator wraps the api-key service's store lookup.
	apikeyService := apikey.NewService(db, logger)
	apikeyAuth := auth.NewAPIKeyAuthenticator(apikeyService)

	// Rate limiters (§6): one per named limit, sharing the Redis client but
	// namespaced by key prefix so their counters never collide.
	loginLimiter := auth.NewRateLimiter(rdb, "login", cfg.AuthRateLimitPer15Min, 15*time.Minute)
	apiLimiter := auth.NewRateLimiter(rdb, "api", cfg.RateLimitPerMinute, time.Minute)
	createLimiter := auth.NewRateLimiter(rdb, "sandbox_create", cfg.CreateRateLimitPerMinute, time.Minute)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, sessionMgr, oidcAuth, apikeyAuth, apiLimiter)

	// --- Domain handlers ---

	// Signup/login/logout are unauthenticated, so they're mounted on the
	// outer router rather than the authenticated /api/v1 subrouter.
	userHandler := user.NewHandler(logger, auditWriter, db, sessionMgr, loginLimiter)
	srv.Router.Mount("/users", userHandler.PublicRoutes())
	srv.APIRouter.Get("/users/me", userHandler.MeHandler())

	apikeyHandler := apikey.NewHandler(logger, auditWriter, db)
	srv.APIRouter.Mount("/api-keys", apikeyHandler.Routes())

	envHandler := environment.NewHandler(envService, logger, auditWriter)
	srv.APIRouter.Mount("/environments", envHandler.Routes())

	sandboxHandler := sandbox.NewHandler(sandboxService, logger, createLimiter)
	srv.APIRouter.Mount("/sandboxes", sandboxHandler.Routes())

	// Background sandbox lifecycle workers share the same Service/pool the
	// API uses, so a stop/sweep/cleanup observes the same in-flight state.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	go sandboxService.RunTTLSweeper(workerCtx)
	go sandboxService.RunLogRetentionCleaner(workerCtx)
	go auditWriter.RunRetentionCleaner(workerCtx)

	// Log & Terminal Hub (C6): authenticated via the token query parameter
	// instead of the Authorization-header middleware, so it is mounted on
	// the outer router rather than inside /api/v1.
	logTerminalHub := hub.New(sandboxService, sessionMgr, oidcAuth, apikeyAuth, logger)
	srv.Router.Mount("/ws", logTerminalHub.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return shutdown(httpSrv, rt, logger)
	case err := <-errCh:
		return err
	}
}

// shutdownDeadline bounds the entire C9 shutdown sequence (HTTP drain plus
// per-container stop+remove); if it's not done by then, shutdown gives up
// and returns rather than blocking the process exit indefinitely.
const shutdownDeadline = 30 * time.Second

// shutdown is the C9 Shutdown Coordinator: stop accepting new connections,
// then stop(5s)+remove every container this process owns, so a restart
// never leaves orphaned or merely-stopped sandboxes behind. The whole
// sequence is force-aborted at shutdownDeadline.
func shutdown(httpSrv *http.Server, rt runtime.Adapter, logger *slog.Logger) error {
	logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runShutdownSequence(shutdownCtx, httpSrv, rt, logger)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown: deadline exceeded, forcing exit", "deadline", shutdownDeadline)
	}
	return nil
}

func runShutdownSequence(ctx context.Context, httpSrv *http.Server, rt runtime.Adapter, logger *slog.Logger) {
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown", "error", err)
	}

	owned, err := rt.ListOwned(ctx)
	if err != nil {
		logger.Error("listing owned containers during shutdown", "error", err)
		return
	}
	logger.Info("stopping owned containers", "count", len(owned))
	for _, ref := range owned {
		if err := rt.Stop(ctx, ref, 5*time.Second); err != nil {
			logger.Warn("stopping container during shutdown", "ref", ref, "error", err)
		}
		if err := rt.Remove(ctx, ref, true); err != nil {
			logger.Warn("removing container during shutdown", "ref", ref, "error", err)
		}
	}
}

// runWorker runs the background-only process: TTL sweep, log retention, and
// audit retention, with no HTTP server. Useful for running the sweepers as a
// separate deployment from the API tier.
func runWorker(ctx context.Context, auditWriter *audit.Writer, sandboxService *sandbox.Service, logger *slog.Logger) error {
	logger.Info("worker started")
	go sandboxService.RunLogRetentionCleaner(ctx)
	go auditWriter.RunRetentionCleaner(ctx)
	sandboxService.RunTTLSweeper(ctx)
	return nil
}
