package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dersa/ecoquality/internal/app"
	"github.com/dersa/ecoquality/internal/audit"
	audithttp "github.com/dersa/ecoquality/internal/audit/http"
	"github.com/dersa/ecoquality/internal/auth"
	"github.com/dersa/ecoquality/internal/observability"
	"github.com/dersa/ecoquality/internal/platform/cache"
	"github.com/dersa/ecoquality/internal/platform/db"
	"github.com/dersa/ecoquality/internal/rbac"
	"github.com/dersa/ecoquality/internal/roles"
	"github.com/dersa/ecoquality/internal/shared"
	"github.com/dersa/ecoquality/internal/users"
	"github.com/dersa/ecoquality/jobs"
)

const sessionCookie = "ecoquality_session"

func main() {
	if app.SkipStartup(nil, "api") {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	rbacService := rbac.NewService(
		newRBACStore(cfg, dbpool),
		rbac.WithCache(rbac.NewCache(redisClient, cfg.RBACCacheTTL)),
		rbac.WithAuditRecorder(auditLogger),
		rbac.WithLogger(logger),
	)
	if cfg.RBACBootstrap || cfg.RBACStore == "memory" {
		report, err := rbac.Bootstrap(ctx, rbacService, rbac.DefaultCatalog())
		if err != nil {
			logger.Error("rbac bootstrap", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("rbac bootstrap",
			slog.Int("modules", report.Modules),
			slog.Int("permissions", report.Permissions),
			slog.Int("roles", report.Roles),
			slog.Int("edges", report.Edges))
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	metrics := observability.NewMetrics()
	authService := auth.NewService(auth.NewRepository(dbpool))
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger, Observer: metrics, Active: authService.IsActive}

	recorder, closeSink, err := newDecisionRecorder(cfg, logger, auditLogger, redisOpts)
	if err != nil {
		logger.Error("init audit sink", slog.Any("error", err))
		os.Exit(1)
	}
	if recorder != nil {
		rbacMiddleware.Audit = recorder
		metrics.TrackDroppedDecisions(recorder.Dropped)
	}

	sessionManager := shared.NewSessionManager(redisClient, sessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	authHandler := auth.NewHandler(logger, authService, rbacService, sessionManager, csrfManager)
	catalogHandler := rbac.NewCatalogHandler(logger, rbacService, rbacMiddleware)
	rolesHandler := roles.NewHandler(logger, roles.NewService(rbacService), rbacMiddleware)
	usersHandler := users.NewHandler(logger, users.NewService(users.NewRepository(dbpool), rbacService), rbacMiddleware)
	auditHandler := audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), rbacMiddleware)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger, rbacMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		AuthHandler:    authHandler,
		CatalogHandler: catalogHandler,
		RolesHandler:   rolesHandler,
		UsersHandler:   usersHandler,
		AuditHandler:   auditHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
		Readiness: []app.ReadinessCheck{
			{Name: "postgres", Check: dbpool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return cache.Ping(ctx, redisClient) }},
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("rbac_store", cfg.RBACStore), slog.String("audit_sink", cfg.AuditSink))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	if recorder != nil {
		if err := recorder.Close(shutdownCtx); err != nil {
			logger.Warn("audit drain", slog.Uint64("dropped", recorder.Dropped()), slog.Any("error", err))
		}
	}
	closeSink()
}

func newRBACStore(cfg *app.Config, pool *pgxpool.Pool) rbac.Store {
	if cfg.RBACStore == "memory" {
		return rbac.NewMemoryStore()
	}
	return rbac.NewPGStore(pool)
}

// newDecisionRecorder builds the buffered decision sink selected by
// AUDIT_SINK. The returned close func releases the sink's own resources.
func newDecisionRecorder(cfg *app.Config, logger *slog.Logger, store audit.LogStore, redisOpts asynq.RedisClientOpt) (*audit.Recorder, func(), error) {
	noop := func() {}
	switch cfg.AuditSink {
	case "off":
		return nil, noop, nil
	case "db":
		return audit.NewRecorder(audit.StoreWriter{Store: store}, cfg.AuditBuffer, logger), noop, nil
	case "queue":
		client, err := jobs.NewClient(redisOpts)
		if err != nil {
			return nil, noop, err
		}
		closeClient := func() {
			if err := client.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}
		return audit.NewRecorder(audit.QueueWriter{Queue: client}, cfg.AuditBuffer, logger), closeClient, nil
	default:
		return audit.NewRecorder(audit.LogWriter{Logger: logger}, cfg.AuditBuffer, logger), noop, nil
	}
}
