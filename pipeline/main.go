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

	"github.com/sunpath-crm/sunpath-go/internal/catalog"
	"github.com/sunpath-crm/sunpath-go/internal/db"
	"github.com/sunpath-crm/sunpath-go/internal/platform/auditlog"
	"github.com/sunpath-crm/sunpath-go/internal/platform/auth"
	"github.com/sunpath-crm/sunpath-go/internal/platform/env"
	"github.com/sunpath-crm/sunpath-go/internal/platform/httpserver"
	"github.com/sunpath-crm/sunpath-go/internal/platform/objectstore"
	"github.com/sunpath-crm/sunpath-go/internal/platform/postgres"
	repopg "github.com/sunpath-crm/sunpath-go/internal/repo/postgres"
	"github.com/sunpath-crm/sunpath-go/internal/service/transitions"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("PIPELINE_HTTP_ADDR", ":8084")
	shutdownTimeout, err := env.Duration("PIPELINE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	conn, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	migrate, err := env.Bool("PIPELINE_DB_MIGRATE", false)
	if err != nil {
		logger.Error("invalid migrate flag", "error", err)
		os.Exit(2)
	}
	if migrate {
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := db.Migrate(migrateCtx, conn)
		cancel()
		if err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	internalAuthSecret := env.String("SUNPATH_INTERNAL_AUTH_SECRET", "")
	headersAuth, err := auth.NewGatewayHeadersAuthenticator(internalAuthSecret)
	if err != nil {
		logger.Error("invalid internal auth config", "error", err)
		os.Exit(2)
	}

	esignWebhookSecret := env.String("SUNPATH_ESIGN_WEBHOOK_SECRET", "")

	cacheTTL, err := env.Duration("PIPELINE_STAGE_CACHE_TTL", 30*time.Second)
	if err != nil {
		logger.Error("invalid stage cache ttl", "error", err)
		os.Exit(2)
	}
	stageCache := catalog.NewCache(repopg.NewStageStore(conn), cacheTTL)

	svc := transitions.New(conn, stageCache, repopg.NewRuleStore(conn), repopg.NewValidationStore(conn))

	authorizer := auth.MethodRoleAuthorizer()
	skipPrefixes := []string{"/healthz", "/readyz", "/webhooks/"}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("pipeline"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"pipeline",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return conn.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBuckets(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newPipelineAPI(logger, conn, storeClient, storeCfg, stageCache, svc, esignWebhookSecret)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: headersAuth,
		Authorize:     authorizer,
		TenantResolve: auth.RequireTenantIDResolver(skipPrefixes),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, conn, "pipeline", event)
		},
		SkipPrefixes: skipPrefixes,
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         "pipeline",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "pipeline", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
