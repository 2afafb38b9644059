package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ownership-engine/pkg/config"
	"github.com/ekaya-inc/ownership-engine/pkg/database"
	"github.com/ekaya-inc/ownership-engine/pkg/handlers"
	"github.com/ekaya-inc/ownership-engine/pkg/logging"
	"github.com/ekaya-inc/ownership-engine/pkg/metrics"
	"github.com/ekaya-inc/ownership-engine/pkg/middleware"
	"github.com/ekaya-inc/ownership-engine/pkg/repositories"
	"github.com/ekaya-inc/ownership-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Bool("display_cache", cfg.Redis.Host != ""))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Record store
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	if err := database.RunMigrations(db.SQLDB(), cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.String("error", logging.SanitizeError(err)))
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Repositories; display records read through the Redis cache when configured.
	edgeRepo := repositories.NewOwnershipEdgeRepository()
	entityRepo := repositories.NewCachedLegalEntityRepository(
		repositories.NewLegalEntityRepository(), redisClient, cfg.Redis.DisplayTTL, m, logger)
	borrowerRepo := repositories.NewCachedBorrowerRepository(
		repositories.NewBorrowerRepository(), redisClient, cfg.Redis.DisplayTTL, m, logger)

	aggregator := services.NewOwnershipAggregator(edgeRepo, entityRepo, borrowerRepo, m, logger)

	scopes := database.NewOrgScopeProvider(db)
	sessions := services.NewSessionManager(
		services.SessionManagerConfig{
			IdleTTL:      cfg.Ownership.SessionIdleTTL,
			MaxSessions:  cfg.Ownership.MaxSessions,
			FetchTimeout: cfg.Ownership.FetchTimeout,
		},
		func(orgID uuid.UUID) services.OwnershipAggregator {
			return services.NewOrgScopedAggregator(aggregator, scopes, orgID, logger)
		},
		m, logger)
	go sessions.RunJanitor(ctx, cfg.Ownership.SweepInterval)

	mux := http.NewServeMux()

	// Register handlers
	healthHandler := handlers.NewHealthHandler(cfg, db.Pool, logger)
	healthHandler.RegisterRoutes(mux)

	ownershipHandler := handlers.NewOwnershipHandler(aggregator, sessions, logger)
	ownershipHandler.RegisterRoutes(mux, database.WithOrgContext(db, logger))

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           middleware.Recoverer(logger)(middleware.RequestLogger(logger)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting ownership-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
