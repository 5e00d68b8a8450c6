package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-hq/lattice/pkg/audit"
	"github.com/lattice-hq/lattice/pkg/config"
	"github.com/lattice-hq/lattice/pkg/entity"
	"github.com/lattice-hq/lattice/pkg/events"
	"github.com/lattice-hq/lattice/pkg/middleware"
	"github.com/lattice-hq/lattice/pkg/observability"
	"github.com/lattice-hq/lattice/pkg/permissions"
	"github.com/lattice-hq/lattice/pkg/policy"
	"github.com/lattice-hq/lattice/pkg/scope"
	"github.com/lattice-hq/lattice/pkg/storage"
	"github.com/lattice-hq/lattice/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting Lattice access-control engine")

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	connections, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Storage.PostgresURL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Storage.PostgresReplicaURLs),
		MaxConns:    cfg.Storage.PostgresMaxConns,
		MinConns:    cfg.Storage.PostgresMinConns,
		Timeout:     cfg.Storage.PostgresTimeout,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to PostgreSQL")
		os.Exit(1)
	}
	defer connections.Close()
	db := connections.Primary()

	ctx := context.Background()
	for _, component := range []struct {
		name       string
		migrations []postgres.Migration
	}{
		{entity.MigrationComponent, entity.Migrations()},
		{permissions.MigrationComponent, permissions.Migrations()},
		{audit.MigrationComponent, audit.Migrations()},
	} {
		if err := postgres.RunMigrations(ctx, db, component.name, component.migrations, logger); err != nil {
			logger.WithError(err).Errorf("Migrations failed for %s", component.name)
			os.Exit(1)
		}
	}

	var publisher events.Publisher = events.NoopPublisher{}
	var redisClient = storage.RedisClientOrNil(cfg.Storage, logger)
	if redisClient != nil {
		defer redisClient.Close()
		publisher = events.NewRedisPublisher(redisClient, cfg.Engine.EventChannel, logger)
	}

	recorder := audit.NewRecorder(db, connections.Replica(), logger)

	// Row policies install before the server accepts traffic. A failure here
	// is fatal: serving with partial enforcement silently widens access.
	policySet, err := policy.LoadFile(cfg.Engine.PolicyFile)
	if err != nil {
		logger.WithError(err).Error("Failed to load policy file")
		os.Exit(1)
	}
	installer := policy.NewInstaller(db, recorder, publisher, logger, metrics)
	if err := installer.InstallAll(ctx, policySet); err != nil {
		logger.WithError(err).Error("Failed to install row policies")
		os.Exit(1)
	}
	logger.WithField("policies", len(policySet.Policies)).Info("Row policies installed")

	executor := scope.NewExecutor(db, scope.NewManager(logger), logger, metrics)

	entityStore := entity.NewStore(db, logger, metrics)
	permissionStore := permissions.NewStore(db, logger)
	aggregator := permissions.NewAggregator(
		permissionStore, permissions.DefaultRegistry(), publisher, logger, metrics,
		cfg.Engine.PermissionCacheSize, cfg.Engine.PermissionCacheTTL)

	sweeper := permissions.NewSweeper(permissionStore, aggregator, logger, cfg.Engine.SweepSchedule)
	if err := sweeper.Start(); err != nil {
		logger.WithError(err).Error("Failed to start assignment sweeper")
		os.Exit(1)
	}

	// Every admin route runs behind the permission gate, so invoking an
	// operation requires the matching platform.* grant (or a privileged
	// role) before any unit of work begins.
	gate := middleware.NewPermissionMiddleware(aggregator, recorder, logger)
	router := mux.NewRouter()
	entity.NewHandlers(entityStore, executor, recorder, publisher, logger).RegisterRoutes(router, gate.Require)
	permissions.NewHandlers(permissionStore, aggregator, executor, recorder, logger).RegisterRoutes(router, gate.Require)
	audit.NewHandlers(recorder, logger).RegisterRoutes(router, gate.Require)

	scopeMiddleware := middleware.NewScopeMiddleware()
	apiHandler := middleware.RequestLogging(logger)(
		middleware.Recovery(logger)(
			scopeMiddleware.Handler(router)))

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthChecker := observability.NewHealthChecker(db, redisClient)
	healthRouter := mux.NewRouter()
	healthRouter.HandleFunc("/healthz", healthChecker.Liveness).Methods("GET")
	healthRouter.HandleFunc("/readyz", healthChecker.Readiness).Methods("GET")
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.Handler(registry)).Methods("GET")
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthRouter,
	}

	background, cancelBackground := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(background)

	group.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if cfg.Engine.PolicyWatch {
		watcher := policy.NewWatcher(cfg.Engine.PolicyFile, installer, logger)
		group.Go(func() error {
			if err := watcher.Watch(groupCtx); err != nil && err != context.Canceled {
				logger.WithError(err).Error("Policy watcher stopped")
			}
			return nil
		})
	}

	if redisClient != nil {
		group.Go(func() error {
			err := events.Subscribe(groupCtx, redisClient, cfg.Engine.EventChannel, logger, aggregator.HandleInvalidation)
			if err != nil && err != context.Canceled {
				logger.WithError(err).Error("Event subscriber stopped")
			}
			return nil
		})
	}

	if cfg.Observability.MetricsEnabled {
		group.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case <-ticker.C:
					metrics.UpdateDBStats(connections.Stats())
				}
			}
		})
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancelBackground()
		sweeper.Stop()
		return nil
	})

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
	_ = group.Wait()
}
