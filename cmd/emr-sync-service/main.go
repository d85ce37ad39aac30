package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sugreev38/v0-hospital-emr-software/internal/api"
	"github.com/sugreev38/v0-hospital-emr-software/internal/auth"
	"github.com/sugreev38/v0-hospital-emr-software/internal/connectivity"
	"github.com/sugreev38/v0-hospital-emr-software/internal/store"
	"github.com/sugreev38/v0-hospital-emr-software/internal/syncengine"
	"github.com/sugreev38/v0-hospital-emr-software/internal/syncqueue"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/config"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/database"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/monitoring"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

const (
	serviceName    = "emr-sync-service"
	serviceVersion = "1.0.0"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the local database
	db, err := database.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open local database")
	}
	defer db.Close()

	queue := syncqueue.New(db, logger, syncqueue.WithMaxRetries(cfg.Sync.MaxRetries))

	// Entries left processing by a crashed drain are replayed again
	if n, err := queue.ResetProcessing(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to recover sync queue")
	} else if n > 0 {
		logger.WithField("entries", n).Warn("Recovered interrupted sync entries")
	}

	var (
		metrics *monitoring.MetricsCollector
		health  *monitoring.HealthManager
	)
	tracing := monitoring.NewTracingManager(serviceName)
	monitor := connectivity.New(cfg.Connectivity.InitialOnline, logger)

	if cfg.Monitoring.Enabled {
		metrics = monitoring.NewMetricsCollector(serviceName)
		metrics.SetOnline(monitor.IsOnline())
		defer monitor.Subscribe(metrics.SetOnline)()
	}

	records := store.New(db, queue, monitor, logger, store.WithMetrics(metrics))

	// Remote replay target
	var remote syncengine.Remote
	if cfg.Sync.RemoteURL != "" {
		remote = syncengine.NewHTTPRemote(cfg.Sync.RemoteURL, cfg.Sync.AuthToken, cfg.Sync.TimeoutDuration(), tracing)
	} else {
		logger.Warn("No sync remote configured, replays are only logged")
		remote = syncengine.NewLoggingRemote(logger)
	}

	engine := syncengine.New(queue, remote, monitor, logger,
		syncengine.WithMetrics(metrics),
		syncengine.WithTracing(tracing),
		syncengine.WithContext(ctx),
	)
	detach := engine.Attach(monitor)
	defer detach()

	// Catch up on anything queued before the last shutdown
	if monitor.IsOnline() {
		if _, err := engine.Drain(ctx); err != nil {
			logger.WithError(err).Error("Startup drain failed")
		}
	}

	if cfg.Connectivity.ProbeURL != "" {
		prober := connectivity.NewProber(monitor, cfg.Connectivity.ProbeURL,
			time.Duration(cfg.Connectivity.ProbeInterval)*time.Second,
			time.Duration(cfg.Connectivity.ProbeTimeout)*time.Second,
			logger,
		)
		go prober.Run(ctx)
	}

	if cfg.Monitoring.Enabled {
		health = monitoring.NewHealthManager(serviceName, serviceVersion)
		health.RegisterChecker("database", monitoring.NewDatabaseHealthChecker(db))
		health.RegisterChecker("sync_queue", monitoring.NewQueueHealthChecker(queue, cfg.Monitoring.FailedThreshold, metrics))
		health.RegisterChecker("connectivity", monitoring.NewCustomHealthChecker(func(ctx context.Context) monitoring.HealthCheck {
			check := monitoring.HealthCheck{Name: "connectivity", Status: monitoring.HealthStatusHealthy, Message: "online"}
			if !monitor.IsOnline() {
				check.Status = monitoring.HealthStatusDegraded
				check.Message = "offline, writes are queued"
			}
			return check
		}))
	}

	deps := api.Deps{
		Store:   records,
		Queue:   queue,
		Engine:  engine,
		Monitor: monitor,
		Health:  health,
		Metrics: metrics,
		Tracing: tracing,
		Logger:  logger,
	}
	if cfg.Auth.Enabled {
		deps.Tokens = auth.NewTokenValidator(cfg.Auth.SecretKey, cfg.Auth.Issuer)
		deps.Directory = auth.NewDirectory(logger)
	} else {
		local := localUser()
		logger.Warn("Bearer authentication disabled, requests act as the local administrator")
		deps.LocalUser = &local
		deps.Directory = auth.NewDirectory(logger, local)
	}

	if cfg.Server.RateLimit > 0 {
		limiter := api.NewRateLimiter(cfg.Server.RateLimit, time.Duration(cfg.Server.RatePeriod)*time.Second)
		go limiter.RunCleanup(ctx, time.Hour)
		deps.Limiter = limiter
	}

	service := api.NewService(cfg.Server, cfg.Monitoring, deps)

	// Start the server in a goroutine
	go func() {
		if err := service.Start(); err != nil {
			logger.WithError(err).Error("Failed to start server")
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down sync service...")

	if err := service.Stop(context.Background()); err != nil {
		logger.WithError(err).Error("Failed to shutdown server gracefully")
	}
	cancel()
	engine.Wait()

	logger.Info("Sync service stopped")
}

// localUser is the principal used when bearer authentication is disabled
func localUser() types.User {
	return types.User{
		ID:          "local",
		Email:       "admin@localhost",
		Name:        "Local Administrator",
		Role:        types.RoleAdmin,
		Permissions: types.RolePermissions[types.RoleAdmin],
	}
}
