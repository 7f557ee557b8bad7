// Package app wires the crawl-core components (CapacityManager,
// CrawlFeeder, OrphanWatchdog, AuditLog, AuditExport, DataRetention,
// SharePoint webhook processing) into runnable modes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/crawlcore/internal/config"
	"github.com/wisbric/crawlcore/internal/httpserver"
	"github.com/wisbric/crawlcore/internal/platform"
	"github.com/wisbric/crawlcore/internal/telemetry"
	"github.com/wisbric/crawlcore/pkg/apikeystore"
	"github.com/wisbric/crawlcore/pkg/auditconfig"
	"github.com/wisbric/crawlcore/pkg/auditexport"
	"github.com/wisbric/crawlcore/pkg/auditlog"
	"github.com/wisbric/crawlcore/pkg/capacity"
	"github.com/wisbric/crawlcore/pkg/crawlrun"
	"github.com/wisbric/crawlcore/pkg/feeder"
	"github.com/wisbric/crawlcore/pkg/job"
	"github.com/wisbric/crawlcore/pkg/jobqueue"
	"github.com/wisbric/crawlcore/pkg/leaderlock"
	"github.com/wisbric/crawlcore/pkg/notify"
	"github.com/wisbric/crawlcore/pkg/retention"
	"github.com/wisbric/crawlcore/pkg/sharepoint"
	"github.com/wisbric/crawlcore/pkg/tenant"
	"github.com/wisbric/crawlcore/pkg/watchdog"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the mode named by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting crawlcore", "mode", cfg.Mode, "listen", cfg.ListenAddr())

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

	metricsReg := telemetry.NewMetricsRegistry()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "feeder":
		return runFeeder(ctx, cfg, logger, db, rdb)
	case "watchdog":
		return runWatchdog(ctx, cfg, logger, db, rdb)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = httpserver.GenerateDevSecret()
		logger.Warn("session: using auto-generated dev secret, set CRAWLCORE_SESSION_SECRET in production")
	}
	sessionMaxAge, err := time.ParseDuration(cfg.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("parsing session max age %q: %w", cfg.SessionMaxAge, err)
	}
	sessions, err := httpserver.NewSessionManager(sessionSecret, sessionMaxAge)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	tenants := tenant.NewStore(db)
	keys := apikeystore.NewStore(db)

	auditWriter := auditlog.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	auditConfigSvc := auditconfig.NewService(auditconfig.NewPostgresStore(db))

	exportStore := auditexport.NewStore(db)
	exportSvc := auditexport.NewService(exportStore)
	exportJobs := auditexport.NewJobStore(rdb)

	retentionSvc := retention.NewService(db)

	notifier := notify.New(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	if notifier.IsEnabled() {
		logger.Info("slack operational notifications enabled", "channel", cfg.SlackAlertChannel)
	}

	jobStore := job.NewStore(db)
	crawlRunStore := crawlrun.NewStore(db)
	queue := jobqueue.New(rdb)

	sharepointProc := sharepoint.New(rdb, logger, sharepoint.NewStore(db), sharepointDispatcher(jobStore, crawlRunStore, queue, logger))

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, sessions, keys, tenants)
	mountExportRoutes(srv, exportSvc, exportJobs, cfg, logger, notifier, auditWriter, auditConfigSvc)
	mountSharePointWebhook(srv, sharepointProc, logger)
	mountRetentionRoutes(srv, retentionSvc, logger)

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
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// sharepointDispatcher adapts a notification's sync request into a
// PULL_SHAREPOINT_CONTENT job: a job row, a crawl_run row tracking the
// website and delta token, then a push onto the pending queue.
func sharepointDispatcher(jobs *job.Store, crawlRuns *crawlrun.Store, queue *jobqueue.Queue, logger *slog.Logger) sharepoint.Dispatcher {
	return func(ctx context.Context, tenantID, websiteID uuid.UUID, deltaToken *string) error {
		jobID, err := jobs.Create(ctx, tenantID, uuid.Nil, job.TaskPullSharePointContent)
		if err != nil {
			return fmt.Errorf("app: creating sharepoint sync job: %w", err)
		}
		if _, err := crawlRuns.Create(ctx, jobID, tenantID, websiteID, deltaToken); err != nil {
			return fmt.Errorf("app: creating crawl run for job %s: %w", jobID, err)
		}
		if err := queue.Push(ctx, job.Descriptor{JobID: jobID, TenantID: tenantID, Task: job.TaskPullSharePointContent}); err != nil {
			return fmt.Errorf("app: queueing sharepoint sync job %s: %w", jobID, err)
		}
		logger.Info("sharepoint: queued sync job", "job_id", jobID, "tenant_id", tenantID, "website_id", websiteID)
		return nil
	}
}

func runFeeder(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	tenants := tenant.NewStore(db)
	cap := capacity.NewManager(rdb, logger, cfg.TenantWorkerConcurrencyLimit, cfg.TenantWorkerSemaphoreTTLSeconds, cfg.CrawlFeederIntervalSeconds)
	queue := jobqueue.New(rdb)
	settingsLoader := newDBSettingsLoader(tenants, cfg.CrawlFeederBatchSize)

	f := feeder.New(cap, queue, settingsLoader, logger,
		telemetry.FeederJobsDispatchedTotal.WithLabelValues("all"),
		telemetry.FeederTickDuration,
		cfg.CrawlFeederBatchSize,
	)

	lock := leaderlock.New(rdb, logger, "crawl-feeder", time.Duration(cfg.CrawlFeederIntervalSeconds)*time.Second*3)
	leaderlock.RunAsLeader(ctx, lock, 5*time.Second, f.Run)
	return nil
}

// watchdogAuditActions maps a watchdog fail phase to its audit action id.
var watchdogAuditActions = map[string]string{
	"phase1_expired_queued": "crawl.watchdog_kill_expired",
	"phase3.5_early_zombie": "crawl.watchdog_zombie",
	"phase3_orphan_timeout": "crawl.watchdog_orphan",
}

func runWatchdog(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	cap := capacity.NewManager(rdb, logger, cfg.TenantWorkerConcurrencyLimit, cfg.TenantWorkerSemaphoreTTLSeconds, cfg.CrawlFeederIntervalSeconds)
	queue := jobqueue.New(rdb)
	notifier := notify.New(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)

	auditWriter := auditlog.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()
	auditConfigSvc := auditconfig.NewService(auditconfig.NewPostgresStore(db))

	w := watchdog.New(db, rdb, cap, logger, watchdog.Config{
		WatchdogInterval:         time.Duration(cfg.WatchdogIntervalSeconds) * time.Second,
		CrawlJobMaxAge:           time.Duration(cfg.CrawlJobMaxAgeSeconds) * time.Second,
		HeartbeatZombieThreshold: time.Duration(cfg.CrawlHeartbeatIntervalSeconds*cfg.CrawlHeartbeatMaxFailures) * time.Second,
		OrphanTimeout:            time.Duration(cfg.OrphanCrawlRunTimeoutHours) * time.Hour,
		DefaultQueuedStale:       time.Duration(cfg.CrawlStaleThresholdMinutes) * time.Minute,
	}, telemetry.WatchdogPhaseDuration, telemetry.WatchdogJobsFailedTotal)

	w.SetRescueHook(func(ctx context.Context, jobID, tenantID uuid.UUID, task string) error {
		if err := queue.Push(ctx, job.Descriptor{JobID: jobID, TenantID: tenantID, Task: job.Task(task)}); err != nil {
			return fmt.Errorf("app: rescuing stuck job %s: %w", jobID, err)
		}
		return nil
	})

	w.SetFailHook(func(ctx context.Context, jobID, tenantID uuid.UUID, phase, reason string) error {
		if action, ok := watchdogAuditActions[phase]; ok {
			logAudit(ctx, auditWriter, auditConfigSvc, logger, tenantID, action, "job", jobID, auditlog.OutcomeFailure, &reason)
		}
		if !notifier.IsEnabled() {
			return nil
		}
		return notifier.WatchdogJobFailed(ctx, tenantID, jobID, phase, reason)
	})

	lock := leaderlock.New(rdb, logger, "orphan-watchdog", time.Duration(cfg.WatchdogIntervalSeconds)*time.Second*3)
	leaderlock.RunAsLeader(ctx, lock, 5*time.Second, w.Run)
	return nil
}
