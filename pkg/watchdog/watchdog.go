// Package watchdog implements OrphanWatchdog: the singleton
// reconciliation loop that runs five idempotent phases inside one
// database transaction every watchdog_interval seconds, then releases
// coordinator slots post-commit.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/crawlcore/pkg/capacity"
)

const lastSuccessKey = "crawl_watchdog:last_success_epoch"

// slotRelease is a (job_id, tenant_id) pair collected during the
// transaction and released against the coordinator after commit. phase
// and reason are set when the row was produced by a fail phase, so the
// post-commit loop can also fire FailHook.
type slotRelease struct {
	jobID    uuid.UUID
	tenantID uuid.UUID
	phase    string
	reason   string
}

// Watchdog runs the five-phase reconciliation tick.
type Watchdog struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	capacity *capacity.Manager
	logger   *slog.Logger

	watchdogInterval         time.Duration
	crawlJobMaxAge           time.Duration
	heartbeatZombieThreshold time.Duration
	orphanTimeout            time.Duration
	defaultQueuedStale       time.Duration

	rescueHook RescueHook
	failHook   FailHook

	phaseDuration *prometheus.HistogramVec
	jobsFailed    *prometheus.CounterVec
}

type Config struct {
	WatchdogInterval         time.Duration
	CrawlJobMaxAge           time.Duration
	HeartbeatZombieThreshold time.Duration
	OrphanTimeout            time.Duration
	DefaultQueuedStale       time.Duration
}

func New(pool *pgxpool.Pool, rdb *redis.Client, cap *capacity.Manager, logger *slog.Logger, cfg Config, phaseDuration *prometheus.HistogramVec, jobsFailed *prometheus.CounterVec) *Watchdog {
	return &Watchdog{
		pool:                     pool,
		rdb:                      rdb,
		capacity:                 cap,
		logger:                   logger,
		watchdogInterval:         cfg.WatchdogInterval,
		crawlJobMaxAge:           cfg.CrawlJobMaxAge,
		heartbeatZombieThreshold: cfg.HeartbeatZombieThreshold,
		orphanTimeout:            cfg.OrphanTimeout,
		defaultQueuedStale:       cfg.DefaultQueuedStale,
		phaseDuration:            phaseDuration,
		jobsFailed:               jobsFailed,
	}
}

// Run blocks, ticking at watchdog_interval until ctx is cancelled.
// Callers must only invoke Run while holding the singleton leader lock.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				w.logger.Error("watchdog tick failed", "error", err)
			}
		}
	}
}

// Tick runs all five phases inside one transaction, then releases
// coordinator slots post-commit. Every phase only touches rows matched
// by a status/timestamp predicate and is safe to re-run from scratch,
// so a transient connection drop or serialization failure retries the
// whole transaction rather than surfacing to the caller.
func (w *Watchdog) Tick(ctx context.Context) error {
	var releases []slotRelease

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		releases = nil
		txErr := pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
			t0 := time.Now()
			if err := w.phase0ReconcileCounters(ctx, tx); err != nil {
				return fmt.Errorf("phase 0: %w", err)
			}
			w.observePhase("phase0_reconcile_counters", t0)

			t1 := time.Now()
			p1, err := w.phase1KillExpiredQueued(ctx, tx)
			if err != nil {
				return fmt.Errorf("phase 1: %w", err)
			}
			w.observePhase("phase1_kill_expired_queued", t1)
			releases = append(releases, p1...)

			t2 := time.Now()
			if err := w.phase2RescueStuckQueued(ctx, tx); err != nil {
				return fmt.Errorf("phase 2: %w", err)
			}
			w.observePhase("phase2_rescue_stuck_queued", t2)

			t35 := time.Now()
			p35, err := w.phase35FailEarlyZombies(ctx, tx)
			if err != nil {
				return fmt.Errorf("phase 3.5: %w", err)
			}
			w.observePhase("phase3.5_fail_early_zombies", t35)
			releases = append(releases, p35...)

			t3 := time.Now()
			p3, err := w.phase3FailLongRunning(ctx, tx)
			if err != nil {
				return fmt.Errorf("phase 3: %w", err)
			}
			w.observePhase("phase3_fail_long_running", t3)
			releases = append(releases, p3...)

			return nil
		})
		if txErr == nil {
			return struct{}{}, nil
		}
		if !isTransientDBError(txErr) {
			return struct{}{}, backoff.Permanent(txErr)
		}
		return struct{}{}, txErr
	}, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		return err
	}

	w.releaseSlots(ctx, releases)
	w.recordSuccess(ctx)
	return nil
}

// isTransientDBError reports whether err is a connection-level failure
// or a serialization/deadlock conflict safe to retry from a clean
// transaction start, as opposed to a query or constraint error that
// would just fail identically on retry.
func isTransientDBError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		default:
			return false
		}
	}
	return pgconn.SafeToRetry(err)
}

// phase0ReconcileCounters fixes tenant slot counters that read higher
// than the actual DB count of active CRAWL jobs.
func (w *Watchdog) phase0ReconcileCounters(ctx context.Context, tx pgx.Tx) error {
	rows, err := tx.Query(ctx, `SELECT DISTINCT tenant_id FROM jobs WHERE task = 'CRAWL'`)
	if err != nil {
		return err
	}
	var tenantIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		tenantIDs = append(tenantIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, tenantID := range tenantIDs {
		observed, err := w.capacity.ObserveCount(ctx, tenantID)
		if err != nil {
			w.logger.Warn("phase 0 observe failed, skipping tenant", "tenant_id", tenantID, "error", err)
			continue
		}

		var actual int64
		err = tx.QueryRow(ctx, `
			SELECT count(*) FROM jobs
			WHERE tenant_id = $1 AND task = 'CRAWL' AND status IN ('QUEUED', 'IN_PROGRESS')`,
			tenantID,
		).Scan(&actual)
		if err != nil {
			w.logger.Warn("phase 0 count failed, skipping tenant", "tenant_id", tenantID, "error", err)
			continue
		}

		if observed <= actual {
			continue
		}

		applied, err := w.capacity.Reconcile(ctx, tenantID, observed, actual, nil)
		if err != nil {
			w.logger.Warn("phase 0 reconcile failed, skipping tenant", "tenant_id", tenantID, "error", err)
			continue
		}
		if applied {
			w.logger.Info("zombie counter corrected", "tenant_id", tenantID, "observed", observed, "actual", actual)
		}
	}
	return nil
}

// phase1KillExpiredQueued fails QUEUED jobs whose created_at is past
// crawl_job_max_age_seconds. Orphans (no CrawlRun) are still failed but
// yield no slot-release pair.
func (w *Watchdog) phase1KillExpiredQueued(ctx context.Context, tx pgx.Tx) ([]slotRelease, error) {
	cutoff := time.Now().Add(-w.crawlJobMaxAge)

	rows, err := tx.Query(ctx, `
		UPDATE jobs SET status = 'FAILED', error_message = 'expired while queued', updated_at = now()
		WHERE status = 'QUEUED' AND created_at < $1
		RETURNING id, tenant_id`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var releases []slotRelease
	for rows.Next() {
		var r slotRelease
		if err := rows.Scan(&r.jobID, &r.tenantID); err != nil {
			return nil, err
		}
		r.phase = "phase1_expired_queued"
		r.reason = "expired while queued"
		releases = append(releases, r)
	}
	return releases, rows.Err()
}

// phase2RescueStuckQueued re-enqueues QUEUED jobs that stalled before
// being picked up by the feeder, without failing them. Since this
// package has no direct dependency on pkg/jobqueue
// (it would create an import cycle with pkg/feeder), re-enqueue is
// delegated to a hook set via SetRescueHook; when unset, phase 2 only
// bumps updated_at so a later tick with a hook installed can pick the
// job back up.
func (w *Watchdog) phase2RescueStuckQueued(ctx context.Context, tx pgx.Tx) error {
	cutoff := time.Now().Add(-w.defaultQueuedStale)
	maxAgeCutoff := time.Now().Add(-w.crawlJobMaxAge)

	rows, err := tx.Query(ctx, `
		SELECT id, tenant_id, task FROM jobs
		WHERE status = 'QUEUED' AND updated_at < $1 AND created_at >= $2`,
		cutoff, maxAgeCutoff,
	)
	if err != nil {
		return err
	}
	type stuck struct {
		id, tenantID uuid.UUID
		task         string
	}
	var stuckJobs []stuck
	for rows.Next() {
		var s stuck
		if err := rows.Scan(&s.id, &s.tenantID, &s.task); err != nil {
			rows.Close()
			return err
		}
		stuckJobs = append(stuckJobs, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, s := range stuckJobs {
		if w.rescueHook != nil {
			if err := w.rescueHook(ctx, s.id, s.tenantID, s.task); err != nil {
				w.logger.Warn("phase 2 rescue hook failed", "job_id", s.id, "error", err)
				continue
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE jobs SET updated_at = now() WHERE id = $1`, s.id); err != nil {
			return err
		}
	}
	return nil
}

// phase35FailEarlyZombies fails IN_PROGRESS jobs whose linked CrawlRun
// never advanced past zero pages.
func (w *Watchdog) phase35FailEarlyZombies(ctx context.Context, tx pgx.Tx) ([]slotRelease, error) {
	cutoff := time.Now().Add(-w.heartbeatZombieThreshold)

	rows, err := tx.Query(ctx, `
		UPDATE jobs j SET status = 'FAILED', error_message = 'early zombie: no progress before heartbeat threshold', updated_at = now()
		FROM crawl_runs cr
		WHERE cr.job_id = j.id
		  AND j.status = 'IN_PROGRESS'
		  AND (cr.pages_crawled IS NULL OR cr.pages_crawled = 0)
		  AND j.updated_at < $1
		RETURNING j.id, j.tenant_id`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var releases []slotRelease
	for rows.Next() {
		var r slotRelease
		if err := rows.Scan(&r.jobID, &r.tenantID); err != nil {
			return nil, err
		}
		r.phase = "phase3.5_early_zombie"
		r.reason = "no progress before heartbeat threshold"
		releases = append(releases, r)
	}
	return releases, rows.Err()
}

// phase3FailLongRunning fails IN_PROGRESS jobs that ran past the orphan
// timeout regardless of crawl progress. Must run after Phase 3.5 so the
// shorter early-zombie window is checked first.
func (w *Watchdog) phase3FailLongRunning(ctx context.Context, tx pgx.Tx) ([]slotRelease, error) {
	cutoff := time.Now().Add(-w.orphanTimeout)

	rows, err := tx.Query(ctx, `
		UPDATE jobs SET status = 'FAILED', error_message = 'exceeded orphan_crawl_run_timeout_hours', updated_at = now()
		WHERE status = 'IN_PROGRESS' AND updated_at < $1
		RETURNING id, tenant_id`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var releases []slotRelease
	for rows.Next() {
		var r slotRelease
		if err := rows.Scan(&r.jobID, &r.tenantID); err != nil {
			return nil, err
		}
		r.phase = "phase3_orphan_timeout"
		r.reason = "exceeded orphan_crawl_run_timeout_hours"
		releases = append(releases, r)
	}
	return releases, rows.Err()
}

// observePhase records a phase's wall-clock duration if a histogram was
// configured.
func (w *Watchdog) observePhase(phase string, start time.Time) {
	if w.phaseDuration == nil {
		return
	}
	w.phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// releaseSlots is the post-transaction step: for every collected pair,
// release the coordinator slot only if the preacquired flag still
// exists, and swallow errors rather than retry inline.
func (w *Watchdog) releaseSlots(ctx context.Context, releases []slotRelease) {
	for _, r := range releases {
		if r.phase != "" {
			if w.jobsFailed != nil {
				w.jobsFailed.WithLabelValues(r.phase).Inc()
			}
			if w.failHook != nil {
				if err := w.failHook(ctx, r.jobID, r.tenantID, r.phase, r.reason); err != nil {
					w.logger.Warn("fail hook failed", "job_id", r.jobID, "phase", r.phase, "error", err)
				}
			}
		}

		tenantID, err := w.capacity.GetPreacquiredTenant(ctx, r.jobID)
		if err != nil {
			w.logger.Warn("post-commit slot release lookup failed", "job_id", r.jobID, "error", err)
			continue
		}
		if tenantID == nil {
			continue
		}
		w.capacity.ReleaseSlot(ctx, *tenantID, nil)
		w.capacity.ClearPreacquiredFlag(ctx, r.jobID)
	}
}

// recordSuccess writes the liveness marker watched by external
// monitoring on every successful tick.
func (w *Watchdog) recordSuccess(ctx context.Context) {
	ttl := 2 * w.watchdogInterval
	if ttl < 300*time.Second {
		ttl = 300 * time.Second
	}
	if err := w.rdb.Set(ctx, lastSuccessKey, time.Now().Unix(), ttl).Err(); err != nil {
		w.logger.Warn("recording watchdog success marker failed", "error", err)
	}
}

// RescueHook is invoked for each Phase 2 stuck-queued job so the caller
// can re-enqueue it into the worker pool (dedup'd by job_id) without
// pkg/watchdog importing pkg/jobqueue directly.
type RescueHook func(ctx context.Context, jobID, tenantID uuid.UUID, task string) error

func (w *Watchdog) SetRescueHook(h RescueHook) { w.rescueHook = h }

// FailHook is invoked post-commit for each job a fail phase (1, 3.5, or
// 3) just marked FAILED, so the caller can raise an operational alert
// without pkg/watchdog importing a notification package directly.
type FailHook func(ctx context.Context, jobID, tenantID uuid.UUID, phase, reason string) error

func (w *Watchdog) SetFailHook(h FailHook) { w.failHook = h }
