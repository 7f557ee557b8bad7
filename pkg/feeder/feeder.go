// Package feeder implements the CrawlFeeder: a singleton loop that
// promotes queued jobs into the shared worker pool while respecting
// per-tenant concurrency caps.
package feeder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/crawlcore/pkg/capacity"
	"github.com/wisbric/crawlcore/pkg/jobqueue"
)

// SettingsLoader loads a tenant's crawler settings once per tick: the
// resolved capacity settings plus the effective batch size
// (crawl_feeder_batch_size, tenant override with global fallback).
type SettingsLoader interface {
	LoadCrawlerSettings(ctx context.Context, tenantID uuid.UUID) (settings *capacity.TenantSettings, batchSize int, err error)
}

// Feeder runs the promote-queued-jobs tick loop.
type Feeder struct {
	capacity   *capacity.Manager
	queue      *jobqueue.Queue
	settings   SettingsLoader
	logger     *slog.Logger
	dispatched prometheus.Counter
	tickTime   prometheus.Observer

	minTickInterval time.Duration
	defaultBatch    int
}

func New(cap *capacity.Manager, queue *jobqueue.Queue, settings SettingsLoader, logger *slog.Logger, dispatched prometheus.Counter, tickTime prometheus.Observer, defaultBatch int) *Feeder {
	return &Feeder{
		capacity:        cap,
		queue:           queue,
		settings:        settings,
		logger:          logger,
		dispatched:      dispatched,
		tickTime:        tickTime,
		minTickInterval: 5 * time.Second,
		defaultBatch:    defaultBatch,
	}
}

// Run blocks, ticking at an adaptive interval until ctx is cancelled.
// Callers must only invoke Run while holding the singleton leader lock
// (see pkg/leaderlock.RunAsLeader).
func (f *Feeder) Run(ctx context.Context) {
	for {
		interval := f.effectiveInterval(ctx)

		start := time.Now()
		if err := f.Tick(ctx); err != nil {
			f.logger.Error("feeder tick failed", "error", err)
		}
		if f.tickTime != nil {
			f.tickTime.Observe(time.Since(start).Seconds())
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// effectiveInterval computes t = max(5, minimum tenant feeder interval):
// the fastest crawl_feeder_interval_seconds override among tenants with
// pending work, or the global default if none has one set.
func (f *Feeder) effectiveInterval(ctx context.Context) time.Duration {
	secs := f.minimumFeederIntervalSeconds(ctx)
	d := time.Duration(secs) * time.Second
	if d < f.minTickInterval {
		return f.minTickInterval
	}
	return d
}

func (f *Feeder) minimumFeederIntervalSeconds(ctx context.Context) int {
	min := f.capacity.DefaultFeederInterval()

	tenants, err := f.queue.TenantsWithPending(ctx)
	if err != nil {
		f.logger.Warn("listing tenants with pending work for interval check failed, using default", "error", err)
		return min
	}

	for _, tenantID := range tenants {
		settings, _, err := f.settings.LoadCrawlerSettings(ctx, tenantID)
		if err != nil || settings == nil || settings.FeederIntervalSeconds == nil {
			continue
		}
		if *settings.FeederIntervalSeconds < min {
			min = *settings.FeederIntervalSeconds
		}
	}
	return min
}

// Tick performs one full pass over all tenants with pending work (spec
// §4.2 steps 2-4).
func (f *Feeder) Tick(ctx context.Context) error {
	tenants, err := f.queue.TenantsWithPending(ctx)
	if err != nil {
		return err
	}

	for _, tenantID := range tenants {
		if err := f.processTenant(ctx, tenantID); err != nil {
			f.logger.Error("feeder processing tenant", "tenant_id", tenantID, "error", err)
		}
	}
	return nil
}

// processTenant dispatches up to min(available, batch_size, queue_depth)
// jobs for one tenant.
func (f *Feeder) processTenant(ctx context.Context, tenantID uuid.UUID) error {
	settings, batchSize, err := f.settings.LoadCrawlerSettings(ctx, tenantID)
	if err != nil {
		return err
	}
	if batchSize <= 0 {
		batchSize = f.defaultBatch
	}

	available := f.capacity.GetAvailableCapacity(ctx, tenantID, settings)
	depth, err := f.queue.Depth(ctx, tenantID)
	if err != nil {
		return err
	}

	attempts := min3(available, batchSize, int(depth))
	for i := 0; i < attempts; i++ {
		if err := f.dispatchOne(ctx, tenantID, settings); err != nil {
			return err
		}
	}
	return nil
}

// dispatchOne pops one descriptor and attempts to promote it into the
// worker pool, handling the acquire-race and dedup-enqueue edge cases.
func (f *Feeder) dispatchOne(ctx context.Context, tenantID uuid.UUID, settings *capacity.TenantSettings) error {
	desc, err := f.queue.PopFront(ctx, tenantID)
	if err != nil {
		return err
	}
	if desc == nil {
		return nil
	}

	if !f.capacity.TryAcquireSlot(ctx, tenantID, settings) {
		// A racing worker took the last slot; requeue and stop this tenant.
		return f.queue.PushFront(ctx, *desc)
	}

	if err := f.capacity.MarkSlotPreacquired(ctx, desc.JobID, tenantID, settings); err != nil {
		f.logger.Error("mark slot preacquired failed", "job_id", desc.JobID, "error", err)
		f.capacity.ReleaseSlot(ctx, tenantID, settings)
		return f.queue.PushFront(ctx, *desc)
	}

	if err := f.queue.Dispatch(ctx, *desc); err != nil {
		if errors.Is(err, jobqueue.ErrAlreadyDispatched) {
			if f.dispatched != nil {
				f.dispatched.Inc()
			}
			return nil
		}
		f.capacity.ReleaseSlot(ctx, tenantID, settings)
		f.capacity.ClearPreacquiredFlag(ctx, desc.JobID)
		return f.queue.PushFront(ctx, *desc)
	}

	if f.dispatched != nil {
		f.dispatched.Inc()
	}
	return nil
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	if m < 0 {
		return 0
	}
	return m
}
