// Package capacity implements CapacityManager: the sole mutator of
// tenant slot counters. Every counter mutation runs as a Redis Lua
// script so the read-check-write sequence is race-free against
// concurrent workers without a distributed lock.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	slotKeyPrefix        = "tenant:"
	slotKeySuffix        = ":active_jobs"
	preacquiredKeyPrefix = "job:"
	preacquiredKeySuffix = ":slot_preacquired"
)

// acquireScript implements "INCR key; if value == 1 then EXPIRE key ttl;
// if value > max then DECR and return 0; else EXPIRE key ttl; return 1"
// as a single atomic script.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local max = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = redis.call("INCR", key)
if current == 1 then
	redis.call("EXPIRE", key, ttl)
end
if current > max then
	redis.call("DECR", key)
	return 0
end
redis.call("EXPIRE", key, ttl)
return 1
`)

// releaseScript decrements the counter, clamping at zero, and refreshes TTL.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])

local current = redis.call("DECR", key)
if current < 0 then
	redis.call("SET", key, 0)
	current = 0
end
redis.call("EXPIRE", key, ttl)
return current
`)

// reconcileScript is the Compare-and-Swap reconciliation primitive:
// only overwrites the counter if it still equals the value the watchdog
// observed before computing the true count, so a concurrent
// acquire/release in between is never clobbered.
var reconcileScript = redis.NewScript(`
local key = KEYS[1]
local observed = tonumber(ARGV[1])
local actual = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", key) or "0")
if current == observed then
	redis.call("SET", key, actual, "EX", ttl)
	return 1
end
return 0
`)

// TenantSettings carries the per-tenant overrides CapacityManager
// resolves against global defaults.
type TenantSettings struct {
	WorkerConcurrencyLimit *int
	WorkerSemaphoreTTL     *int
	FeederIntervalSeconds  *int
}

// Manager is the CapacityManager implementation.
type Manager struct {
	rdb                  *redis.Client
	logger               *slog.Logger
	defaultMaxConcurrent int
	defaultSlotTTL       int
	defaultFeederTick    int
}

func NewManager(rdb *redis.Client, logger *slog.Logger, defaultMaxConcurrent, defaultSlotTTL, defaultFeederTick int) *Manager {
	return &Manager{
		rdb:                  rdb,
		logger:               logger,
		defaultMaxConcurrent: defaultMaxConcurrent,
		defaultSlotTTL:       defaultSlotTTL,
		defaultFeederTick:    defaultFeederTick,
	}
}

func slotKey(tenantID uuid.UUID) string {
	return slotKeyPrefix + tenantID.String() + slotKeySuffix
}

func preacquiredKey(jobID uuid.UUID) string {
	return preacquiredKeyPrefix + jobID.String() + preacquiredKeySuffix
}

// GetMaxConcurrent resolves tenant_worker_concurrency_limit with global
// fallback.
func (m *Manager) GetMaxConcurrent(settings *TenantSettings) int {
	if settings != nil && settings.WorkerConcurrencyLimit != nil {
		return *settings.WorkerConcurrencyLimit
	}
	return m.defaultMaxConcurrent
}

// GetSlotTTL resolves tenant_worker_semaphore_ttl_seconds with global
// fallback.
func (m *Manager) GetSlotTTL(settings *TenantSettings) int {
	if settings != nil && settings.WorkerSemaphoreTTL != nil {
		return *settings.WorkerSemaphoreTTL
	}
	return m.defaultSlotTTL
}

// TryAcquireSlot attempts to atomically increment the tenant's slot
// counter iff it is below max_concurrent. Coordinator errors fail closed
// (return false, tenant waits) rather than risk oversubscription.
func (m *Manager) TryAcquireSlot(ctx context.Context, tenantID uuid.UUID, settings *TenantSettings) bool {
	max := m.GetMaxConcurrent(settings)
	ttl := m.GetSlotTTL(settings)

	res, err := acquireScript.Run(ctx, m.rdb, []string{slotKey(tenantID)}, max, ttl).Int()
	if err != nil {
		m.logger.Warn("slot acquire script failed, failing closed", "tenant_id", tenantID, "error", err)
		return false
	}
	return res == 1
}

// ReleaseSlot atomically decrements the tenant's slot counter, clamping
// at zero. Best effort: errors are logged, never returned, so a release
// can never block a transaction commit.
func (m *Manager) ReleaseSlot(ctx context.Context, tenantID uuid.UUID, settings *TenantSettings) {
	ttl := m.GetSlotTTL(settings)
	if _, err := releaseScript.Run(ctx, m.rdb, []string{slotKey(tenantID)}, ttl).Result(); err != nil {
		m.logger.Warn("slot release script failed", "tenant_id", tenantID, "error", err)
	}
}

// GetAvailableCapacity returns max_concurrent - current, or 0 on error
// (conservative: never overpromise capacity).
func (m *Manager) GetAvailableCapacity(ctx context.Context, tenantID uuid.UUID, settings *TenantSettings) int {
	max := m.GetMaxConcurrent(settings)
	current, err := m.rdb.Get(ctx, slotKey(tenantID)).Int()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			m.logger.Warn("get_available_capacity failed, returning 0", "tenant_id", tenantID, "error", err)
		}
		current = 0
	}
	available := max - current
	if available < 0 {
		return 0
	}
	return available
}

// MarkSlotPreacquired stores the tenant marker the watchdog uses to
// release the right counter even when it is the one that fails the job.
// Errors propagate — the caller must handle a failed preacquire marker.
func (m *Manager) MarkSlotPreacquired(ctx context.Context, jobID, tenantID uuid.UUID, settings *TenantSettings) error {
	ttl := time.Duration(m.GetSlotTTL(settings)) * time.Second
	if err := m.rdb.Set(ctx, preacquiredKey(jobID), tenantID.String(), ttl).Err(); err != nil {
		return fmt.Errorf("marking slot preacquired for job %s: %w", jobID, err)
	}
	return nil
}

// ClearPreacquiredFlag is best effort; errors are logged, not returned.
func (m *Manager) ClearPreacquiredFlag(ctx context.Context, jobID uuid.UUID) {
	if err := m.rdb.Del(ctx, preacquiredKey(jobID)).Err(); err != nil {
		m.logger.Warn("clearing preacquired flag failed", "job_id", jobID, "error", err)
	}
}

// GetPreacquiredTenant returns the stored tenant marker, or nil if absent.
func (m *Manager) GetPreacquiredTenant(ctx context.Context, jobID uuid.UUID) (*uuid.UUID, error) {
	val, err := m.rdb.Get(ctx, preacquiredKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting preacquired tenant for job %s: %w", jobID, err)
	}
	tenantID, err := uuid.Parse(val)
	if err != nil {
		return nil, fmt.Errorf("parsing preacquired tenant marker for job %s: %w", jobID, err)
	}
	return &tenantID, nil
}

// Reconcile is the watchdog's Phase 0 compare-and-swap: it overwrites the
// slot counter with actualCount only if the stored value still equals
// observedCount, so a racing acquire/release between observation and
// reconciliation is never clobbered. Returns true if the swap applied.
func (m *Manager) Reconcile(ctx context.Context, tenantID uuid.UUID, observedCount, actualCount int64, settings *TenantSettings) (bool, error) {
	ttl := m.GetSlotTTL(settings)
	res, err := reconcileScript.Run(ctx, m.rdb, []string{slotKey(tenantID)}, observedCount, actualCount, ttl).Int()
	if err != nil {
		return false, fmt.Errorf("reconciling slot counter for tenant %s: %w", tenantID, err)
	}
	return res == 1, nil
}

// ObserveCount reads the current raw counter value for a tenant, used by
// the watchdog before calling Reconcile. Returns 0 if the key is absent.
func (m *Manager) ObserveCount(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	val, err := m.rdb.Get(ctx, slotKey(tenantID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("observing slot counter for tenant %s: %w", tenantID, err)
	}
	return val, nil
}

// DefaultFeederInterval returns the global feeder tick interval, the
// floor the feeder falls back to when no tenant with pending work has
// a faster override configured.
func (m *Manager) DefaultFeederInterval() int {
	return m.defaultFeederTick
}
