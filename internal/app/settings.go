package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/wisbric/crawlcore/pkg/capacity"
	"github.com/wisbric/crawlcore/pkg/tenant"
)

// tenantSettingsJSON is the shape of tenants.crawler_settings: a sparse
// map of overrides, any of which may be absent and fall back to the
// global default.
type tenantSettingsJSON struct {
	WorkerConcurrencyLimit *int `json:"worker_concurrency_limit"`
	WorkerSemaphoreTTL     *int `json:"worker_semaphore_ttl_seconds"`
	FeederIntervalSeconds  *int `json:"feeder_interval_seconds"`
	BatchSize              *int `json:"crawl_feeder_batch_size"`
}

// dbSettingsLoader implements feeder.SettingsLoader against the tenants
// table's crawler_settings JSON column.
type dbSettingsLoader struct {
	tenants      *tenant.Store
	defaultBatch int
}

func newDBSettingsLoader(tenants *tenant.Store, defaultBatch int) *dbSettingsLoader {
	return &dbSettingsLoader{tenants: tenants, defaultBatch: defaultBatch}
}

// LoadCrawlerSettings resolves a tenant's effective capacity settings and
// feeder batch size, falling back to the global default for any override
// the tenant has not set.
func (l *dbSettingsLoader) LoadCrawlerSettings(ctx context.Context, tenantID uuid.UUID) (*capacity.TenantSettings, int, error) {
	t, err := l.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, 0, fmt.Errorf("app: loading tenant %s settings: %w", tenantID, err)
	}
	if t == nil || len(t.CrawlerSettings) == 0 {
		return &capacity.TenantSettings{}, l.defaultBatch, nil
	}

	var raw tenantSettingsJSON
	if err := json.Unmarshal(t.CrawlerSettings, &raw); err != nil {
		return nil, 0, fmt.Errorf("app: decoding crawler_settings for tenant %s: %w", tenantID, err)
	}

	batch := l.defaultBatch
	if raw.BatchSize != nil {
		batch = *raw.BatchSize
	}

	return &capacity.TenantSettings{
		WorkerConcurrencyLimit: raw.WorkerConcurrencyLimit,
		WorkerSemaphoreTTL:     raw.WorkerSemaphoreTTL,
		FeederIntervalSeconds:  raw.FeederIntervalSeconds,
	}, batch, nil
}
