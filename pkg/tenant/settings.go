package tenant

import "encoding/json"

// CrawlerSettings is the subset of a tenant's crawler_settings map a
// tenant may override. Every field is a pointer so "absent" and
// "explicitly zero" are distinguishable; Resolve falls back to the global
// default whenever a field is nil.
type CrawlerSettings struct {
	TenantWorkerConcurrencyLimit   *int `json:"tenant_worker_concurrency_limit,omitempty"`
	TenantWorkerSemaphoreTTLSeconds *int `json:"tenant_worker_semaphore_ttl_seconds,omitempty"`
	CrawlFeederIntervalSeconds     *int `json:"crawl_feeder_interval_seconds,omitempty"`
	CrawlFeederBatchSize           *int `json:"crawl_feeder_batch_size,omitempty"`
	CrawlMaxLength                 *int `json:"crawl_max_length,omitempty"`
	CrawlStaleThresholdMinutes     *int `json:"crawl_stale_threshold_minutes,omitempty"`
	CrawlHeartbeatIntervalSeconds  *int `json:"crawl_heartbeat_interval_seconds,omitempty"`
	QueuedStaleThresholdMinutes    *int `json:"queued_stale_threshold_minutes,omitempty"`
}

// ParseCrawlerSettings decodes a tenant's crawler_settings JSON column.
// A nil or empty payload yields zero-value (all-nil) settings, which
// Resolve will treat as "use the global default" for every field.
func ParseCrawlerSettings(raw json.RawMessage) (CrawlerSettings, error) {
	var s CrawlerSettings
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return CrawlerSettings{}, err
	}
	return s, nil
}

// IntOr returns *p if non-nil, otherwise fallback.
func IntOr(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}

// QueuedStaleThresholdMinutesClamped returns the tenant's
// queued_stale_threshold_minutes clamped to [5, 60].
func (s CrawlerSettings) QueuedStaleThresholdMinutesClamped(fallback int) int {
	v := IntOr(s.QueuedStaleThresholdMinutes, fallback)
	if v < 5 {
		return 5
	}
	if v > 60 {
		return 60
	}
	return v
}
