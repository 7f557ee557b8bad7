// Package crawlrun implements the CrawlRun entity: the per-job crawl
// progress record, created alongside its Job and advanced by the
// worker's heartbeat hook.
package crawlrun

import (
	"time"

	"github.com/google/uuid"
)

// CrawlRun tracks crawl progress for exactly one Job (1:1 via JobID).
type CrawlRun struct {
	ID           uuid.UUID
	JobID        uuid.UUID
	TenantID     uuid.UUID
	WebsiteID    uuid.UUID
	PagesCrawled *int64
	DeltaToken   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsZombieCandidate reports whether this run looks like a worker that
// crashed before processing its first page: pages_crawled is NULL or 0.
func (c *CrawlRun) IsZombieCandidate() bool {
	return c.PagesCrawled == nil || *c.PagesCrawled == 0
}
