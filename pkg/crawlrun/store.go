package crawlrun

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db DBTX
}

func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// Create inserts a CrawlRun row alongside its Job. delta_token may be nil
// for a first-ever crawl of a website.
func (s *Store) Create(ctx context.Context, jobID, tenantID, websiteID uuid.UUID, deltaToken *string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO crawl_runs (job_id, tenant_id, website_id, delta_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id`,
		jobID, tenantID, websiteID, deltaToken,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating crawl run for job %s: %w", jobID, err)
	}
	return id, nil
}

// AdvancePages bumps pages_crawled monotonically and refreshes updated_at.
// Called from the worker's heartbeat hook.
func (s *Store) AdvancePages(ctx context.Context, jobID uuid.UUID, pages int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE crawl_runs
		SET pages_crawled = GREATEST(COALESCE(pages_crawled, 0), $1), updated_at = now()
		WHERE job_id = $2`,
		pages, jobID,
	)
	if err != nil {
		return fmt.Errorf("advancing crawl run pages for job %s: %w", jobID, err)
	}
	return nil
}

func (s *Store) GetByJobID(ctx context.Context, jobID uuid.UUID) (*CrawlRun, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, job_id, tenant_id, website_id, pages_crawled, delta_token, created_at, updated_at
		FROM crawl_runs WHERE job_id = $1`, jobID)
	var c CrawlRun
	if err := row.Scan(&c.ID, &c.JobID, &c.TenantID, &c.WebsiteID, &c.PagesCrawled, &c.DeltaToken, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("fetching crawl run for job %s: %w", jobID, err)
	}
	return &c, nil
}

// EarlyZombieJobIDs returns job_ids for IN_PROGRESS jobs whose linked
// CrawlRun looks like a worker that crashed before its first page (spec
// §4.3 Phase 3.5): pages_crawled NULL or 0 and Job.updated_at older than
// the early-zombie threshold.
func (s *Store) EarlyZombieJobIDs(ctx context.Context, olderThan time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT j.id
		FROM jobs j
		JOIN crawl_runs cr ON cr.job_id = j.id
		WHERE j.status = 'IN_PROGRESS'
		  AND (cr.pages_crawled IS NULL OR cr.pages_crawled = 0)
		  AND j.updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("querying early-zombie job ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning early-zombie job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LongRunningJobIDs returns job_ids for IN_PROGRESS jobs whose
// Job.updated_at is older than the orphan timeout: jobs that made
// progress but ran too long.
func (s *Store) LongRunningJobIDs(ctx context.Context, olderThan time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM jobs WHERE status = 'IN_PROGRESS' AND updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("querying long-running job ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning long-running job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
