package job

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the JobRepository implementation.
type Store struct {
	db DBTX
}

func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// Create inserts a new job row with status=QUEUED, created_at=now(),
// updated_at=now().
func (s *Store) Create(ctx context.Context, tenantID, userID uuid.UUID, task Task) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO jobs (tenant_id, task, status, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id`,
		tenantID, task, StatusQueued, userID,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating job: %w", err)
	}
	return id, nil
}

// TouchJob advances updated_at=now(). No-op (no error) if the row is missing.
func (s *Store) TouchJob(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE jobs SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touching job %s: %w", id, err)
	}
	return nil
}

// MarkFailedIfRunning is the CAS preemption primitive: only a job
// currently QUEUED or IN_PROGRESS is failed. Returns the number of rows
// affected (0 or 1) so concurrent callers can tell who won the race.
func (s *Store) MarkFailedIfRunning(ctx context.Context, id uuid.UUID, errMsg string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3 AND status IN ($4, $5)`,
		StatusFailed, errMsg, id, StatusQueued, StatusInProgress,
	)
	if err != nil {
		return 0, fmt.Errorf("marking job %s failed-if-running: %w", id, err)
	}
	return tag.RowsAffected(), nil
}

// MarkComplete unconditionally transitions a job from IN_PROGRESS to COMPLETE.
func (s *Store) MarkComplete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		StatusComplete, id, StatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("marking job %s complete: %w", id, err)
	}
	return nil
}

// MarkFailed unconditionally transitions a job from IN_PROGRESS to FAILED.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		StatusFailed, errMsg, id, StatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("marking job %s failed: %w", id, err)
	}
	return nil
}

// GetByID fetches a single job row, used by tests and admin endpoints.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, task, status, user_id, created_at, updated_at, error_message
		FROM jobs WHERE id = $1`, id)
	var j Job
	if err := row.Scan(&j.ID, &j.TenantID, &j.Task, &j.Status, &j.UserID, &j.CreatedAt, &j.UpdatedAt, &j.ErrorMessage); err != nil {
		return nil, fmt.Errorf("fetching job %s: %w", id, err)
	}
	return &j, nil
}

// CountActive returns the number of jobs in {QUEUED, IN_PROGRESS} with the
// given task for a tenant — used by OrphanWatchdog Phase 0 to compute the
// actual active-job count to reconcile the slot counter against.
func (s *Store) CountActive(ctx context.Context, tenantID uuid.UUID, task Task) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM jobs
		WHERE tenant_id = $1 AND task = $2 AND status IN ($3, $4)`,
		tenantID, task, StatusQueued, StatusInProgress,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active jobs for tenant %s: %w", tenantID, err)
	}
	return n, nil
}
