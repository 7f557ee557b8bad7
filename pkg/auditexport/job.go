package auditexport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// JobStatus is an export job's lifecycle state.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether status is one of the three terminal states.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job is the ephemeral export job record, stored in Redis under
// audit_export:<tenant>:<job_id> with a TTL matching ExpiresAt.
type Job struct {
	JobID            uuid.UUID  `json:"job_id"`
	TenantID         uuid.UUID  `json:"tenant_id"`
	Status           JobStatus  `json:"status"`
	Progress         int        `json:"progress"`
	TotalRecords     int64      `json:"total_records"`
	ProcessedRecords int64      `json:"processed_records"`
	Format           Format     `json:"format"`
	FilePath         *string    `json:"file_path,omitempty"`
	FileSizeBytes    *int64     `json:"file_size_bytes,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	Cancelled        bool       `json:"cancelled"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
}

// Percent returns the display progress, clamped below 100 until the job
// is actually in the completed state: progress never reports 100 until
// the job has actually finished.
func (j Job) Percent() int {
	if j.Status == JobCompleted {
		return 100
	}
	if j.Progress > 99 {
		return 99
	}
	return j.Progress
}

func jobKey(tenantID, jobID uuid.UUID) string {
	return fmt.Sprintf("audit_export:%s:%s", tenantID, jobID)
}

func jobScanGlob(tenantID uuid.UUID) string {
	return fmt.Sprintf("audit_export:%s:*", tenantID)
}

// JobStore persists export job state in the ephemeral Redis coordinator
// and enforces the per-tenant concurrency limit.
type JobStore struct {
	rdb *redis.Client
}

func NewJobStore(rdb *redis.Client) *JobStore {
	return &JobStore{rdb: rdb}
}

// ErrConcurrencyLimitExceeded is returned by Create when a tenant already
// has maxConcurrent jobs in {pending, processing}.
var ErrConcurrencyLimitExceeded = errors.New("auditexport: tenant export concurrency limit exceeded")

// Create registers a new pending job, rejecting it with
// ErrConcurrencyLimitExceeded if the tenant already has maxConcurrent
// active (pending or processing) jobs.
func (js *JobStore) Create(ctx context.Context, tenantID uuid.UUID, format Format, ttl time.Duration, maxConcurrent int) (*Job, error) {
	active, err := js.activeCount(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if active >= maxConcurrent {
		return nil, ErrConcurrencyLimitExceeded
	}

	now := time.Now().UTC()
	job := &Job{
		JobID:     uuid.New(),
		TenantID:  tenantID,
		Status:    JobPending,
		Format:    format,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := js.save(ctx, job, ttl); err != nil {
		return nil, err
	}
	return job, nil
}

// Get fetches a job's current state, or nil if it has expired/never existed.
func (js *JobStore) Get(ctx context.Context, tenantID, jobID uuid.UUID) (*Job, error) {
	raw, err := js.rdb.Get(ctx, jobKey(tenantID, jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("auditexport: fetching job %s: %w", jobID, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("auditexport: decoding job %s: %w", jobID, err)
	}
	return &job, nil
}

// Save persists job, preserving its remaining TTL.
func (js *JobStore) Save(ctx context.Context, job *Job) error {
	ttl := time.Until(job.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return js.save(ctx, job, ttl)
}

// RequestCancel flips the Cancelled flag so a running export's
// cancellation check observes it on its next poll.
func (js *JobStore) RequestCancel(ctx context.Context, tenantID, jobID uuid.UUID) error {
	job, err := js.Get(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("auditexport: job %s not found", jobID)
	}
	job.Cancelled = true
	return js.Save(ctx, job)
}

func (js *JobStore) save(ctx context.Context, job *Job, ttl time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("auditexport: encoding job %s: %w", job.JobID, err)
	}
	if err := js.rdb.Set(ctx, jobKey(job.TenantID, job.JobID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("auditexport: saving job %s: %w", job.JobID, err)
	}
	return nil
}

// activeCount counts jobs in {pending, processing} for tenantID via a
// non-blocking SCAN rather than KEYS, so it doesn't block Redis on a
// tenant with many export jobs.
func (js *JobStore) activeCount(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var active int
	iter := js.rdb.Scan(ctx, 0, jobScanGlob(tenantID), 100).Iterator()
	for iter.Next(ctx) {
		raw, err := js.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var job Job
		if err := json.Unmarshal(raw, &job); err != nil {
			continue
		}
		if job.Status == JobPending || job.Status == JobProcessing {
			active++
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("auditexport: scanning active export jobs for tenant %s: %w", tenantID, err)
	}
	return active, nil
}
