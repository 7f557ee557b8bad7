// Package jobqueue implements the Redis-backed structures the Feeder
// reads from and the worker pool dispatches through: one pending FIFO
// per tenant, and a dedup-by-job-id dispatch list.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/crawlcore/pkg/job"
)

const (
	pendingKeyPrefix = "tenant:"
	pendingKeySuffix = ":pending_jobs"
	pendingKeyGlob   = "tenant:*:pending_jobs"
	dispatchListKey  = "crawlcore:dispatch"
	dispatchedMarker = "job:"
	dispatchedSuffix = ":dispatched"
)

// ErrAlreadyDispatched is returned by Dispatch when the job_id has
// already been enqueued into the worker pool (idempotent retry).
var ErrAlreadyDispatched = errors.New("jobqueue: already dispatched")

func pendingKey(tenantID uuid.UUID) string {
	return pendingKeyPrefix + tenantID.String() + pendingKeySuffix
}

func dispatchedKey(jobID uuid.UUID) string {
	return dispatchedMarker + jobID.String() + dispatchedSuffix
}

// Queue wraps the pending-queue and dispatch-list Redis operations.
type Queue struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Push appends a job descriptor to the tail of its tenant's pending queue.
func (q *Queue) Push(ctx context.Context, d job.Descriptor) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling job descriptor: %w", err)
	}
	if err := q.rdb.RPush(ctx, pendingKey(d.TenantID), payload).Err(); err != nil {
		return fmt.Errorf("pushing job %s to pending queue: %w", d.JobID, err)
	}
	return nil
}

// PushFront re-queues a descriptor at the head of its tenant's pending
// queue — used when acquisition or dispatch failed and the job must be
// retried before any others.
func (q *Queue) PushFront(ctx context.Context, d job.Descriptor) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling job descriptor: %w", err)
	}
	if err := q.rdb.LPush(ctx, pendingKey(d.TenantID), payload).Err(); err != nil {
		return fmt.Errorf("pushing job %s to pending queue head: %w", d.JobID, err)
	}
	return nil
}

// PopFront removes and returns the head descriptor for a tenant, or
// (nil, nil) if the queue is empty.
func (q *Queue) PopFront(ctx context.Context, tenantID uuid.UUID) (*job.Descriptor, error) {
	val, err := q.rdb.LPop(ctx, pendingKey(tenantID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("popping pending job for tenant %s: %w", tenantID, err)
	}
	var d job.Descriptor
	if err := json.Unmarshal([]byte(val), &d); err != nil {
		return nil, fmt.Errorf("unmarshaling job descriptor: %w", err)
	}
	return &d, nil
}

// Depth returns the current pending-queue length for a tenant.
func (q *Queue) Depth(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	n, err := q.rdb.LLen(ctx, pendingKey(tenantID)).Result()
	if err != nil {
		return 0, fmt.Errorf("measuring pending queue depth for tenant %s: %w", tenantID, err)
	}
	return n, nil
}

// TenantsWithPending scans for all tenant ids with a non-empty pending
// queue, bounded by a cursor-driven SCAN rather than KEYS.
func (q *Queue) TenantsWithPending(ctx context.Context) ([]uuid.UUID, error) {
	var tenants []uuid.UUID
	iter := q.rdb.Scan(ctx, 0, pendingKeyGlob, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		slug := key[len(pendingKeyPrefix) : len(key)-len(pendingKeySuffix)]
		id, err := uuid.Parse(slug)
		if err != nil {
			continue
		}
		n, err := q.rdb.LLen(ctx, key).Result()
		if err != nil || n == 0 {
			continue
		}
		tenants = append(tenants, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning pending tenant queues: %w", err)
	}
	return tenants, nil
}

// Dispatch enqueues the descriptor into the shared worker pool, keyed by
// job_id for deduplication: a repeat Dispatch for a job_id already
// dispatched is a no-op that reports ErrAlreadyDispatched so the caller
// can treat it as success rather than a failure.
func (q *Queue) Dispatch(ctx context.Context, d job.Descriptor) error {
	ok, err := q.rdb.SetNX(ctx, dispatchedKey(d.JobID), "1", 0).Result()
	if err != nil {
		return fmt.Errorf("marking job %s dispatched: %w", d.JobID, err)
	}
	if !ok {
		return ErrAlreadyDispatched
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling job descriptor: %w", err)
	}
	if err := q.rdb.RPush(ctx, dispatchListKey, payload).Err(); err != nil {
		_ = q.rdb.Del(ctx, dispatchedKey(d.JobID)).Err()
		return fmt.Errorf("pushing job %s to dispatch list: %w", d.JobID, err)
	}
	return nil
}

// PopDispatched removes and returns the next descriptor a worker should
// process, or (nil, nil) if none are queued.
func (q *Queue) PopDispatched(ctx context.Context) (*job.Descriptor, error) {
	val, err := q.rdb.LPop(ctx, dispatchListKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("popping dispatch list: %w", err)
	}
	var d job.Descriptor
	if err := json.Unmarshal([]byte(val), &d); err != nil {
		return nil, fmt.Errorf("unmarshaling dispatched job descriptor: %w", err)
	}
	return &d, nil
}

// ClearDispatched removes the dedup marker for a job, used once a worker
// has finished with a job_id and it could legitimately be redispatched
// in the future (e.g. a later unrelated job reusing... in practice never
// reused, but cleanup keeps the key space bounded).
func (q *Queue) ClearDispatched(ctx context.Context, jobID uuid.UUID) error {
	return q.rdb.Del(ctx, dispatchedKey(jobID)).Err()
}
