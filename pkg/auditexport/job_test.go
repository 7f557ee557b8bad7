package auditexport

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestJobStore(t *testing.T) *JobStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewJobStore(rdb)
}

func TestJobStore_CreateEnforcesConcurrencyLimit(t *testing.T) {
	js := newTestJobStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	if _, err := js.Create(ctx, tenantID, FormatCSV, time.Hour, 1); err != nil {
		t.Fatalf("first create: unexpected error %v", err)
	}
	if _, err := js.Create(ctx, tenantID, FormatCSV, time.Hour, 1); err == nil {
		t.Fatal("expected ErrConcurrencyLimitExceeded for second pending job at limit 1")
	}
}

func TestJobStore_CompletedJobsDoNotCountTowardLimit(t *testing.T) {
	js := newTestJobStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	job, err := js.Create(ctx, tenantID, FormatCSV, time.Hour, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	job.Status = JobCompleted
	if err := js.Save(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := js.Create(ctx, tenantID, FormatCSV, time.Hour, 1); err != nil {
		t.Fatalf("expected room under the limit once the prior job completed: %v", err)
	}
}

func TestJobStore_RequestCancelSetsFlag(t *testing.T) {
	js := newTestJobStore(t)
	ctx := context.Background()
	tenantID := uuid.New()

	job, err := js.Create(ctx, tenantID, FormatCSV, time.Hour, 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := js.RequestCancel(ctx, tenantID, job.JobID); err != nil {
		t.Fatalf("request cancel: %v", err)
	}

	got, err := js.Get(ctx, tenantID, job.JobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Cancelled {
		t.Error("expected Cancelled=true after RequestCancel")
	}
}

func TestJob_Percent_ClampsBelow100UntilCompleted(t *testing.T) {
	job := Job{Status: JobProcessing, Progress: 100}
	if got := job.Percent(); got != 99 {
		t.Errorf("Percent() during processing = %d, want 99", got)
	}
	job.Status = JobCompleted
	if got := job.Percent(); got != 100 {
		t.Errorf("Percent() when completed = %d, want 100", got)
	}
}
