package feeder

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/crawlcore/pkg/capacity"
	"github.com/wisbric/crawlcore/pkg/job"
	"github.com/wisbric/crawlcore/pkg/jobqueue"
)

type fixedSettings struct {
	batch int
}

func (f fixedSettings) LoadCrawlerSettings(ctx context.Context, tenantID uuid.UUID) (*capacity.TenantSettings, int, error) {
	return nil, f.batch, nil
}

func newTestFeeder(t *testing.T, batch, maxConcurrent int) (*Feeder, *jobqueue.Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cap := capacity.NewManager(rdb, logger, maxConcurrent, 300, 5)
	q := jobqueue.New(rdb)
	f := New(cap, q, fixedSettings{batch: batch}, logger, nil, nil, batch)
	return f, q
}

func TestTick_DispatchesUpToCapacity(t *testing.T) {
	f, q := newTestFeeder(t, 10, 2)
	ctx := context.Background()
	tenantID := uuid.New()

	for i := 0; i < 5; i++ {
		if err := q.Push(ctx, job.Descriptor{JobID: uuid.New(), TenantID: tenantID, Task: job.TaskCrawl}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	if err := f.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	depth, err := q.Depth(ctx, tenantID)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 3 {
		t.Fatalf("remaining queue depth = %d, want 3 (5 - max_concurrent 2)", depth)
	}

	var dispatchedCount int
	for {
		d, err := q.PopDispatched(ctx)
		if err != nil {
			t.Fatalf("PopDispatched: %v", err)
		}
		if d == nil {
			break
		}
		dispatchedCount++
	}
	if dispatchedCount != 2 {
		t.Fatalf("dispatched = %d, want 2", dispatchedCount)
	}
}

func TestTick_RespectsBatchSize(t *testing.T) {
	f, q := newTestFeeder(t, 2, 100)
	ctx := context.Background()
	tenantID := uuid.New()

	for i := 0; i < 5; i++ {
		if err := q.Push(ctx, job.Descriptor{JobID: uuid.New(), TenantID: tenantID, Task: job.TaskCrawl}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	if err := f.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	depth, err := q.Depth(ctx, tenantID)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 3 {
		t.Fatalf("remaining queue depth = %d, want 3 (5 - batch_size 2)", depth)
	}
}
