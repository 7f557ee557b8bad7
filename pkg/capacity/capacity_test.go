package capacity

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(rdb, logger, 2, 300, 5), mr
}

func TestTryAcquireSlot_RespectsMax(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	tenantID := uuid.New()

	if !m.TryAcquireSlot(ctx, tenantID, nil) {
		t.Fatal("first acquire should succeed")
	}
	if !m.TryAcquireSlot(ctx, tenantID, nil) {
		t.Fatal("second acquire should succeed (max=2)")
	}
	if m.TryAcquireSlot(ctx, tenantID, nil) {
		t.Fatal("third acquire should fail, max_concurrent=2")
	}
}

func TestReleaseSlot_ClampsAtZero(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	tenantID := uuid.New()

	m.ReleaseSlot(ctx, tenantID, nil)
	m.ReleaseSlot(ctx, tenantID, nil)

	if got := m.GetAvailableCapacity(ctx, tenantID, nil); got != 2 {
		t.Fatalf("available capacity = %d, want 2 (counter must clamp at 0)", got)
	}
}

// TestTryAcquireSlot_ConcurrentRace verifies that no more than
// max_concurrent callers may hold a slot at once, even under concurrent
// contention.
func TestTryAcquireSlot_ConcurrentRace(t *testing.T) {
	m, _ := newTestManager(t)
	tenantID := uuid.New()

	const n = 20
	var successes int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if m.TryAcquireSlot(context.Background(), tenantID, nil) {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	wg.Wait()

	if successes != 2 {
		t.Fatalf("successes = %d, want exactly 2 (max_concurrent)", successes)
	}
}

func TestReconcile_CASSemantics(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	tenantID := uuid.New()

	m.TryAcquireSlot(ctx, tenantID, nil)
	m.TryAcquireSlot(ctx, tenantID, nil)

	observed, err := m.ObserveCount(ctx, tenantID)
	if err != nil {
		t.Fatalf("ObserveCount: %v", err)
	}
	if observed != 2 {
		t.Fatalf("observed = %d, want 2", observed)
	}

	// A racing worker mutates the counter between observation and reconcile.
	m.TryAcquireSlot(ctx, tenantID, &TenantSettings{WorkerConcurrencyLimit: intp(5)})

	applied, err := m.Reconcile(ctx, tenantID, observed, 1, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if applied {
		t.Fatal("reconcile should not apply: counter changed since observation")
	}

	// Now reconcile against the current value — should apply.
	current, _ := m.ObserveCount(ctx, tenantID)
	applied, err = m.Reconcile(ctx, tenantID, current, 1, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !applied {
		t.Fatal("reconcile should apply when observed matches current")
	}
}

func TestPreacquiredMarker_RoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	jobID := uuid.New()
	tenantID := uuid.New()

	if err := m.MarkSlotPreacquired(ctx, jobID, tenantID, nil); err != nil {
		t.Fatalf("MarkSlotPreacquired: %v", err)
	}

	got, err := m.GetPreacquiredTenant(ctx, jobID)
	if err != nil {
		t.Fatalf("GetPreacquiredTenant: %v", err)
	}
	if got == nil || *got != tenantID {
		t.Fatalf("got %v, want %v", got, tenantID)
	}

	m.ClearPreacquiredFlag(ctx, jobID)

	got, err = m.GetPreacquiredTenant(ctx, jobID)
	if err != nil {
		t.Fatalf("GetPreacquiredTenant after clear: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after clear, got %v", got)
	}
}

func intp(v int) *int { return &v }
